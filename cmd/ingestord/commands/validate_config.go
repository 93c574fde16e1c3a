package commands

import (
	"fmt"

	"github.com/sigil-systems/ingestord/internal/config"
	"github.com/spf13/cobra"
)

var validateConfigSourcesPath string

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Validate a sources.yaml file against the Configuration Store's invariants",
	Run:   runValidateConfig,
}

func init() {
	validateConfigCmd.Flags().StringVar(&validateConfigSourcesPath, "sources", "sources.yaml",
		"Path to the sources configuration file to validate")
}

func runValidateConfig(cmd *cobra.Command, args []string) {
	sf, err := config.LoadSourcesFile(validateConfigSourcesPath)
	if err != nil {
		HandleError(err, "invalid sources configuration")
	}
	fmt.Printf("%s is valid: %d source(s)\n", validateConfigSourcesPath, len(sf.Sources))
}
