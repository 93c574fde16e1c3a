package main

import (
	"os"

	"github.com/sigil-systems/ingestord/cmd/ingestord/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
