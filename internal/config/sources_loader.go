package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// LoadSourcesFile loads and validates a sources configuration file.
// Error cases: file not found or unreadable, invalid YAML, schema
// version below the minimum supported, or a §3 invariant violation.
func LoadSourcesFile(filepath string) (*SourcesFile, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(filepath), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load sources config from %q: %w", filepath, err)
	}

	var sf SourcesFile
	if err := k.UnmarshalWithConf("", &sf, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to parse sources config from %q: %w", filepath, err)
	}

	if err := sf.Validate(); err != nil {
		return nil, fmt.Errorf("sources config validation failed for %q: %w", filepath, err)
	}

	return &sf, nil
}
