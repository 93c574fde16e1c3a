package config

import (
	"fmt"

	"github.com/hashicorp/go-version"
	"github.com/sigil-systems/ingestord/internal/model"
)

// minSourcesSchemaVersion is the oldest sources-file schema this binary
// can load. Bumped only when a breaking change to the Source shape
// ships.
const minSourcesSchemaVersion = "1.0.0"

// SourcesFile is the on-disk shape of the Configuration Store's source
// set: the persisted Sources plus a schema_version used to reject
// files written by an incompatible older or newer binary.
type SourcesFile struct {
	SchemaVersion string         `yaml:"schema_version"`
	Sources       []model.Source `yaml:"sources"`
}

// Validate checks the schema_version against the minimum this binary
// supports and rejects a newer major version, then checks the §3
// structural invariants, unique source IDs, and the uniqueness
// invariants across the whole source set.
func (f *SourcesFile) Validate() error {
	if f.SchemaVersion == "" {
		return NewConfigError("schema_version is required")
	}
	fileVer, err := version.NewVersion(f.SchemaVersion)
	if err != nil {
		return NewConfigError(fmt.Sprintf("invalid schema_version %q: %v", f.SchemaVersion, err))
	}
	minVer, err := version.NewVersion(minSourcesSchemaVersion)
	if err != nil {
		return NewConfigError(fmt.Sprintf("invalid minimum schema_version constant %q: %v", minSourcesSchemaVersion, err))
	}
	if fileVer.LessThan(minVer) {
		return NewConfigError(fmt.Sprintf("schema_version %s is below minimum supported %s", fileVer, minVer))
	}
	if fileVer.Segments()[0] > minVer.Segments()[0] {
		return NewConfigError(fmt.Sprintf("schema_version %s has a newer major version than supported %d", fileVer, minVer.Segments()[0]))
	}

	seen := make(map[string]bool, len(f.Sources))
	for _, s := range f.Sources {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("sources file: %w", err)
		}
		if seen[s.ID] {
			return NewConfigError(fmt.Sprintf("sources file: duplicate source id %q", s.ID))
		}
		seen[s.ID] = true
	}
	if err := model.ValidateUnique(f.Sources); err != nil {
		return fmt.Errorf("sources file: %w", err)
	}

	return nil
}
