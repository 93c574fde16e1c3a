package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sigil-systems/ingestord/internal/model"
	"gopkg.in/yaml.v3"
)

// PolicyFile is the per-source aggregation policy and filter rule set
// persisted by the Configuration Store. Re-read on every Control Plane
// reload(), which is the spec's single point of reconciliation — there
// is no separate hot-reload path for policy edits.
type PolicyFile struct {
	SchemaVersion string                  `yaml:"schema_version"`
	Aggregation   model.AggregationPolicy `yaml:"aggregation"`
	Filters       []model.FilterRule      `yaml:"filters"`
}

// PolicyPath builds the path to sourceID's policy file under dir.
func PolicyPath(dir, sourceID string) string {
	return filepath.Join(dir, sourceID+".yaml")
}

// LoadPolicyFile reads and parses the policy file at path. A missing
// file is not an error: it returns an empty PolicyFile (no aggregation,
// no filters), matching "empty rule set = pass-through".
func LoadPolicyFile(path string) (*PolicyFile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &PolicyFile{SchemaVersion: minSourcesSchemaVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %q: %w", path, err)
	}

	var pf PolicyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %q: %w", path, err)
	}
	return &pf, nil
}

// WritePolicyFile atomically persists pf to path, creating dir if
// missing.
func WritePolicyFile(path string, pf *PolicyFile) error {
	if pf.SchemaVersion == "" {
		pf.SchemaVersion = minSourcesSchemaVersion
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create policy directory %q: %w", dir, err)
	}

	data, err := yaml.Marshal(pf)
	if err != nil {
		return fmt.Errorf("failed to marshal policy file: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".policy.*.yaml.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if _, err := os.Stat(tmpPath); err == nil {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file to %q: %w", path, err)
	}

	return nil
}
