package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sigil-systems/ingestord/internal/model"
	"gopkg.in/yaml.v3"
)

// TemplateFile is the on-disk shape of the Template Store's per-source
// record: the field schema learned once from the first successfully
// parsed log after template creation.
type TemplateFile struct {
	SourceID  string                `yaml:"source_id"`
	Fields    []model.TemplateField `yaml:"fields"`
	CreatedAt string                `yaml:"created_at"`
	Pattern   string                `yaml:"pattern,omitempty"`
}

// TemplatePath builds the path to sourceID's template file under dir.
func TemplatePath(dir, sourceID string) string {
	return filepath.Join(dir, sourceID+".yaml")
}

// LoadTemplateFile reads sourceID's learned template. A missing file
// returns (nil, nil): no template learned yet is not an error, it's
// the lazily-created-on-first-log state before any record has arrived.
func LoadTemplateFile(path string) (*TemplateFile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read template file %q: %w", path, err)
	}

	var tf TemplateFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse template file %q: %w", path, err)
	}
	return &tf, nil
}

// WriteTemplateFile atomically persists tf to path, creating dir if
// missing.
func WriteTemplateFile(path string, tf *TemplateFile) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create template directory %q: %w", dir, err)
	}

	data, err := yaml.Marshal(tf)
	if err != nil {
		return fmt.Errorf("failed to marshal template file: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".template.*.yaml.tmp")
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

// DeleteTemplateFile removes sourceID's learned template. Templates
// are deleted explicitly, never implicitly on source edit. A missing
// file is not an error.
func DeleteTemplateFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete template file %q: %w", path, err)
	}
	return nil
}
