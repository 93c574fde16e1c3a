package config

import (
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// daemonFileShape mirrors ingestord.yaml's on-disk keys, which are
// snake_case and grouped differently than DaemonConfig's flag-facing
// field names. Durations are strings (e.g. "1s") parsed explicitly
// rather than relying on a koanf/mapstructure decode hook.
type daemonFileShape struct {
	DataDir         string `yaml:"data_dir"`
	MetricsAddr     string `yaml:"metrics_addr"`
	QueueLimit      int    `yaml:"queue_limit"`
	MaxWorkers      int    `yaml:"max_workers"`
	MaxBatchLatency string `yaml:"max_batch_latency"`
	DrainDeadline   string `yaml:"drain_deadline"`
	Tracing         struct {
		Enabled     bool   `yaml:"enabled"`
		Endpoint    string `yaml:"endpoint"`
		TLSCAPath   string `yaml:"tls_ca"`
		TLSInsecure bool   `yaml:"tls_insecure"`
	} `yaml:"tracing"`
}

// LoadDaemonConfigFile reads ingestord.yaml-shaped process settings from
// path and layers them on top of base, returning a new DaemonConfig. A
// missing file is not an error: base is returned unchanged, since every
// one of these settings already has a usable default or CLI flag. Zero
// values in the file (an absent key) never overwrite base — the file is
// additive, not a full replacement.
func LoadDaemonConfigFile(path string, base *DaemonConfig) (*DaemonConfig, error) {
	if path == "" {
		return base, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return base, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load daemon config from %q: %w", path, err)
	}

	var shape daemonFileShape
	if err := k.UnmarshalWithConf("", &shape, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to parse daemon config from %q: %w", path, err)
	}

	cfg := *base
	if shape.DataDir != "" {
		cfg.DataDir = shape.DataDir
	}
	if shape.MetricsAddr != "" {
		cfg.ControlAddr = shape.MetricsAddr
	}
	if shape.QueueLimit > 0 {
		cfg.DefaultQueueLimit = shape.QueueLimit
	}
	if shape.MaxWorkers > 0 {
		cfg.DefaultMaxWorkers = shape.MaxWorkers
	}
	if shape.MaxBatchLatency != "" {
		d, err := time.ParseDuration(shape.MaxBatchLatency)
		if err != nil {
			return nil, fmt.Errorf("invalid max_batch_latency %q: %w", shape.MaxBatchLatency, err)
		}
		cfg.DefaultMaxBatchLatency = d
	}
	if shape.DrainDeadline != "" {
		d, err := time.ParseDuration(shape.DrainDeadline)
		if err != nil {
			return nil, fmt.Errorf("invalid drain_deadline %q: %w", shape.DrainDeadline, err)
		}
		cfg.DrainDeadline = d
	}
	if shape.Tracing.Enabled {
		cfg.TracingEnabled = true
	}
	if shape.Tracing.Endpoint != "" {
		cfg.TracingEndpoint = shape.Tracing.Endpoint
	}
	if shape.Tracing.TLSCAPath != "" {
		cfg.TracingTLSCAPath = shape.Tracing.TLSCAPath
	}
	if shape.Tracing.TLSInsecure {
		cfg.TracingTLSInsecure = true
	}

	return &cfg, nil
}
