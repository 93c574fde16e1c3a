package config

import "time"

// DaemonConfig holds the process-wide settings that are not
// per-source: where the Configuration Store lives on disk, the
// control-plane HTTP surface, tracing, and the defaults new sources
// inherit when they omit a field.
type DaemonConfig struct {
	// DataDir is the root directory under which the Configuration
	// Store keeps sources.yaml and the per-source policy files.
	DataDir string

	// SourcesPath is the sources.yaml file path. Defaults to
	// <DataDir>/sources.yaml when empty.
	SourcesPath string

	// PoliciesDir holds per-source aggregation/filter policy files.
	// Defaults to <DataDir>/policies when empty.
	PoliciesDir string

	// TemplatesDir holds the Template Store's learned per-source field
	// schemas. Defaults to <DataDir>/templates when empty.
	TemplatesDir string

	// ControlAddr is the address the Control Plane's HTTP surface
	// (/healthz, /metrics, /reload) binds to.
	ControlAddr string

	// LogLevelFlags are the per-package log level configurations.
	// Format: ["debug"], ["default=info", "control.plane=debug"], or ["info"].
	LogLevelFlags []string

	// DefaultQueueLimit and DefaultMaxWorkers are loaded and validated
	// but not passed to the pipeline: a Source that omits these fields
	// uses model.DefaultQueueLimit and model.DefaultMaxWorkers.
	DefaultQueueLimit int
	DefaultMaxWorkers int

	// DefaultMaxBatchLatency is loaded and validated but not passed to
	// the pipeline; processor workers close batches on the processor
	// package's own fixed 1s latency.
	DefaultMaxBatchLatency time.Duration

	// DrainDeadline is loaded and validated but not passed to the
	// pipeline; the processor pool's Stop waits its own fixed 10s for
	// in-flight batches.
	DrainDeadline time.Duration

	// TracingEnabled indicates whether OpenTelemetry tracing is enabled.
	TracingEnabled bool
	// TracingEndpoint is the OTLP gRPC endpoint for trace export.
	TracingEndpoint string
	// TracingTLSCAPath is the path to the CA certificate for TLS verification.
	TracingTLSCAPath string
	// TracingTLSInsecure allows insecure TLS connections (skip verification).
	TracingTLSInsecure bool
}

// DefaultDaemonConfig returns the settings a freshly installed daemon
// starts with, before any flags or environment overrides are applied.
func DefaultDaemonConfig() *DaemonConfig {
	return &DaemonConfig{
		DataDir:                "/var/lib/ingestord",
		ControlAddr:            ":9090",
		DefaultQueueLimit:      10_000,
		DefaultMaxWorkers:      8,
		DefaultMaxBatchLatency: 1 * time.Second,
		DrainDeadline:          10 * time.Second,
	}
}

// ResolvePaths fills SourcesPath and PoliciesDir from DataDir when the
// caller left them unset.
func (c *DaemonConfig) ResolvePaths() {
	if c.SourcesPath == "" {
		c.SourcesPath = c.DataDir + "/sources.yaml"
	}
	if c.PoliciesDir == "" {
		c.PoliciesDir = c.DataDir + "/policies"
	}
	if c.TemplatesDir == "" {
		c.TemplatesDir = c.DataDir + "/templates"
	}
}

// Validate checks that the configuration is usable before the daemon
// starts accepting traffic.
func (c *DaemonConfig) Validate() error {
	if c.DataDir == "" {
		return NewConfigError("DataDir must be set")
	}
	if c.ControlAddr == "" {
		return NewConfigError("ControlAddr must be set")
	}
	if c.DefaultQueueLimit < 1 {
		return NewConfigError("DefaultQueueLimit must be at least 1")
	}
	if c.DefaultMaxWorkers < 1 {
		return NewConfigError("DefaultMaxWorkers must be at least 1")
	}
	if c.TracingEnabled && c.TracingEndpoint == "" {
		return NewConfigError("TracingEndpoint must be set when tracing is enabled")
	}
	return nil
}

// ConfigError represents a configuration error.
type ConfigError struct {
	message string
}

// NewConfigError creates a new configuration error.
func NewConfigError(message string) *ConfigError {
	return &ConfigError{message: message}
}

// Error returns the error message.
func (e *ConfigError) Error() string {
	return e.message
}
