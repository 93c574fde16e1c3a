// Package template mines a diagnostic wildcard pattern for each source's
// dominant unstructured log shape, and persists it alongside the
// canonical field/type schema kept by the configuration store. The miner
// never feeds extraction, aggregation, or filter matching — only the
// pattern field surfaced through the control plane's metrics/last_error
// context.
package template

import "github.com/faceair/drain"

// DrainConfig configures the Drain clustering algorithm per source.
type DrainConfig struct {
	// LogClusterDepth controls the depth of the parse tree (minimum 3).
	LogClusterDepth int

	// SimTh is the similarity a log must reach to join an existing
	// cluster; higher values merge fewer logs together.
	SimTh float64

	// MaxChildren limits branches per tree node.
	MaxChildren int

	// MaxClusters bounds the total number of clusters (0 = unlimited).
	MaxClusters int

	// ExtraDelimiters are additional token separators beyond whitespace.
	ExtraDelimiters []string

	// ParamString is the wildcard placeholder used in mined patterns.
	ParamString string
}

// DefaultDrainConfig returns balanced clustering settings for mixed-shape
// application logs.
func DefaultDrainConfig() DrainConfig {
	return DrainConfig{
		LogClusterDepth: 4,
		SimTh:           0.4,
		MaxChildren:     100,
		MaxClusters:     0,
		ExtraDelimiters: []string{"_", "="},
		ParamString:     "<*>",
	}
}

// drainProcessor wraps the Drain algorithm for a single source.
type drainProcessor struct {
	drain *drain.Drain
}

func newDrainProcessor(config DrainConfig) *drainProcessor {
	return &drainProcessor{
		drain: drain.New(&drain.Config{
			LogClusterDepth: config.LogClusterDepth,
			SimTh:           config.SimTh,
			MaxChildren:     config.MaxChildren,
			MaxClusters:     config.MaxClusters,
			ExtraDelimiters: config.ExtraDelimiters,
			ParamString:     config.ParamString,
		}),
	}
}

// train feeds a log line through Drain, returning its matched or newly
// created cluster.
func (dp *drainProcessor) train(logMessage string) *drain.LogCluster {
	return dp.drain.Train(logMessage)
}
