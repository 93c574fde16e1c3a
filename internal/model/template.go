package model

import "time"

// FieldType is the inferred type of an extracted field value.
type FieldType string

const (
	FieldString    FieldType = "string"
	FieldInt       FieldType = "int"
	FieldFloat     FieldType = "float"
	FieldBool      FieldType = "bool"
	FieldTimestamp FieldType = "timestamp"
)

// TemplateField names one field in a LogTemplate and its inferred type.
type TemplateField struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// LogTemplate is the per-source field schema, learned once from the
// first successfully-parsed log after template creation. The
// Aggregation and Filter Engines do not read it: they run the shared
// extractor (package extract) over each record's Event.
type LogTemplate struct {
	SourceID  string          `json:"source_id"`
	Fields    []TemplateField `json:"fields"`
	CreatedAt time.Time       `json:"created_at"`

	// Pattern is an optional, diagnostic-only wildcard representation
	// of the source's dominant unstructured log shape, maintained by
	// the template pattern miner. It never affects Fields, extraction,
	// aggregation, or filter matching.
	Pattern string `json:"pattern,omitempty"`
}

// AggregationPolicy groups logs within a batch by key_fields, optional
// per source.
type AggregationPolicy struct {
	SourceID  string   `json:"source_id" yaml:"source_id"`
	KeyFields []string `json:"key_fields" yaml:"key_fields"`
	Enabled   bool     `json:"enabled" yaml:"enabled"`
}

// FilterRule drops a record when every enabled rule for its source
// matches (AND semantics); an empty rule set is pass-through.
type FilterRule struct {
	FieldName  string `json:"field_name" yaml:"field_name"`
	MatchValue string `json:"match_value" yaml:"match_value"`
	Enabled    bool   `json:"enabled" yaml:"enabled"`
}
