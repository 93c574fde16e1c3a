// Package filter implements the Filter Engine: dropping records whose
// extracted fields match every enabled rule for their source.
package filter

import (
	"github.com/sigil-systems/ingestord/internal/extract"
	"github.com/sigil-systems/ingestord/internal/model"
)

// Keep reports whether record should be kept: true unless every enabled
// rule matches (AND semantics). An absent field means that rule does
// not match, so an empty or all-absent rule set always keeps the
// record.
func Keep(record model.CanonicalLog, rules []model.FilterRule) bool {
	enabled := 0
	matched := 0

	fields := extract.FromEvent(record.Event)
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		enabled++
		f, ok := extract.Lookup(fields, rule.FieldName)
		if ok && f.Value == rule.MatchValue {
			matched++
		}
	}

	if enabled == 0 {
		return true
	}
	return matched < enabled
}

// Apply returns the subset of batch that Keep retains, preserving
// order.
func Apply(batch []model.CanonicalLog, rules []model.FilterRule) []model.CanonicalLog {
	out := make([]model.CanonicalLog, 0, len(batch))
	for _, record := range batch {
		if Keep(record, rules) {
			out = append(out, record)
		}
	}
	return out
}
