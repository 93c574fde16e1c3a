// Package aggregation implements the Aggregation Engine: collapsing
// duplicate records within a single batch by a configured key-field
// tuple.
package aggregation

import (
	"strings"

	"github.com/sigil-systems/ingestord/internal/extract"
	"github.com/sigil-systems/ingestord/internal/model"
)

// group accumulates the records sharing one aggregation key.
type group struct {
	first     model.CanonicalLog
	count     int
	firstTime int64
	lastTime  int64
}

// Aggregate groups records within batch by policy.KeyFields, extracted
// via the tagged-variant field extractor. Records with identical key
// tuples collapse into a single output record carrying the first
// occurrence's event plus aggregated_count/aggregated_first_time/
// aggregated_last_time. A record missing any key field passes through
// unaggregated. If policy is disabled or has no key fields, batch is
// returned unchanged.
func Aggregate(batch []model.CanonicalLog, policy model.AggregationPolicy) []model.CanonicalLog {
	if !policy.Enabled || len(policy.KeyFields) == 0 {
		return batch
	}

	out := make([]model.CanonicalLog, 0, len(batch))
	groups := make(map[string]*group)
	order := make([]string, 0, len(batch))

	for _, record := range batch {
		key, ok := aggregationKey(record, policy.KeyFields)
		if !ok {
			out = append(out, record)
			continue
		}

		if g, exists := groups[key]; exists {
			g.count++
			if record.Time > g.lastTime {
				g.lastTime = record.Time
			}
			continue
		}
		groups[key] = &group{first: record, count: 1, firstTime: record.Time, lastTime: record.Time}
		order = append(order, key)
	}

	for _, key := range order {
		g := groups[key]
		out = append(out, buildAggregatedRecord(g))
	}

	return out
}

// aggregationKey extracts and joins the values of keyFields from
// record's event payload. Returns ok=false if any key field is absent.
func aggregationKey(record model.CanonicalLog, keyFields []string) (string, bool) {
	fields := extract.FromEvent(record.Event)
	values := make([]string, 0, len(keyFields))
	for _, name := range keyFields {
		f, ok := extract.Lookup(fields, name)
		if !ok {
			return "", false
		}
		values = append(values, f.Value)
	}
	return strings.Join(values, "\x1f"), true
}

// RepresentedCount returns how many raw input records r stands for: the
// aggregated_count Aggregate stamped onto a collapsed record, or 1 for
// a record that passed through unaggregated. Callers sum this across a
// batch to count delivered events rather than delivered records.
func RepresentedCount(r model.CanonicalLog) int {
	eventMap, ok := r.Event.(map[string]interface{})
	if !ok {
		return 1
	}
	count, ok := eventMap["aggregated_count"].(int)
	if !ok || count < 1 {
		return 1
	}
	return count
}

func buildAggregatedRecord(g *group) model.CanonicalLog {
	record := g.first
	eventMap, ok := record.Event.(map[string]interface{})
	if !ok {
		// Wrap non-object events so the aggregated_* fields still have
		// a home without discarding the original payload.
		eventMap = map[string]interface{}{"value": record.Event}
	} else {
		cloned := make(map[string]interface{}, len(eventMap)+3)
		for k, v := range eventMap {
			cloned[k] = v
		}
		eventMap = cloned
	}

	eventMap["aggregated_count"] = g.count
	eventMap["aggregated_first_time"] = g.firstTime
	eventMap["aggregated_last_time"] = g.lastTime

	record.Event = eventMap
	return record
}
