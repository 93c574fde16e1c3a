package model

import (
	"encoding/json"
	"fmt"
)

// CanonicalLog is the normalized record produced before delivery. It
// always contains exactly these three keys: Time is a non-negative Unix
// second count, Event is either the raw string payload or, when the
// payload parsed as a JSON object, that object, and Source is the
// owning Source's display name.
type CanonicalLog struct {
	Time   int64       `json:"time"`
	Event  interface{} `json:"event"`
	Source string      `json:"source"`
}

// ParseEvent builds the Event field of a CanonicalLog from a raw ingest
// payload: if it parses as a JSON object, that object is used verbatim;
// otherwise the raw string is used as-is.
func ParseEvent(raw string) interface{} {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		return obj
	}
	return raw
}

// MarshalNDJSON renders a batch of CanonicalLog records as
// newline-delimited JSON with no trailing newline.
func MarshalNDJSON(batch []CanonicalLog) ([]byte, error) {
	var out []byte
	for i, log := range batch {
		if i > 0 {
			out = append(out, '\n')
		}
		encoded, err := json.Marshal(log)
		if err != nil {
			return nil, fmt.Errorf("marshal canonical log %d: %w", i, err)
		}
		out = append(out, encoded...)
	}
	return out, nil
}
