// Package extract implements the tagged-variant field extractor shared
// by the Template Store, Aggregation Engine, and Filter Engine: given a
// raw log payload, it tries a fixed, ordered list of parsing strategies
// and returns the fields produced by the first one that yields at least
// one field.
package extract

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sigil-systems/ingestord/internal/model"
)

// Field is one extracted field name/value pair with its inferred type.
type Field struct {
	Name  string
	Value string
	Type  model.FieldType
}

// Fields parses a raw payload using, in order: JSON object flattening,
// key=value pairs, colon-separated lines, and whitespace-separated
// positional tokens. The first strategy to produce at least one field
// wins; later strategies are not attempted.
func Fields(raw string) []Field {
	if fields := fromJSON(raw); len(fields) > 0 {
		return fields
	}
	if fields := fromKeyValue(raw); len(fields) > 0 {
		return fields
	}
	if fields := fromColonSeparated(raw); len(fields) > 0 {
		return fields
	}
	return fromPositional(raw)
}

// FromEvent extracts fields from a CanonicalLog's Event payload,
// whichever shape it carries: a raw string goes through Fields, and an
// already-parsed JSON object is flattened the same way as the JSON
// strategy, with nested keys joined by ".".
func FromEvent(event interface{}) []Field {
	switch e := event.(type) {
	case string:
		return Fields(e)
	case map[string]interface{}:
		var fields []Field
		flattenJSON("", e, &fields)
		return fields
	default:
		return nil
	}
}

// Lookup finds the value of name in fields, if present.
func Lookup(fields []Field, name string) (Field, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func fromJSON(raw string) []Field {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	var fields []Field
	flattenJSON("", obj, &fields)
	return fields
}

// flattenJSON recursively walks a decoded JSON object, joining nested
// keys with "." and recording each leaf as a Field.
func flattenJSON(prefix string, obj map[string]interface{}, out *[]Field) {
	for key, value := range obj {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}
		switch v := value.(type) {
		case map[string]interface{}:
			flattenJSON(name, v, out)
		default:
			*out = append(*out, newField(name, jsonScalarToString(v)))
		}
	}
}

func jsonScalarToString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

var kvPattern = regexp.MustCompile(`([A-Za-z0-9_.\-]+)=("([^"]*)"|'([^']*)'|\S+)`)

func fromKeyValue(raw string) []Field {
	matches := kvPattern.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil
	}
	fields := make([]Field, 0, len(matches))
	for _, m := range matches {
		value := m[2]
		if m[3] != "" {
			value = m[3]
		} else if m[4] != "" {
			value = m[4]
		} else {
			value = strings.Trim(value, `"'`)
		}
		fields = append(fields, newField(m[1], value))
	}
	return fields
}

func fromColonSeparated(raw string) []Field {
	lines := strings.Split(raw, "\n")
	var fields []Field
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx <= 0 || idx == len(line)-1 {
			continue
		}
		name := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if name == "" || value == "" {
			continue
		}
		fields = append(fields, newField(name, value))
	}
	return fields
}

func fromPositional(raw string) []Field {
	tokens := strings.Fields(raw)
	if len(tokens) == 0 {
		return nil
	}
	fields := make([]Field, 0, len(tokens))
	for i, tok := range tokens {
		fields = append(fields, newField("field_"+strconv.Itoa(i+1), tok))
	}
	return fields
}

func newField(name, value string) Field {
	return Field{Name: name, Value: value, Type: inferType(value)}
}

var (
	intPattern   = regexp.MustCompile(`^[-+]?\d+$`)
	floatPattern = regexp.MustCompile(`^[-+]?\d+\.\d+([eE][-+]?\d+)?$`)
)

// inferType classifies a raw string value as int, float, bool,
// timestamp, or string, in that priority order.
func inferType(value string) model.FieldType {
	switch {
	case intPattern.MatchString(value):
		return model.FieldInt
	case floatPattern.MatchString(value):
		return model.FieldFloat
	case strings.EqualFold(value, "true") || strings.EqualFold(value, "false"):
		return model.FieldBool
	case isTimestamp(value):
		return model.FieldTimestamp
	default:
		return model.FieldString
	}
}

// isTimestamp checks the ISO-8601 branch of the timestamp rule. The
// Unix-epoch branch never applies in practice: any all-digit value is
// already classified int by the earlier case in inferType, matching
// the extractor's fixed priority list (int before timestamp).
func isTimestamp(value string) bool {
	if _, err := time.Parse(time.RFC3339, value); err == nil {
		return true
	}
	if _, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return true
	}
	return false
}
