package template

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Pattern is a mined, human-readable wildcard representation of a
// source's dominant unstructured log shape, e.g. "connected to <*>
// after <*>ms". It is the diagnostic `Template.pattern` referenced by
// SPEC_FULL.md and is never used for extraction, aggregation, or filter
// matching.
type Pattern struct {
	// ID is a stable SHA-256 hash (hex) of sourceID|text, where text is
	// Text after canonicalizeWildcards.
	ID string

	// SourceID scopes the pattern to a single configured source.
	SourceID string

	// Text is the masked pattern, e.g. "connected to <IP>".
	Text string

	// Tokens is the tokenized text, used for similarity comparison
	// during periodic merge.
	Tokens []string

	Count     int
	FirstSeen time.Time
	LastSeen  time.Time
}

func generatePatternID(sourceID, text string) string {
	sum := sha256.Sum256([]byte(sourceID + "|" + text))
	return hex.EncodeToString(sum[:])
}

// PatternList is a sortable collection of mined patterns.
type PatternList []Pattern

func (pl PatternList) SortByCount() {
	sort.Slice(pl, func(i, j int) bool { return pl[i].Count > pl[j].Count })
}

// extractClusterPattern pulls the wildcarded pattern out of Drain's
// cluster.String() output, formatted as "id={X} : size={Y} : [pattern]".
func extractClusterPattern(clusterStr string) string {
	idx := strings.LastIndex(clusterStr, " : ")
	if idx == -1 {
		return clusterStr
	}
	return strings.TrimSpace(clusterStr[idx+3:])
}

// canonicalizeWildcards collapses every placeholder variant (<*>, <IP>,
// <UUID>, ...) and every token containing a digit to a single <VAR> so
// the same underlying shape produces the same pattern ID whether or not
// Drain has already learned it.
func canonicalizeWildcards(text string) string {
	for _, placeholder := range []string{"<*>", "<IP>", "<UUID>", "<TIMESTAMP>", "<HEX>", "<PATH>", "<URL>", "<EMAIL>"} {
		text = strings.ReplaceAll(text, placeholder, "<VAR>")
	}
	tokens := strings.Fields(text)
	for i, token := range tokens {
		if strings.ContainsAny(token, "0123456789") {
			tokens[i] = "<VAR>"
		}
	}
	return strings.Join(tokens, " ")
}
