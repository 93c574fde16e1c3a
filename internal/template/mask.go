package template

import "regexp"

var (
	ipv4Pattern = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	ipv6Pattern = regexp.MustCompile(`\b[0-9a-fA-F:]+:[0-9a-fA-F:]+\b`)

	uuidPattern = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)

	timestampPattern     = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?\b`)
	unixTimestampPattern = regexp.MustCompile(`\b\d{10,13}\b`)

	hexPattern     = regexp.MustCompile(`\b0x[0-9a-fA-F]+\b`)
	longHexPattern = regexp.MustCompile(`\b[0-9a-fA-F]{16,}\b`)

	filePathPattern = regexp.MustCompile(`(/[a-zA-Z0-9_.-]+)+`)
	urlPattern      = regexp.MustCompile(`\bhttps?://[a-zA-Z0-9.-]+[a-zA-Z0-9/._?=&-]*\b`)
	emailPattern    = regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`)
)

// maskVariables replaces common variable shapes with stable placeholders,
// applied to a mined Drain pattern before it is used to derive a
// template ID. Specific patterns run before generic ones so, e.g., a
// UUID isn't first chewed up by the long-hex pattern.
func maskVariables(pattern string) string {
	pattern = ipv6Pattern.ReplaceAllString(pattern, "<IP>")
	pattern = ipv4Pattern.ReplaceAllString(pattern, "<IP>")
	pattern = uuidPattern.ReplaceAllString(pattern, "<UUID>")
	pattern = timestampPattern.ReplaceAllString(pattern, "<TIMESTAMP>")
	pattern = unixTimestampPattern.ReplaceAllString(pattern, "<TIMESTAMP>")
	pattern = hexPattern.ReplaceAllString(pattern, "<HEX>")
	pattern = longHexPattern.ReplaceAllString(pattern, "<HEX>")
	pattern = urlPattern.ReplaceAllString(pattern, "<URL>")
	pattern = emailPattern.ReplaceAllString(pattern, "<EMAIL>")
	pattern = filePathPattern.ReplaceAllString(pattern, "<PATH>")
	return pattern
}
