package llm

import (
	"regexp"
	"strings"
)

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// StripCodeFences removes a markdown code-fence wrapper around a model's
// JSON output, tolerating prose before or after the fence.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	rest := s[start+3:]
	// Skip a language tag on the opening fence line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(rest[:nl])
		if firstLine == "" || firstLine == "json" {
			rest = rest[nl+1:]
		}
	}
	if end := strings.LastIndex(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// RepairJSON fixes the common mistakes models make when asked for JSON:
// code-fence wrappers, smart quotes, and trailing commas. It does not try to
// repair truncated output; the caller falls back on parse failure.
func RepairJSON(s string) string {
	s = StripCodeFences(s)

	// Smart quotes to plain quotes.
	replacer := strings.NewReplacer(
		"“", `"`,
		"”", `"`,
		"‘", "'",
		"’", "'",
	)
	s = replacer.Replace(s)

	s = trailingComma.ReplaceAllString(s, "$1")

	// Trim prose before the first brace/bracket and after the last.
	first := strings.IndexAny(s, "{[")
	last := strings.LastIndexAny(s, "}]")
	if first >= 0 && last > first {
		s = s[first : last+1]
	}
	return s
}
