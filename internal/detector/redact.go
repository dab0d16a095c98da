package detector

import "strings"

const (
	// Characters of a matched secret left readable at each end.
	revealLen = 4
	// Maximum snippet length in a finding.
	snippetMaxLen = 200
)

// mask replaces the interior of a matched secret with asterisks, keeping a
// short prefix and suffix. Strings too short to keep both ends are masked
// entirely.
func mask(s string) string {
	if len(s) <= 2*revealLen {
		return strings.Repeat("*", len(s))
	}
	return s[:revealLen] + strings.Repeat("*", len(s)-2*revealLen) + s[len(s)-revealLen:]
}

// truncate shortens s to maxLen characters, keeping the window centered
// around centerAt and marking trimmed ends with ellipses.
func truncate(s string, centerAt, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}

	half := maxLen / 2
	start := centerAt - half
	if start < 0 {
		start = 0
	}
	end := start + maxLen
	if end > len(s) {
		end = len(s)
	}

	if start == 0 {
		end = min(len(s), maxLen)
	} else if end == len(s) {
		start = max(0, len(s)-maxLen)
	}

	prefix := ""
	if start > 0 {
		prefix = "... "
	}
	suffix := ""
	if end < len(s) {
		suffix = " ..."
	}
	return prefix + s[start:end] + suffix
}

// redactSnippet masks the matched span of line and truncates the result to
// the snippet limit. Masking happens here, before the value leaves the
// detector; the full match never appears in a finding.
func redactSnippet(line string, start, end int) string {
	redacted := line[:start] + mask(line[start:end]) + line[end:]
	return truncate(strings.TrimSpace(redacted), start, snippetMaxLen)
}
