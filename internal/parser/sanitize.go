package parser

import "strings"

// Marker fragments that must never survive into slide content. Matched
// case-insensitively because the delimiters themselves are.
var markerFragments = []string{
	"SPEAKER NOTES",
	"IMAGE PROMPT",
	"<IMAGE PROMPT>",
	"</IMAGE PROMPT>",
}

// Sanitize removes stray delimiter lines left behind by malformed or partial
// marker usage and trims blank lines from both edges. Running it on already
// clean content is a no-op.
func Sanitize(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))

	for _, line := range lines {
		if containsMarkerFragment(line) {
			continue
		}
		kept = append(kept, strings.TrimRight(line, " \t"))
	}

	return strings.Join(trimBlankEdges(kept), "\n")
}

// containsMarkerFragment reports whether a line still carries delimiter noise.
// Whole lines are dropped rather than substrings excised: a line mentioning a
// marker is marker debris, not user prose worth salvaging.
func containsMarkerFragment(line string) bool {
	upper := strings.ToUpper(line)
	for _, fragment := range markerFragments {
		if strings.Contains(upper, fragment) {
			return true
		}
	}
	return false
}

// trimBlankEdges drops leading and trailing whitespace-only lines.
func trimBlankEdges(lines []string) []string {
	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	end := len(lines)
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[start:end]
}
