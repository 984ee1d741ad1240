// Package parser turns AI-chat markdown into ordered slide records.
//
// The input format has grown several dialects over time: slides are separated
// by a line containing only "===SLIDE===", titles are "# Title" or
// "Slide N: Title" lines, speaker notes arrive either as "> " lines or as a
// ">>> SPEAKER NOTES >>>" block, and image prompts as "!> " lines, an
// "<IMAGE PROMPT>" tag pair, or a legacy ">>> IMAGE PROMPT >>>" block.
// Extraction is best-effort: any input string, including the empty string,
// produces at least one record and never an error.
package parser

import (
	"fmt"
	"regexp"
	"strings"
)

// SlideRecord is the parsed, structured form of one slide before any remote
// creation happens.
type SlideRecord struct {
	Title        string `json:"title"`
	Content      string `json:"content"`
	SpeakerNotes string `json:"speaker_notes"`
	ImagePrompt  string `json:"image_prompt"`
}

var (
	separatorRe  = regexp.MustCompile(`(?m)^[ \t]*===SLIDE===[ \t]*$`)
	headingRe    = regexp.MustCompile(`^#\s+(.+)$`)
	slideLabelRe = regexp.MustCompile(`(?i)^Slide\s+\d+:\s*(.+)$`)

	imageTagRe    = regexp.MustCompile(`(?is)<IMAGE PROMPT>(.*?)</IMAGE PROMPT>`)
	imageLegacyRe = regexp.MustCompile(`(?is)>>>\s*IMAGE PROMPT\s*>>>(.*?)<<<\s*IMAGE PROMPT\s*<<<`)
	notesBlockRe  = regexp.MustCompile(`(?is)>>>\s*SPEAKER NOTES\s*>>>(.*?)<<<\s*SPEAKER NOTES\s*<<<`)

	listMarkerRe = regexp.MustCompile(`(?m)^\s*(-\s+|\d+\.\s+)`)
)

// Parse splits markdown into slide records. Output order equals segment order,
// and parsing is total: a string with no separators yields one record.
func Parse(markdown string) []SlideRecord {
	segments := separatorRe.Split(markdown, -1)

	records := make([]SlideRecord, 0, len(segments))
	for i, segment := range segments {
		records = append(records, parseSegment(segment, i+1))
	}
	return records
}

// HasListMarkers reports whether content contains bullet ("- ") or numbered
// ("1. ") list markers, which downstream formatting turns into real lists.
func HasListMarkers(content string) bool {
	return listMarkerRe.MatchString(content)
}

// parseSegment extracts title, image prompt, and speaker notes from one slide
// segment. index is the 1-based slide position, used for the default title.
func parseSegment(segment string, index int) SlideRecord {
	title, body := extractTitle(segment, index)

	// Image prompts first: the notes line matcher is more permissive and
	// would otherwise swallow legacy image blocks.
	prompt, body := extractImagePrompt(body)
	notes, body := extractSpeakerNotes(body)

	return SlideRecord{
		Title:        title,
		Content:      Sanitize(body),
		SpeakerNotes: strings.TrimSpace(notes),
		ImagePrompt:  strings.TrimSpace(prompt),
	}
}

// extractTitle finds the first heading or "Slide N:" line, removes it from the
// working text, and returns its text. Without one the title defaults to
// "Slide {index}" and the segment is returned untouched.
func extractTitle(segment string, index int) (title, remaining string) {
	lines := strings.Split(segment, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if m := headingRe.FindStringSubmatch(trimmed); m != nil {
			return strings.TrimSpace(m[1]), joinWithout(lines, i)
		}
		if m := slideLabelRe.FindStringSubmatch(trimmed); m != nil {
			return strings.TrimSpace(m[1]), joinWithout(lines, i)
		}
	}
	return fmt.Sprintf("Slide %d", index), segment
}

// joinWithout rejoins lines with line i removed.
func joinWithout(lines []string, i int) string {
	kept := make([]string, 0, len(lines)-1)
	kept = append(kept, lines[:i]...)
	kept = append(kept, lines[i+1:]...)
	return strings.Join(kept, "\n")
}

// blockMatcher tries one delimiter dialect against text. On a match it returns
// the captured value and the text with the matched region removed.
type blockMatcher func(text string) (value, remaining string, ok bool)

// Image prompt dialects in priority order; first match wins.
var imagePromptMatchers = []blockMatcher{
	matchTaggedBlock(imageTagRe),
	matchTaggedBlock(imageLegacyRe),
	matchPrefixedLines("!>"),
}

// Speaker note dialects in priority order; first match wins.
var speakerNotesMatchers = []blockMatcher{
	matchTaggedBlock(notesBlockRe),
	matchPrefixedLines(">"),
}

// extractImagePrompt pulls the image prompt out of text using the first
// matching dialect. "!> " lines are stripped even when a paired block supplied
// the prompt, so they never leak into slide content.
func extractImagePrompt(text string) (prompt, remaining string) {
	prompt, remaining = firstMatch(imagePromptMatchers, text)
	_, remaining = stripPrefixedLines(remaining, "!>")
	return prompt, remaining
}

// extractSpeakerNotes pulls speaker notes out of text using the first matching
// dialect. Plain "> " lines are stripped from the body regardless of which
// dialect supplied the notes.
func extractSpeakerNotes(text string) (notes, remaining string) {
	notes, remaining = firstMatch(speakerNotesMatchers, text)
	_, remaining = stripPrefixedLines(remaining, ">")
	return notes, remaining
}

// firstMatch runs matchers in order and applies the first that succeeds.
func firstMatch(matchers []blockMatcher, text string) (value, remaining string) {
	for _, m := range matchers {
		if v, rest, ok := m(text); ok {
			return v, rest
		}
	}
	return "", text
}

// matchTaggedBlock matches a paired-delimiter block described by re, whose
// first capture group is the block body.
func matchTaggedBlock(re *regexp.Regexp) blockMatcher {
	return func(text string) (string, string, bool) {
		m := re.FindStringSubmatchIndex(text)
		if m == nil {
			return "", text, false
		}
		value := strings.TrimSpace(text[m[2]:m[3]])
		remaining := text[:m[0]] + text[m[1]:]
		return value, remaining, true
	}
}

// matchPrefixedLines matches one or more lines carrying the given prefix
// followed by a space (or nothing), joining their text with newlines. A ">"
// prefix deliberately does not match "!>" or ">>>" lines.
func matchPrefixedLines(prefix string) blockMatcher {
	return func(text string) (string, string, bool) {
		captured, remaining := stripPrefixedLines(text, prefix)
		if len(captured) == 0 {
			return "", text, false
		}
		return strings.Join(captured, "\n"), remaining, true
	}
}

// stripPrefixedLines removes every line starting with prefix + " " (or equal
// to the bare prefix) and returns the captured line bodies plus the remaining
// text. Lines whose prefix continues with another marker character (">>",
// "!>") are left alone.
func stripPrefixedLines(text, prefix string) (captured []string, remaining string) {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == prefix:
			captured = append(captured, "")
		case strings.HasPrefix(trimmed, prefix+" "):
			captured = append(captured, strings.TrimSpace(trimmed[len(prefix)+1:]))
		case prefix == ">" && strings.HasPrefix(trimmed, ">") &&
			!strings.HasPrefix(trimmed, ">>") && len(trimmed) > 1:
			// "> text" without the space, e.g. ">note". Tolerated.
			captured = append(captured, strings.TrimSpace(trimmed[1:]))
		default:
			kept = append(kept, line)
		}
	}

	return captured, strings.Join(kept, "\n")
}
