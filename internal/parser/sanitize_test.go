package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "clean content untouched",
			input:    "line one\nline two",
			expected: "line one\nline two",
		},
		{
			name:     "orphaned notes delimiter dropped",
			input:    "content\n>>> SPEAKER NOTES >>>",
			expected: "content",
		},
		{
			name:     "orphaned closing delimiter dropped",
			input:    "<<< speaker notes <<<\ncontent",
			expected: "content",
		},
		{
			name:     "unclosed image tag dropped",
			input:    "content\n<IMAGE PROMPT>dangling",
			expected: "content",
		},
		{
			name:     "case insensitive",
			input:    "keep\n>>> Speaker Notes >>>\nkeep too",
			expected: "keep\nkeep too",
		},
		{
			name:     "blank edges trimmed",
			input:    "\n\n  \ncontent\n\n",
			expected: "content",
		},
		{
			name:     "trailing spaces trimmed per line",
			input:    "alpha  \nbeta\t",
			expected: "alpha\nbeta",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Sanitize(tt.input))
		})
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	inputs := []string{
		"content\n>>> SPEAKER NOTES >>>\nmore",
		"  spaced  \n\n<IMAGE PROMPT>\n",
		"already clean",
	}

	for _, input := range inputs {
		once := Sanitize(input)
		assert.Equal(t, once, Sanitize(once))
	}
}
