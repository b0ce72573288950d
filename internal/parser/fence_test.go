package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripFences(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  \n```json {\"a\":1} ```  \n", `{"a":1}`},
		{"no fence", `{"a":1}`, `{"a":1}`},
		{"only opening fence", "```json\n{\"a\":1}", `{"a":1}`},
		{"only closing fence", "{\"a\":1}\n```", `{"a":1}`},
		{"empty", "", ""},
		{"plain text", "no json here", "no json here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StripFences(tt.input))
		})
	}
}

func TestStripFences_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		`{"a":1}`,
		"```json\n{\"a\":1}\n```",
		"```\n[1,2]\n```",
		"```json```json",
		"``````",
		"```json\n```json\n{}\n```\n```",
		"text ```json inside``` text",
		"```JSON\n{}\n```",
	}

	for _, input := range inputs {
		once := StripFences(input)
		assert.Equal(t, once, StripFences(once), "input %q", input)
	}
}
