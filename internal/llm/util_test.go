package llm

import (
	"testing"
)

func TestCleanJSONBlock_MarkdownCodeBlock(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "json code block",
			input:    "```json\n{\"total_score\": 38}\n```",
			expected: `{"total_score": 38}`,
		},
		{
			name:     "generic code block",
			input:    "```\n{\"total_score\": 38}\n```",
			expected: `{"total_score": 38}`,
		},
		{
			name:     "code block with language",
			input:    "```javascript\n{\"total_score\": 38}\n```",
			expected: `{"total_score": 38}`,
		},
		{
			name:     "plain JSON",
			input:    `{"total_score": 38}`,
			expected: `{"total_score": 38}`,
		},
		{
			name:     "no JSON at all",
			input:    "I cannot review this repository.",
			expected: "I cannot review this repository.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CleanJSONBlock(tt.input)
			if result != tt.expected {
				t.Errorf("CleanJSONBlock() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestCleanJSONBlock_SurroundingText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "preamble before JSON object",
			input:    "As requested, here is the review:\n{\"verdict\": \"solid\"}",
			expected: `{"verdict": "solid"}`,
		},
		{
			name:     "preamble before JSON array",
			input:    "Here are the issues:\n[\"naming\", \"tests\"]",
			expected: `["naming", "tests"]`,
		},
		{
			name:     "JSON with trailing text",
			input:    "{\"verdict\": \"solid\"}\n\nLet me know if you need anything else!",
			expected: `{"verdict": "solid"}`,
		},
		{
			name:     "trailing text with braces",
			input:    "{\"a\": 1} and then {\"b\": 2}",
			expected: `{"a": 1}`,
		},
		{
			name:     "escaped quotes",
			input:    "Result: {\"message\": \"He said \\\"hello\\\"\"}",
			expected: `{"message": "He said \"hello\""}`,
		},
		{
			name:     "braces inside strings",
			input:    "Review: {\"note\": \"use {} less\", \"n\": {\"x\": 1}}",
			expected: `{"note": "use {} less", "n": {"x": 1}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CleanJSONBlock(tt.input)
			if result != tt.expected {
				t.Errorf("CleanJSONBlock() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple object", `{"key": "value"}`, `{"key": "value"}`},
		{"object with array", `{"items": [1, 2, 3]}`, `{"items": [1, 2, 3]}`},
		{"string with braces inside", `{"template": "Hello {name}!"}`, `{"template": "Hello {name}!"}`},
		{"unterminated", `{"key": "value"`, ""},
		{"empty input", "", ""},
		{"not starting with brace", "not json", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractJSONObject(tt.input)
			if result != tt.expected {
				t.Errorf("extractJSONObject() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestExtractJSONArray(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"nested arrays", `[[1, 2], [3, 4]] tail`, `[[1, 2], [3, 4]]`},
		{"array of objects", `[{"id": 1}, {"id": 2}]`, `[{"id": 1}, {"id": 2}]`},
		{"not starting with bracket", "not array", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractJSONArray(tt.input)
			if result != tt.expected {
				t.Errorf("extractJSONArray() = %q, want %q", result, tt.expected)
			}
		})
	}
}
