package remote

import (
	"encoding/json"
	"strings"

	"github.com/pathforge/roadgen/pkg/roadgen/faults"
)

// DecodeJSON extracts the JSON payload embedded in raw model output
// and unmarshals it into v.
//
// Model responses frequently wrap the payload in markdown code fences
// or surround it with prose. Decoding proceeds in stages: strip
// fences, scan for a balanced object or array, unmarshal. Any failure
// yields a *faults.ParseError carrying a preview of the offending
// input; decode failures are permanent, never retried.
func DecodeJSON(raw string, v any) error {
	text := strings.TrimSpace(raw)
	if text == "" {
		return &faults.ParseError{Input: raw, Message: "empty response"}
	}

	if looksLikeCode(text) {
		return &faults.ParseError{
			Input:   preview(text),
			Message: "response contains source code, not JSON",
		}
	}

	text = stripCodeFences(text)

	payload, ok := extractBalanced(text)
	if !ok {
		return &faults.ParseError{
			Input:   preview(text),
			Message: "no JSON object or array found",
		}
	}

	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return &faults.ParseError{
			Input:   preview(payload),
			Message: "invalid JSON: " + err.Error(),
		}
	}
	return nil
}

// looksLikeCode detects responses where the model emitted a program
// instead of data. These cannot be salvaged by extraction.
func looksLikeCode(text string) bool {
	lower := strings.ToLower(text)
	prefixes := []string{
		"python", "javascript", "java",
		"def ", "class ", "function ", "const ", "let ", "var ",
	}
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return strings.Contains(lower, "def __init__") || strings.Contains(lower, "function(")
}

// stripCodeFences removes a surrounding markdown code block, with or
// without a language tag. Text without fences passes through.
func stripCodeFences(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}

	start := strings.Index(text, "```json")
	if start != -1 {
		start += len("```json")
	} else {
		start = strings.Index(text, "```")
		if start != -1 {
			start += len("```")
		}
	}

	end := strings.LastIndex(text, "```")
	if start == -1 || end == -1 || end <= start {
		return text
	}
	return strings.TrimSpace(text[start:end])
}

// extractBalanced returns the first balanced JSON object or array in
// text, tracking strings and escapes so braces inside values don't
// confuse the scan.
func extractBalanced(text string) (string, bool) {
	start := strings.IndexAny(text, "{[")
	if start == -1 {
		return "", false
	}

	open := text[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// contents of a string are opaque
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// preview truncates input for error messages.
func preview(s string) string {
	const max = 500
	if len(s) <= max {
		return s
	}
	return s[:max]
}
