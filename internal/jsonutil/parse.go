// Package jsonutil extracts and parses JSON from LLM responses that may be
// wrapped in markdown code fences or embedded in prose.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StripMarkdownFences removes ```json ... ``` or ``` ... ``` wrapping from text.
// Returns the content between the fences, or the original text if no fences are found.
func StripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return text
	}

	startIdx := 1
	endIdx := len(lines) - 1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}

	return strings.Join(lines[startIdx:endIdx], "\n")
}

// ExtractJSON returns the first balanced JSON object or array in text.
// Brackets inside string literals are ignored, so prose after the value
// (including prose with its own braces) does not affect the result.
func ExtractJSON(text string) (string, error) {
	if span, _, ok := nextBalanced(text, 0); ok {
		return span, nil
	}
	if strings.ContainsAny(text, "{[") {
		return "", fmt.Errorf("no balanced JSON value found")
	}
	return "", fmt.Errorf("no JSON content found")
}

// nextBalanced finds the first balanced span opening at or after from. It
// also returns the offset just past the span's opening bracket, where the
// search for a later candidate resumes.
func nextBalanced(text string, from int) (string, int, bool) {
	for from < len(text) {
		i := strings.IndexAny(text[from:], "{[")
		if i == -1 {
			return "", len(text), false
		}
		start := from + i
		if end, ok := balancedEnd(text, start); ok {
			return text[start : end+1], start + 1, true
		}
		from = start + 1
	}
	return "", len(text), false
}

// balancedEnd returns the index of the bracket closing text[start].
func balancedEnd(text string, start int) (int, bool) {
	var stack []byte
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// ParseJSON strips markdown fences from raw LLM response text and unmarshals
// the first balanced JSON value that decodes into T. Bracketed prose before
// the real payload, such as "[cartelera actual]", is skipped.
func ParseJSON[T any](raw string) (T, error) {
	var zero T

	text := StripMarkdownFences(raw)
	if _, err := ExtractJSON(text); err != nil {
		return zero, fmt.Errorf("%w (raw length: %d)", err, len(raw))
	}

	var firstErr error
	for from := 0; ; {
		span, next, ok := nextBalanced(text, from)
		if !ok {
			break
		}
		var result T
		err := json.Unmarshal([]byte(span), &result)
		if err == nil {
			return result, nil
		}
		if firstErr == nil {
			preview := span
			if len(preview) > 200 {
				preview = preview[:200] + "..."
			}
			firstErr = fmt.Errorf("invalid JSON: %w (text: %s)", err, preview)
		}
		from = next
	}
	return zero, firstErr
}
