// internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// Regex definitions use \x60 (hex representation) for backticks because Go raw strings cannot contain backticks.

	// fencedObject extracts a JSON object wrapped in a markdown code block.
	fencedObject = regexp.MustCompile("(?s)\x60\x60\x60(?:json|JSON)?\\s*({.*})\\s*\x60\x60\x60")
	// fencedArray extracts a JSON array wrapped in a markdown code block.
	fencedArray = regexp.MustCompile("(?s)\x60\x60\x60(?:json|JSON)?\\s*(\\[.*\\])\\s*\x60\x60\x60")
)

// ExtractJSON isolates the JSON value in a model response. Models wrap
// answers in markdown fences or surround them with prose; both are stripped.
// Objects win over arrays when both appear. The input is returned trimmed
// when nothing JSON-like is found.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)
	isObject := strings.Contains(response, "{")
	isArray := strings.Contains(response, "[")

	if strings.HasPrefix(response, "```") {
		var m []string
		if isObject {
			m = fencedObject.FindStringSubmatch(response)
		}
		if len(m) <= 1 && isArray {
			m = fencedArray.FindStringSubmatch(response)
		}
		if len(m) > 1 {
			return m[1]
		}
	}

	if strings.HasPrefix(response, "{") || strings.HasPrefix(response, "[") {
		return response
	}
	if isObject {
		if s, ok := span(response, "{", "}"); ok {
			return s
		}
	}
	if isArray {
		if s, ok := span(response, "[", "]"); ok {
			return s
		}
	}
	return response
}

func span(s, open, close string) (string, bool) {
	first := strings.Index(s, open)
	last := strings.LastIndex(s, close)
	if first == -1 || last <= first {
		return "", false
	}
	return s[first : last+1], true
}

// ParseJSONResponse decodes a model response into T after ExtractJSON.
func ParseJSONResponse[T any](response string) (*T, error) {
	raw := ExtractJSON(response)
	var result T
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, Truncate(raw, 500))
	}
	return &result, nil
}

// Truncate cuts s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
