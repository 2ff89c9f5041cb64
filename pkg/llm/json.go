package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
)

var (
	// Reasoning models may prefix the answer with <think>...</think>.
	thinkTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)
	fencePattern    = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")
)

// ExtractJSON pulls the first JSON object or array out of a model response
// that may carry reasoning tags, markdown fences or surrounding prose.
func ExtractJSON(response string) (string, error) {
	cleaned := thinkTagPattern.ReplaceAllString(response, "")

	candidates := []string{}
	for _, m := range fencePattern.FindAllStringSubmatch(cleaned, -1) {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, cleaned)

	for _, c := range candidates {
		if s, ok := firstBalanced(c); ok {
			return s, nil
		}
	}
	return "", fmt.Errorf("no valid JSON found in response")
}

// firstBalanced scans for the earliest { or [ that opens a valid JSON value.
func firstBalanced(s string) (string, bool) {
	for start := 0; start < len(s); start++ {
		if s[start] != '{' && s[start] != '[' {
			continue
		}
		if end, ok := matchClose(s, start); ok {
			candidate := s[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
	}
	return "", false
}

func matchClose(s string, start int) (int, bool) {
	var stack []byte
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			stack = append(stack, '}')
		case c == '[':
			stack = append(stack, ']')
		case c == '}' || c == ']':
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

// ParseJSONResponse extracts JSON from a response and unmarshals it into T.
func ParseJSONResponse[T any](response string) (T, error) {
	var result T
	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return result, fmt.Errorf("unmarshal JSON: %w", err)
	}
	return result, nil
}
