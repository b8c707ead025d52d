package ai

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// cleanJSONBlock removes markdown code block wrappers from JSON
func cleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```JSON")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// extractFirstJSONObject finds the first outermost balanced {...}
func extractFirstJSONObject(s string) (string, bool) {
	return extractBalanced(s, '{', '}')
}

// extractFirstJSONArray finds the first outermost balanced [...]
func extractFirstJSONArray(s string) (string, bool) {
	return extractBalanced(s, '[', ']')
}

func extractBalanced(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		char := s[i]

		if escaped {
			escaped = false
			continue
		}
		if char == '\\' {
			escaped = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			if char == open {
				depth++
			} else if char == close {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}

	return "", false
}

// objectPayload returns the JSON object in a model response, tolerating
// code fences and surrounding prose.
func objectPayload(resp string) ([]byte, error) {
	cleaned := cleanJSONBlock(resp)
	if cleaned == "" {
		return nil, ErrEmptyResponse
	}
	if strings.HasPrefix(cleaned, "{") && json.Valid([]byte(cleaned)) {
		return []byte(cleaned), nil
	}
	if obj, ok := extractFirstJSONObject(cleaned); ok {
		return []byte(obj), nil
	}
	return nil, fmt.Errorf("no JSON object in response: %.120q", cleaned)
}

// arrayPayload returns the JSON array in a model response. An object
// wrapping the array under one of wrapperKeys is unwrapped.
func arrayPayload(resp string, wrapperKeys ...string) ([]byte, error) {
	cleaned := cleanJSONBlock(resp)
	if cleaned == "" {
		return nil, ErrEmptyResponse
	}

	if strings.HasPrefix(cleaned, "{") {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal([]byte(cleaned), &wrapper); err == nil {
			for _, k := range wrapperKeys {
				if v, ok := wrapper[k]; ok {
					return v, nil
				}
			}
			return nil, fmt.Errorf("unexpected object response without %v", wrapperKeys)
		}
	}
	if strings.HasPrefix(cleaned, "[") && json.Valid([]byte(cleaned)) {
		return []byte(cleaned), nil
	}
	if arr, ok := extractFirstJSONArray(cleaned); ok {
		return []byte(arr), nil
	}
	return nil, fmt.Errorf("no JSON array in response: %.120q", cleaned)
}

// Amount accepts both numbers and free-text amounts ("€ 150.000").
type Amount struct {
	Value *float64
	Raw   string
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == "" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		a.Raw = strings.TrimSpace(raw)
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %s", s)
	}
	a.Value = &v
	return nil
}

// nullString decodes JSON strings, treating null and non-strings as empty.
type nullString string

func (n *nullString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*n = ""
		return nil
	}
	*n = nullString(strings.TrimSpace(s))
	return nil
}

func (n nullString) String() string { return string(n) }
