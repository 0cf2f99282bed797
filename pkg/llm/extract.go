package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSONBlock locates the first balanced {...} block in text and
// returns it as raw JSON. Models wrap structured output in prose and code
// fences; scanning for the first balanced object tolerates both. The block
// must itself be valid JSON or an error is returned.
func ExtractJSONBlock(text string) (json.RawMessage, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, ErrNoJSONObject
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				block := []byte(text[start : i+1])
				if !json.Valid(block) {
					return nil, fmt.Errorf("invalid JSON object: %.80s", block)
				}
				return json.RawMessage(block), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: unbalanced braces", ErrNoJSONObject)
}

// ExtractJSONMap is ExtractJSONBlock decoded into a generic map.
func ExtractJSONMap(text string) (map[string]any, error) {
	raw, err := ExtractJSONBlock(text)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode JSON object: %w", err)
	}
	return out, nil
}
