package mcp

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseArgs parses a raw tool argument string into a parameter map. Models
// emit arguments in whatever shape the prompt examples suggested, so the
// parser is deliberately lenient.
//
// Cascade (first successful parse wins):
//  1. JSON object
//  2. other JSON values, wrapped as {"input": value}
//  3. YAML, only when it carries structure (arrays or nested maps)
//  4. "key: value" / "key=value" pairs split on commas and newlines
//  5. the raw string as {"input": string}
//
// Empty input yields an empty map for tools without parameters.
func ParseArgs(input string) map[string]any {
	input = strings.TrimSpace(input)
	if input == "" {
		return map[string]any{}
	}

	if result, ok := parseJSONArgs(input); ok {
		return result
	}
	if result, ok := parseYAMLArgs(input); ok {
		return result
	}
	if result, ok := parseKeyValueArgs(input); ok {
		return result
	}
	return map[string]any{"input": input}
}

// parseJSONArgs handles JSON input. Non-object values (arrays, strings,
// numbers) are wrapped as {"input": value}.
func parseJSONArgs(input string) (map[string]any, bool) {
	// Quick reject: the first byte must be able to start a JSON value,
	// otherwise plain prose would pay for a full parse attempt.
	b := input[0]
	isJSONStart := b == '{' || b == '[' || b == '"' ||
		(b >= '0' && b <= '9') || b == '-' ||
		b == 't' || b == 'f' || b == 'n'
	if !isJSONStart {
		return nil, false
	}

	var raw any
	if err := json.Unmarshal([]byte(input), &raw); err != nil {
		return nil, false
	}
	if m, ok := raw.(map[string]any); ok {
		return m, true
	}
	return map[string]any{"input": raw}, true
}

// parseYAMLArgs only accepts YAML that contains arrays or nested maps.
// Plain "key: value" lines go through the key-value parser instead, to
// avoid false positives on prose that happens to look like YAML.
func parseYAMLArgs(input string) (map[string]any, bool) {
	var result map[string]any
	if err := yaml.Unmarshal([]byte(input), &result); err != nil {
		return nil, false
	}
	if len(result) == 0 {
		return nil, false
	}
	for _, v := range result {
		switch v.(type) {
		case []any, map[string]any:
			return result, true
		}
	}
	return nil, false
}

// parseKeyValueArgs parses "key: value" or "key=value" pairs separated by
// commas or newlines. If any part fails to parse, the whole input is
// rejected and falls through to the raw-string fallback.
func parseKeyValueArgs(input string) (map[string]any, bool) {
	normalized := strings.ReplaceAll(input, "\n", ",")

	result := make(map[string]any)
	for _, part := range strings.Split(normalized, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := splitPair(part)
		if !ok {
			return nil, false
		}
		result[key] = coerceValue(value)
	}
	if len(result) == 0 {
		return nil, false
	}
	return result, true
}

// splitPair splits one "key: value" or "key=value" fragment. Keys must be
// simple identifiers without spaces.
func splitPair(part string) (key, value string, ok bool) {
	for _, sep := range []string{":", "="} {
		if idx := strings.Index(part, sep); idx > 0 {
			k := strings.TrimSpace(part[:idx])
			v := strings.TrimSpace(part[idx+1:])
			if k != "" && !strings.Contains(k, " ") {
				return k, v, true
			}
		}
	}
	return "", "", false
}

// coerceValue converts key-value strings into JSON-compatible Go types.
func coerceValue(s string) any {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	case "null", "none":
		return nil
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		// NaN and Inf are not valid JSON, keep the original string.
		if !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
	}
	return s
}
