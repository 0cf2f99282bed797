// Package masking redacts secret-bearing and oversized content before it
// reaches persistent storage or progress logs. Applied to every outbox
// payload at append time; the unredacted original never reaches storage.
package masking

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Service applies the redaction rules. Created once at startup; stateless
// aside from compiled patterns, so it is safe for concurrent use.
type Service struct {
	patterns []*CompiledPattern
}

// NewService creates a masking service with the built-in patterns compiled.
func NewService() *Service {
	s := &Service{patterns: builtinPatterns()}
	slog.Debug("Masking service initialized", "patterns", len(s.patterns))
	return s
}

// RedactString applies pattern masking and truncation to a single string.
// Idempotent: redacting an already-redacted string returns it unchanged.
func (s *Service) RedactString(in string) string {
	out := s.applyPatterns(in)
	if runes := []rune(out); len(runes) > TruncateLimit {
		out = string(runes[:TruncateHead]) + TruncateMarker + string(runes[len(runes)-TruncateTail:])
		// The cut can split a masked token at the head boundary, leaving a
		// bare prefix; a second pattern pass keeps the rule idempotent.
		out = s.applyPatterns(out)
	}
	return out
}

func (s *Service) applyPatterns(in string) string {
	out := in
	for _, p := range s.patterns {
		out = p.Regex.ReplaceAllString(out, p.Replacement)
	}
	return out
}

// RedactValue walks a decoded JSON value and redacts every string leaf,
// preserving structure. Non-string scalars pass through untouched.
func (s *Service) RedactValue(v any) any {
	switch t := v.(type) {
	case string:
		return s.RedactString(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = s.RedactValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = s.RedactValue(val)
		}
		return out
	default:
		return v
	}
}

// previewMaxKeys bounds how many argument entries a preview renders.
const previewMaxKeys = 8

// previewValueLimit bounds rendered value length in previews.
const previewValueLimit = 80

// PreviewArgs renders a bounded, redacted summary of tool-call arguments
// for progress logs. Values under sensitive key names are replaced with
// "<redacted>"; long values are ellipsized; at most previewMaxKeys entries
// are shown with a trailing "+N keys" marker.
func (s *Service) PreviewArgs(args any) string {
	m, ok := args.(map[string]any)
	if !ok {
		return "<non-dict>"
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	preview := make(map[string]any, previewMaxKeys+1)
	extra := 0
	for i, k := range keys {
		if i >= previewMaxKeys {
			extra = len(keys) - i
			break
		}
		if isSensitiveKey(k) {
			preview[k] = "<redacted>"
			continue
		}
		switch v := m[k].(type) {
		case nil, bool, int, int64, float64:
			preview[k] = v
		default:
			vs := fmt.Sprintf("%v", v)
			if len(vs) > previewValueLimit {
				vs = vs[:previewValueLimit-3] + "..."
			}
			preview[k] = vs
		}
	}
	if extra > 0 {
		preview["…"] = fmt.Sprintf("+%d keys", extra)
	}

	data, err := json.Marshal(preview)
	if err != nil {
		return fmt.Sprintf("%v", preview)
	}
	return string(data)
}

func isSensitiveKey(k string) bool {
	lower := strings.ToLower(k)
	for _, frag := range sensitiveKeyFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}
