package masking

import "regexp"

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// Truncation bounds for oversized string leaves. A redacted string is
// head + marker + tail, which is itself well under the limit, so the rule
// is idempotent.
const (
	TruncateLimit  = 4096
	TruncateHead   = 1024
	TruncateTail   = 256
	TruncateMarker = "\n...[truncated]...\n"
)

// builtinPatterns returns the always-on redaction patterns.
// The bearer-prefix pattern matches "sk-" together with any run of
// asterisks already following it, so re-applying it is a no-op.
func builtinPatterns() []*CompiledPattern {
	return []*CompiledPattern{
		{
			Name:        "bearer_prefix",
			Regex:       regexp.MustCompile(`sk-\**`),
			Replacement: "sk-***",
			Description: "Masks sk- style bearer token prefixes",
		},
	}
}

// sensitiveKeyFragments flag argument names whose values must never appear
// in progress logs or previews.
var sensitiveKeyFragments = []string{
	"token", "key", "secret", "pwd", "password", "authorization", "api_key",
}
