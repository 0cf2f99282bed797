package llm

import (
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// retryable reports whether a status code is worth another attempt.
// Everything else in the 4xx range is treated as permanent.
func retryable(status int) bool {
	return status == 429 || status >= 500
}

// retryAfterSeconds parses a numeric Retry-After header value. It returns
// -1 when the header is absent, non-numeric or negative; HTTP-date forms
// are not honored.
func retryAfterSeconds(header string) float64 {
	header = strings.TrimSpace(header)
	if header == "" {
		return -1
	}
	v, err := strconv.ParseFloat(header, 64)
	if err != nil || v < 0 {
		return -1
	}
	return v
}

// backoffDelay computes the sleep before the next attempt. attempt is the
// 1-based number of the attempt that just failed; the base doubles per
// attempt and is capped at 8 seconds. A non-negative retryAfter replaces
// the computed base. Up to half a second of jitter is added either way.
func backoffDelay(attempt int, retryAfter float64) time.Duration {
	base := math.Min(8, math.Pow(2, float64(attempt-1)))
	if retryAfter >= 0 {
		base = retryAfter
	}
	jitter := rand.Float64() * 0.5
	return time.Duration((base + jitter) * float64(time.Second))
}
