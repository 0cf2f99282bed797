package llm

import "errors"

var (
	// ErrPermanent marks an upstream failure that retrying cannot fix
	// (4xx responses other than 429).
	ErrPermanent = errors.New("permanent upstream failure")

	// ErrTransient marks a retryable upstream failure whose retry budget
	// has been exhausted.
	ErrTransient = errors.New("transient upstream failure")

	// ErrNoJSONObject is returned when no JSON object can be located in a
	// completion.
	ErrNoJSONObject = errors.New("no JSON object found")
)
