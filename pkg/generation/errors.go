package generation

import "errors"

var (
	// ErrInvalidInput indicates a submission with missing or malformed
	// input fields. Client-correctable.
	ErrInvalidInput = errors.New("invalid input")

	// ErrMalformedEvent indicates a push event without a run
	// correlation id. Logged and acknowledged, never escalated.
	ErrMalformedEvent = errors.New("malformed event")
)
