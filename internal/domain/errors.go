package domain

import "errors"

var (
	// ErrInvalidInput marks requests rejected before any credit is
	// committed: missing source asset, empty concept, unknown scene.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInsufficientCredits marks admission-check failures. The job
	// never reaches a provider and never costs anything.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrProviderFailure marks a capability fault, an unparseable
	// response, or an empty result.
	ErrProviderFailure = errors.New("provider failure")
	// ErrTimeout marks a polled job that exhausted its attempt ceiling.
	ErrTimeout = errors.New("generation timed out")

	ErrNotFound   = errors.New("not found")
	ErrLoopActive = errors.New("auto loop already running")
)

// FailureClass buckets an error into the wire-level taxonomy string.
func FailureClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "validation"
	case errors.Is(err, ErrInsufficientCredits):
		return "insufficient_credits"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrProviderFailure):
		return "provider_failure"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
