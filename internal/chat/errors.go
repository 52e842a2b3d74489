package chat

import "errors"

// Error codes surfaced on the wire.
const (
	ErrCodeNotFound     = "not_found"
	ErrCodeForbidden    = "forbidden"
	ErrCodeInvalidInput = "invalid_input"
	ErrCodeTimeout      = "timeout"
	ErrCodeInternal     = "internal"
)

var (
	// ErrNotFound is returned when a chat or message id does not resolve.
	ErrNotFound = errors.New("chat or message not found")
	// ErrForbidden is returned when the caller is not a participant of the
	// chat. The message deliberately carries no detail about whether the
	// chat exists.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput is returned for empty content or malformed ids.
	ErrInvalidInput = errors.New("invalid input")
	// ErrTimeout is returned when a store operation exceeds its bounded
	// wait. The operation left no partial write and may be retried.
	ErrTimeout = errors.New("operation timed out")
)

// Code maps a service error to its wire code.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ErrForbidden):
		return ErrCodeForbidden
	case errors.Is(err, ErrInvalidInput):
		return ErrCodeInvalidInput
	case errors.Is(err, ErrTimeout):
		return ErrCodeTimeout
	default:
		return ErrCodeInternal
	}
}
