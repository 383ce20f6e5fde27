package lifecycle

import "errors"

// Error kinds returned by the lifecycle operations. Use errors.Is to tell them apart;
// Error() on the returned error is safe to show to a caller.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUpstream          = errors.New("upstream service failed")
)

// Error pairs an error kind with a caller-facing message
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap lets errors.Is match both the kind and the underlying cause
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func validation(msg string) error {
	return &Error{Kind: ErrValidation, Message: msg}
}

func notFound(msg string, cause error) error {
	return &Error{Kind: ErrNotFound, Message: msg, Err: cause}
}

func badTransition(msg string) error {
	return &Error{Kind: ErrInvalidTransition, Message: msg}
}

func upstream(msg string, cause error) error {
	return &Error{Kind: ErrUpstream, Message: msg, Err: cause}
}
