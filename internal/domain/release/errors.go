package release

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure surfaced to a client unwraps to one of them.
var (
	ErrMalformed     = errors.New("malformed input")
	ErrConflict      = errors.New("conflict")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrNotFound      = errors.New("not found")
	ErrGone          = errors.New("gone")
	ErrRateLimited   = errors.New("rate limited")
	ErrMisconfigured = errors.New("misconfigured")
)

// Error carries a stable client-facing message and its kind.
type Error struct {
	Kind    error
	Message string
}

// Error returns the client-facing message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the kind to errors.Is.
func (e *Error) Unwrap() error {
	return e.Kind
}

// Errorf builds an *Error of the given kind.
func Errorf(kind error, format string, args ...any) error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// Message returns the client-facing message of err, or "" when err carries none.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}

	return ""
}
