// Package errs defines the typed error kinds surfaced across the client
// bridge (see spec section 7 of the daemon design).
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies one of the structured error categories a caller across the
// bridge can act on.
type Kind string

const (
	NotFound  Kind = "not_found"
	Invalid   Kind = "invalid"
	Expired   Kind = "expired"
	Busy      Kind = "busy"
	Timeout   Kind = "timeout"
	Transport Kind = "transport"
	Storage   Kind = "storage"
)

// Error wraps an underlying cause with a Kind a caller can switch on.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap adds a kind and message to an existing error. It returns nil if err
// is nil, matching the teacher's Wrap(err, message) idiom.
func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// KindOf extracts the Kind of err, defaulting to Storage if err does not
// carry a structured Kind (an unexpected internal failure is treated as a
// fatal storage-class error rather than silently swallowed).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Storage
}
