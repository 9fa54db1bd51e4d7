package attendance

import (
	"errors"
	"fmt"
)

// Kind classifies a failed operation so the transport layer can pick a status
type Kind string

// Failure kinds. Anything that is not an *Error is an upstream failure.
const (
	KindUnauthenticated Kind = "unauthenticated"
	KindUnauthorized    Kind = "unauthorized"
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindUpstream        Kind = "upstream"
)

// Error is a domain failure with an optional actionable hint
type Error struct {
	Kind    Kind
	Message string
	Hint    string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, KindUpstream for errors that are not domain failures
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUpstream
}

// HintOf returns the hint attached to err, if any
func HintOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Hint
	}
	return ""
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func validationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func upstreamError(message string, err error) *Error {
	return &Error{Kind: KindUpstream, Message: message, Err: err}
}
