// Package apperr defines the error kinds shared by the store, the core
// services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Internal Kind = iota
	NotFound
	InvalidArgument
	Forbidden
	Conflict
	Unauthorized
	Timeout
)

var kindCode = map[Kind]string{
	Internal:        "internal_error",
	NotFound:        "not_found",
	InvalidArgument: "invalid_argument",
	Forbidden:       "forbidden",
	Conflict:        "conflict",
	Unauthorized:    "unauthorized",
	Timeout:         "timeout",
}

// String returns the wire code for the kind.
func (k Kind) String() string {
	if code, ok := kindCode[k]; ok {
		return code
	}
	return kindCode[Internal]
}

// Error carries a Kind, a client-safe message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to err. A nil err yields nil.
func Wrap(err error, kind Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFoundf(format string, args ...any) error { return New(NotFound, format, args...) }

func Invalidf(format string, args ...any) error { return New(InvalidArgument, format, args...) }

func Forbiddenf(format string, args ...any) error { return New(Forbidden, format, args...) }

func Conflictf(format string, args ...any) error { return New(Conflict, format, args...) }

// KindOf returns the kind of the outermost *Error in err's chain, or
// Internal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the client-safe message of err. Internal errors never
// expose their cause.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != Internal {
		return e.Message
	}
	return "internal server error"
}
