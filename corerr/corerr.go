// Package corerr defines the semantic error kinds surfaced by the workflow
// control plane. Kinds are not Go types in their own right — callers branch
// on Kind, not on the concrete error — so a single wrapping type carries all
// of them, mirroring the way the teacher's EngineError/NodeError carry a
// Code alongside a message and an optional cause.
package corerr

import (
	"errors"
	"fmt"
)

// Kind identifies the semantic category of an Error. Names match §7 of the
// specification verbatim; they are not meant to be exhaustive Go error
// types, only a stable vocabulary an HTTP boundary can map to status codes.
type Kind string

const (
	InvalidRequest     Kind = "InvalidRequest"
	NotFound           Kind = "NotFound"
	Conflict           Kind = "Conflict"
	SizeExceeded       Kind = "SizeExceeded"
	StorageError       Kind = "StorageError"
	SerializationError Kind = "SerializationError"
	StageError         Kind = "StageError"
	InvalidTransition  Kind = "InvalidTransition"
)

// Error wraps a Kind, a human message, and an optional underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error around an existing cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
