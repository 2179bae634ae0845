// Package apperr defines the error kinds returned by the ticketing core.
// Handlers translate a Kind into a transport status; the core never does.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindConflict             Kind = "conflict"
	KindInsufficientResource Kind = "insufficient_resource"
	KindUnauthorized         Kind = "unauthorized"
	KindInvalid              Kind = "invalid"
	KindUpstreamFailure      Kind = "upstream_failure"
	KindInternal             Kind = "internal"
)

// Error carries a Kind plus a stable machine-readable Code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
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

// Is matches another *Error by Code so wrapped copies of a sentinel still
// compare equal with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap returns a copy of sentinel that carries cause.
func Wrap(sentinel *Error, cause error) *Error {
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Message: sentinel.Message, Err: cause}
}

func NotFound(code, message string) *Error { return New(KindNotFound, code, message) }

func Conflict(code, message string) *Error { return New(KindConflict, code, message) }

func Insufficient(code, message string) *Error {
	return New(KindInsufficientResource, code, message)
}

func Unauthorized(code, message string) *Error { return New(KindUnauthorized, code, message) }

func Invalid(code, message string) *Error { return New(KindInvalid, code, message) }

func Upstream(code, message string) *Error { return New(KindUpstreamFailure, code, message) }

// KindOf reports the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf reports the Code of the first *Error in err's chain, or "internal_error".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal_error"
}
