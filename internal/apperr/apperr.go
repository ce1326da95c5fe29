// Package apperr holds the error kinds shared by the services and the HTTP
// boundary. Services return them at the point of detection; the server maps
// them to status codes in one place.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrBadRequest      = errors.New("bad request")
	ErrConflict        = errors.New("conflict")
	ErrIllegalState    = errors.New("illegal state")
	ErrAccessDenied    = errors.New("access denied")
	ErrBadCredentials  = errors.New("bad credentials")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrTooManyRequests = errors.New("too many requests")
)

type Error struct {
	kind    error
	Message string
	// Fields is set for request validation failures only.
	Fields map[string]string
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return e.Message + ": " + FormatFields(e.Fields)
}

func (e *Error) Unwrap() error {
	return e.kind
}

func (e *Error) Kind() error {
	return e.kind
}

func newError(kind error, format string, args ...any) *Error {
	return &Error{kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return newError(ErrNotFound, format, args...)
}

func BadRequest(format string, args ...any) error {
	return newError(ErrBadRequest, format, args...)
}

func Conflict(format string, args ...any) error {
	return newError(ErrConflict, format, args...)
}

func IllegalState(format string, args ...any) error {
	return newError(ErrIllegalState, format, args...)
}

func AccessDenied(format string, args ...any) error {
	return newError(ErrAccessDenied, format, args...)
}

func BadCredentials(format string, args ...any) error {
	return newError(ErrBadCredentials, format, args...)
}

func Unauthenticated(format string, args ...any) error {
	return newError(ErrUnauthenticated, format, args...)
}

func TooManyRequests(format string, args ...any) error {
	return newError(ErrTooManyRequests, format, args...)
}

// Validation reports field-level problems collected from a request body.
// It returns nil when fields is empty so callers can return it directly.
func Validation(fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return &Error{kind: ErrBadRequest, Message: "Validation Error", Fields: fields}
}

// As returns the *Error carried by err, if any.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// FormatFields renders a field map in a stable order.
func FormatFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+fields[k])
	}
	return strings.Join(parts, "; ")
}
