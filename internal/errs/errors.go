package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for retry decisions and HTTP mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindServiceUnavailable
	KindLockUnavailable
)

// Error is the taxonomy type carried across service layers. Code is a stable
// machine-readable identifier; Message is safe to show to clients.
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

func (e *Error) Unwrap() error { return e.Err }

// StatusCode maps the error kind to an HTTP status.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindServiceUnavailable, KindLockUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may safely retry the whole operation.
func (e *Error) Retryable() bool {
	return e.Kind == KindServiceUnavailable || e.Kind == KindLockUnavailable
}

func Validation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func NotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

func ServiceUnavailable(code, message string, err error) *Error {
	return &Error{Kind: KindServiceUnavailable, Code: code, Message: message, Err: err}
}

func LockUnavailable(key string, err error) *Error {
	return &Error{Kind: KindLockUnavailable, Code: "lock_unavailable", Message: "could not acquire lock " + key, Err: err}
}

func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Code: "internal_error", Message: message, Err: err}
}

// Response maps err to an HTTP status and a client-safe JSON body. Internal
// details never leak: anything outside the taxonomy, and the wrapped cause of
// internal errors, collapses to a generic 500 body.
func Response(err error) (int, map[string]any) {
	e, ok := As(err)
	if !ok || e.Kind == KindInternal {
		return http.StatusInternalServerError, map[string]any{"error": "internal_error"}
	}
	body := map[string]any{"error": e.Code, "message": e.Message}
	if e.Retryable() {
		body["retryable"] = true
	}
	return e.StatusCode(), body
}

// As extracts a taxonomy error if err carries one.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the classification of err, defaulting to KindInternal for
// errors produced outside the taxonomy.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}
