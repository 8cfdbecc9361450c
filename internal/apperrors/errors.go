// Package apperrors defines the error kinds surfaced to HTTP callers.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for status mapping and logging.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindStorage
	KindRemoteService
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindStorage:
		return "storage"
	case KindRemoteService:
		return "remote_service"
	case KindTimeout:
		return "timeout"
	default:
		return "internal"
	}
}

// Status returns the HTTP status associated with the kind.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRemoteService:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is an operational failure with a caller-safe message.
type Error struct {
	Kind    Kind
	Message string
	// Service names the remote dependency for KindRemoteService.
	Service string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status for the error kind.
func (e *Error) StatusCode() int { return e.Kind.Status() }

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// Remote wraps a failure of an external API; the original error is kept for diagnostics.
func Remote(service string, err error) *Error {
	return &Error{
		Kind:    KindRemoteService,
		Message: service + " request failed",
		Service: service,
		Err:     err,
	}
}

// Storage wraps a persistence failure.
func Storage(op string, err error) *Error {
	return &Error{Kind: KindStorage, Message: "storage: " + op, Err: err}
}

func Timeout(format string, args ...any) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf(format, args...)}
}

// As extracts the *Error from an error chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for non-domain errors.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// StatusCode maps any error to an HTTP status.
func StatusCode(err error) int {
	return KindOf(err).Status()
}

// IsOperational reports whether err is an expected domain failure as opposed
// to a programming or unexpected runtime error.
func IsOperational(err error) bool {
	appErr, ok := As(err)
	return ok && appErr.Kind != KindInternal
}
