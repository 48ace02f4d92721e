// Package apperr defines the failure kinds surfaced to study-session callers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure by what the caller should do about it.
type Kind string

const (
	KindInvalidInput        Kind = "INVALID_INPUT"
	KindContentRejected     Kind = "CONTENT_REJECTED"
	KindNotFound            Kind = "NOT_FOUND"
	KindProviderUnavailable Kind = "PROVIDER_UNAVAILABLE"
	KindInternal            Kind = "INTERNAL"
)

// Error carries a user-facing message alongside the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// InvalidInput reports input the user has to fix before retrying.
func InvalidInput(message string) *Error {
	return New(KindInvalidInput, message, nil)
}

// ContentRejected reports material that failed the academic content check.
func ContentRejected(message string) *Error {
	return New(KindContentRejected, message, nil)
}

// NotFound reports an unknown study session.
func NotFound(message string, cause error) *Error {
	return New(KindNotFound, message, cause)
}

// ProviderUnavailable wraps a failed or timed out language-model call.
func ProviderUnavailable(message string, cause error) *Error {
	return New(KindProviderUnavailable, message, cause)
}

// KindOf returns the kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage returns the message safe to show to end users.
func UserMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return "Something went wrong on our side. Please try again."
}

// HTTPStatus maps err to the response status used by the HTTP handlers.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindContentRejected:
		return http.StatusPreconditionFailed
	case KindNotFound:
		return http.StatusNotFound
	case KindProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
