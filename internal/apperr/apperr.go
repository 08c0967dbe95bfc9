// Package apperr defines the error kinds shared by the gateway components and
// their mapping to HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a failure so callers can branch on it without inspecting
// error strings.
type Kind int

const (
	// Internal is an unexpected collaborator failure (store down, encoding error).
	Internal Kind = iota
	// Unauthenticated means the credential is missing or unusable.
	Unauthenticated
	// Malformed is a token that could not be parsed or whose signature is wrong.
	Malformed
	// Expired is a well-formed token past its expiry.
	Expired
	// Forbidden means the caller is authenticated but not allowed.
	Forbidden
	// NotFound means the referenced user, resource or subscription is absent.
	NotFound
	// InvalidInput is a malformed request body or parameter.
	InvalidInput
	// RateLimited means the client exhausted its request window.
	RateLimited
)

func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case Malformed:
		return "malformed"
	case Expired:
		return "expired"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	case InvalidInput:
		return "invalid_input"
	case RateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// HTTPStatus returns the response status for the kind. Token sub-kinds
// collapse into 401.
func (k Kind) HTTPStatus() int {
	switch k {
	case Unauthenticated, Malformed, Expired:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case InvalidInput:
		return http.StatusBadRequest
	case RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error carrying a caller-safe message.
type Error struct {
	Kind    Kind
	Message string
	// RetryAfter is only meaningful for RateLimited.
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same kind, so sentinel comparisons such as
// errors.Is(err, apperr.New(apperr.NotFound, "")) work on kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an error of the given kind that keeps cause for logging.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Limited returns a RateLimited error reporting when the window reopens.
func Limited(message string, retryAfter time.Duration) *Error {
	return &Error{Kind: RateLimited, Message: message, RetryAfter: retryAfter}
}

// KindOf extracts the kind of err. Unclassified errors are Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the caller-safe message for err. Unclassified errors get
// the generic internal message so no detail leaks.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != Internal && e.Message != "" {
		return e.Message
	}
	return "Error interno del servidor"
}
