// Package domainerrors provides coded errors that services return and the HTTP
// layer translates into status codes. Infrastructure layers return sentinel
// errors (pkg/platform/sentinel) instead; services wrap those into coded errors
// at the boundary.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error for transport mapping and branching.
type Code string

const (
	// CodeInvalidInput covers malformed identifiers and bad request payloads.
	CodeInvalidInput Code = "invalid_input"
	// CodeContextMissing means the request carried no tenant context at all.
	CodeContextMissing Code = "context_missing"
	// CodeNotFound covers unknown or inactive municipalities and missing keys.
	CodeNotFound Code = "not_found"
	// CodeUnauthorized covers absent or invalid API keys.
	CodeUnauthorized Code = "unauthorized"
	// CodeForbidden covers keys whose permission set does not cover the endpoint.
	CodeForbidden Code = "forbidden"
	// CodeRateLimited covers sliding-window rejections, DDoS blocks and
	// key-scoped limit rejections.
	CodeRateLimited Code = "rate_limited"
	// CodeCrossTenant marks a tenant-isolation violation. These fail closed
	// and are always audited before they surface.
	CodeCrossTenant Code = "cross_tenant_violation"
	// CodeConflict covers state conflicts such as duplicate registrations.
	CodeConflict Code = "conflict"
	// CodeInternal is the fallback for infrastructure failures that are not
	// swallowed by a fail-open control.
	CodeInternal Code = "internal"
)

// Error is a coded domain error. Compare with HasCode, not type assertions.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error without a cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error, preserving the
// chain for errors.Is/As.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf extracts the human-readable message from err.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}

// ToHTTPStatus maps a code to the HTTP status the transport layer should emit.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput, CodeContextMissing:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden, CodeCrossTenant:
		return http.StatusForbidden
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
