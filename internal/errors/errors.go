// Package errors provides structured error types with codes for the SSO engine.
package errors

import (
	"errors"
	"fmt"
)

// Detailed error codes. These are preserved in the audit payload; externally
// they collapse to one of the four classes returned by Class.
const (
	CodeInternal     = "internal_error"
	CodeNotFound     = "not_found"
	CodeBadRequest   = "bad_request"
	CodeUnauthorized = "unauthorized"

	CodeKeyUndefined    = "key_undefined"
	CodeKeyNotFound     = "key_not_found"
	CodeKeyDisabled     = "key_disabled"
	CodeKeyRevoked      = "key_revoked"
	CodeServiceNotFound = "service_not_found"
	CodeServiceDisabled = "service_disabled"
	CodeUserNotFound    = "user_not_found"
	CodeUserDisabled    = "user_disabled"
	CodeScopeMismatch   = "service_scope_mismatch"

	CodeCsrfNotFoundOrUsed   = "csrf_not_found_or_used"
	CodeCsrfServiceMismatch  = "csrf_service_mismatch"
	CodeProviderDisabled     = "provider_oauth2_disabled"
	CodeExchangeFailed       = "oauth2_exchange_failed"
	CodeUserinfoFailed       = "oauth2_userinfo_failed"
	CodeTokenExpired         = "token_expired"
	CodeTokenInvalid         = "token_invalid"
	CodeTokenWrongType       = "token_wrong_type"
	CodeInvalidCredentials   = "invalid_credentials"
	CodeRateLimited          = "rate_limited"
)

// classes maps detailed codes to the external class exposed to callers.
// Everything credential-shaped is unauthorized so a caller can never tell
// which part of a credential was wrong.
var classes = map[string]string{
	CodeKeyUndefined:       CodeUnauthorized,
	CodeKeyNotFound:        CodeUnauthorized,
	CodeKeyDisabled:        CodeUnauthorized,
	CodeKeyRevoked:         CodeUnauthorized,
	CodeServiceNotFound:    CodeUnauthorized,
	CodeServiceDisabled:    CodeUnauthorized,
	CodeInvalidCredentials: CodeUnauthorized,
	CodeScopeMismatch:      CodeUnauthorized,

	CodeUserNotFound:        CodeBadRequest,
	CodeUserDisabled:        CodeBadRequest,
	CodeCsrfNotFoundOrUsed:  CodeBadRequest,
	CodeCsrfServiceMismatch: CodeBadRequest,
	CodeProviderDisabled:    CodeBadRequest,
	CodeExchangeFailed:      CodeBadRequest,
	CodeUserinfoFailed:      CodeBadRequest,
	CodeTokenExpired:        CodeBadRequest,
	CodeTokenInvalid:        CodeBadRequest,
	CodeTokenWrongType:      CodeBadRequest,
	CodeRateLimited:         CodeBadRequest,
}

// Error represents a structured error with a code and message.
type Error struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error with the given code and message.
func New(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Code returns the detailed code of an error, or internal_error for
// anything that is not a structured Error.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Class collapses an error to its external class: unauthorized,
// bad_request, not_found or internal_error. The distinguishing detail is
// retained only in the audit log.
func Class(err error) string {
	code := Code(err)
	if class, ok := classes[code]; ok {
		return class
	}
	switch code {
	case CodeUnauthorized, CodeBadRequest, CodeNotFound:
		return code
	}
	return CodeInternal
}

// NotFound creates a not found error.
func NotFound(resource, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(message string) *Error {
	return &Error{
		Code:    CodeUnauthorized,
		Message: message,
	}
}

// BadRequest creates a bad request error.
func BadRequest(message string) *Error {
	return &Error{
		Code:    CodeBadRequest,
		Message: message,
	}
}

// Internal creates an internal error.
func Internal(message string, err error) *Error {
	return &Error{
		Code:    CodeInternal,
		Message: message,
		Err:     err,
	}
}
