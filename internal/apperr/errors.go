// Package apperr defines the error taxonomy shared by every component.
//
// Domain code fails with *Error values; the HTTP boundary renders them as
// {statusCode, code, message, details, timestamp}. Anything that is not an
// *Error is treated as an internal failure and never shown to clients.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code is the machine-readable error kind.
type Code string

const (
	CodeValidation Code = "VALIDATION_ERROR"
	CodeBadRequest Code = "BAD_REQUEST"

	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeTokenExpired       Code = "TOKEN_EXPIRED"
	CodeInvalidToken       Code = "INVALID_TOKEN"

	CodeForbidden               Code = "FORBIDDEN"
	CodeInsufficientPermissions Code = "INSUFFICIENT_PERMISSIONS"

	CodeNotFound         Code = "NOT_FOUND"
	CodeUserNotFound     Code = "USER_NOT_FOUND"
	CodeUserNotActive    Code = "USER_NOT_ACTIVE"
	CodeResourceNotFound Code = "RESOURCE_NOT_FOUND"

	CodeDuplicateResource Code = "DUPLICATE_RESOURCE"

	CodeRateLimitExceeded Code = "RATE_LIMIT_EXCEEDED"

	CodeInternal Code = "INTERNAL_SERVER_ERROR"
)

// Details carries structured context for an error (field names, ids).
type Details map[string]any

// Error is a classified domain failure.
type Error struct {
	Code      Code
	Status    int
	Message   string
	Details   Details
	Timestamp time.Time
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithCause attaches the underlying error. The cause is logged, never rendered.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

func newError(code Code, status int, message string, details Details) *Error {
	return &Error{
		Code:      code,
		Status:    status,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of err, or CodeInternal for unclassified errors.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

func Validation(field, reason string) *Error {
	return newError(CodeValidation, http.StatusBadRequest,
		fmt.Sprintf("Validation failed for field '%s': %s", field, reason),
		Details{"field": field, "reason": reason})
}

func BadRequest(message string, details Details) *Error {
	return newError(CodeBadRequest, http.StatusBadRequest, message, details)
}

func Unauthorized(message string) *Error {
	if message == "" {
		message = "Authentication required"
	}
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

func InvalidCredentials(message string) *Error {
	return newError(CodeInvalidCredentials, http.StatusUnauthorized, message, nil)
}

func TokenExpired() *Error {
	return newError(CodeTokenExpired, http.StatusUnauthorized, "Token has expired", nil)
}

func InvalidToken() *Error {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "Invalid token", nil)
}

func Forbidden(message string) *Error {
	if message == "" {
		message = "Access forbidden"
	}
	return newError(CodeForbidden, http.StatusForbidden, message, nil)
}

func InsufficientPermissions(message string) *Error {
	return newError(CodeInsufficientPermissions, http.StatusForbidden, message, nil)
}

func NotFound(entity, id string) *Error {
	return newError(CodeNotFound, http.StatusNotFound,
		fmt.Sprintf("%s with id %s not found", entity, id),
		Details{"entity": entity, "id": id})
}

func UserNotFound(email string) *Error {
	return newError(CodeUserNotFound, http.StatusNotFound,
		fmt.Sprintf("User with email %s not found", email), Details{"email": email})
}

func UserNotActive(email string) *Error {
	return newError(CodeUserNotActive, http.StatusNotFound,
		fmt.Sprintf("User with email %s not active", email), Details{"email": email})
}

func ResourceNotFound(message string) *Error {
	return newError(CodeResourceNotFound, http.StatusNotFound, message, nil)
}

func DuplicateResource(message string) *Error {
	return newError(CodeDuplicateResource, http.StatusConflict, message, nil)
}

func RateLimitExceeded(limit int, window string) *Error {
	return newError(CodeRateLimitExceeded, http.StatusTooManyRequests,
		fmt.Sprintf("Rate limit exceeded: %d requests per %s", limit, window),
		Details{"limit": limit, "timeframe": window})
}

func InternalServerError(message string) *Error {
	if message == "" {
		message = "Internal server error"
	}
	return newError(CodeInternal, http.StatusInternalServerError, message, nil)
}
