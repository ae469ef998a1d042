package model

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is one of the closed set of API error codes. Every error that
// leaves the tracking facade carries exactly one of these.
type ErrorCode string

const (
	ErrCodeInvalidParameterValue  ErrorCode = "INVALID_PARAMETER_VALUE"
	ErrCodeMalformedRequest       ErrorCode = "MALFORMED_REQUEST"
	ErrCodeResourceAlreadyExists  ErrorCode = "RESOURCE_ALREADY_EXISTS"
	ErrCodeResourceDoesNotExist   ErrorCode = "RESOURCE_DOES_NOT_EXIST"
	ErrCodeInvalidState           ErrorCode = "INVALID_STATE"
	ErrCodeResourceExhausted      ErrorCode = "RESOURCE_EXHAUSTED"
	ErrCodeRequestLimitExceeded   ErrorCode = "REQUEST_LIMIT_EXCEEDED"
	ErrCodeTemporarilyUnavailable ErrorCode = "TEMPORARILY_UNAVAILABLE"
	ErrCodePermissionDenied       ErrorCode = "PERMISSION_DENIED"
	ErrCodeInternalError          ErrorCode = "INTERNAL_ERROR"
)

// Error is a typed API error. The non-pointer form is never used; constructors
// always return *Error so errors.As works.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds an *Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// HTTPStatus maps the error code to the wire status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case ErrCodeInvalidParameterValue, ErrCodeMalformedRequest, ErrCodeResourceAlreadyExists:
		return http.StatusBadRequest
	case ErrCodeResourceDoesNotExist:
		return http.StatusNotFound
	case ErrCodeResourceExhausted, ErrCodeRequestLimitExceeded:
		return http.StatusTooManyRequests
	case ErrCodeTemporarilyUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodePermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf extracts the ErrorCode from err, or ErrCodeInternalError when err is
// not a typed *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternalError
}

// AsError returns err when it is already typed, otherwise wraps it as an
// INTERNAL_ERROR with a sanitized message. Backend error text never reaches
// the transport unwrapped.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: ErrCodeInternalError, Message: "internal error"}
}
