// Package kiroku provides a Go client for the Kiroku experiment-tracking API.
package kiroku

import (
	"errors"
	"fmt"
)

// Error represents an error from the Kiroku API with the HTTP status code
// and the server's error code and message.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("kiroku: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsNotFound returns true if the error reports a missing resource.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 404 || e.Code == "RESOURCE_DOES_NOT_EXIST"
	}
	return false
}

// IsAlreadyExists returns true if the error reports a name collision.
func IsAlreadyExists(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 409 || e.Code == "RESOURCE_ALREADY_EXISTS"
	}
	return false
}

// IsInvalidParameter returns true if the server rejected a request value.
func IsInvalidParameter(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == "INVALID_PARAMETER_VALUE"
	}
	return false
}

// IsUnauthorized returns true if the error is a 401.
func IsUnauthorized(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 401
	}
	return false
}

// IsInvalidState returns true if the operation conflicted with the
// resource's lifecycle stage (e.g. logging to a deleted run).
func IsInvalidState(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == "INVALID_STATE"
	}
	return false
}
