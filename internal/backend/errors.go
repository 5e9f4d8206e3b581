package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a failure reported by the backend itself, as opposed to a transport error.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend error %d: %s", e.Status, e.Message)
}

// Codes used by every backend implementation
const (
	CodeNotFound           = "not_found"
	CodeConflict           = "conflict"
	CodeInvalidCredentials = "invalid_credentials"
	CodeInvalidToken       = "invalid_token"
	CodeForbidden          = "forbidden"
	CodeBadRequest         = "bad_request"
)

// NewError builds an Error with the given status and code.
func NewError(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// IsNotFound reports whether err is a backend not-found error.
func IsNotFound(err error) bool {
	var be *Error
	if !errors.As(err, &be) {
		return false
	}
	return be.Status == http.StatusNotFound || be.Code == CodeNotFound || be.Code == "PGRST116"
}

// IsAuth reports whether err means the credentials or token were rejected.
func IsAuth(err error) bool {
	var be *Error
	if !errors.As(err, &be) {
		return false
	}
	switch be.Code {
	case CodeInvalidCredentials, CodeInvalidToken, "invalid_grant":
		return true
	}
	return be.Status == http.StatusUnauthorized
}

// IsConflict reports whether err is a unique constraint violation.
func IsConflict(err error) bool {
	var be *Error
	if !errors.As(err, &be) {
		return false
	}
	return be.Status == http.StatusConflict || be.Code == CodeConflict || be.Code == "23505"
}
