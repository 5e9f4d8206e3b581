package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnauthenticated means the operation requires an identity and none is present.
	ErrUnauthenticated = errors.New("sign in required")
	// ErrValidation means a required field is missing or malformed.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound means the referenced product, cart item or order is absent.
	ErrNotFound = errors.New("not found")
	// ErrRemote means the transport or the backend reported a failure.
	ErrRemote = errors.New("remote failure")
	// ErrPartialOrder means the order row exists but its items were not written.
	ErrPartialOrder = errors.New("order created without items")
	// ErrForbidden means the identity lacks the role for the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrCheckoutInProgress rejects a checkout while another attempt is running.
	ErrCheckoutInProgress = errors.New("checkout already in progress")
)

// ValidationError carries one message per offending field.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: reason}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %s", k, e.Fields[k]))
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// RemoteError wraps a failure reported by the data service.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

// PartialOrderError reports an order that was created but has no items.
// It requires manual reconciliation.
type PartialOrderError struct {
	OrderID     string
	OrderNumber string
	Err         error
}

func (e *PartialOrderError) Error() string {
	return fmt.Sprintf("order %s was created but its items could not be saved: %v", e.OrderNumber, e.Err)
}

func (e *PartialOrderError) Unwrap() error { return e.Err }

func (e *PartialOrderError) Is(target error) bool {
	return target == ErrPartialOrder
}
