package session

import (
	"context"
	"errors"
	"fmt"
	"net"

	"storefront/internal/backend"
	"storefront/internal/models"
)

// AuthErrorKind classifies authentication failures.
type AuthErrorKind int

const (
	KindUnknown AuthErrorKind = iota
	KindInvalidCredentials
	KindNetwork
)

func (k AuthErrorKind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindNetwork:
		return "network_error"
	}
	return "unknown"
}

// ErrConfirmationPending is returned by SignUp when the backend created the
// account but requires email confirmation before issuing a session.
var ErrConfirmationPending = errors.New("account created, confirm your email to sign in")

// AuthError is any failure of sign-in, sign-up, sign-out or restore. It counts
// as a remote failure.
type AuthError struct {
	Kind AuthErrorKind
	Op   string
	Err  error
}

func (e *AuthError) Error() string {
	if e.Kind == KindInvalidCredentials {
		return fmt.Sprintf("%s: invalid credentials", e.Op)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool {
	return target == models.ErrRemote
}

// IsInvalidCredentials reports whether err is an AuthError of that kind.
func IsInvalidCredentials(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Kind == KindInvalidCredentials
}

func classify(op string, err error) *AuthError {
	var (
		be     *backend.Error
		netErr net.Error
	)
	switch {
	case backend.IsAuth(err):
		return &AuthError{Kind: KindInvalidCredentials, Op: op, Err: err}
	case errors.As(err, &be):
		return &AuthError{Kind: KindUnknown, Op: op, Err: err}
	case errors.As(err, &netErr), errors.Is(err, context.DeadlineExceeded):
		return &AuthError{Kind: KindNetwork, Op: op, Err: err}
	}
	return &AuthError{Kind: KindUnknown, Op: op, Err: err}
}
