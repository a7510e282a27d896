package apperr

import (
	"errors"
	"fmt"
)

type AuthKind string

const (
	AuthInvalidCredentials  AuthKind = "invalid-credentials"
	AuthPendingVerification AuthKind = "pending-verification"
	AuthSessionExpired      AuthKind = "session-expired"
)

var (
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrPendingVerification = errors.New("account pending verification")
	ErrSessionExpired      = errors.New("session expired")
)

type AuthError struct {
	Kind AuthKind
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is lets callers match with the ErrXxx sentinels regardless of the cause.
func (e *AuthError) Is(target error) bool {
	switch target {
	case ErrInvalidCredentials:
		return e.Kind == AuthInvalidCredentials
	case ErrPendingVerification:
		return e.Kind == AuthPendingVerification
	case ErrSessionExpired:
		return e.Kind == AuthSessionExpired
	}
	return false
}

func NewAuthError(kind AuthKind, cause error) *AuthError {
	return &AuthError{Kind: kind, Err: cause}
}

type ConnKind string

const (
	ConnAuthFailure   ConnKind = "auth-failure"
	ConnTransportDrop ConnKind = "transport-drop"
)

type ConnectionError struct {
	Kind ConnKind
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return "realtime " + string(e.Kind)
	}
	return fmt.Sprintf("realtime %s: %v", e.Kind, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func NewConnectionError(kind ConnKind, cause error) *ConnectionError {
	return &ConnectionError{Kind: kind, Err: cause}
}

// IsAuthFailure reports whether err is a realtime auth rejection, which is not retried.
func IsAuthFailure(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce) && ce.Kind == ConnAuthFailure
}
