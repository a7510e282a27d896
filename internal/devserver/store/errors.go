package store

import "errors"

// Account errors
var (
	ErrUserExists          = errors.New("user already exists")           // 409 Conflict
	ErrUserNotFound        = errors.New("user not found")                // 404 Not Found
	ErrInvalidCredentials  = errors.New("invalid email or password")     // 401 Unauthorized
	ErrPendingVerification = errors.New("seller account pending review") // 403 Forbidden
	ErrAccountDisabled     = errors.New("account disabled")              // 403 Forbidden
	ErrNotSeller           = errors.New("account is not a seller")       // 409 Conflict
)

// Validation errors (client input)
var (
	ErrUsernameRequired    = errors.New("username is required")      // 400
	ErrEmailRequired       = errors.New("email is required")         // 400
	ErrInvalidEmail        = errors.New("invalid email format")      // 400
	ErrPasswordTooShort    = errors.New("password is too short")     // 400
	ErrInvalidRole         = errors.New("invalid role")              // 400
	ErrBusinessNameMissing = errors.New("business name is required") // 400
)

// FieldError names the registration field an error belongs to.
func FieldError(err error) (field string, ok bool) {
	switch {
	case errors.Is(err, ErrUsernameRequired):
		return "username", true
	case errors.Is(err, ErrEmailRequired), errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrUserExists):
		return "email", true
	case errors.Is(err, ErrPasswordTooShort):
		return "password", true
	case errors.Is(err, ErrInvalidRole):
		return "role", true
	case errors.Is(err, ErrBusinessNameMissing):
		return "businessName", true
	}
	return "", false
}
