package models

import "errors"

var (
	// ErrUnauthenticated covers bad credentials and missing, expired or unknown refresh tokens.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrConflict is returned when registering an email that already exists.
	ErrConflict = errors.New("user already exists")

	// ErrAccountCreationFailed hides store failures on the account creation path.
	ErrAccountCreationFailed = errors.New("account creation failed")

	ErrForbidden = errors.New("forbidden")

	ErrInvalidInput = errors.New("invalid input")
)
