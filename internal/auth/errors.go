package auth

import "errors"

var (
	// ErrValidation covers malformed input, wrap it with field detail.
	ErrValidation = errors.New("validation")

	ErrUserExists = errors.New("user already exists")

	// ErrInvalidCredentials covers both unknown username and wrong password.
	// The two cases are deliberately indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrInvalidToken covers every token failure: bad signature, expired,
	// revoked, malformed. Logs may distinguish, the caller never does.
	ErrInvalidToken = errors.New("invalid or expired token")

	ErrUnauthorized = errors.New("unauthorized")
)
