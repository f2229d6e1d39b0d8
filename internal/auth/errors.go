package auth

import "errors"

var (
	// ErrInvalidToken covers every authentication failure: missing or
	// malformed token, bad signature, expiry, and a subject that no longer
	// resolves to an active account. Callers must not be able to tell these
	// apart.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrForbidden means the caller is authenticated but its role does not
	// satisfy the route's requirement.
	ErrForbidden = errors.New("auth: forbidden")

	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")
)
