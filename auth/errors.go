package auth

import "errors"

// Authentication errors.
var (
	ErrMissingCredentials = errors.New("auth: missing credentials")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrTokenMalformed     = errors.New("auth: token malformed")
)

// ErrForbidden means the identity lacks a required role.
var ErrForbidden = errors.New("auth: access denied")
