// Package common defines shared constants and sentinel errors used across
// client and server layers of ledgersync. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal      = errors.New("internal error")
	ErrorUnauthorized  = errors.New("unauthorized")
	ErrVersionConflict = errors.New("version conflict")

	// Record-specific errors.
	ErrorValidation      = errors.New("validation error")
	ErrorUnknownTable    = errors.New("unknown table")
	ErrIdentityCollision = errors.New("identity collision")

	// Auth errors (invalid or malformed token, bad credentials).
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrUnknownProvider    = errors.New("unknown sign-in provider")

	// Token lifecycle errors.
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
)
