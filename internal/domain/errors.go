package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrUnavailable    = errors.New("source unavailable")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidQuote   = errors.New("invalid quote")
	ErrNotImplemented = errors.New("not implemented")
	ErrSecretNotFound = errors.New("secret not found")
	ErrLockHeld       = errors.New("lock held by another owner")
	ErrLockLost       = errors.New("lock lost")
)
