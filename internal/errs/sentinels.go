// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across client and dev backend layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates a missing, expired or rejected credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates an authenticated caller lacks access.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrNoSession indicates there is no valid stored credential to restore.
	ErrNoSession = errors.New("no session")

	// ErrUnavailable indicates the server could not be reached at all.
	ErrUnavailable = errors.New("server unavailable")

	// ErrMalformedResponse indicates a response body missing required fields.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrValidation indicates rejected input before any I/O took place.
	ErrValidation = errors.New("validation failed")
)
