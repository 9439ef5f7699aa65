package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when no tenant is registered for a key.
	ErrNotFound = errors.New("tenant not found")

	// ErrInvalidSettings is returned when a record fails validation.
	ErrInvalidSettings = errors.New("invalid client settings")
)
