package db

import "errors"

var (
	// ErrUpdateNotFound is returned when the requested update record does not exist.
	ErrUpdateNotFound = errors.New("update not found")

	// ErrAssetNotFound is returned when the requested asset record does not exist.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrInvalidHash is returned when an asset hash does not have the expected format.
	ErrInvalidHash = errors.New("invalid hash format")

	// ErrDatabaseError is returned when a database operation fails.
	ErrDatabaseError = errors.New("database error")
)
