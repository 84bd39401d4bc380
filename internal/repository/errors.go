package repository

import "errors"

// Common repository errors
var (
	// ErrNotFound is returned when a record or key is not found
	ErrNotFound = errors.New("record not found")

	// ErrMissingProvider is returned when tokens without a provider tag are stored
	ErrMissingProvider = errors.New("tokens have no provider")

	// ErrMissingUserID is returned when tokens without an owning user are stored
	ErrMissingUserID = errors.New("tokens have no user id")
)
