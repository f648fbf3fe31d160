// Package db provides error types for database operations.
package db

import "errors"

// Sentinel errors for database operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnavailable indicates the store could not serve the call: the
	// connection is down or the statement failed and was rolled back.
	// Callers treat both cases identically and degrade gracefully.
	ErrUnavailable = errors.New("database unavailable")
)
