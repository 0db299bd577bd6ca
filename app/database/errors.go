package database

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrConcurrentUpdate is returned by conditional updates when the row is
	// no longer in the expected status.
	ErrConcurrentUpdate = errors.New("row changed concurrently")

	ErrAlreadyScheduled = errors.New("content already has an active schedule")
)
