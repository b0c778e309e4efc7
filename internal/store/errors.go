package store

import "errors"

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyEmitted is returned by ClaimCycle when the (contract, cycle) pair
	// already has a document.
	ErrAlreadyEmitted = errors.New("cycle already emitted")

	// ErrStaleState is returned by conditional updates whose precondition no
	// longer holds: another worker moved the row first.
	ErrStaleState = errors.New("row changed concurrently")

	// ErrInvalidTransition is returned for a document status change the state
	// machine does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrEmptyDSN is returned by Open without a data source.
	ErrEmptyDSN = errors.New("DATABASE_DSN is empty")
)
