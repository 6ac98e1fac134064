// Package repository holds the sentinel errors shared by the store drivers so
// callers can match them regardless of the configured backend.
package repository

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrNotClaimable      = errors.New("not claimable")
	ErrInvalidTransition = errors.New("invalid status transition")
)
