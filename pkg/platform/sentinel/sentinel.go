// Package sentinel holds the infrastructure facts that lower layers report
// and services translate into coded domain errors. Validation failures use
// pkg/domain-errors directly.
package sentinel

import "errors"

var (
	// ErrNotFound: no token, job or grant with that ID.
	ErrNotFound = errors.New("not found")
	// ErrExpired: the token or grant passed its deadline.
	ErrExpired = errors.New("expired")
	// ErrAlreadyUsed: a single-use token was consumed before.
	ErrAlreadyUsed = errors.New("already used")
	// ErrInvalidState: the entity cannot take this operation in its current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnavailable: an adapter or sink did not answer in time.
	ErrUnavailable = errors.New("unavailable")
	// ErrMismatch: a presented value did not match the stored one.
	ErrMismatch = errors.New("mismatch")
)
