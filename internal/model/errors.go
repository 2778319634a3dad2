package model

import "errors"

// Domain errors shared across repositories, services, and handlers.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSampleNotFound  = errors.New("sample not found")

	// ErrAlreadyReviewed marks a second feedback submission against a sample
	// that is no longer pending. A client programming error, not a conflict
	// to be resolved server-side.
	ErrAlreadyReviewed = errors.New("sample already reviewed")

	// ErrBudgetExhausted is surfaced when a debit does not fit the budget's
	// remaining capacity. For the discovery budget this is an expected
	// walker stop condition, not a caller failure.
	ErrBudgetExhausted = errors.New("budget exhausted")

	// ErrSessionTerminal rejects operations on completed sessions.
	ErrSessionTerminal = errors.New("session is complete")

	ErrExceptionNotFound = errors.New("exception not found")
)
