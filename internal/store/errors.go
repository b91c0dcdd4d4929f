package store

import "errors"

var (
	// ErrInsufficientCredits means the user cannot cover the task cost.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrEmailNotSchedulable means the email is missing or already SCHEDULED.
	ErrEmailNotSchedulable = errors.New("email is not schedulable")
)
