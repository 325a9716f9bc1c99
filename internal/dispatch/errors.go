package dispatch

import "errors"

var (
	// ErrAssignmentNotFound: no ledger entry with that id.
	ErrAssignmentNotFound = errors.New("assignment not found")

	// ErrAssignmentExpired: the entry exists but is no longer open for
	// acceptance (assigned, completed or expired).
	ErrAssignmentExpired = errors.New("assignment expired")

	// ErrAssignmentTaken: another courier won the acceptance race.
	ErrAssignmentTaken = errors.New("assignment already taken")

	// ErrCourierBusy: the courier already holds an accepted assignment.
	ErrCourierBusy = errors.New("courier already assigned to another order")
)
