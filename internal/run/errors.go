package run

import "errors"

// Controller errors. Rejected operations never mutate the run; a
// run's version advances only on applied transitions.
var (
	// ErrInvalidTransition means the operation requires a run status
	// the run is not in.
	ErrInvalidTransition = errors.New("invalid run transition")

	// ErrNoPendingCheckpoint means a decision arrived for a run with
	// no checkpoint waiting.
	ErrNoPendingCheckpoint = errors.New("run has no pending checkpoint")

	// ErrLoopLimitExceeded means applying the pivot would breach a
	// budget. Option filtering makes this unreachable through offered
	// options; it guards direct submissions.
	ErrLoopLimitExceeded = errors.New("pivot loop limit exceeded")

	// ErrRunTerminal means the run has finished and accepts no further
	// operations.
	ErrRunTerminal = errors.New("run is in a terminal status")

	// ErrTransientConflict means the operation kept losing CAS races
	// and gave up. The caller may safely retry.
	ErrTransientConflict = errors.New("transient version conflict, retry")
)
