package run

import "github.com/fyrsmithlabs/validationd/internal/validation"

// legalTransitions is the status graph. Any edge not listed here is
// illegal and must be rejected without mutation.
var legalTransitions = map[validation.Status][]validation.Status{
	validation.StatusPending: {
		validation.StatusRunning,
		validation.StatusFailed,
	},
	validation.StatusRunning: {
		validation.StatusRunning, // phase advance
		validation.StatusPaused,
		validation.StatusCompleted,
		validation.StatusFailed,
		validation.StatusKilled,
	},
	validation.StatusPaused: {
		validation.StatusRunning,
		validation.StatusCompleted,
		validation.StatusKilled,
		validation.StatusArchived,
	},
}

// canTransition reports whether from -> to is a legal status edge.
func canTransition(from, to validation.Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
