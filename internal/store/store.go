// Package store persists validation runs, checkpoints, and pivot
// records. The store is the only shared mutable resource in the
// system; every mutation of a run or checkpoint goes through a
// compare-and-swap so that concurrent writers are serialized without
// locks.
//
// Two implementations exist: a SQLite store for deployment and an
// in-memory store for tests. Both uphold the same contract.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/validationd/internal/validation"
)

var (
	// ErrNotFound means the requested run or checkpoint does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict means a run update lost a CAS race: another
	// writer advanced the version since this writer's read. The caller
	// retries from a fresh read, never overwrites blindly.
	ErrVersionConflict = errors.New("run version conflict")

	// ErrCheckpointNotPending means a decide/expire lost the
	// pending -> {decided|expired} race; the checkpoint has already
	// been settled.
	ErrCheckpointNotPending = errors.New("checkpoint is not pending")

	// ErrPendingCheckpointExists guards the one-pending-per-run
	// invariant.
	ErrPendingCheckpointExists = errors.New("run already has a pending checkpoint")

	// ErrRunExists means a run with the same ID was already created.
	ErrRunExists = errors.New("run already exists")
)

// Store is the durable record of runs, checkpoints, and pivots.
type Store interface {
	// CreateRun inserts a new run at version 1.
	CreateRun(ctx context.Context, run *RunRecord) error

	// GetRun returns the run, or ErrNotFound.
	GetRun(ctx context.Context, runID string) (*RunRecord, error)

	// ListRuns returns all runs, newest first.
	ListRuns(ctx context.Context) ([]*RunRecord, error)

	// UpdateRun writes the run if and only if the stored version equals
	// run.Version, then advances the version by one. Returns
	// ErrVersionConflict on a lost race; the record is untouched.
	UpdateRun(ctx context.Context, run *RunRecord) error

	// SuspendRun atomically applies UpdateRun and inserts the pending
	// checkpoint. Exactly one pending checkpoint may exist per run;
	// violating that returns ErrPendingCheckpointExists and leaves the
	// run unmodified.
	SuspendRun(ctx context.Context, run *RunRecord, cp *CheckpointRecord) error

	// GetCheckpoint returns a checkpoint by ID, or ErrNotFound.
	GetCheckpoint(ctx context.Context, checkpointID string) (*CheckpointRecord, error)

	// GetCheckpointByToken returns the checkpoint holding the resume
	// token, or ErrNotFound.
	GetCheckpointByToken(ctx context.Context, resumeToken string) (*CheckpointRecord, error)

	// PendingCheckpoint returns the run's single pending checkpoint, or
	// ErrNotFound.
	PendingCheckpoint(ctx context.Context, runID string) (*CheckpointRecord, error)

	// ListPendingCheckpoints returns every pending checkpoint, oldest
	// first. Used by the expiry sweep.
	ListPendingCheckpoints(ctx context.Context) ([]*CheckpointRecord, error)

	// DecideCheckpoint settles a pending checkpoint with a decision via
	// CAS on status. Returns ErrCheckpointNotPending if it lost the
	// race.
	DecideCheckpoint(ctx context.Context, checkpointID string, decision validation.Decision, decidedAt time.Time) error

	// ExpireCheckpoint settles a pending checkpoint as expired via the
	// same CAS. Returns ErrCheckpointNotPending if it lost the race.
	ExpireCheckpoint(ctx context.Context, checkpointID string, expiredAt time.Time) error

	// SetEscalationLevel records the highest escalation notification
	// already emitted, so a sweep never re-notifies a level.
	SetEscalationLevel(ctx context.Context, checkpointID string, level int) error

	// AppendPivotRecord appends to the immutable pivot audit log.
	AppendPivotRecord(ctx context.Context, rec *PivotRecord) error

	// ListPivotRecords returns a run's pivot log, oldest first.
	ListPivotRecords(ctx context.Context, runID string) ([]*PivotRecord, error)

	// Close releases the store.
	Close() error
}
