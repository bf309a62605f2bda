package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/validationd/internal/evidence"
	"github.com/fyrsmithlabs/validationd/internal/validation"
)

// RunRecord is the persisted state of one validation run. It carries
// everything needed to reconstruct execution after a full process
// restart: the evidence ledger, the pivot budget state, and the
// authoritative phase/status pair.
type RunRecord struct {
	RunID        string
	ProjectID    string
	CurrentPhase validation.Phase
	Status       validation.Status

	// Version is the optimistic-concurrency token. It advances by one
	// on every successful UpdateRun and never on a rejected operation.
	Version int64

	Ledger          *evidence.Ledger
	PivotCounters   map[validation.PivotType]int
	TotalIterations int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewRunRecord returns a pending run ready for CreateRun.
func NewRunRecord(runID, projectID string, now time.Time) *RunRecord {
	return &RunRecord{
		RunID:         runID,
		ProjectID:     projectID,
		CurrentPhase:  validation.FirstPhase(),
		Status:        validation.StatusPending,
		Version:       1,
		Ledger:        evidence.NewLedger(),
		PivotCounters: make(map[validation.PivotType]int),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone returns a deep copy. Stores hand out clones so callers can
// never mutate persisted state without going through a CAS.
func (r *RunRecord) Clone() *RunRecord {
	out := *r
	out.PivotCounters = make(map[validation.PivotType]int, len(r.PivotCounters))
	for k, v := range r.PivotCounters {
		out.PivotCounters[k] = v
	}
	out.Ledger = evidence.NewLedger()
	if r.Ledger != nil {
		for _, item := range r.Ledger.Items() {
			// Items were valid on the way in.
			_ = out.Ledger.Append(item)
		}
	}
	return &out
}

// marshalLedger serializes the ledger for the evidence_ledger column.
func (r *RunRecord) marshalLedger() ([]byte, error) {
	if r.Ledger == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.Ledger)
}

// marshalCounters serializes pivot_counters for persistence.
func (r *RunRecord) marshalCounters() ([]byte, error) {
	counters := make(map[string]int, len(r.PivotCounters))
	for k, v := range r.PivotCounters {
		counters[string(k)] = v
	}
	return json.Marshal(counters)
}

// unmarshalState restores ledger and counters from their column values.
func (r *RunRecord) unmarshalState(ledgerJSON, countersJSON []byte) error {
	r.Ledger = evidence.NewLedger()
	if len(ledgerJSON) > 0 {
		if err := json.Unmarshal(ledgerJSON, r.Ledger); err != nil {
			return fmt.Errorf("corrupt evidence ledger for run %s: %w", r.RunID, err)
		}
	}

	r.PivotCounters = make(map[validation.PivotType]int)
	if len(countersJSON) > 0 {
		raw := make(map[string]int)
		if err := json.Unmarshal(countersJSON, &raw); err != nil {
			return fmt.Errorf("corrupt pivot counters for run %s: %w", r.RunID, err)
		}
		for k, v := range raw {
			r.PivotCounters[validation.PivotType(k)] = v
		}
	}
	return nil
}

// CheckpointStatus is the lifecycle of a HITL checkpoint.
type CheckpointStatus string

const (
	CheckpointPending CheckpointStatus = "pending"
	CheckpointDecided CheckpointStatus = "decided"
	CheckpointExpired CheckpointStatus = "expired"
)

// CheckpointRecord is a persisted pause point awaiting a human
// decision. Once settled (decided or expired) it is immutable.
type CheckpointRecord struct {
	CheckpointID string
	RunID        string
	Name         string
	Status       CheckpointStatus

	// ResumeToken is single-use and high-entropy; it is the only
	// credential needed to settle the checkpoint.
	ResumeToken string

	// Options is the decision space offered, already narrowed by the
	// loop limiter.
	Options validation.DecisionSet

	// EscalationLevel is the highest reminder level already emitted by
	// the sweep (0 = none).
	EscalationLevel int

	CreatedAt time.Time
	ExpiresAt time.Time
	DecidedAt *time.Time
	Decision  validation.Decision
}

// Clone returns a deep copy.
func (c *CheckpointRecord) Clone() *CheckpointRecord {
	out := *c
	out.Options = make(validation.DecisionSet, len(c.Options))
	copy(out.Options, c.Options)
	if c.DecidedAt != nil {
		t := *c.DecidedAt
		out.DecidedAt = &t
	}
	return &out
}

// PivotRecord is one entry in the append-only pivot audit log. Records
// are never mutated or deleted; pivot counters can always be recomputed
// from them.
type PivotRecord struct {
	ID        int64
	RunID     string
	PivotType validation.PivotType
	FromPhase validation.Phase
	ToPhase   validation.Phase
	AppliedAt time.Time
}
