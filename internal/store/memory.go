package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/validationd/internal/validation"
)

// MemoryStore is an in-memory Store for tests and single-process
// experiments. It honors the same CAS contract as the SQLite store.
type MemoryStore struct {
	mu          sync.Mutex
	runs        map[string]*RunRecord
	checkpoints map[string]*CheckpointRecord
	pivots      []*PivotRecord
	nextPivotID int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:        make(map[string]*RunRecord),
		checkpoints: make(map[string]*CheckpointRecord),
	}
}

func (s *MemoryStore) CreateRun(_ context.Context, run *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.RunID]; ok {
		return ErrRunExists
	}
	s.runs[run.RunID] = run.Clone()
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return run.Clone(), nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) UpdateRun(_ context.Context, run *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateRunLocked(run)
}

// updateRunLocked performs the CAS under the caller-held lock.
func (s *MemoryStore) updateRunLocked(run *RunRecord) error {
	current, ok := s.runs[run.RunID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != run.Version {
		return ErrVersionConflict
	}

	next := run.Clone()
	next.Version = run.Version + 1
	s.runs[run.RunID] = next
	run.Version = next.Version
	return nil
}

func (s *MemoryStore) SuspendRun(_ context.Context, run *RunRecord, cp *CheckpointRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.checkpoints {
		if existing.RunID == run.RunID && existing.Status == CheckpointPending {
			return ErrPendingCheckpointExists
		}
	}
	if err := s.updateRunLocked(run); err != nil {
		return err
	}
	s.checkpoints[cp.CheckpointID] = cp.Clone()
	return nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, checkpointID string) (*CheckpointRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.checkpoints[checkpointID]
	if !ok {
		return nil, ErrNotFound
	}
	return cp.Clone(), nil
}

func (s *MemoryStore) GetCheckpointByToken(_ context.Context, resumeToken string) (*CheckpointRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cp := range s.checkpoints {
		if cp.ResumeToken == resumeToken {
			return cp.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) PendingCheckpoint(_ context.Context, runID string) (*CheckpointRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cp := range s.checkpoints {
		if cp.RunID == runID && cp.Status == CheckpointPending {
			return cp.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListPendingCheckpoints(_ context.Context) ([]*CheckpointRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*CheckpointRecord
	for _, cp := range s.checkpoints {
		if cp.Status == CheckpointPending {
			out = append(out, cp.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) DecideCheckpoint(_ context.Context, checkpointID string, decision validation.Decision, decidedAt time.Time) error {
	return s.settle(checkpointID, CheckpointDecided, decision, decidedAt)
}

func (s *MemoryStore) ExpireCheckpoint(_ context.Context, checkpointID string, expiredAt time.Time) error {
	return s.settle(checkpointID, CheckpointExpired, validation.DecisionTimeoutArchive, expiredAt)
}

// settle is the single CAS on checkpoint status: pending -> settled.
func (s *MemoryStore) settle(checkpointID string, status CheckpointStatus, decision validation.Decision, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.checkpoints[checkpointID]
	if !ok {
		return ErrNotFound
	}
	if cp.Status != CheckpointPending {
		return ErrCheckpointNotPending
	}

	cp.Status = status
	cp.Decision = decision
	cp.DecidedAt = &at
	return nil
}

func (s *MemoryStore) SetEscalationLevel(_ context.Context, checkpointID string, level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.checkpoints[checkpointID]
	if !ok {
		return ErrNotFound
	}
	cp.EscalationLevel = level
	return nil
}

func (s *MemoryStore) AppendPivotRecord(_ context.Context, rec *PivotRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextPivotID++
	stored := *rec
	stored.ID = s.nextPivotID
	s.pivots = append(s.pivots, &stored)
	rec.ID = stored.ID
	return nil
}

func (s *MemoryStore) ListPivotRecords(_ context.Context, runID string) ([]*PivotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*PivotRecord
	for _, rec := range s.pivots {
		if rec.RunID == runID {
			copied := *rec
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
