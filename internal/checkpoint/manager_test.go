package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/validationd/internal/store"
	"github.com/fyrsmithlabs/validationd/internal/validation"
)

// fakeClock is a settable time source shared by manager and sweeper
// tests.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestManager(t *testing.T, clock *fakeClock) (*Manager, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	m, err := NewManager(DefaultConfig(), st, nil, zaptest.NewLogger(t), WithClock(clock.Now))
	require.NoError(t, err)
	return m, st
}

func pausedRun(t *testing.T, st store.Store, runID string) *store.RunRecord {
	t.Helper()
	run := store.NewRunRecord(runID, "proj-1", time.Now().UTC())
	run.CurrentPhase = validation.PhaseDesirability
	require.NoError(t, st.CreateRun(context.Background(), run))
	return run
}

var segmentOptions = validation.DecisionSet{
	validation.DecisionSegmentPivot,
	validation.DecisionOverrideProceed,
	validation.DecisionKill,
}

func TestSuspendCreatesPendingCheckpoint(t *testing.T) {
	clock := newFakeClock()
	m, st := newTestManager(t, clock)
	ctx := context.Background()
	run := pausedRun(t, st, "run-1")

	cp, err := m.Suspend(ctx, run, "desirability_gate", segmentOptions)
	require.NoError(t, err)

	require.Equal(t, validation.StatusPaused, run.Status)
	require.NotEmpty(t, cp.CheckpointID)
	require.Len(t, cp.ResumeToken, 64)
	require.Equal(t, clock.Now().Add(30*24*time.Hour), cp.ExpiresAt)
	require.Equal(t, segmentOptions, cp.Options)

	stored, err := st.PendingCheckpoint(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, cp.CheckpointID, stored.CheckpointID)
}

func TestSuspendRejectsSyntheticOption(t *testing.T) {
	clock := newFakeClock()
	m, st := newTestManager(t, clock)
	run := pausedRun(t, st, "run-1")

	_, err := m.Suspend(context.Background(), run, "gate", validation.DecisionSet{
		validation.DecisionTimeoutArchive,
	})
	require.Error(t, err)
}

func TestSuspendResumeTokensUnique(t *testing.T) {
	clock := newFakeClock()
	m, st := newTestManager(t, clock)
	ctx := context.Background()

	seen := map[string]bool{}
	for _, id := range []string{"run-1", "run-2", "run-3"} {
		run := pausedRun(t, st, id)
		cp, err := m.Suspend(ctx, run, "gate", segmentOptions)
		require.NoError(t, err)
		require.False(t, seen[cp.ResumeToken])
		seen[cp.ResumeToken] = true
	}
}

func TestSettleAppliesOnce(t *testing.T) {
	clock := newFakeClock()
	m, st := newTestManager(t, clock)
	ctx := context.Background()
	run := pausedRun(t, st, "run-1")

	cp, err := m.Suspend(ctx, run, "gate", segmentOptions)
	require.NoError(t, err)

	outcome, err := m.Settle(ctx, cp, validation.DecisionSegmentPivot)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
	require.Equal(t, store.CheckpointDecided, cp.Status)

	// Replaying the same decision is a no-op, not an error.
	fresh, err := m.ByToken(ctx, cp.ResumeToken)
	require.NoError(t, err)
	outcome, err = m.Settle(ctx, fresh, validation.DecisionSegmentPivot)
	require.NoError(t, err)
	require.Equal(t, OutcomeAlreadyDecided, outcome)

	// A different decision after settle also reports already_decided
	// and never overwrites the winner.
	outcome, err = m.Settle(ctx, fresh, validation.DecisionKill)
	require.NoError(t, err)
	require.Equal(t, OutcomeAlreadyDecided, outcome)

	stored, err := st.GetCheckpoint(ctx, cp.CheckpointID)
	require.NoError(t, err)
	require.Equal(t, validation.DecisionSegmentPivot, stored.Decision)
}

func TestSettleRejectsUnofferedOption(t *testing.T) {
	clock := newFakeClock()
	m, st := newTestManager(t, clock)
	ctx := context.Background()
	run := pausedRun(t, st, "run-1")

	cp, err := m.Suspend(ctx, run, "gate", segmentOptions)
	require.NoError(t, err)

	// proceed was not offered at this checkpoint; only override_proceed.
	outcome, err := m.Settle(ctx, cp, validation.DecisionProceed)
	require.NoError(t, err)
	require.Equal(t, OutcomeInvalidDecision, outcome)

	stored, err := st.GetCheckpoint(ctx, cp.CheckpointID)
	require.NoError(t, err)
	require.Equal(t, store.CheckpointPending, stored.Status)
}

func TestSettleAfterDeadlineExpires(t *testing.T) {
	clock := newFakeClock()
	m, st := newTestManager(t, clock)
	ctx := context.Background()
	run := pausedRun(t, st, "run-1")

	cp, err := m.Suspend(ctx, run, "gate", segmentOptions)
	require.NoError(t, err)

	// The deadline wins even when the sweep has not fired yet.
	clock.Advance(30*24*time.Hour + time.Minute)
	outcome, err := m.Settle(ctx, cp, validation.DecisionSegmentPivot)
	require.NoError(t, err)
	require.Equal(t, OutcomeExpired, outcome)

	stored, err := st.GetCheckpoint(ctx, cp.CheckpointID)
	require.NoError(t, err)
	require.Equal(t, store.CheckpointExpired, stored.Status)
	require.Equal(t, validation.DecisionTimeoutArchive, stored.Decision)
}

func TestSettleUnofferedAfterDeadlineStillExpires(t *testing.T) {
	clock := newFakeClock()
	m, st := newTestManager(t, clock)
	ctx := context.Background()
	run := pausedRun(t, st, "run-1")

	cp, err := m.Suspend(ctx, run, "gate", segmentOptions)
	require.NoError(t, err)

	// An unoffered decision against a past-deadline checkpoint reports
	// the expiry, not an invalid decision.
	clock.Advance(30*24*time.Hour + time.Minute)
	outcome, err := m.Settle(ctx, cp, validation.DecisionProceed)
	require.NoError(t, err)
	require.Equal(t, OutcomeExpired, outcome)

	stored, err := st.GetCheckpoint(ctx, cp.CheckpointID)
	require.NoError(t, err)
	require.Equal(t, store.CheckpointExpired, stored.Status)
}

func TestSettleLostRaceMapsToStoredState(t *testing.T) {
	clock := newFakeClock()
	m, st := newTestManager(t, clock)
	ctx := context.Background()
	run := pausedRun(t, st, "run-1")

	cp, err := m.Suspend(ctx, run, "gate", segmentOptions)
	require.NoError(t, err)

	// A second caller holds a stale pending snapshot while the first
	// one settles.
	stale := cp.Clone()
	_, err = m.Settle(ctx, cp, validation.DecisionKill)
	require.NoError(t, err)

	outcome, err := m.Settle(ctx, stale, validation.DecisionSegmentPivot)
	require.NoError(t, err)
	require.Equal(t, OutcomeAlreadyDecided, outcome)
	require.Equal(t, validation.DecisionKill, stale.Decision)
}
