package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseOrder(t *testing.T) {
	phases := AllPhases()
	require.Len(t, phases, 6)
	assert.Equal(t, PhaseQuickStart, phases[0])
	assert.Equal(t, PhaseFinalDecision, phases[5])
	assert.Equal(t, PhaseQuickStart, FirstPhase())
}

func TestPhaseIndex(t *testing.T) {
	assert.Equal(t, 0, PhaseIndex(PhaseQuickStart))
	assert.Equal(t, 2, PhaseIndex(PhaseDesirability))
	assert.Equal(t, -1, PhaseIndex(Phase("bogus")))
}

func TestNextPhase(t *testing.T) {
	next, ok := NextPhase(PhaseViability)
	require.True(t, ok)
	assert.Equal(t, PhaseFinalDecision, next)

	_, ok = NextPhase(PhaseFinalDecision)
	assert.False(t, ok)

	_, ok = NextPhase(Phase("bogus"))
	assert.False(t, ok)
}

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase("feasibility")
	require.NoError(t, err)
	assert.Equal(t, PhaseFeasibility, p)

	_, err = ParsePhase("scale")
	assert.Error(t, err)
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusKilled, StatusArchived} {
		assert.True(t, s.Terminal(), "status %s", s)
	}
	for _, s := range []Status{StatusPending, StatusRunning, StatusPaused} {
		assert.False(t, s.Terminal(), "status %s", s)
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("paused")
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, s)

	_, err = ParseStatus("suspended")
	assert.Error(t, err)
}

func TestPivotTypeOf(t *testing.T) {
	pt, ok := PivotTypeOf(DecisionSegmentPivot)
	require.True(t, ok)
	assert.Equal(t, PivotSegment, pt)

	pt, ok = PivotTypeOf(DecisionStrategicPivot)
	require.True(t, ok)
	assert.Equal(t, PivotStrategic, pt)

	// Non-pivot decisions consume no budget.
	_, ok = PivotTypeOf(DecisionOverrideProceed)
	assert.False(t, ok)
	_, ok = PivotTypeOf(DecisionKill)
	assert.False(t, ok)
	_, ok = PivotTypeOf(DecisionTimeoutArchive)
	assert.False(t, ok)
}

func TestPivotTarget(t *testing.T) {
	assert.Equal(t, PhaseDiscovery, PivotTarget(PivotSegment))
	assert.Equal(t, PhaseDesirability, PivotTarget(PivotValue))
	assert.Equal(t, PhaseDesirability, PivotTarget(PivotStrategic))
	assert.Equal(t, PhaseFeasibility, PivotTarget(PivotFeatureDowngrade))
}

func TestDecisionSet(t *testing.T) {
	set := DecisionSet{DecisionOverrideProceed, DecisionKill}
	assert.True(t, set.Contains(DecisionKill))
	assert.False(t, set.Contains(DecisionProceed))

	parsed, err := ParseDecisionSet(set.Strings())
	require.NoError(t, err)
	assert.Equal(t, set, parsed)

	_, err = ParseDecisionSet([]string{"definitely_not_a_decision"})
	assert.Error(t, err)
}
