// Package validation defines the core domain types shared by the run
// controller, gate evaluator, pivot limiter, and checkpoint manager:
// phases, run statuses, gate signals, and human decisions.
//
// All of these are closed sets. Code switching over them should be
// exhaustive; an unknown value is a caller error, not a fallback case.
package validation

import "fmt"

// Phase is one stage of the validation pipeline, in fixed order.
type Phase string

const (
	PhaseQuickStart    Phase = "quickstart"
	PhaseDiscovery     Phase = "discovery"
	PhaseDesirability  Phase = "desirability"
	PhaseFeasibility   Phase = "feasibility"
	PhaseViability     Phase = "viability"
	PhaseFinalDecision Phase = "final_decision"
)

// AllPhases returns the phases in pipeline order.
func AllPhases() []Phase {
	return []Phase{
		PhaseQuickStart,
		PhaseDiscovery,
		PhaseDesirability,
		PhaseFeasibility,
		PhaseViability,
		PhaseFinalDecision,
	}
}

// FirstPhase returns the phase every run starts in.
func FirstPhase() Phase {
	return PhaseQuickStart
}

// PhaseIndex returns the position of p in the pipeline order, or -1 if
// p is not a known phase.
func PhaseIndex(p Phase) int {
	for i, phase := range AllPhases() {
		if phase == p {
			return i
		}
	}
	return -1
}

// NextPhase returns the phase after p and true, or ("", false) when p
// is the last phase or unknown.
func NextPhase(p Phase) (Phase, bool) {
	idx := PhaseIndex(p)
	if idx < 0 || idx == len(AllPhases())-1 {
		return "", false
	}
	return AllPhases()[idx+1], true
}

// ParsePhase converts a stored string into a Phase.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if PhaseIndex(p) < 0 {
		return "", fmt.Errorf("unknown phase: %q", s)
	}
	return p, nil
}

// Status is the lifecycle status of a validation run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusKilled    Status = "killed"
	StatusArchived  Status = "archived"
)

// Terminal reports whether s is a terminal status. Terminal runs are
// retained for audit and never resumed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusKilled, StatusArchived:
		return true
	}
	return false
}

// ParseStatus converts a stored string into a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusRunning, StatusPaused,
		StatusCompleted, StatusFailed, StatusKilled, StatusArchived:
		return st, nil
	}
	return "", fmt.Errorf("unknown run status: %q", s)
}

// Signal is the outcome of evaluating a phase-exit gate.
type Signal string

const (
	// SignalProceed auto-advances to the next phase without a checkpoint.
	SignalProceed Signal = "proceed"

	// Pivot-candidate signals. Each pauses the run for a human decision
	// unless the loop limiter has already collapsed the option set.
	SignalSegmentPivot     Signal = "segment_pivot"
	SignalValuePivot       Signal = "value_pivot"
	SignalFeatureDowngrade Signal = "feature_downgrade"
	SignalStrategicPivot   Signal = "strategic_pivot"

	// SignalRequiresHITL pauses unconditionally (final decision gate).
	SignalRequiresHITL Signal = "requires_hitl"

	// SignalKill is terminal: the gate itself decided the run is dead.
	SignalKill Signal = "kill"
)

// PivotType identifies one bounded-retry pivot counter.
type PivotType string

const (
	PivotSegment          PivotType = "segment"
	PivotValue            PivotType = "value"
	PivotFeatureDowngrade PivotType = "feature_downgrade"
	PivotStrategic        PivotType = "strategic"
)

// AllPivotTypes returns every pivot type with a counter.
func AllPivotTypes() []PivotType {
	return []PivotType{PivotSegment, PivotValue, PivotFeatureDowngrade, PivotStrategic}
}

// Decision is a human (or synthetic) choice applied at a checkpoint.
type Decision string

const (
	DecisionProceed                Decision = "proceed"
	DecisionSegmentPivot           Decision = "segment_pivot"
	DecisionValuePivot             Decision = "value_pivot"
	DecisionFeatureDowngrade       Decision = "feature_downgrade"
	DecisionStrategicPivot         Decision = "strategic_pivot"
	DecisionOverrideProceed        Decision = "override_proceed"
	DecisionProceedWithConstraints Decision = "proceed_with_constraints"
	DecisionKill                   Decision = "kill"

	// DecisionTimeoutArchive is the synthetic decision applied by the
	// expiry sweep when a checkpoint reaches its 30-day deadline. It is
	// never a member of options_offered and cannot be submitted by a
	// caller.
	DecisionTimeoutArchive Decision = "timeout_archive"
)

// ParseDecision converts a submitted string into a Decision.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(s); d {
	case DecisionProceed, DecisionSegmentPivot, DecisionValuePivot,
		DecisionFeatureDowngrade, DecisionStrategicPivot,
		DecisionOverrideProceed, DecisionProceedWithConstraints,
		DecisionKill, DecisionTimeoutArchive:
		return d, nil
	}
	return "", fmt.Errorf("unknown decision: %q", s)
}

// PivotTypeOf returns the pivot counter a decision consumes, if any.
// Non-pivot decisions (proceed, override_proceed, kill, ...) consume
// no budget.
func PivotTypeOf(d Decision) (PivotType, bool) {
	switch d {
	case DecisionSegmentPivot:
		return PivotSegment, true
	case DecisionValuePivot:
		return PivotValue, true
	case DecisionFeatureDowngrade:
		return PivotFeatureDowngrade, true
	case DecisionStrategicPivot:
		return PivotStrategic, true
	}
	return "", false
}

// PivotTarget returns the phase a pivot decision re-enters.
//
// Segment pivots restart customer discovery; value pivots and strategic
// pivots re-test the value proposition from desirability; a feature
// downgrade re-runs the feasibility phase against the reduced scope.
func PivotTarget(t PivotType) Phase {
	switch t {
	case PivotSegment:
		return PhaseDiscovery
	case PivotValue, PivotStrategic:
		return PhaseDesirability
	case PivotFeatureDowngrade:
		return PhaseFeasibility
	}
	return PhaseDiscovery
}

// DecisionSet is an ordered set of offered decisions.
type DecisionSet []Decision

// Contains reports whether d is a member of the set.
func (s DecisionSet) Contains(d Decision) bool {
	for _, opt := range s {
		if opt == d {
			return true
		}
	}
	return false
}

// Strings returns the set as plain strings for persistence.
func (s DecisionSet) Strings() []string {
	out := make([]string, len(s))
	for i, d := range s {
		out[i] = string(d)
	}
	return out
}

// ParseDecisionSet converts stored strings back into a DecisionSet.
func ParseDecisionSet(raw []string) (DecisionSet, error) {
	out := make(DecisionSet, 0, len(raw))
	for _, r := range raw {
		d, err := ParseDecision(r)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
