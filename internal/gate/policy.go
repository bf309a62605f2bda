// Package gate implements the phase-exit gate evaluator: a pure
// function from an evidence summary to a transition signal.
package gate

import (
	"fmt"

	"github.com/fyrsmithlabs/validationd/internal/evidence"
	"github.com/fyrsmithlabs/validationd/internal/validation"
)

// Policy holds the gate threshold tables. The source material is
// ambiguous about boundary inclusivity, so it is policy here rather
// than a hard-coded fact; defaults follow the documented assumption of
// inclusive lower bounds.
type Policy struct {
	// ResonanceFloor is the minimum problem_resonance to escape a
	// segment pivot at the desirability gate.
	ResonanceFloor float64 `koanf:"resonance_floor"`

	// ZombieCeiling is the zombie_ratio at or above which resonant
	// interest still signals a value pivot.
	ZombieCeiling float64 `koanf:"zombie_ceiling"`

	// LTVCACProceed is the ltv_cac at which viability proceeds.
	LTVCACProceed float64 `koanf:"ltv_cac_proceed"`

	// LTVCACKill is the ltv_cac below which the run is dead.
	LTVCACKill float64 `koanf:"ltv_cac_kill"`

	// InclusiveLowerBounds controls whether a value exactly on a lower
	// bound clears it (true, the default) or falls into the bracket
	// below.
	InclusiveLowerBounds bool `koanf:"inclusive_lower_bounds"`
}

// DefaultPolicy returns the thresholds from the product playbook.
func DefaultPolicy() *Policy {
	return &Policy{
		ResonanceFloor:       0.30,
		ZombieCeiling:        0.70,
		LTVCACProceed:        3.0,
		LTVCACKill:           1.0,
		InclusiveLowerBounds: true,
	}
}

// Validate checks the policy for contradictions.
func (p *Policy) Validate() error {
	if p.ResonanceFloor < 0 || p.ResonanceFloor > 1 {
		return fmt.Errorf("resonance floor must be in [0,1], got %v", p.ResonanceFloor)
	}
	if p.ZombieCeiling < 0 || p.ZombieCeiling > 1 {
		return fmt.Errorf("zombie ceiling must be in [0,1], got %v", p.ZombieCeiling)
	}
	if p.LTVCACKill >= p.LTVCACProceed {
		return fmt.Errorf("ltv_cac kill threshold (%v) must be below proceed threshold (%v)",
			p.LTVCACKill, p.LTVCACProceed)
	}
	return nil
}

// atLeast applies the configured boundary inclusivity to "value clears
// lower bound".
func (p *Policy) atLeast(value, bound float64) bool {
	if p.InclusiveLowerBounds {
		return value >= bound
	}
	return value > bound
}

// requiredMetrics lists the evidence each phase must produce before its
// gate may be evaluated.
var requiredMetrics = map[validation.Phase][]string{
	validation.PhaseQuickStart:    {evidence.MetricOpportunityScore},
	validation.PhaseDiscovery:     {evidence.MetricSegmentCoverage},
	validation.PhaseDesirability:  {evidence.MetricProblemResonance, evidence.MetricZombieRatio},
	validation.PhaseFeasibility:   {evidence.MetricFeasibilitySignal},
	validation.PhaseViability:     {evidence.MetricLTVCAC},
	validation.PhaseFinalDecision: {evidence.MetricReadinessInputs},
}

// RequiredMetrics returns the metrics the phase's gate needs.
func RequiredMetrics(phase validation.Phase) []string {
	return requiredMetrics[phase]
}
