package gate

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/validationd/internal/evidence"
	"github.com/fyrsmithlabs/validationd/internal/validation"
)

// ErrEvidenceIncomplete means a gate was asked to evaluate before the
// phase produced all required evidence. The orchestrator must not
// guess; the evaluation attempt is fatal and the phase must finish (or
// explicitly fail) first.
var ErrEvidenceIncomplete = errors.New("evidence incomplete for gate evaluation")

// Evaluator computes gate signals from evidence summaries. It holds no
// mutable state and is side-effect-free: the same summary always yields
// the same signal, so re-evaluation after a crash is safe.
type Evaluator struct {
	policy *Policy
}

// NewEvaluator creates an evaluator. A nil policy uses defaults.
func NewEvaluator(policy *Policy) (*Evaluator, error) {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gate policy: %w", err)
	}
	return &Evaluator{policy: policy}, nil
}

// Evaluate computes the exit signal for the given phase from its
// evidence summary.
func (e *Evaluator) Evaluate(summary *evidence.Summary) (validation.Signal, error) {
	for _, metric := range RequiredMetrics(summary.Phase) {
		if !summary.HasMetric(metric) {
			return "", fmt.Errorf("%w: phase %s missing metric %q",
				ErrEvidenceIncomplete, summary.Phase, metric)
		}
	}

	switch summary.Phase {
	case validation.PhaseQuickStart, validation.PhaseDiscovery:
		// Early phases gate only on evidence presence; the crews
		// auto-chain into the next phase.
		return validation.SignalProceed, nil

	case validation.PhaseDesirability:
		return e.evaluateDesirability(summary), nil

	case validation.PhaseFeasibility:
		return e.evaluateFeasibility(summary), nil

	case validation.PhaseViability:
		return e.evaluateViability(summary), nil

	case validation.PhaseFinalDecision:
		// The final gate is always a human call.
		return validation.SignalRequiresHITL, nil
	}

	return "", fmt.Errorf("no gate defined for phase %q", summary.Phase)
}

// evaluateDesirability: insufficient resonance means the segment is
// wrong; resonance with a high zombie ratio (interest without action)
// means the value proposition is wrong.
func (e *Evaluator) evaluateDesirability(summary *evidence.Summary) validation.Signal {
	resonance := summary.Metric(evidence.MetricProblemResonance)
	zombies := summary.Metric(evidence.MetricZombieRatio)

	if !e.policy.atLeast(resonance, e.policy.ResonanceFloor) {
		return validation.SignalSegmentPivot
	}
	if e.policy.atLeast(zombies, e.policy.ZombieCeiling) {
		return validation.SignalValuePivot
	}
	return validation.SignalProceed
}

// evaluateFeasibility maps the crew-reported traffic light directly;
// the signal is authoritative and not threshold-computed.
func (e *Evaluator) evaluateFeasibility(summary *evidence.Summary) validation.Signal {
	switch summary.Metric(evidence.MetricFeasibilitySignal) {
	case evidence.FeasibilityGreen:
		return validation.SignalProceed
	case evidence.FeasibilityOrange:
		return validation.SignalFeatureDowngrade
	default:
		return validation.SignalKill
	}
}

// evaluateViability brackets ltv_cac into proceed / strategic pivot /
// kill.
func (e *Evaluator) evaluateViability(summary *evidence.Summary) validation.Signal {
	ltvCAC := summary.Metric(evidence.MetricLTVCAC)

	if e.policy.atLeast(ltvCAC, e.policy.LTVCACProceed) {
		return validation.SignalProceed
	}
	if e.policy.atLeast(ltvCAC, e.policy.LTVCACKill) {
		return validation.SignalStrategicPivot
	}
	return validation.SignalKill
}

// RawOptions maps a non-proceed gate signal to the unfiltered decision
// space offered at the resulting checkpoint. The loop limiter narrows
// this set before it reaches a human.
func RawOptions(signal validation.Signal) validation.DecisionSet {
	switch signal {
	case validation.SignalSegmentPivot:
		return validation.DecisionSet{
			validation.DecisionSegmentPivot,
			validation.DecisionOverrideProceed,
			validation.DecisionKill,
		}
	case validation.SignalValuePivot:
		return validation.DecisionSet{
			validation.DecisionValuePivot,
			validation.DecisionOverrideProceed,
			validation.DecisionKill,
		}
	case validation.SignalFeatureDowngrade:
		return validation.DecisionSet{
			validation.DecisionFeatureDowngrade,
			validation.DecisionProceedWithConstraints,
			validation.DecisionKill,
		}
	case validation.SignalStrategicPivot:
		return validation.DecisionSet{
			validation.DecisionStrategicPivot,
			validation.DecisionOverrideProceed,
			validation.DecisionKill,
		}
	case validation.SignalRequiresHITL:
		return validation.DecisionSet{
			validation.DecisionProceed,
			validation.DecisionKill,
		}
	}
	return nil
}
