// Package evidence implements the append-only evidence ledger and the
// aggregator that folds crew output into per-gate summary signals.
package evidence

import (
	"time"

	"github.com/fyrsmithlabs/validationd/internal/validation"
)

// Type classifies how trustworthy a piece of evidence is.
//
// DO evidence records what people actually did; SAY evidence records
// what they claim they would do. The trust weights are fixed by type
// and are not configurable per item.
type Type string

const (
	TypeDODirect   Type = "DO-direct"
	TypeDOIndirect Type = "DO-indirect"
	TypeSAY        Type = "SAY"
)

// Weight returns the fixed trust weight for the evidence type.
// Unknown types weigh zero and never influence a summary.
func (t Type) Weight() float64 {
	switch t {
	case TypeDODirect:
		return 1.0
	case TypeDOIndirect:
		return 0.8
	case TypeSAY:
		return 0.3
	}
	return 0
}

// Valid reports whether t is a known evidence type.
func (t Type) Valid() bool {
	return t.Weight() > 0
}

// Item is one piece of evidence produced by a phase executor crew.
// Items are immutable after creation.
type Item struct {
	ID        string           `json:"id"`
	RunID     string           `json:"run_id"`
	Phase     validation.Phase `json:"phase"`
	Type      Type             `json:"type"`
	Metric    string           `json:"metric"`
	Value     float64          `json:"value"`
	SourceRef string           `json:"source_ref,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Metric names reported by crews. The aggregator does not restrict
// metrics to this list; these are the ones gates evaluate.
const (
	MetricOpportunityScore  = "opportunity_score"
	MetricSegmentCoverage   = "segment_coverage"
	MetricProblemResonance  = "problem_resonance"
	MetricZombieRatio       = "zombie_ratio"
	MetricFeasibilitySignal = "feasibility_signal"
	MetricLTVCAC            = "ltv_cac"
	MetricReadinessInputs   = "readiness_inputs"
)

// Feasibility traffic-light values carried in MetricFeasibilitySignal.
// The feasibility crew reports the signal directly; it is never
// reweighted or averaged with other sources.
const (
	FeasibilityRed    = 0.0
	FeasibilityOrange = 1.0
	FeasibilityGreen  = 2.0
)
