// Package pivot bounds how many times each strategic pivot may recur
// within a single validation run, and narrows the decision space once a
// budget is exhausted.
package pivot

import (
	"fmt"

	"github.com/fyrsmithlabs/validationd/internal/validation"
)

// Caps holds the per-type and global iteration budgets. These come
// from configuration; the defaults are the product playbook numbers.
type Caps struct {
	Segment          int `koanf:"segment"`
	Value            int `koanf:"value"`
	FeatureDowngrade int `koanf:"feature_downgrade"`
	Strategic        int `koanf:"strategic"`
	Global           int `koanf:"global"`

	// GlobalWins controls precedence when a type cap and the global cap
	// are hit simultaneously: true (default) collapses to {kill}.
	GlobalWins bool `koanf:"global_wins"`
}

// DefaultCaps returns the playbook budgets: segment=3, value=2, a
// single downgrade-and-retest cycle, strategic=2, ten iterations total.
func DefaultCaps() Caps {
	return Caps{
		Segment:          3,
		Value:            2,
		FeatureDowngrade: 1,
		Strategic:        2,
		Global:           10,
		GlobalWins:       true,
	}
}

// Validate checks the caps for nonsense values.
func (c Caps) Validate() error {
	for _, v := range []struct {
		name string
		cap  int
	}{
		{"segment", c.Segment},
		{"value", c.Value},
		{"feature_downgrade", c.FeatureDowngrade},
		{"strategic", c.Strategic},
		{"global", c.Global},
	} {
		if v.cap < 1 {
			return fmt.Errorf("pivot cap %q must be at least 1, got %d", v.name, v.cap)
		}
	}
	return nil
}

// cap returns the budget for one pivot type.
func (c Caps) cap(t validation.PivotType) int {
	switch t {
	case validation.PivotSegment:
		return c.Segment
	case validation.PivotValue:
		return c.Value
	case validation.PivotFeatureDowngrade:
		return c.FeatureDowngrade
	case validation.PivotStrategic:
		return c.Strategic
	}
	return 0
}

// Counters is the per-run pivot state the limiter filters against. It
// mirrors the run record's pivot_counters and total_iterations fields;
// the run controller owns mutation.
type Counters struct {
	PerType map[validation.PivotType]int
	Total   int
}

// NewCounters returns zeroed counters.
func NewCounters() Counters {
	return Counters{PerType: make(map[validation.PivotType]int)}
}

// Get returns the counter for one pivot type.
func (c Counters) Get(t validation.PivotType) int {
	if c.PerType == nil {
		return 0
	}
	return c.PerType[t]
}

// Limiter narrows checkpoint option sets by remaining pivot budget.
// Filtering never consumes budget; only an applied pivot decision does.
type Limiter struct {
	caps Caps
}

// NewLimiter creates a limiter with the given caps.
func NewLimiter(caps Caps) (*Limiter, error) {
	if err := caps.Validate(); err != nil {
		return nil, err
	}
	return &Limiter{caps: caps}, nil
}

// Caps returns the configured budgets.
func (l *Limiter) Caps() Caps { return l.caps }

// GlobalExhausted reports whether the run has spent its total
// iteration budget.
func (l *Limiter) GlobalExhausted(counters Counters) bool {
	return counters.Total >= l.caps.Global
}

// TypeExhausted reports whether one pivot type's budget is spent.
func (l *Limiter) TypeExhausted(counters Counters, t validation.PivotType) bool {
	return counters.Get(t) >= l.caps.cap(t)
}

// FilterOptions narrows a raw option set by remaining budget:
//
//   - global budget spent: the only option left is kill (precedence per
//     Caps.GlobalWins when both caps trip at once);
//   - the offered pivot's type budget spent: the pivot is replaced by
//     the safe set {override_proceed, kill} ({proceed_with_constraints,
//     kill} for feature downgrades);
//   - otherwise the raw set passes through unchanged.
func (l *Limiter) FilterOptions(counters Counters, raw validation.DecisionSet) validation.DecisionSet {
	globalHit := l.GlobalExhausted(counters)
	if globalHit && l.caps.GlobalWins {
		return validation.DecisionSet{validation.DecisionKill}
	}

	out := make(validation.DecisionSet, 0, len(raw))
	replaced := false
	downgrade := false
	for _, opt := range raw {
		t, isPivot := validation.PivotTypeOf(opt)
		if !isPivot {
			out = append(out, opt)
			continue
		}
		if l.TypeExhausted(counters, t) {
			replaced = true
			downgrade = t == validation.PivotFeatureDowngrade
			continue
		}
		out = append(out, opt)
	}

	if replaced {
		if downgrade {
			out = validation.DecisionSet{
				validation.DecisionProceedWithConstraints,
				validation.DecisionKill,
			}
		} else {
			out = validation.DecisionSet{
				validation.DecisionOverrideProceed,
				validation.DecisionKill,
			}
		}
	}

	// Global cap with GlobalWins disabled still applies once no type
	// cap narrowed the set.
	if globalHit && !replaced {
		return validation.DecisionSet{validation.DecisionKill}
	}

	return out
}

// Admit checks that applying a pivot decision would keep every counter
// within its cap. The run controller calls this before recording a
// decision, so the invariants hold after every applied transition, not
// just at offer time.
func (l *Limiter) Admit(counters Counters, decision validation.Decision) error {
	t, isPivot := validation.PivotTypeOf(decision)
	if !isPivot {
		return nil
	}
	if l.GlobalExhausted(counters) {
		return fmt.Errorf("global iteration budget exhausted (%d/%d)",
			counters.Total, l.caps.Global)
	}
	if l.TypeExhausted(counters, t) {
		return fmt.Errorf("%s pivot budget exhausted (%d/%d)",
			t, counters.Get(t), l.caps.cap(t))
	}
	return nil
}
