package evidence

import (
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/validationd/internal/validation"
)

// Ledger is the append-only evidence record of one run. Items are never
// overwritten or deleted; a pivot may make earlier evidence
// strategically irrelevant, but provenance survives for audit.
//
// Ledger is a value type owned by the run record. It is not safe for
// concurrent mutation; the run controller serializes access through
// optimistic concurrency on the run.
type Ledger struct {
	items []Item
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Append adds an item to the ledger. It rejects items with an unknown
// evidence type or an empty metric, since those could silently skew a
// later gate evaluation.
func (l *Ledger) Append(item Item) error {
	if !item.Type.Valid() {
		return fmt.Errorf("invalid evidence type: %q", item.Type)
	}
	if item.Metric == "" {
		return fmt.Errorf("evidence item %s has no metric", item.ID)
	}
	if validation.PhaseIndex(item.Phase) < 0 {
		return fmt.Errorf("evidence item %s has unknown phase: %q", item.ID, item.Phase)
	}
	l.items = append(l.items, item)
	return nil
}

// Items returns a copy of all items, in append order.
func (l *Ledger) Items() []Item {
	out := make([]Item, len(l.items))
	copy(out, l.items)
	return out
}

// PhaseItems returns a copy of the items tagged for the given phase,
// in append order.
func (l *Ledger) PhaseItems(phase validation.Phase) []Item {
	var out []Item
	for _, item := range l.items {
		if item.Phase == phase {
			out = append(out, item)
		}
	}
	return out
}

// Len returns the total number of items.
func (l *Ledger) Len() int {
	return len(l.items)
}

// MarshalJSON serializes the ledger as a flat item array.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	if l.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.items)
}

// UnmarshalJSON restores a ledger from its persisted form.
func (l *Ledger) UnmarshalJSON(data []byte) error {
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	l.items = items
	return nil
}
