// Package events publishes run lifecycle notifications. Downstream
// consumers (notification fan-out, dashboards, valctl watch) subscribe
// over NATS; the daemon itself never depends on a subscriber being
// present.
package events

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/validationd/internal/validation"
)

// Event kinds, used as the trailing subject token.
const (
	KindRunCreated     = "created"
	KindPhaseStarted   = "phase_started"
	KindPhaseCompleted = "phase_completed"
	KindRunPaused      = "paused"
	KindRunResumed     = "resumed"
	KindRunCompleted   = "completed"
	KindRunKilled      = "killed"
	KindRunFailed      = "failed"
	KindRunArchived    = "archived"

	KindCheckpointCreated   = "checkpoint_created"
	KindCheckpointEscalated = "checkpoint_escalated"
	KindCheckpointDecided   = "checkpoint_decided"
	KindCheckpointExpired   = "checkpoint_expired"

	KindPivotApplied = "pivot_applied"
)

// Event is the wire payload for every notification.
type Event struct {
	Kind      string            `json:"kind"`
	RunID     string            `json:"run_id"`
	Phase     validation.Phase  `json:"phase,omitempty"`
	Status    validation.Status `json:"status,omitempty"`
	Timestamp time.Time         `json:"timestamp"`

	// Checkpoint fields, set for checkpoint_* kinds.
	CheckpointID    string              `json:"checkpoint_id,omitempty"`
	Options         []string            `json:"options,omitempty"`
	Decision        validation.Decision `json:"decision,omitempty"`
	EscalationLevel int                 `json:"escalation_level,omitempty"`
	ExpiresAt       *time.Time          `json:"expires_at,omitempty"`

	// Pivot fields, set for pivot_applied.
	PivotType validation.PivotType `json:"pivot_type,omitempty"`
	ToPhase   validation.Phase     `json:"to_phase,omitempty"`
}

// Publisher emits lifecycle events. Publishing is best-effort:
// callers log failures and keep going, a lost notification never
// blocks a state transition.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close()
}

// NoopPublisher discards every event. Used when NATS is not
// configured and in tests that don't care about notifications.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close()                               {}
