// Package checkpoint manages human decision points. When a gate
// outcome needs a human, the run suspends into a pending checkpoint
// carrying the offered options and a single-use resume token; deciding
// the checkpoint is idempotent, and a background sweeper escalates and
// finally expires checkpoints nobody answers.
package checkpoint

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/validationd/internal/events"
	"github.com/fyrsmithlabs/validationd/internal/store"
	"github.com/fyrsmithlabs/validationd/internal/validation"
)

const instrumentationName = "github.com/fyrsmithlabs/validationd/internal/checkpoint"

// Outcome classifies the result of submitting a decision. Every
// submission maps to exactly one outcome; only OutcomeApplied means
// the decision won the settle race and the caller should apply the
// run transition.
type Outcome string

const (
	OutcomeApplied         Outcome = "applied"
	OutcomeAlreadyDecided  Outcome = "already_decided"
	OutcomeExpired         Outcome = "expired"
	OutcomeInvalidDecision Outcome = "invalid_decision"
)

// Config configures checkpoint lifetimes.
type Config struct {
	// Expiry is how long a pending checkpoint waits for a human before
	// the sweep force-archives the run.
	Expiry time.Duration `koanf:"expiry"`

	// EscalationAfter are the pending ages at which escalation
	// notifications fire, ascending. Level N is EscalationAfter[N-1].
	EscalationAfter []time.Duration `koanf:"escalation_after"`
}

// DefaultConfig returns the stock 30-day lifetime with reminders at
// 15 minutes, 24 hours, 72 hours, 7 days, and 30 days.
func DefaultConfig() Config {
	return Config{
		Expiry: 30 * 24 * time.Hour,
		EscalationAfter: []time.Duration{
			15 * time.Minute,
			24 * time.Hour,
			72 * time.Hour,
			7 * 24 * time.Hour,
			30 * 24 * time.Hour,
		},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Expiry <= 0 {
		return errors.New("checkpoint expiry must be positive")
	}
	for i := 1; i < len(c.EscalationAfter); i++ {
		if c.EscalationAfter[i] <= c.EscalationAfter[i-1] {
			return errors.New("escalation_after must be strictly ascending")
		}
	}
	return nil
}

// Manager creates and settles checkpoints.
type Manager struct {
	config    Config
	store     store.Store
	publisher events.Publisher
	logger    *zap.Logger
	clock     func() time.Time

	tracer         trace.Tracer
	meter          metric.Meter
	createdCounter metric.Int64Counter
	settledCounter metric.Int64Counter
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the time source. Tests use this to drive expiry
// without sleeping.
func WithClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) { m.clock = clock }
}

// NewManager creates a checkpoint manager.
func NewManager(cfg Config, st store.Store, pub events.Publisher, logger *zap.Logger, opts ...ManagerOption) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errors.New("store is required")
	}
	if pub == nil {
		pub = events.NoopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		config:    cfg,
		store:     st,
		publisher: pub,
		logger:    logger,
		clock:     func() time.Time { return time.Now().UTC() },
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.initMetrics()
	return m, nil
}

func (m *Manager) initMetrics() {
	var err error

	m.createdCounter, err = m.meter.Int64Counter(
		"validationd.checkpoint.created_total",
		metric.WithDescription("Total number of checkpoints created"),
		metric.WithUnit("{checkpoint}"),
	)
	if err != nil {
		m.logger.Warn("failed to create created counter", zap.Error(err))
	}

	m.settledCounter, err = m.meter.Int64Counter(
		"validationd.checkpoint.settled_total",
		metric.WithDescription("Total number of checkpoints settled, by outcome"),
		metric.WithUnit("{checkpoint}"),
	)
	if err != nil {
		m.logger.Warn("failed to create settled counter", zap.Error(err))
	}
}

// Suspend pauses the run into a new pending checkpoint offering the
// given options. The run update and the checkpoint insert are atomic;
// a run can never hold two pending checkpoints.
func (m *Manager) Suspend(ctx context.Context, run *store.RunRecord, name string, options validation.DecisionSet) (*store.CheckpointRecord, error) {
	ctx, span := m.tracer.Start(ctx, "checkpoint.suspend")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", run.RunID),
		attribute.String("checkpoint_name", name),
		attribute.StringSlice("options", options.Strings()),
	)

	if len(options) == 0 {
		return nil, errors.New("checkpoint must offer at least one option")
	}
	if options.Contains(validation.DecisionTimeoutArchive) {
		return nil, errors.New("timeout_archive cannot be offered")
	}

	token, err := newResumeToken()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("generate resume token: %w", err)
	}

	now := m.clock()
	cp := &store.CheckpointRecord{
		CheckpointID: uuid.New().String(),
		RunID:        run.RunID,
		Name:         name,
		Status:       store.CheckpointPending,
		ResumeToken:  token,
		Options:      append(validation.DecisionSet(nil), options...),
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.config.Expiry),
	}

	run.Status = validation.StatusPaused
	run.UpdatedAt = now
	if err := m.store.SuspendRun(ctx, run, cp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("suspend run %s: %w", run.RunID, err)
	}

	if m.createdCounter != nil {
		m.createdCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("checkpoint_name", name)))
	}
	m.publish(ctx, events.Event{
		Kind:         events.KindCheckpointCreated,
		RunID:        run.RunID,
		Phase:        run.CurrentPhase,
		Status:       run.Status,
		CheckpointID: cp.CheckpointID,
		Options:      cp.Options.Strings(),
		ExpiresAt:    &cp.ExpiresAt,
	})

	m.logger.Info("run suspended at checkpoint",
		zap.String("run_id", run.RunID),
		zap.String("checkpoint_id", cp.CheckpointID),
		zap.String("checkpoint_name", name),
		zap.Strings("options", cp.Options.Strings()))
	return cp, nil
}

// Settle submits a decision against a checkpoint. It is idempotent:
// exactly one submission per checkpoint returns OutcomeApplied, every
// later submission reports how the checkpoint was already settled. A
// decision arriving after the expiry deadline loses to the deadline
// even if the sweep has not run yet.
func (m *Manager) Settle(ctx context.Context, cp *store.CheckpointRecord, decision validation.Decision) (Outcome, error) {
	ctx, span := m.tracer.Start(ctx, "checkpoint.settle")
	defer span.End()
	span.SetAttributes(
		attribute.String("checkpoint_id", cp.CheckpointID),
		attribute.String("decision", string(decision)),
	)

	outcome, err := m.settle(ctx, cp, decision)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return outcome, err
	}
	span.SetAttributes(attribute.String("outcome", string(outcome)))

	if m.settledCounter != nil {
		m.settledCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", string(outcome))))
	}
	return outcome, nil
}

func (m *Manager) settle(ctx context.Context, cp *store.CheckpointRecord, decision validation.Decision) (Outcome, error) {
	switch cp.Status {
	case store.CheckpointDecided:
		return OutcomeAlreadyDecided, nil
	case store.CheckpointExpired:
		return OutcomeExpired, nil
	}

	// Deadline first: a checkpoint past its deadline is expired no
	// matter what decision arrives against it.
	now := m.clock()
	if !now.Before(cp.ExpiresAt) {
		if err := m.expireNow(ctx, cp, now); err != nil {
			return "", err
		}
		return OutcomeExpired, nil
	}

	if !cp.Options.Contains(decision) {
		return OutcomeInvalidDecision, nil
	}

	err := m.store.DecideCheckpoint(ctx, cp.CheckpointID, decision, now)
	if errors.Is(err, store.ErrCheckpointNotPending) {
		// Lost the race to a concurrent decision or the expiry sweep.
		settled, getErr := m.store.GetCheckpoint(ctx, cp.CheckpointID)
		if getErr != nil {
			return "", getErr
		}
		*cp = *settled.Clone()
		if settled.Status == store.CheckpointExpired {
			return OutcomeExpired, nil
		}
		return OutcomeAlreadyDecided, nil
	}
	if err != nil {
		return "", fmt.Errorf("decide checkpoint %s: %w", cp.CheckpointID, err)
	}

	cp.Status = store.CheckpointDecided
	cp.Decision = decision
	cp.DecidedAt = &now

	m.publish(ctx, events.Event{
		Kind:         events.KindCheckpointDecided,
		RunID:        cp.RunID,
		CheckpointID: cp.CheckpointID,
		Decision:     decision,
	})
	m.logger.Info("checkpoint decided",
		zap.String("run_id", cp.RunID),
		zap.String("checkpoint_id", cp.CheckpointID),
		zap.String("decision", string(decision)))
	return OutcomeApplied, nil
}

// expireNow settles a past-deadline checkpoint as expired, tolerating
// a racing sweep.
func (m *Manager) expireNow(ctx context.Context, cp *store.CheckpointRecord, now time.Time) error {
	err := m.store.ExpireCheckpoint(ctx, cp.CheckpointID, now)
	if err != nil && !errors.Is(err, store.ErrCheckpointNotPending) {
		return fmt.Errorf("expire checkpoint %s: %w", cp.CheckpointID, err)
	}
	cp.Status = store.CheckpointExpired
	cp.Decision = validation.DecisionTimeoutArchive
	cp.DecidedAt = &now
	return nil
}

// ByToken resolves a single-use resume token to its checkpoint.
func (m *Manager) ByToken(ctx context.Context, token string) (*store.CheckpointRecord, error) {
	return m.store.GetCheckpointByToken(ctx, token)
}

// Pending returns the run's pending checkpoint, or store.ErrNotFound.
func (m *Manager) Pending(ctx context.Context, runID string) (*store.CheckpointRecord, error) {
	return m.store.PendingCheckpoint(ctx, runID)
}

func (m *Manager) publish(ctx context.Context, evt events.Event) {
	if err := m.publisher.Publish(ctx, evt); err != nil {
		m.logger.Warn("publish event", zap.String("kind", evt.Kind), zap.Error(err))
	}
}

// newResumeToken returns a 256-bit random token in hex. Tokens are
// unguessable and unique; the store enforces uniqueness as a backstop.
func newResumeToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
