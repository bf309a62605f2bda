package evidence

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/validationd/internal/validation"
)

const instrumentationName = "github.com/fyrsmithlabs/validationd/internal/evidence"

// directMetrics are reported by a single authoritative source and are
// never reweighted; Summarize surfaces the most recent value as-is.
var directMetrics = map[string]bool{
	MetricFeasibilitySignal: true,
}

// MetricSummary is the aggregate of one metric within one phase.
type MetricSummary struct {
	// Weighted is the trust-weighted mean of all reported values.
	Weighted float64 `json:"weighted"`
	// Last is the most recently appended value, unweighted.
	Last float64 `json:"last"`
	// Count is the number of contributing items.
	Count int `json:"count"`
}

// Summary is the per-phase evidence aggregate a gate evaluates.
type Summary struct {
	Phase   validation.Phase         `json:"phase"`
	Metrics map[string]MetricSummary `json:"metrics"`

	// EvidenceCount is the number of ledger items for the phase.
	EvidenceCount int `json:"evidence_count"`
	// ExperimentCount is the number of DO-direct items (behavioral
	// experiments rather than stated intent).
	ExperimentCount int `json:"experiment_count"`
	// ReadinessScore is the mean trust weight of the phase's evidence,
	// in [0,1]. All-SAY evidence scores 0.3; all DO-direct scores 1.0.
	ReadinessScore float64 `json:"readiness_score"`
}

// HasMetric reports whether any evidence was recorded for the metric.
func (s *Summary) HasMetric(name string) bool {
	m, ok := s.Metrics[name]
	return ok && m.Count > 0
}

// Metric returns the gate-facing value for a metric: the last reported
// value for direct metrics, the trust-weighted mean otherwise.
func (s *Summary) Metric(name string) float64 {
	m, ok := s.Metrics[name]
	if !ok {
		return 0
	}
	if directMetrics[name] {
		return m.Last
	}
	return m.Weighted
}

// MetricNames returns the recorded metric names, sorted for stable
// logging and test output.
func (s *Summary) MetricNames() []string {
	names := make([]string, 0, len(s.Metrics))
	for name := range s.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Aggregator folds ledger items into per-phase summaries.
type Aggregator struct {
	logger *zap.Logger

	meter         metric.Meter
	ingestCounter metric.Int64Counter
}

// NewAggregator creates an aggregator. A nil logger is replaced with a
// nop logger.
func NewAggregator(logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Aggregator{
		logger: logger,
		meter:  otel.Meter(instrumentationName),
	}

	var err error
	a.ingestCounter, err = a.meter.Int64Counter(
		"validationd.evidence.ingested_total",
		metric.WithDescription("Total number of evidence items ingested"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		a.logger.Warn("failed to create ingest counter", zap.Error(err))
	}

	return a
}

// Ingest appends an item to the run's ledger.
func (a *Aggregator) Ingest(ctx context.Context, ledger *Ledger, item Item) error {
	if err := ledger.Append(item); err != nil {
		return err
	}

	if a.ingestCounter != nil {
		a.ingestCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("phase", string(item.Phase)),
			attribute.String("type", string(item.Type)),
		))
	}

	a.logger.Debug("ingested evidence",
		zap.String("run_id", item.RunID),
		zap.String("phase", string(item.Phase)),
		zap.String("metric", item.Metric),
		zap.String("type", string(item.Type)),
	)
	return nil
}

// Summarize computes the weighted aggregate for one phase from the
// ledger. It is deterministic: the same ledger always yields the same
// summary, so a gate re-evaluated after a crash reaches the same
// signal.
func (a *Aggregator) Summarize(ledger *Ledger, phase validation.Phase) *Summary {
	summary := &Summary{
		Phase:   phase,
		Metrics: make(map[string]MetricSummary),
	}

	type acc struct {
		weightedSum float64
		weightSum   float64
		last        float64
		count       int
	}
	accs := make(map[string]*acc)

	var totalWeight float64
	for _, item := range ledger.PhaseItems(phase) {
		w := item.Type.Weight()

		m := accs[item.Metric]
		if m == nil {
			m = &acc{}
			accs[item.Metric] = m
		}
		m.weightedSum += w * item.Value
		m.weightSum += w
		m.last = item.Value
		m.count++

		summary.EvidenceCount++
		totalWeight += w
		if item.Type == TypeDODirect {
			summary.ExperimentCount++
		}
	}

	for name, m := range accs {
		ms := MetricSummary{Last: m.last, Count: m.count}
		if m.weightSum > 0 {
			ms.Weighted = m.weightedSum / m.weightSum
		}
		summary.Metrics[name] = ms
	}

	if summary.EvidenceCount > 0 {
		summary.ReadinessScore = totalWeight / float64(summary.EvidenceCount)
	}

	return summary
}
