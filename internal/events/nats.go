package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subject layout:
//
//	validationd.runs.{run_id}.{kind}
//
// so a consumer can subscribe to one run ("validationd.runs.run-42.*"),
// one kind ("validationd.runs.*.checkpoint_created"), or everything.
const subjectPrefix = "validationd.runs"

// NATSPublisher publishes events to a NATS subject hierarchy.
type NATSPublisher struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewNATSPublisher wraps an established connection. The publisher does
// not own reconnect policy; configure that on the connection.
func NewNATSPublisher(nc *nats.Conn, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{nc: nc, logger: logger}
}

func (p *NATSPublisher) Publish(_ context.Context, evt Event) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s.%s", subjectPrefix, evt.RunID, evt.Kind)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("published event",
		zap.String("subject", subject),
		zap.String("kind", evt.Kind),
		zap.String("run_id", evt.RunID))
	return nil
}

// Close flushes buffered messages before dropping the reference. The
// connection itself is closed by whoever opened it.
func (p *NATSPublisher) Close() {
	if err := p.nc.Flush(); err != nil {
		p.logger.Warn("flush on close", zap.Error(err))
	}
}
