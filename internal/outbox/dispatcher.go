package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/codec"
	"github.com/alpespartners/saga-orchestrator/pkg/errors"
)

// Publisher is the bus surface the dispatcher needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, env *codec.Envelope) error
}

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultBatchSize    = 50
)

// Dispatcher drains the outbox to the bus. A message stays pending until its
// publish succeeds, so delivery is at-least-once; consumers dedupe.
type Dispatcher struct {
	source   Source
	pub      Publisher
	log      *zap.Logger
	interval time.Duration
	batch    int
}

// NewDispatcher creates a dispatcher polling source every interval.
func NewDispatcher(source Source, pub Publisher, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		source:   source,
		pub:      pub,
		log:      log,
		interval: defaultPollInterval,
		batch:    defaultBatchSize,
	}
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.Drain(ctx); err != nil && ctx.Err() == nil {
				d.log.Warn("Outbox drain failed", zap.Error(err))
			}
		}
	}
}

// Drain publishes every currently pending message once.
func (d *Dispatcher) Drain(ctx context.Context) error {
	msgs, err := d.source.Pending(ctx, d.batch)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		if err := d.pub.Publish(ctx, msg.Topic, msg.Envelope); err != nil {
			// Leave the row pending; the next tick retries.
			return errors.LogWithError(ctx, d.log, "outbox publish failed", err,
				zap.String("topic", msg.Topic),
				zap.Int64("outbox_id", msg.ID),
			)
		}
		if err := d.source.MarkDispatched(ctx, msg.ID); err != nil {
			return err
		}
	}
	return nil
}
