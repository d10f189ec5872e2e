package bus

import (
	"context"

	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/metrics"
	redisx "github.com/alpespartners/saga-orchestrator/pkg/redis"
)

// DeadLetter sidelines undecodable or poisoned messages to a Redis stream
// and raises the operator alert counter. A nil Redis client degrades to
// counting and logging only, which tests rely on.
type DeadLetter struct {
	client *redisx.Client
	log    *zap.Logger
}

// NewDeadLetter builds a dead-letter sink backed by the given Redis client.
func NewDeadLetter(client *redisx.Client, log *zap.Logger) *DeadLetter {
	return &DeadLetter{client: client, log: log}
}

// Sideline routes a message to the dead-letter channel.
func (d *DeadLetter) Sideline(ctx context.Context, topic string, raw []byte, cause error) {
	metrics.DeadLetters.WithLabelValues(topic).Inc()
	d.log.Warn("Message routed to dead-letter",
		zap.String("topic", topic),
		zap.Error(cause),
	)
	if d.client == nil {
		return
	}
	if err := redisx.EmitToDLQ(ctx, d.client.Client, d.log, topic, raw, cause); err != nil {
		d.log.Error("Dead-letter emit failed", zap.String("topic", topic), zap.Error(err))
	}
}
