// Package bus adapts the Kafka broker into the small typed API the saga
// rides on: per-topic producers, shared-subscription consumers and a
// dead-letter channel.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/codec"
	"github.com/alpespartners/saga-orchestrator/pkg/errors"
)

const publishMaxRetries = 4

// topicWriter is the slice of kafka.Writer the publisher needs. Tests swap
// in a fake.
type topicWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends envelopes to per-topic producers. Sends are synchronous;
// transient broker failures are retried with exponential backoff behind a
// circuit breaker.
type Publisher struct {
	log       *zap.Logger
	newWriter func(topic string) topicWriter
	breaker   *gobreaker.CircuitBreaker

	mu      sync.Mutex
	writers map[string]topicWriter
	closed  bool
}

// NewPublisher creates a publisher for the broker at addr (host:port).
func NewPublisher(addr string, log *zap.Logger) *Publisher {
	return &Publisher{
		log: log,
		newWriter: func(topic string) topicWriter {
			return &kafka.Writer{
				Addr:         kafka.TCP(addr),
				Topic:        topic,
				Balancer:     &kafka.LeastBytes{},
				RequiredAcks: kafka.RequireAll,
			}
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "bus-publisher",
			Timeout: 30 * time.Second,
		}),
		writers: make(map[string]topicWriter),
	}
}

// Publish writes one envelope to topic. Encode failures return ErrSchema;
// broker failures after the retry budget return ErrTransientPublish so the
// caller can schedule its own retry.
func (p *Publisher) Publish(ctx context.Context, topic string, env *codec.Envelope) error {
	raw, err := env.Encode()
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrSchema, err)
	}

	writer, err := p.writer(topic)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(env.CorrelationID),
		Value: raw,
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		policy := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewExponentialBackOff(), publishMaxRetries), ctx)
		return nil, backoff.Retry(func() error {
			return writer.WriteMessages(ctx, msg)
		}, policy)
	})
	if err != nil {
		p.log.Error("Publish failed",
			zap.String("topic", topic),
			zap.String("type", env.Type),
			zap.String("correlation_id", env.CorrelationID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: publish to %s: %v", errors.ErrTransientPublish, topic, err)
	}

	p.log.Debug("Published",
		zap.String("topic", topic),
		zap.String("type", env.Type),
		zap.String("correlation_id", env.CorrelationID),
		zap.String("message_id", env.MessageID),
	)
	return nil
}

func (p *Publisher) writer(topic string) (topicWriter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("publisher closed")
	}
	w, ok := p.writers[topic]
	if !ok {
		w = p.newWriter(topic)
		p.writers[topic] = w
	}
	return w, nil
}

// Close closes every topic producer. Pending publishes fail rather than
// claim success.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var firstErr error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			p.log.Error("Writer close failed", zap.String("topic", topic), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
