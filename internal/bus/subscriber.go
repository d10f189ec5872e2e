package bus

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/codec"
	"github.com/alpespartners/saga-orchestrator/pkg/errors"
	"github.com/alpespartners/saga-orchestrator/pkg/logger"
)

// Verdict is the handler's decision for one delivery.
type Verdict int

const (
	// Ack marks the message processed.
	Ack Verdict = iota
	// NackRetry asks for redelivery after in-process retries are exhausted.
	NackRetry
	// NackDead sidelines the message to the dead-letter channel.
	NackDead
)

// Handler processes one decoded envelope.
type Handler func(ctx context.Context, env *codec.Envelope) Verdict

// handlerMaxRetries bounds in-process retries before the offset is left
// uncommitted for broker redelivery.
const handlerMaxRetries = 3

// messageFetcher is the slice of kafka.Reader the subscription loop needs.
type messageFetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Subscriber installs shared-subscription consumers on the broker.
type Subscriber struct {
	addr      string
	log       *zap.Logger
	dlq       *DeadLetter
	newReader func(topic, group string) messageFetcher
}

// NewSubscriber creates a subscriber for the broker at addr.
func NewSubscriber(addr string, dlq *DeadLetter, log *zap.Logger) *Subscriber {
	s := &Subscriber{addr: addr, log: log, dlq: dlq}
	s.newReader = func(topic, group string) messageFetcher {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:        []string{addr},
			Topic:          topic,
			GroupID:        group,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: 0, // synchronous commits; at-least-once
		})
	}
	return s
}

// Subscription is one running shared-subscription consumer.
type Subscription struct {
	topic  string
	group  string
	cancel context.CancelFunc
	done   chan struct{}
}

// Subscribe starts consuming topic within group and dispatches each decoded
// envelope to handler. Instances sharing group receive disjoint subsets.
// The returned Subscription must be closed to drain in-flight handlers.
func (s *Subscriber) Subscribe(ctx context.Context, topic, group string, handler Handler) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		topic:  topic,
		group:  group,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(ctx, sub, handler)
	return sub
}

func (s *Subscriber) run(ctx context.Context, sub *Subscription, handler Handler) {
	defer close(sub.done)
	log := s.log.With(zap.String("topic", sub.topic), zap.String("group", sub.group))

	// The reader is recreated after a consume failure so uncommitted
	// messages are redelivered from the last committed offset.
	for {
		if ctx.Err() != nil {
			return
		}
		reader := s.newReader(sub.topic, sub.group)
		err := s.consume(ctx, reader, sub, handler, log)
		if closeErr := reader.Close(); closeErr != nil {
			log.Warn("Reader close failed", zap.Error(closeErr))
		}
		if err == nil || ctx.Err() != nil {
			return
		}
		log.Warn("Consumer loop restarting", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (s *Subscriber) consume(ctx context.Context, reader messageFetcher, sub *Subscription, handler Handler, log *zap.Logger) error {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || err == io.EOF {
				return nil
			}
			return err
		}

		env, err := codec.DecodeEnvelope(msg.Value)
		if err != nil {
			// Malformed envelopes are never retried.
			s.dlq.Sideline(ctx, sub.topic, msg.Value, err)
			if err := reader.CommitMessages(ctx, msg); err != nil {
				return err
			}
			continue
		}

		// Handlers run under a correlation-tagged context so their log
		// lines can be joined across services.
		verdict := s.invoke(logger.WithCorrelation(ctx, env.CorrelationID), handler, env)
		switch verdict {
		case Ack:
			if err := reader.CommitMessages(ctx, msg); err != nil {
				return err
			}
		case NackDead:
			s.dlq.Sideline(ctx, sub.topic, msg.Value, errors.ErrPoisoned)
			if err := reader.CommitMessages(ctx, msg); err != nil {
				return err
			}
		case NackRetry:
			// Leave the offset uncommitted; the broker redelivers after
			// the reader restarts.
			log.Warn("Handler exhausted retries, requesting redelivery",
				zap.String("type", env.Type),
				zap.String("message_id", env.MessageID),
			)
			return errRedeliver
		}
	}
}

// invoke runs the handler, absorbing NackRetry verdicts with a short
// in-process backoff before escalating to broker redelivery.
func (s *Subscriber) invoke(ctx context.Context, handler Handler, env *codec.Envelope) Verdict {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 5 * time.Second

	verdict := handler(ctx, env)
	for attempt := 0; verdict == NackRetry && attempt < handlerMaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return verdict
		case <-time.After(policy.NextBackOff()):
		}
		verdict = handler(ctx, env)
	}
	return verdict
}

var errRedeliver = errorString("handler requested redelivery")

type errorString string

func (e errorString) Error() string { return string(e) }

// Close stops the subscription and waits for in-flight handler calls to
// drain.
func (sub *Subscription) Close() {
	sub.cancel()
	<-sub.done
}

// Drain waits for several subscriptions to finish.
func Drain(subs ...*Subscription) {
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *Subscription) {
			defer wg.Done()
			s.Close()
		}(sub)
	}
	wg.Wait()
}
