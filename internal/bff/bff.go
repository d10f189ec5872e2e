// Package bff is the HTTP edge of the system: it admits influencer
// registrations, mints the correlation id that threads through the whole
// saga, and streams contract outcomes back to clients.
package bff

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/bus"
	"github.com/alpespartners/saga-orchestrator/internal/codec"
	redisx "github.com/alpespartners/saga-orchestrator/pkg/redis"
)

// ServiceName is stamped as source_service on commands the BFF emits.
const ServiceName = "bff"

// snapshotKey stores the last contract event so a client connecting after
// the fact still sees the most recent outcome.
const snapshotKey = "bff:last_contract_event"

// Publisher is the bus surface the BFF needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, env *codec.Envelope) error
}

// Service wires the admission endpoint to the bus and fans contract events
// out to connected stream clients.
type Service struct {
	pub   Publisher
	redis *redisx.Client
	log   *zap.Logger

	mu      sync.Mutex
	streams map[chan []byte]struct{}
}

// NewService builds the BFF service. redis may be nil; the stream then
// starts empty instead of replaying the last snapshot.
func NewService(pub Publisher, redis *redisx.Client, log *zap.Logger) *Service {
	return &Service{
		pub:     pub,
		redis:   redis,
		log:     log.With(zap.String("module", "bff")),
		streams: make(map[chan []byte]struct{}),
	}
}

// Attach subscribes the BFF to contract outcomes. Each BFF instance uses a
// unique group so every instance sees every event; the stream is a fan-out,
// not a work queue.
func (s *Service) Attach(ctx context.Context, sub *bus.Subscriber) []*bus.Subscription {
	group := "bff-stream-" + uuid.NewString()
	return []*bus.Subscription{
		sub.Subscribe(ctx, bus.TopicContractEvents, group, s.HandleContractEvent),
	}
}

// HandleContractEvent snapshots the event and pushes it to every connected
// stream client. Stream delivery is best effort; the event is always acked.
func (s *Service) HandleContractEvent(ctx context.Context, env *codec.Envelope) bus.Verdict {
	raw, err := env.Encode()
	if err != nil {
		s.log.Warn("Encode contract event for stream failed", zap.Error(err))
		return bus.Ack
	}

	if s.redis != nil {
		if err := s.redis.Set(ctx, snapshotKey, raw, 0).Err(); err != nil {
			s.log.Warn("Store contract snapshot failed", zap.Error(err))
		}
	}

	s.mu.Lock()
	for ch := range s.streams {
		select {
		case ch <- raw:
		default:
			// Slow consumer; it catches up from the snapshot.
		}
	}
	s.mu.Unlock()
	return bus.Ack
}

// subscribeStream registers a stream client and returns its channel plus the
// deregistration function.
func (s *Service) subscribeStream() (chan []byte, func()) {
	ch := make(chan []byte, 16)
	s.mu.Lock()
	s.streams[ch] = struct{}{}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.streams, ch)
		s.mu.Unlock()
	}
}

// lastSnapshot returns the most recent contract event, if any.
func (s *Service) lastSnapshot(ctx context.Context) []byte {
	if s.redis == nil {
		return nil
	}
	raw, err := s.redis.Get(ctx, snapshotKey).Bytes()
	if err != nil {
		return nil
	}
	return raw
}
