package bus

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/codec"
	"github.com/alpespartners/saga-orchestrator/pkg/logger"
)

// fakeFetcher feeds a fixed batch of messages and records commits.
type fakeFetcher struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
}

func (f *fakeFetcher) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := f.queue[0]
	f.queue = f.queue[1:]
	return msg, nil
}

func (f *fakeFetcher) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeFetcher) Close() error { return nil }

func encodedEnvelope(t *testing.T, kind string) []byte {
	t.Helper()
	env, err := codec.NewEnvelope(kind, "corr-1", "test", map[string]string{"k": "v"})
	require.NoError(t, err)
	raw, err := env.Encode()
	require.NoError(t, err)
	return raw
}

func newTestSubscriber(fetcher *fakeFetcher) *Subscriber {
	s := NewSubscriber("broker:9092", NewDeadLetter(nil, zap.NewNop()), zap.NewNop())
	s.newReader = func(topic, group string) messageFetcher { return fetcher }
	return s
}

func runConsume(t *testing.T, s *Subscriber, fetcher *fakeFetcher, handler Handler) error {
	t.Helper()
	sub := &Subscription{topic: "t", group: "g", done: make(chan struct{})}
	return s.consume(context.Background(), fetcher, sub, handler, zap.NewNop())
}

func TestConsumeAcksAndCommits(t *testing.T) {
	fetcher := &fakeFetcher{queue: []kafka.Message{
		{Value: encodedEnvelope(t, codec.KindCampaignCreated)},
		{Value: encodedEnvelope(t, codec.KindContractCreated)},
	}}
	s := newTestSubscriber(fetcher)

	var handled []string
	err := runConsume(t, s, fetcher, func(_ context.Context, env *codec.Envelope) Verdict {
		handled = append(handled, env.Type)
		return Ack
	})
	require.NoError(t, err)
	assert.Equal(t, []string{codec.KindCampaignCreated, codec.KindContractCreated}, handled)
	assert.Len(t, fetcher.committed, 2)
}

func TestConsumeTagsContextWithCorrelation(t *testing.T) {
	fetcher := &fakeFetcher{queue: []kafka.Message{
		{Value: encodedEnvelope(t, codec.KindCampaignCreated)},
	}}
	s := newTestSubscriber(fetcher)

	var seen string
	err := runConsume(t, s, fetcher, func(ctx context.Context, _ *codec.Envelope) Verdict {
		seen = logger.CorrelationFromContext(ctx)
		return Ack
	})
	require.NoError(t, err)
	assert.Equal(t, "corr-1", seen)
}

func TestConsumeSidelinesUndecodableAndCommits(t *testing.T) {
	fetcher := &fakeFetcher{queue: []kafka.Message{
		{Value: []byte(`not json at all`)},
		{Value: encodedEnvelope(t, codec.KindCampaignCreated)},
	}}
	s := newTestSubscriber(fetcher)

	var handled int
	err := runConsume(t, s, fetcher, func(context.Context, *codec.Envelope) Verdict {
		handled++
		return Ack
	})
	require.NoError(t, err)
	// The malformed message never reaches the handler but is committed so
	// it is not redelivered.
	assert.Equal(t, 1, handled)
	assert.Len(t, fetcher.committed, 2)
}

func TestConsumeNackDeadCommits(t *testing.T) {
	fetcher := &fakeFetcher{queue: []kafka.Message{
		{Value: encodedEnvelope(t, codec.KindCampaignCreated)},
	}}
	s := newTestSubscriber(fetcher)

	err := runConsume(t, s, fetcher, func(context.Context, *codec.Envelope) Verdict {
		return NackDead
	})
	require.NoError(t, err)
	assert.Len(t, fetcher.committed, 1)
}

func TestConsumeNackRetryLeavesUncommitted(t *testing.T) {
	fetcher := &fakeFetcher{queue: []kafka.Message{
		{Value: encodedEnvelope(t, codec.KindCampaignCreated)},
	}}
	s := newTestSubscriber(fetcher)

	var calls int
	err := runConsume(t, s, fetcher, func(context.Context, *codec.Envelope) Verdict {
		calls++
		return NackRetry
	})
	assert.ErrorIs(t, err, errRedeliver)
	// First attempt plus the in-process retry budget.
	assert.Equal(t, 1+handlerMaxRetries, calls)
	assert.Empty(t, fetcher.committed)
}

func TestInvokeRecoversAfterTransientNack(t *testing.T) {
	s := newTestSubscriber(&fakeFetcher{})
	env := &codec.Envelope{MessageID: "m", CorrelationID: "c", Type: codec.KindCampaignCreated}

	var calls int
	verdict := s.invoke(context.Background(), func(context.Context, *codec.Envelope) Verdict {
		calls++
		if calls == 1 {
			return NackRetry
		}
		return Ack
	}, env)
	assert.Equal(t, Ack, verdict)
	assert.Equal(t, 2, calls)
}

func TestSubscriptionCloseDrains(t *testing.T) {
	fetcher := &fakeFetcher{queue: []kafka.Message{
		{Value: encodedEnvelope(t, codec.KindCampaignCreated)},
	}}
	s := newTestSubscriber(fetcher)

	started := make(chan struct{})
	release := make(chan struct{})
	sub := s.Subscribe(context.Background(), "t", "g", func(context.Context, *codec.Envelope) Verdict {
		close(started)
		<-release
		return Ack
	})

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}
	close(release)
	sub.Close()
	assert.Len(t, fetcher.committed, 1)
}
