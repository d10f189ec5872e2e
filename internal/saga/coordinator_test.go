package saga

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/bus"
	"github.com/alpespartners/saga-orchestrator/internal/codec"
	"github.com/alpespartners/saga-orchestrator/internal/sagalog"
)

type published struct {
	topic string
	env   *codec.Envelope
}

// fakePublisher records publishes and can be told to fail per topic.
type fakePublisher struct {
	mu        sync.Mutex
	published []published
	fail      map[string]error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{fail: make(map[string]error)}
}

func (f *fakePublisher) Publish(_ context.Context, topic string, env *codec.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[topic]; ok {
		return err
	}
	f.published = append(f.published, published{topic: topic, env: env})
	return nil
}

func (f *fakePublisher) onTopic(topic string) []*codec.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*codec.Envelope
	for _, p := range f.published {
		if p.topic == topic {
			out = append(out, p.env)
		}
	}
	return out
}

func (f *fakePublisher) failTopic(topic string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, topic)
		return
	}
	f.fail[topic] = err
}

func newTestCoordinator(t *testing.T, opts Options) (*Coordinator, *sagalog.Memory, *fakePublisher) {
	t.Helper()
	store := sagalog.NewMemory()
	pub := newFakePublisher()
	coord := NewCoordinator(store, pub, zap.NewNop(), opts)
	t.Cleanup(coord.Stop)
	return coord, store, pub
}

func mustEnvelope(t *testing.T, kind, correlationID string, payload interface{}) *codec.Envelope {
	t.Helper()
	env, err := codec.NewEnvelope(kind, correlationID, "test", payload)
	require.NoError(t, err)
	return env
}

func triggerEnvelope(t *testing.T, correlationID string) *codec.Envelope {
	t.Helper()
	return mustEnvelope(t, codec.KindInfluencerRegistered, correlationID, codec.InfluencerRegistered{
		InfluencerID: "inf-1",
		Name:         "Dana",
		Email:        "dana@example.com",
		Categories:   []string{"fitness", "travel"},
		RegisteredAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// campaignCreatedEnvelope echoes the last RegisterCampaign command back as
// the Campaigns service would.
func campaignCreatedEnvelope(t *testing.T, pub *fakePublisher, correlationID string) *codec.Envelope {
	t.Helper()
	cmds := pub.onTopic(bus.TopicCampaignCommands)
	require.NotEmpty(t, cmds)
	var cmd codec.RegisterCampaign
	require.NoError(t, cmds[len(cmds)-1].DecodePayload(&cmd))
	return mustEnvelope(t, codec.KindCampaignCreated, correlationID, codec.CampaignCreated{
		CampaignID:       cmd.CampaignID,
		Name:             cmd.Name,
		Commission:       cmd.Commission,
		Period:           cmd.Period,
		TargetCategories: cmd.TargetCategories,
		OriginInfluencer: cmd.OriginInfluencer,
	})
}

func contractCreatedEnvelope(t *testing.T, pub *fakePublisher, correlationID string) *codec.Envelope {
	t.Helper()
	cmds := pub.onTopic(bus.TopicContractCommands)
	require.NotEmpty(t, cmds)
	var cmd codec.CreateContract
	require.NoError(t, cmds[len(cmds)-1].DecodePayload(&cmd))
	return mustEnvelope(t, codec.KindContractCreated, correlationID, codec.ContractCreated{
		ContractID:   cmd.ContractID,
		InfluencerID: cmd.Influencer.ID,
		CampaignID:   cmd.Campaign.ID,
		TotalAmount:  cmd.BaseAmount,
		Currency:     cmd.Currency,
		ContractType: cmd.ContractType,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
	})
}

func contractErrorEnvelope(t *testing.T, correlationID string) *codec.Envelope {
	t.Helper()
	return mustEnvelope(t, codec.KindContractError, correlationID, codec.ContractError{
		ContractID:  "con-1",
		CampaignID:  "cam-1",
		ErrorKind:   "invalid",
		ErrorDetail: "base amount must be positive",
	})
}

func campaignDeletedEnvelope(t *testing.T, correlationID string) *codec.Envelope {
	t.Helper()
	return mustEnvelope(t, codec.KindCampaignDeleted, correlationID, codec.CampaignDeleted{
		CampaignID: "cam-1",
		Reason:     "compensation",
		DeletedAt:  time.Now().UTC().Format(time.RFC3339),
	})
}

func entrySummary(t *testing.T, store *sagalog.Memory, correlationID string) []string {
	t.Helper()
	entries, err := store.ReadByCorrelation(context.Background(), correlationID)
	require.NoError(t, err)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = fmt.Sprintf("%d:%s", e.StepIndex, e.EventKind)
	}
	return out
}

func TestHappyPathCompletes(t *testing.T) {
	coord, store, pub := newTestCoordinator(t, Options{})
	ctx := context.Background()
	corr := "corr-happy"

	assert.Equal(t, bus.Ack, coord.HandleEvent(ctx, triggerEnvelope(t, corr)))
	require.Len(t, pub.onTopic(bus.TopicCampaignCommands), 1)

	assert.Equal(t, bus.Ack, coord.HandleEvent(ctx, campaignCreatedEnvelope(t, pub, corr)))
	require.Len(t, pub.onTopic(bus.TopicContractCommands), 1)

	assert.Equal(t, bus.Ack, coord.HandleEvent(ctx, contractCreatedEnvelope(t, pub, corr)))

	saga, err := store.GetSaga(ctx, corr)
	require.NoError(t, err)
	assert.Equal(t, sagalog.StatusCompleted, saga.Status)
	assert.Equal(t, []string{
		"0:Start",
		"1:CampaignCreated",
		"2:ContractCreated",
		"3:End",
	}, entrySummary(t, store, corr))
	assert.Empty(t, pub.onTopic(bus.TopicCampaignDeletion))
}

func TestForwardCommandsCarryCorrelationAndStableIDs(t *testing.T) {
	coord, _, pub := newTestCoordinator(t, Options{})
	ctx := context.Background()
	corr := "corr-ids"

	coord.HandleEvent(ctx, triggerEnvelope(t, corr))
	coord.HandleEvent(ctx, campaignCreatedEnvelope(t, pub, corr))

	var register codec.RegisterCampaign
	require.NoError(t, pub.onTopic(bus.TopicCampaignCommands)[0].DecodePayload(&register))
	var create codec.CreateContract
	require.NoError(t, pub.onTopic(bus.TopicContractCommands)[0].DecodePayload(&create))

	for _, env := range pub.onTopic(bus.TopicCampaignCommands) {
		assert.Equal(t, corr, env.CorrelationID)
	}
	assert.Equal(t, register.CampaignID, create.Campaign.ID)
	assert.Equal(t, "Welcome campaign for Dana", register.Name)
	assert.True(t, register.AutoActivate)
	assert.Equal(t, codec.CommissionCPA, register.Commission.Type)
	assert.InDelta(t, 100.0, register.Commission.Amount, 0.001)
	assert.Equal(t, codec.ContractOneOff, create.ContractType)
}

func TestContractErrorCompensates(t *testing.T) {
	coord, store, pub := newTestCoordinator(t, Options{})
	ctx := context.Background()
	corr := "corr-comp"

	coord.HandleEvent(ctx, triggerEnvelope(t, corr))
	coord.HandleEvent(ctx, campaignCreatedEnvelope(t, pub, corr))

	assert.Equal(t, bus.Ack, coord.HandleEvent(ctx, contractErrorEnvelope(t, corr)))
	saga, err := store.GetSaga(ctx, corr)
	require.NoError(t, err)
	assert.Equal(t, sagalog.StatusCompensating, saga.Status)
	require.Len(t, pub.onTopic(bus.TopicCampaignDeletion), 1)

	var del codec.DeleteCampaign
	require.NoError(t, pub.onTopic(bus.TopicCampaignDeletion)[0].DecodePayload(&del))
	var register codec.RegisterCampaign
	require.NoError(t, pub.onTopic(bus.TopicCampaignCommands)[0].DecodePayload(&register))
	assert.Equal(t, register.CampaignID, del.CampaignID)

	assert.Equal(t, bus.Ack, coord.HandleEvent(ctx, campaignDeletedEnvelope(t, corr)))
	saga, err = store.GetSaga(ctx, corr)
	require.NoError(t, err)
	assert.Equal(t, sagalog.StatusCompensated, saga.Status)
	assert.Equal(t, []string{
		"0:Start",
		"1:CampaignCreated",
		"2:ContractError",
		"3:CampaignDeleted",
		"4:End",
	}, entrySummary(t, store, corr))
}

func TestCampaignRejectedFailsWithoutCompensation(t *testing.T) {
	coord, store, pub := newTestCoordinator(t, Options{})
	ctx := context.Background()
	corr := "corr-reject"

	coord.HandleEvent(ctx, triggerEnvelope(t, corr))
	rejected := mustEnvelope(t, codec.KindCampaignRejected, corr, codec.CampaignRejected{
		CampaignID: "cam-1",
		Name:       "Welcome campaign for Dana",
		Reason:     "campaign name already in use",
	})
	assert.Equal(t, bus.Ack, coord.HandleEvent(ctx, rejected))

	saga, err := store.GetSaga(ctx, corr)
	require.NoError(t, err)
	assert.Equal(t, sagalog.StatusFailed, saga.Status)
	assert.Empty(t, pub.onTopic(bus.TopicCampaignDeletion))
	assert.Equal(t, []string{
		"0:Start",
		"1:CampaignRejected",
	}, entrySummary(t, store, corr))
}

func TestDuplicateTriggerStartsOneSaga(t *testing.T) {
	coord, _, pub := newTestCoordinator(t, Options{})
	ctx := context.Background()
	corr := "corr-dup-trigger"

	first := triggerEnvelope(t, corr)
	assert.Equal(t, bus.Ack, coord.HandleEvent(ctx, first))
	assert.Equal(t, bus.Ack, coord.HandleEvent(ctx, triggerEnvelope(t, corr)))

	assert.Len(t, pub.onTopic(bus.TopicCampaignCommands), 1)
}

func TestRedeliveredEventProducesNoNewCommand(t *testing.T) {
	coord, _, pub := newTestCoordinator(t, Options{})
	ctx := context.Background()
	corr := "corr-redeliver"

	coord.HandleEvent(ctx, triggerEnvelope(t, corr))
	created := campaignCreatedEnvelope(t, pub, corr)
	assert.Equal(t, bus.Ack, coord.HandleEvent(ctx, created))
	assert.Equal(t, bus.Ack, coord.HandleEvent(ctx, created))

	assert.Len(t, pub.onTopic(bus.TopicContractCommands), 1)
}

func TestLateEventAfterTerminalIsDropped(t *testing.T) {
	coord, store, pub := newTestCoordinator(t, Options{})
	ctx := context.Background()
	corr := "corr-late"

	coord.HandleEvent(ctx, triggerEnvelope(t, corr))
	coord.HandleEvent(ctx, campaignCreatedEnvelope(t, pub, corr))
	coord.HandleEvent(ctx, contractCreatedEnvelope(t, pub, corr))

	before := entrySummary(t, store, corr)
	assert.Equal(t, bus.Ack, coord.HandleEvent(ctx, contractErrorEnvelope(t, corr)))

	saga, err := store.GetSaga(ctx, corr)
	require.NoError(t, err)
	assert.Equal(t, sagalog.StatusCompleted, saga.Status)
	assert.Equal(t, before, entrySummary(t, store, corr))
	assert.Empty(t, pub.onTopic(bus.TopicCampaignDeletion))
}

func TestEventForUnknownSagaIsDropped(t *testing.T) {
	coord, _, pub := newTestCoordinator(t, Options{})
	verdict := coord.HandleEvent(context.Background(), contractErrorEnvelope(t, "corr-unknown"))
	assert.Equal(t, bus.Ack, verdict)
	assert.Empty(t, pub.onTopic(bus.TopicCampaignDeletion))
}

func TestUnknownKindGoesToDeadLetter(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, Options{})
	env := mustEnvelope(t, "SomethingElse", "corr-x", map[string]string{"a": "b"})
	assert.Equal(t, bus.NackDead, coord.HandleEvent(context.Background(), env))
}

func TestCampaignWithoutOriginCompletesEarly(t *testing.T) {
	coord, store, pub := newTestCoordinator(t, Options{})
	ctx := context.Background()
	corr := "corr-no-origin"

	coord.HandleEvent(ctx, triggerEnvelope(t, corr))
	created := mustEnvelope(t, codec.KindCampaignCreated, corr, codec.CampaignCreated{
		CampaignID: "cam-standalone",
		Name:       "Manual campaign",
	})
	assert.Equal(t, bus.Ack, coord.HandleEvent(ctx, created))

	saga, err := store.GetSaga(ctx, corr)
	require.NoError(t, err)
	assert.Equal(t, sagalog.StatusCompleted, saga.Status)
	assert.Empty(t, pub.onTopic(bus.TopicContractCommands))
}

func TestRecoverRepublishesPendingCommand(t *testing.T) {
	coord, store, pub := newTestCoordinator(t, Options{})
	ctx := context.Background()
	corr := "corr-recover"

	pub.failTopic(bus.TopicCampaignCommands, fmt.Errorf("broker unavailable"))
	assert.Equal(t, bus.NackRetry, coord.HandleEvent(ctx, triggerEnvelope(t, corr)))
	assert.Empty(t, pub.onTopic(bus.TopicCampaignCommands))

	saga, err := store.GetSaga(ctx, corr)
	require.NoError(t, err)
	assert.Equal(t, sagalog.StatusRunning, saga.Status)
	wantCampaign := saga.Context["campaign_id"]

	// Restart: a fresh coordinator over the same log resumes the saga.
	restarted := NewCoordinator(store, pub, zap.NewNop(), Options{})
	t.Cleanup(restarted.Stop)
	pub.failTopic(bus.TopicCampaignCommands, nil)
	require.NoError(t, restarted.Recover(ctx))

	cmds := pub.onTopic(bus.TopicCampaignCommands)
	require.Len(t, cmds, 1)
	var register codec.RegisterCampaign
	require.NoError(t, cmds[0].DecodePayload(&register))
	assert.Equal(t, wantCampaign, register.CampaignID)
	assert.Equal(t, corr, cmds[0].CorrelationID)
}

func TestRecoverResumesCompensation(t *testing.T) {
	coord, store, pub := newTestCoordinator(t, Options{CompensationMaxRetries: 1})
	ctx := context.Background()
	corr := "corr-recover-comp"

	coord.HandleEvent(ctx, triggerEnvelope(t, corr))
	coord.HandleEvent(ctx, campaignCreatedEnvelope(t, pub, corr))

	pub.failTopic(bus.TopicCampaignDeletion, fmt.Errorf("broker unavailable"))
	assert.Equal(t, bus.Ack, coord.HandleEvent(ctx, contractErrorEnvelope(t, corr)))
	assert.Empty(t, pub.onTopic(bus.TopicCampaignDeletion))

	saga, err := store.GetSaga(ctx, corr)
	require.NoError(t, err)
	assert.Equal(t, sagalog.StatusCompensating, saga.Status)
	assert.Positive(t, saga.Retries)

	restarted := NewCoordinator(store, pub, zap.NewNop(), Options{})
	t.Cleanup(restarted.Stop)
	pub.failTopic(bus.TopicCampaignDeletion, nil)
	require.NoError(t, restarted.Recover(ctx))
	assert.Len(t, pub.onTopic(bus.TopicCampaignDeletion), 1)
}

func TestStepOneTimeoutFailsSaga(t *testing.T) {
	coord, store, _ := newTestCoordinator(t, Options{StepTimeout: 30 * time.Millisecond})
	ctx := context.Background()
	corr := "corr-timeout-1"

	coord.HandleEvent(ctx, triggerEnvelope(t, corr))

	require.Eventually(t, func() bool {
		saga, err := store.GetSaga(ctx, corr)
		return err == nil && saga.Status == sagalog.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{
		"0:Start",
		"1:StepTimedOut",
	}, entrySummary(t, store, corr))
}

func TestStepTwoTimeoutCompensates(t *testing.T) {
	coord, store, pub := newTestCoordinator(t, Options{StepTimeout: 10 * time.Minute})
	ctx := context.Background()
	corr := "corr-timeout-2"

	coord.HandleEvent(ctx, triggerEnvelope(t, corr))
	coord.HandleEvent(ctx, campaignCreatedEnvelope(t, pub, corr))

	// Fire the deadline directly instead of waiting it out.
	coord.onStepTimeout(corr, StepCreateContract)

	saga, err := store.GetSaga(ctx, corr)
	require.NoError(t, err)
	assert.Equal(t, sagalog.StatusCompensating, saga.Status)
	assert.Len(t, pub.onTopic(bus.TopicCampaignDeletion), 1)
	assert.Contains(t, entrySummary(t, store, corr), "2:StepTimedOut")
}

func TestTimeoutAfterSettledStepIsNoOp(t *testing.T) {
	coord, store, pub := newTestCoordinator(t, Options{StepTimeout: 10 * time.Minute})
	ctx := context.Background()
	corr := "corr-timeout-settled"

	coord.HandleEvent(ctx, triggerEnvelope(t, corr))
	coord.HandleEvent(ctx, campaignCreatedEnvelope(t, pub, corr))
	coord.HandleEvent(ctx, contractCreatedEnvelope(t, pub, corr))

	coord.onStepTimeout(corr, StepCreateContract)

	saga, err := store.GetSaga(ctx, corr)
	require.NoError(t, err)
	assert.Equal(t, sagalog.StatusCompleted, saga.Status)
	assert.Empty(t, pub.onTopic(bus.TopicCampaignDeletion))
}

func TestConcurrentSagasStayIsolated(t *testing.T) {
	coord, store, pub := newTestCoordinator(t, Options{})
	ctx := context.Background()

	const n = 8
	triggers := make([]*codec.Envelope, n)
	for i := range triggers {
		triggers[i] = triggerEnvelope(t, fmt.Sprintf("corr-par-%d", i))
	}
	var wg sync.WaitGroup
	for _, env := range triggers {
		wg.Add(1)
		go func(env *codec.Envelope) {
			defer wg.Done()
			coord.HandleEvent(ctx, env)
		}(env)
	}
	wg.Wait()

	assert.Len(t, pub.onTopic(bus.TopicCampaignCommands), n)
	for i := 0; i < n; i++ {
		saga, err := store.GetSaga(ctx, fmt.Sprintf("corr-par-%d", i))
		require.NoError(t, err)
		assert.Equal(t, sagalog.StatusRunning, saga.Status)
	}
}
