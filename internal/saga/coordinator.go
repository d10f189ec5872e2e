package saga

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/bus"
	"github.com/alpespartners/saga-orchestrator/internal/codec"
	"github.com/alpespartners/saga-orchestrator/internal/metrics"
	"github.com/alpespartners/saga-orchestrator/internal/sagalog"
	"github.com/alpespartners/saga-orchestrator/pkg/errors"
)

// ServiceName is stamped as source_service on commands the coordinator emits.
const ServiceName = "saga-coordinator"

// Publisher is the bus surface the coordinator needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, env *codec.Envelope) error
}

// Options tune the coordinator.
type Options struct {
	// StepTimeout is the soft deadline for each step. Zero means the
	// default of ten minutes.
	StepTimeout time.Duration
	// CompensationMaxRetries bounds the compensation publish schedule.
	// Zero means the default of five.
	CompensationMaxRetries int
}

const (
	defaultStepTimeout            = 10 * time.Minute
	defaultCompensationMaxRetries = 5
)

// Coordinator reacts to service events, records progress in the saga log and
// issues the next command. Handling is serialized per correlation id;
// distinct sagas run in parallel.
type Coordinator struct {
	store sagalog.Store
	pub   Publisher
	log   *zap.Logger
	opts  Options
	keys  *keyedMutex

	// routes maps event kinds to handlers. Built once at construction and
	// immutable afterwards.
	routes map[string]func(ctx context.Context, env *codec.Envelope) bus.Verdict

	timerMu sync.Mutex
	timers  map[string]*time.Timer
}

// NewCoordinator builds the coordinator and its routing table.
func NewCoordinator(store sagalog.Store, pub Publisher, log *zap.Logger, opts Options) *Coordinator {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = defaultStepTimeout
	}
	if opts.CompensationMaxRetries <= 0 {
		opts.CompensationMaxRetries = defaultCompensationMaxRetries
	}
	c := &Coordinator{
		store:  store,
		pub:    pub,
		log:    log.With(zap.String("module", "saga")),
		opts:   opts,
		keys:   newKeyedMutex(),
		timers: make(map[string]*time.Timer),
	}
	c.routes = map[string]func(ctx context.Context, env *codec.Envelope) bus.Verdict{
		codec.KindInfluencerRegistered: c.handleInfluencerRegistered,
		codec.KindCampaignCreated:      c.handleCampaignCreated,
		codec.KindCampaignRejected:     c.handleCampaignRejected,
		codec.KindCampaignDeleted:      c.handleCampaignDeleted,
		codec.KindContractCreated:      c.handleContractCreated,
		codec.KindContractError:        c.handleContractError,
	}
	return c
}

// HandleEvent dispatches one envelope through the routing table. Unknown
// kinds go to dead-letter.
func (c *Coordinator) HandleEvent(ctx context.Context, env *codec.Envelope) bus.Verdict {
	handler, ok := c.routes[env.Type]
	if !ok {
		c.log.Warn("Unknown event kind", zap.String("type", env.Type))
		return bus.NackDead
	}
	unlock := c.keys.Lock(env.CorrelationID)
	defer unlock()
	return handler(ctx, env)
}

// Attach subscribes the coordinator to every event topic it observes.
func (c *Coordinator) Attach(ctx context.Context, sub *bus.Subscriber) []*bus.Subscription {
	return []*bus.Subscription{
		sub.Subscribe(ctx, bus.TopicInfluencerEvents, bus.GroupSagaInfluencers, c.HandleEvent),
		sub.Subscribe(ctx, bus.TopicCampaignEvents, bus.GroupSagaCampaigns, c.HandleEvent),
		sub.Subscribe(ctx, bus.TopicContractEvents, bus.GroupSagaContracts, c.HandleEvent),
		sub.Subscribe(ctx, bus.TopicContractErrors, bus.GroupSagaContractErrors, c.HandleEvent),
	}
}

// handleInfluencerRegistered opens a saga and dispatches RegisterCampaign.
func (c *Coordinator) handleInfluencerRegistered(ctx context.Context, env *codec.Envelope) bus.Verdict {
	var evt codec.InfluencerRegistered
	if err := env.DecodePayload(&evt); err != nil {
		c.log.Warn("Undecodable InfluencerRegistered payload", zap.Error(err))
		return bus.NackDead
	}

	saga := &sagalog.Saga{
		CorrelationID: env.CorrelationID,
		Status:        sagalog.StatusRunning,
		CurrentStep:   StepStart,
		Context:       newSagaContext(&evt),
	}
	err := c.store.CreateSaga(ctx, saga)
	if errors.Is(err, errors.ErrDuplicateSaga) {
		// One active saga per trigger.
		c.log.Warn("Duplicate trigger dropped",
			zap.String("correlation_id", env.CorrelationID))
		return bus.Ack
	}
	if err != nil {
		c.log.Error("Create saga failed", zap.Error(err))
		return bus.NackRetry
	}

	if verdict := c.append(ctx, saga, StepStart, KindStart, env.Payload); verdict != bus.Ack {
		return verdict
	}
	metrics.SagasStarted.Inc()
	c.log.Info("Saga started", zap.String("correlation_id", saga.CorrelationID))

	return c.dispatchRegisterCampaign(ctx, saga)
}

// handleCampaignCreated logs step 1 and dispatches CreateContract, or
// completes the saga when the campaign has no origin influencer.
func (c *Coordinator) handleCampaignCreated(ctx context.Context, env *codec.Envelope) bus.Verdict {
	saga, verdict := c.resolve(ctx, env, sagalog.StatusRunning)
	if saga == nil {
		return verdict
	}
	var evt codec.CampaignCreated
	if err := env.DecodePayload(&evt); err != nil {
		c.log.Warn("Undecodable CampaignCreated payload", zap.Error(err))
		return bus.NackDead
	}
	if dup, verdict := c.dedupe(ctx, saga, StepRegisterCampaign, codec.KindCampaignCreated); dup {
		return verdict
	}
	c.cancelTimer(saga.CorrelationID)

	if verdict := c.append(ctx, saga, StepRegisterCampaign, codec.KindCampaignCreated, env.Payload); verdict != bus.Ack {
		return verdict
	}

	if evt.OriginInfluencer == nil {
		// Campaign created outside an influencer flow; nothing to contract.
		if verdict := c.append(ctx, saga, StepCreateContract, KindEnd, nil); verdict != bus.Ack {
			return verdict
		}
		return c.finish(ctx, saga, StepCreateContract, sagalog.StatusCompleted)
	}

	saga.CurrentStep = StepRegisterCampaign
	if verdict := c.update(ctx, saga); verdict != bus.Ack {
		return verdict
	}
	return c.dispatchCreateContract(ctx, saga)
}

// handleContractCreated closes the happy path.
func (c *Coordinator) handleContractCreated(ctx context.Context, env *codec.Envelope) bus.Verdict {
	saga, verdict := c.resolve(ctx, env, sagalog.StatusRunning)
	if saga == nil {
		return verdict
	}
	if dup, verdict := c.dedupe(ctx, saga, StepCreateContract, codec.KindContractCreated); dup {
		return verdict
	}
	c.cancelTimer(saga.CorrelationID)

	if verdict := c.append(ctx, saga, StepCreateContract, codec.KindContractCreated, env.Payload); verdict != bus.Ack {
		return verdict
	}
	if verdict := c.append(ctx, saga, StepEnd, KindEnd, nil); verdict != bus.Ack {
		return verdict
	}
	metrics.SagasCompleted.Inc()
	c.log.Info("Saga completed", zap.String("correlation_id", saga.CorrelationID))
	return c.finish(ctx, saga, StepEnd, sagalog.StatusCompleted)
}

// handleContractError logs the failure and starts compensation.
func (c *Coordinator) handleContractError(ctx context.Context, env *codec.Envelope) bus.Verdict {
	saga, verdict := c.resolve(ctx, env, sagalog.StatusRunning)
	if saga == nil {
		return verdict
	}
	var evt codec.ContractError
	if err := env.DecodePayload(&evt); err != nil {
		c.log.Warn("Undecodable ContractError payload", zap.Error(err))
		return bus.NackDead
	}
	if dup, verdict := c.dedupe(ctx, saga, StepCreateContract, codec.KindContractError); dup {
		return verdict
	}
	c.cancelTimer(saga.CorrelationID)

	if verdict := c.append(ctx, saga, StepCreateContract, codec.KindContractError, env.Payload); verdict != bus.Ack {
		return verdict
	}
	saga.Status = sagalog.StatusCompensating
	saga.CurrentStep = StepCreateContract
	if verdict := c.update(ctx, saga); verdict != bus.Ack {
		return verdict
	}
	c.log.Warn("Saga compensating",
		zap.String("correlation_id", saga.CorrelationID),
		zap.String("error_kind", evt.ErrorKind),
		zap.String("error_detail", evt.ErrorDetail),
	)
	return c.compensate(ctx, saga, "compensation for contract error: "+evt.ErrorDetail)
}

// handleCampaignRejected terminates the saga as Failed; no step completed,
// so there is nothing to compensate.
func (c *Coordinator) handleCampaignRejected(ctx context.Context, env *codec.Envelope) bus.Verdict {
	saga, verdict := c.resolve(ctx, env, sagalog.StatusRunning)
	if saga == nil {
		return verdict
	}
	if dup, verdict := c.dedupe(ctx, saga, StepRegisterCampaign, codec.KindCampaignRejected); dup {
		return verdict
	}
	c.cancelTimer(saga.CorrelationID)

	if verdict := c.append(ctx, saga, StepRegisterCampaign, codec.KindCampaignRejected, env.Payload); verdict != bus.Ack {
		return verdict
	}
	metrics.SagasFailed.Inc()
	c.log.Warn("Saga failed", zap.String("correlation_id", saga.CorrelationID))
	return c.finish(ctx, saga, StepRegisterCampaign, sagalog.StatusFailed)
}

// handleCampaignDeleted confirms a compensation and terminates the saga.
func (c *Coordinator) handleCampaignDeleted(ctx context.Context, env *codec.Envelope) bus.Verdict {
	saga, verdict := c.resolve(ctx, env, sagalog.StatusCompensating)
	if saga == nil {
		return verdict
	}
	if dup, verdict := c.dedupe(ctx, saga, StepEnd, codec.KindCampaignDeleted); dup {
		return verdict
	}

	if verdict := c.append(ctx, saga, StepEnd, codec.KindCampaignDeleted, env.Payload); verdict != bus.Ack {
		return verdict
	}
	if verdict := c.append(ctx, saga, StepEnd+1, KindEnd, nil); verdict != bus.Ack {
		return verdict
	}
	metrics.SagasCompensated.Inc()
	c.log.Info("Saga compensated", zap.String("correlation_id", saga.CorrelationID))
	return c.finish(ctx, saga, StepEnd+1, sagalog.StatusCompensated)
}

// resolve loads the saga for an event and enforces the status it requires.
// A nil saga means the returned verdict stands.
func (c *Coordinator) resolve(ctx context.Context, env *codec.Envelope, want sagalog.Status) (*sagalog.Saga, bus.Verdict) {
	saga, err := c.store.GetSaga(ctx, env.CorrelationID)
	if errors.Is(err, errors.ErrSagaNotFound) {
		c.log.Warn("Event for unknown saga dropped",
			zap.String("type", env.Type),
			zap.String("correlation_id", env.CorrelationID),
		)
		return nil, bus.Ack
	}
	if err != nil {
		c.log.Error("Load saga failed", zap.Error(err))
		return nil, bus.NackRetry
	}
	if saga.Status.Terminal() {
		// Late arrival; the saga row is frozen.
		c.log.Warn("Late event for terminal saga dropped",
			zap.String("type", env.Type),
			zap.String("correlation_id", env.CorrelationID),
			zap.String("status", string(saga.Status)),
		)
		return nil, bus.Ack
	}
	if saga.Status != want {
		c.log.Warn("Event out of order for saga status",
			zap.String("type", env.Type),
			zap.String("correlation_id", env.CorrelationID),
			zap.String("status", string(saga.Status)),
		)
		return nil, bus.Ack
	}
	return saga, bus.Ack
}

// dedupe drops an event whose log entry already exists.
func (c *Coordinator) dedupe(ctx context.Context, saga *sagalog.Saga, stepIndex int, kind string) (bool, bus.Verdict) {
	seen, err := c.store.HasEntry(ctx, saga.CorrelationID, stepIndex, kind)
	if err != nil {
		c.log.Error("Idempotency check failed", zap.Error(err))
		return true, bus.NackRetry
	}
	if seen {
		c.log.Info("Already-logged event dropped",
			zap.String("kind", kind),
			zap.String("correlation_id", saga.CorrelationID),
		)
		return true, bus.Ack
	}
	return false, bus.Ack
}

// append writes one log entry; duplicates are silently dropped.
func (c *Coordinator) append(ctx context.Context, saga *sagalog.Saga, stepIndex int, kind string, payload []byte) bus.Verdict {
	err := c.store.Append(ctx, &sagalog.LogEntry{
		CorrelationID: saga.CorrelationID,
		StepIndex:     stepIndex,
		EventKind:     kind,
		Payload:       payload,
	})
	if err != nil && !errors.Is(err, errors.ErrDuplicateEntry) {
		c.log.Error("Append saga log failed", zap.Error(err))
		return bus.NackRetry
	}
	return bus.Ack
}

func (c *Coordinator) update(ctx context.Context, saga *sagalog.Saga) bus.Verdict {
	if err := c.store.UpdateSaga(ctx, saga); err != nil {
		if errors.Is(err, errors.ErrSagaTerminal) {
			return bus.Ack
		}
		c.log.Error("Update saga failed", zap.Error(err))
		return bus.NackRetry
	}
	return bus.Ack
}

func (c *Coordinator) finish(ctx context.Context, saga *sagalog.Saga, step int, status sagalog.Status) bus.Verdict {
	c.cancelTimer(saga.CorrelationID)
	saga.Status = status
	saga.CurrentStep = step
	return c.update(ctx, saga)
}

// dispatchRegisterCampaign publishes the step 1 forward command. The log
// entry and saga context were persisted before this point.
func (c *Coordinator) dispatchRegisterCampaign(ctx context.Context, saga *sagalog.Saga) bus.Verdict {
	env, err := codec.NewEnvelope(codec.KindRegisterCampaign, saga.CorrelationID, ServiceName, buildRegisterCampaign(saga))
	if err != nil {
		c.log.Error("Encode RegisterCampaign failed", zap.Error(err))
		return bus.NackDead
	}
	c.armStepTimer(saga.CorrelationID, StepRegisterCampaign)
	if err := c.pub.Publish(ctx, bus.TopicCampaignCommands, env); err != nil {
		c.log.Error("Dispatch RegisterCampaign failed", zap.Error(err))
		return bus.NackRetry
	}
	return bus.Ack
}

// dispatchCreateContract publishes the step 2 forward command.
func (c *Coordinator) dispatchCreateContract(ctx context.Context, saga *sagalog.Saga) bus.Verdict {
	env, err := codec.NewEnvelope(codec.KindCreateContract, saga.CorrelationID, ServiceName, buildCreateContract(saga))
	if err != nil {
		c.log.Error("Encode CreateContract failed", zap.Error(err))
		return bus.NackDead
	}
	c.armStepTimer(saga.CorrelationID, StepCreateContract)
	if err := c.pub.Publish(ctx, bus.TopicContractCommands, env); err != nil {
		c.log.Error("Dispatch CreateContract failed", zap.Error(err))
		return bus.NackRetry
	}
	return bus.Ack
}

// compensate publishes DeleteCampaign, but only when the forward event it
// undoes was logged. Retries follow a bounded exponential backoff; on
// exhaustion the saga stays Compensating for the operator.
func (c *Coordinator) compensate(ctx context.Context, saga *sagalog.Saga, reason string) bus.Verdict {
	forward, err := c.store.HasEntry(ctx, saga.CorrelationID, StepRegisterCampaign, codec.KindCampaignCreated)
	if err != nil {
		c.log.Error("Compensation forward check failed", zap.Error(err))
		return bus.NackRetry
	}
	if !forward {
		// No campaign was created; nothing to undo.
		c.log.Warn("No forward event logged, nothing to compensate",
			zap.String("correlation_id", saga.CorrelationID))
		return c.finish(ctx, saga, saga.CurrentStep, sagalog.StatusFailed)
	}

	done, err := c.store.HasEntry(ctx, saga.CorrelationID, StepEnd, codec.KindCampaignDeleted)
	if err != nil {
		c.log.Error("Compensation idempotency check failed", zap.Error(err))
		return bus.NackRetry
	}
	if done {
		// The confirmation landed but the saga row was not finalized,
		// e.g. a crash between append and update. Converge now.
		if verdict := c.append(ctx, saga, StepEnd+1, KindEnd, nil); verdict != bus.Ack {
			return verdict
		}
		return c.finish(ctx, saga, StepEnd+1, sagalog.StatusCompensated)
	}

	env, err := codec.NewEnvelope(codec.KindDeleteCampaign, saga.CorrelationID, ServiceName, buildDeleteCampaign(saga, reason))
	if err != nil {
		c.log.Error("Encode DeleteCampaign failed", zap.Error(err))
		return bus.NackDead
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.opts.CompensationMaxRetries)), ctx)
	attempt := 0
	err = backoff.Retry(func() error {
		if attempt > 0 {
			metrics.CompensationRetries.Inc()
			saga.Retries++
		}
		attempt++
		return c.pub.Publish(ctx, bus.TopicCampaignDeletion, env)
	}, policy)
	if updateVerdict := c.update(ctx, saga); updateVerdict != bus.Ack {
		return updateVerdict
	}
	if err != nil {
		// Operator alert: the saga stays Compensating.
		c.log.Error("Compensation dispatch exhausted retries",
			zap.String("correlation_id", saga.CorrelationID),
			zap.Error(err),
		)
		return bus.Ack
	}
	return bus.Ack
}
