package contracts

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/bus"
	"github.com/alpespartners/saga-orchestrator/internal/codec"
	"github.com/alpespartners/saga-orchestrator/internal/outbox"
	"github.com/alpespartners/saga-orchestrator/pkg/errors"
	"github.com/alpespartners/saga-orchestrator/pkg/logger"
)

// Publisher sends error events that have no domain write to ride the outbox
// with.
type Publisher interface {
	Publish(ctx context.Context, topic string, env *codec.Envelope) error
}

// Service applies CreateContract commands.
type Service struct {
	store Store
	pub   Publisher
	log   *zap.Logger
}

// NewService creates the contracts command handler.
func NewService(store Store, pub Publisher, log *zap.Logger) *Service {
	return &Service{store: store, pub: pub, log: log.With(zap.String("module", "contracts"))}
}

// HandleCreate processes one CreateContract command.
func (s *Service) HandleCreate(ctx context.Context, env *codec.Envelope) bus.Verdict {
	log := logger.FromContext(ctx, s.log)
	var cmd codec.CreateContract
	if err := env.DecodePayload(&cmd); err != nil {
		log.Warn("Undecodable CreateContract payload", zap.Error(err))
		return bus.NackDead
	}
	if cmd.ContractID == "" || cmd.Influencer.ID == "" || cmd.Campaign.ID == "" {
		log.Warn("CreateContract missing required fields",
			zap.String("message_id", env.MessageID))
		return bus.NackDead
	}
	if !codec.ValidContractType(cmd.ContractType) {
		return s.fail(ctx, env, &cmd, ErrorKindInvalid, "unknown contract type "+cmd.ContractType)
	}

	now := time.Now().UTC()
	contract := &Contract{
		ID:           cmd.ContractID,
		InfluencerID: cmd.Influencer.ID,
		CampaignID:   cmd.Campaign.ID,
		TotalAmount:  cmd.BaseAmount,
		Currency:     cmd.Currency,
		ContractType: cmd.ContractType,
		Description:  cmd.Description,
		Deliverables: cmd.Deliverables,
		Period:       cmd.Period,
		CreatedAt:    now,
	}

	event, err := codec.NewEnvelope(codec.KindContractCreated, env.CorrelationID, ServiceName, codec.ContractCreated{
		ContractID:   contract.ID,
		InfluencerID: contract.InfluencerID,
		CampaignID:   contract.CampaignID,
		TotalAmount:  contract.TotalAmount,
		Currency:     contract.Currency,
		ContractType: contract.ContractType,
		CreatedAt:    now.Format(time.RFC3339),
	})
	if err != nil {
		log.Error("Encode ContractCreated failed", zap.Error(err))
		return bus.NackDead
	}

	err = s.store.Create(ctx, env.MessageID, contract, outbox.Pending{Topic: bus.TopicContractEvents, Envelope: event})
	switch {
	case err == nil:
		log.Info("Contract created", zap.String("contract_id", contract.ID))
		return bus.Ack
	case errors.Is(err, errors.ErrDuplicateMessage):
		log.Info("Duplicate CreateContract dropped",
			zap.String("message_id", env.MessageID))
		return bus.Ack
	case errors.Is(err, errors.ErrContractActive):
		return s.fail(ctx, env, &cmd, ErrorKindDuplicate, "contract already active for influencer and campaign")
	default:
		log.Error("Create contract failed", zap.Error(err))
		return bus.NackRetry
	}
}

// fail lifts a violation into an explicit ContractError event and acks the
// command so the coordinator can compensate.
func (s *Service) fail(ctx context.Context, env *codec.Envelope, cmd *codec.CreateContract, kind, detail string) bus.Verdict {
	log := logger.FromContext(ctx, s.log)
	event, err := codec.NewEnvelope(codec.KindContractError, env.CorrelationID, ServiceName, codec.ContractError{
		ContractID:   cmd.ContractID,
		InfluencerID: cmd.Influencer.ID,
		CampaignID:   cmd.Campaign.ID,
		ErrorKind:    kind,
		ErrorDetail:  detail,
	})
	if err != nil {
		log.Error("Encode ContractError failed", zap.Error(err))
		return bus.NackDead
	}
	if err := s.pub.Publish(ctx, bus.TopicContractErrors, event); err != nil {
		log.Error("Publish ContractError failed", zap.Error(err))
		return bus.NackRetry
	}
	log.Warn("Contract rejected",
		zap.String("contract_id", cmd.ContractID),
		zap.String("error_kind", kind),
	)
	return bus.Ack
}

// Attach subscribes the service to its command topic.
func (s *Service) Attach(ctx context.Context, sub *bus.Subscriber) *bus.Subscription {
	return sub.Subscribe(ctx, bus.TopicContractCommands, bus.GroupContractsCommands, s.HandleCreate)
}
