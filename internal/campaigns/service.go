package campaigns

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/bus"
	"github.com/alpespartners/saga-orchestrator/internal/codec"
	"github.com/alpespartners/saga-orchestrator/internal/outbox"
	"github.com/alpespartners/saga-orchestrator/pkg/errors"
	"github.com/alpespartners/saga-orchestrator/pkg/logger"
)

// Publisher sends business-error events that have no domain write to ride
// the outbox with.
type Publisher interface {
	Publish(ctx context.Context, topic string, env *codec.Envelope) error
}

// Service applies RegisterCampaign and DeleteCampaign commands.
type Service struct {
	store Store
	pub   Publisher
	log   *zap.Logger
}

// NewService creates the campaigns command handler.
func NewService(store Store, pub Publisher, log *zap.Logger) *Service {
	return &Service{store: store, pub: pub, log: log.With(zap.String("module", "campaigns"))}
}

// HandleRegister processes one RegisterCampaign command.
func (s *Service) HandleRegister(ctx context.Context, env *codec.Envelope) bus.Verdict {
	log := logger.FromContext(ctx, s.log)
	var cmd codec.RegisterCampaign
	if err := env.DecodePayload(&cmd); err != nil {
		log.Warn("Undecodable RegisterCampaign payload", zap.Error(err))
		return bus.NackDead
	}
	if cmd.CampaignID == "" || cmd.Name == "" || cmd.Period.Start == "" {
		log.Warn("RegisterCampaign missing required fields",
			zap.String("message_id", env.MessageID))
		return bus.NackDead
	}
	if !codec.ValidCommissionType(cmd.Commission.Type) {
		return s.reject(ctx, env, &cmd, fmt.Sprintf("unknown commission type %q", cmd.Commission.Type))
	}

	campaign := &Campaign{
		ID:               cmd.CampaignID,
		Name:             cmd.Name,
		Description:      cmd.Description,
		Commission:       cmd.Commission,
		Period:           cmd.Period,
		TargetCategories: cmd.TargetCategories,
		Origin:           cmd.OriginInfluencer,
		Active:           cmd.AutoActivate,
		CreatedAt:        time.Now().UTC(),
	}

	event, err := codec.NewEnvelope(codec.KindCampaignCreated, env.CorrelationID, ServiceName, codec.CampaignCreated{
		CampaignID:       campaign.ID,
		Name:             campaign.Name,
		Commission:       campaign.Commission,
		Period:           campaign.Period,
		TargetCategories: campaign.TargetCategories,
		OriginInfluencer: campaign.Origin,
	})
	if err != nil {
		log.Error("Encode CampaignCreated failed", zap.Error(err))
		return bus.NackDead
	}

	err = s.store.Create(ctx, env.MessageID, campaign, outbox.Pending{Topic: bus.TopicCampaignEvents, Envelope: event})
	switch {
	case err == nil:
		log.Info("Campaign created", zap.String("campaign_id", campaign.ID))
		return bus.Ack
	case errors.Is(err, errors.ErrDuplicateMessage):
		log.Info("Duplicate RegisterCampaign dropped",
			zap.String("message_id", env.MessageID))
		return bus.Ack
	case errors.Is(err, errors.ErrCampaignNameTaken):
		return s.reject(ctx, env, &cmd, "campaign name already in use")
	default:
		log.Error("Create campaign failed", zap.Error(err))
		return bus.NackRetry
	}
}

// reject lifts a business-rule violation into an explicit CampaignRejected
// event and acks the command.
func (s *Service) reject(ctx context.Context, env *codec.Envelope, cmd *codec.RegisterCampaign, reason string) bus.Verdict {
	log := logger.FromContext(ctx, s.log)
	event, err := codec.NewEnvelope(codec.KindCampaignRejected, env.CorrelationID, ServiceName, codec.CampaignRejected{
		CampaignID: cmd.CampaignID,
		Name:       cmd.Name,
		Reason:     reason,
	})
	if err != nil {
		log.Error("Encode CampaignRejected failed", zap.Error(err))
		return bus.NackDead
	}
	if err := s.pub.Publish(ctx, bus.TopicCampaignEvents, event); err != nil {
		log.Error("Publish CampaignRejected failed", zap.Error(err))
		return bus.NackRetry
	}
	log.Warn("Campaign rejected",
		zap.String("campaign_id", cmd.CampaignID),
		zap.String("reason", reason),
	)
	return bus.Ack
}

// HandleDelete processes one DeleteCampaign compensation command.
func (s *Service) HandleDelete(ctx context.Context, env *codec.Envelope) bus.Verdict {
	log := logger.FromContext(ctx, s.log)
	var cmd codec.DeleteCampaign
	if err := env.DecodePayload(&cmd); err != nil {
		log.Warn("Undecodable DeleteCampaign payload", zap.Error(err))
		return bus.NackDead
	}
	if cmd.CampaignID == "" {
		log.Warn("DeleteCampaign missing campaign id",
			zap.String("message_id", env.MessageID))
		return bus.NackDead
	}

	event, err := codec.NewEnvelope(codec.KindCampaignDeleted, env.CorrelationID, ServiceName, codec.CampaignDeleted{
		CampaignID:   cmd.CampaignID,
		InfluencerID: cmd.InfluencerID,
		Reason:       cmd.Reason,
		DeletedAt:    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Error("Encode CampaignDeleted failed", zap.Error(err))
		return bus.NackDead
	}

	err = s.store.Delete(ctx, env.MessageID, cmd.CampaignID, outbox.Pending{Topic: bus.TopicCampaignEvents, Envelope: event})
	switch {
	case err == nil:
		log.Info("Campaign deleted", zap.String("campaign_id", cmd.CampaignID))
		return bus.Ack
	case errors.Is(err, errors.ErrDuplicateMessage):
		log.Info("Duplicate DeleteCampaign dropped",
			zap.String("message_id", env.MessageID))
		return bus.Ack
	default:
		log.Error("Delete campaign failed", zap.Error(err))
		return bus.NackRetry
	}
}

// Attach subscribes the service to its command and compensation topics.
func (s *Service) Attach(ctx context.Context, sub *bus.Subscriber) []*bus.Subscription {
	return []*bus.Subscription{
		sub.Subscribe(ctx, bus.TopicCampaignCommands, bus.GroupCampaignsCommands, s.HandleRegister),
		sub.Subscribe(ctx, bus.TopicCampaignDeletion, bus.GroupCampaignsDeletion, s.HandleDelete),
	}
}
