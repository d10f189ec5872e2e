package influencers

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

// Service applies CreateInfluencer commands.
type Service struct {
	store Store
	log   *zap.Logger
}

// NewService creates the influencers command handler.
func NewService(store Store, log *zap.Logger) *Service {
	return &Service{store: store, log: log.With(zap.String("module", "influencers"))}
}

// HandleCreate processes one CreateInfluencer command from the bus.
func (s *Service) HandleCreate(ctx context.Context, env *codec.Envelope) bus.Verdict {
	log := logger.FromContext(ctx, s.log)
	var cmd codec.CreateInfluencer
	if err := env.DecodePayload(&cmd); err != nil {
		log.Warn("Undecodable CreateInfluencer payload", zap.Error(err))
		return bus.NackDead
	}
	if cmd.InfluencerID == "" || cmd.Name == "" || cmd.Email == "" || len(cmd.Categories) == 0 {
		log.Warn("CreateInfluencer missing required fields",
			zap.String("message_id", env.MessageID))
		return bus.NackDead
	}
	if err := codec.ValidateEngagementRate(cmd.EngagementRate); err != nil {
		log.Warn("CreateInfluencer rejected", zap.Error(err))
		return bus.NackDead
	}
	if err := codec.ValidateDistribution(cmd.AudienceDistribution); err != nil {
		log.Warn("CreateInfluencer rejected", zap.Error(err))
		return bus.NackDead
	}

	now := time.Now().UTC()
	inf := &Influencer{
		ID:           cmd.InfluencerID,
		Name:         cmd.Name,
		Email:        cmd.Email,
		Categories:   cmd.Categories,
		Platforms:    cmd.Platforms,
		Description:  cmd.Description,
		Biography:    cmd.Biography,
		Website:      cmd.Website,
		Phone:        cmd.Phone,
		RegisteredAt: now,
	}

	event, err := codec.NewEnvelope(codec.KindInfluencerRegistered, env.CorrelationID, ServiceName, codec.InfluencerRegistered{
		InfluencerID: inf.ID,
		Name:         inf.Name,
		Email:        inf.Email,
		Categories:   inf.Categories,
		RegisteredAt: now.Format(time.RFC3339),
	})
	if err != nil {
		log.Error("Encode InfluencerRegistered failed", zap.Error(err))
		return bus.NackDead
	}

	err = s.store.Register(ctx, env.MessageID, inf, outbox.Pending{Topic: bus.TopicInfluencerEvents, Envelope: event})
	switch {
	case err == nil:
		log.Info("Influencer registered", zap.String("influencer_id", inf.ID))
		return bus.Ack
	case errors.Is(err, errors.ErrDuplicateMessage):
		log.Info("Duplicate CreateInfluencer dropped",
			zap.String("message_id", env.MessageID))
		return bus.Ack
	case errors.Is(err, errors.ErrInfluencerExists):
		// A saga never opened; nothing to compensate.
		log.Warn("Influencer email already registered",
			zap.String("influencer_id", inf.ID),
			zap.String("email", inf.Email))
		return bus.Ack
	default:
		log.Error("Register influencer failed", zap.Error(err))
		return bus.NackRetry
	}
}

// Attach subscribes the service to its command topic.
func (s *Service) Attach(ctx context.Context, sub *bus.Subscriber) *bus.Subscription {
	return sub.Subscribe(ctx, bus.TopicCreateInfluencer, bus.GroupInfluencersCommands, s.HandleCreate)
}
