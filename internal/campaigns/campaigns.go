// Package campaigns is the worker turning RegisterCampaign commands into
// persisted campaigns, and DeleteCampaign compensation commands into
// deletions. Business-rule violations surface as CampaignRejected events
// instead of nacks.
package campaigns

import (
	"context"
	"time"

	"github.com/alpespartners/saga-orchestrator/internal/codec"
	"github.com/alpespartners/saga-orchestrator/internal/outbox"
)

// ServiceName is stamped as source_service on outbound envelopes.
const ServiceName = "campaigns"

// Campaign is the domain projection owned by this service.
type Campaign struct {
	ID               string
	Name             string
	Description      string
	Commission       codec.Commission
	Period           codec.Period
	TargetCategories []string
	Origin           *codec.OriginInfluencer
	Active           bool
	CreatedAt        time.Time
}

// Store persists campaigns. Both writes carry the outbound event in the same
// transaction.
type Store interface {
	// Create fails with ErrDuplicateMessage when messageID was already
	// applied and ErrCampaignNameTaken on a name collision.
	Create(ctx context.Context, messageID string, c *Campaign, evt outbox.Pending) error
	// Delete removes a campaign; deleting an already-deleted campaign is
	// not an error (compensations are idempotent) but still records the
	// event. ErrDuplicateMessage dedupes redeliveries.
	Delete(ctx context.Context, messageID, campaignID string, evt outbox.Pending) error
}
