// Package influencers is the worker turning CreateInfluencer commands into
// persisted influencers and InfluencerRegistered events.
package influencers

import (
	"context"
	"time"

	"github.com/alpespartners/saga-orchestrator/internal/outbox"
)

// ServiceName is stamped as source_service on outbound envelopes.
const ServiceName = "influencers"

// Influencer is the domain projection owned by this service.
type Influencer struct {
	ID           string
	Name         string
	Email        string
	Categories   []string
	Platforms    []string
	Description  string
	Biography    string
	Website      string
	Phone        string
	RegisteredAt time.Time
}

// Store persists influencers. Register writes the domain row, the processed
// message marker and the outbound event in one transaction.
type Store interface {
	// Register fails with ErrDuplicateMessage when messageID was already
	// applied and ErrInfluencerExists on an email collision.
	Register(ctx context.Context, messageID string, inf *Influencer, evt outbox.Pending) error
}
