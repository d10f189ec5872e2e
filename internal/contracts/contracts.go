// Package contracts is the worker turning CreateContract commands into
// persisted contracts. Violations of the one-contract-per-influencer-and-
// campaign rule surface as ContractError events, which drive the saga's
// compensation path.
package contracts

import (
	"context"
	"time"

	"github.com/alpespartners/saga-orchestrator/internal/codec"
	"github.com/alpespartners/saga-orchestrator/internal/outbox"
)

// ServiceName is stamped as source_service on outbound envelopes.
const ServiceName = "contracts"

// Error kinds carried on ContractError events.
const (
	ErrorKindDuplicate      = "duplicate"
	ErrorKindInvalid        = "invalid"
	ErrorKindInfrastructure = "infrastructure"
)

// Contract is the domain projection owned by this service.
type Contract struct {
	ID           string
	InfluencerID string
	CampaignID   string
	TotalAmount  float64
	Currency     string
	ContractType string
	Description  string
	Deliverables string
	Period       codec.Period
	CreatedAt    time.Time
}

// Store persists contracts. Create writes the domain row, the processed
// message marker and the outbound event in one transaction; the unique index
// on (influencer_id, campaign_id) is the authoritative duplicate check.
type Store interface {
	// Create fails with ErrDuplicateMessage when messageID was already
	// applied and ErrContractActive when a contract already exists for the
	// influencer and campaign pair.
	Create(ctx context.Context, messageID string, c *Contract, evt outbox.Pending) error
}
