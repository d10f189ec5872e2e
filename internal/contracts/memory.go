package contracts

import (
	"context"
	"sync"

	"github.com/alpespartners/saga-orchestrator/internal/outbox"
	"github.com/alpespartners/saga-orchestrator/pkg/errors"
)

// MemoryStore is an in-memory Store used by tests and local runs.
type MemoryStore struct {
	mu        sync.Mutex
	byID      map[string]*Contract
	byPair    map[string]string
	processed map[string]bool
	outbox    *outbox.MemorySource
}

// NewMemoryStore creates an empty in-memory store writing events to ob.
func NewMemoryStore(ob *outbox.MemorySource) *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]*Contract),
		byPair:    make(map[string]string),
		processed: make(map[string]bool),
		outbox:    ob,
	}
}

func pairKey(influencerID, campaignID string) string {
	return influencerID + "|" + campaignID
}

func (m *MemoryStore) Create(_ context.Context, messageID string, c *Contract, evt outbox.Pending) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed[messageID] {
		return errors.ErrDuplicateMessage
	}
	key := pairKey(c.InfluencerID, c.CampaignID)
	if existingID, ok := m.byPair[key]; ok {
		if existingID == c.ID {
			return errors.ErrDuplicateMessage
		}
		return errors.ErrContractActive
	}
	m.processed[messageID] = true
	clone := *c
	m.byID[c.ID] = &clone
	m.byPair[key] = c.ID
	m.outbox.Add(evt)
	return nil
}

// Get returns a stored contract, for tests.
func (m *MemoryStore) Get(id string) (*Contract, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	clone := *c
	return &clone, true
}
