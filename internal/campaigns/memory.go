package campaigns

import (
	"context"
	"sync"

	"github.com/alpespartners/saga-orchestrator/internal/outbox"
	"github.com/alpespartners/saga-orchestrator/pkg/errors"
)

// MemoryStore is an in-memory Store used by tests and local runs.
type MemoryStore struct {
	mu        sync.Mutex
	byID      map[string]*Campaign
	byName    map[string]string
	processed map[string]bool
	outbox    *outbox.MemorySource
}

// NewMemoryStore creates an empty in-memory store writing events to ob.
func NewMemoryStore(ob *outbox.MemorySource) *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]*Campaign),
		byName:    make(map[string]string),
		processed: make(map[string]bool),
		outbox:    ob,
	}
}

func (m *MemoryStore) Create(_ context.Context, messageID string, c *Campaign, evt outbox.Pending) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed[messageID] {
		return errors.ErrDuplicateMessage
	}
	if existingID, ok := m.byName[c.Name]; ok {
		if existingID == c.ID {
			return errors.ErrDuplicateMessage
		}
		return errors.ErrCampaignNameTaken
	}
	m.processed[messageID] = true
	clone := *c
	m.byID[c.ID] = &clone
	m.byName[c.Name] = c.ID
	m.outbox.Add(evt)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, messageID, campaignID string, evt outbox.Pending) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed[messageID] {
		return errors.ErrDuplicateMessage
	}
	m.processed[messageID] = true
	if c, ok := m.byID[campaignID]; ok {
		delete(m.byName, c.Name)
		delete(m.byID, campaignID)
	}
	m.outbox.Add(evt)
	return nil
}

// Get returns a stored campaign, for tests.
func (m *MemoryStore) Get(id string) (*Campaign, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	clone := *c
	return &clone, true
}
