package influencers

import (
	"context"
	"sync"

	"github.com/alpespartners/saga-orchestrator/internal/outbox"
	"github.com/alpespartners/saga-orchestrator/pkg/errors"
)

// MemoryStore is an in-memory Store used by tests and local runs.
type MemoryStore struct {
	mu        sync.Mutex
	byID      map[string]*Influencer
	byEmail   map[string]string
	processed map[string]bool
	outbox    *outbox.MemorySource
}

// NewMemoryStore creates an empty in-memory store writing events to ob.
func NewMemoryStore(ob *outbox.MemorySource) *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]*Influencer),
		byEmail:   make(map[string]string),
		processed: make(map[string]bool),
		outbox:    ob,
	}
}

func (m *MemoryStore) Register(_ context.Context, messageID string, inf *Influencer, evt outbox.Pending) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed[messageID] {
		return errors.ErrDuplicateMessage
	}
	if _, ok := m.byEmail[inf.Email]; ok {
		return errors.ErrInfluencerExists
	}
	m.processed[messageID] = true
	clone := *inf
	m.byID[inf.ID] = &clone
	m.byEmail[inf.Email] = inf.ID
	m.outbox.Add(evt)
	return nil
}

// Get returns a stored influencer, for tests.
func (m *MemoryStore) Get(id string) (*Influencer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inf, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	clone := *inf
	return &clone, true
}
