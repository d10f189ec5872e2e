package outbox

import (
	"context"
	"sync"
	"time"
)

// MemorySource is an in-memory outbox used by tests and the in-memory
// worker stores.
type MemorySource struct {
	mu     sync.Mutex
	msgs   []*Message
	nextID int64
}

// NewMemorySource creates an empty in-memory outbox.
func NewMemorySource() *MemorySource {
	return &MemorySource{nextID: 1}
}

// Add appends a pending message.
func (m *MemorySource) Add(p Pending) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, &Message{
		ID:        m.nextID,
		Topic:     p.Topic,
		Envelope:  p.Envelope,
		CreatedAt: time.Now().UTC(),
	})
	m.nextID++
}

func (m *MemorySource) Pending(_ context.Context, limit int) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Message
	for _, msg := range m.msgs {
		if msg.DispatchedAt == nil {
			out = append(out, msg)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemorySource) MarkDispatched(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.msgs {
		if msg.ID == id {
			now := time.Now().UTC()
			msg.DispatchedAt = &now
			return nil
		}
	}
	return nil
}
