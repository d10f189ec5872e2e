package sagalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alpespartners/saga-orchestrator/pkg/errors"
)

// Memory is an in-memory Store with the same semantics as the Postgres
// implementation. It backs tests and local runs without a database.
type Memory struct {
	mu      sync.RWMutex
	sagas   map[string]*Saga
	entries map[string][]*LogEntry
}

// NewMemory creates an empty in-memory saga log.
func NewMemory() *Memory {
	return &Memory{
		sagas:   make(map[string]*Saga),
		entries: make(map[string][]*LogEntry),
	}
}

func (m *Memory) CreateSaga(_ context.Context, saga *Saga) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sagas[saga.CorrelationID]; ok {
		return errors.ErrDuplicateSaga
	}
	now := time.Now().UTC()
	saga.CreatedAt = now
	saga.UpdatedAt = now
	m.sagas[saga.CorrelationID] = cloneSaga(saga)
	return nil
}

func (m *Memory) GetSaga(_ context.Context, correlationID string) (*Saga, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	saga, ok := m.sagas[correlationID]
	if !ok {
		return nil, errors.ErrSagaNotFound
	}
	return cloneSaga(saga), nil
}

func (m *Memory) UpdateSaga(_ context.Context, saga *Saga) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sagas[saga.CorrelationID]
	if !ok {
		return errors.ErrSagaNotFound
	}
	if current.Status.Terminal() {
		return errors.ErrSagaTerminal
	}
	saga.UpdatedAt = time.Now().UTC()
	saga.CreatedAt = current.CreatedAt
	m.sagas[saga.CorrelationID] = cloneSaga(saga)
	return nil
}

func (m *Memory) ListByStatus(_ context.Context, statuses ...Status) ([]*Saga, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Saga
	for _, saga := range m.sagas {
		for _, st := range statuses {
			if saga.Status == st {
				out = append(out, cloneSaga(saga))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) Append(_ context.Context, entry *LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.entries[entry.CorrelationID] {
		if existing.StepIndex == entry.StepIndex && existing.EventKind == entry.EventKind {
			return errors.ErrDuplicateEntry
		}
	}
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	clone := *entry
	m.entries[entry.CorrelationID] = append(m.entries[entry.CorrelationID], &clone)
	return nil
}

func (m *Memory) ReadByCorrelation(_ context.Context, correlationID string) ([]*LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.entries[correlationID]
	out := make([]*LogEntry, len(entries))
	for i, entry := range entries {
		clone := *entry
		out[i] = &clone
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StepIndex != out[j].StepIndex {
			return out[i].StepIndex < out[j].StepIndex
		}
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out, nil
}

func (m *Memory) HasEntry(_ context.Context, correlationID string, stepIndex int, eventKind string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, entry := range m.entries[correlationID] {
		if entry.StepIndex == stepIndex && entry.EventKind == eventKind {
			return true, nil
		}
	}
	return false, nil
}

func cloneSaga(s *Saga) *Saga {
	clone := *s
	clone.Context = make(map[string]string, len(s.Context))
	for k, v := range s.Context {
		clone.Context[k] = v
	}
	return &clone
}
