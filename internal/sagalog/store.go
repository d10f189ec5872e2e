package sagalog

import "context"

// Store is the saga log port. Appends are linearizable per correlation id;
// entries are never deleted by the core.
type Store interface {
	// CreateSaga opens a saga row. A second saga for the same correlation
	// id fails with ErrDuplicateSaga.
	CreateSaga(ctx context.Context, saga *Saga) error
	// GetSaga resolves a saga by correlation id or ErrSagaNotFound.
	GetSaga(ctx context.Context, correlationID string) (*Saga, error)
	// UpdateSaga persists status, step, context and retry count. Updating a
	// saga already in a terminal status fails with ErrSagaTerminal.
	UpdateSaga(ctx context.Context, saga *Saga) error
	// ListByStatus returns sagas currently in any of the given statuses;
	// recovery uses it to resume non-terminal sagas.
	ListByStatus(ctx context.Context, statuses ...Status) ([]*Saga, error)
	// Append records one observed step. A duplicate
	// (correlation_id, step_index, event_kind) fails with ErrDuplicateEntry.
	Append(ctx context.Context, entry *LogEntry) error
	// ReadByCorrelation returns the entries of one saga ordered by step
	// index, then record time.
	ReadByCorrelation(ctx context.Context, correlationID string) ([]*LogEntry, error)
	// HasEntry is the idempotency check used before acting on any event.
	HasEntry(ctx context.Context, correlationID string, stepIndex int, eventKind string) (bool, error)
}
