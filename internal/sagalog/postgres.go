package sagalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/pkg/errors"
	jsonx "github.com/alpespartners/saga-orchestrator/pkg/json"
)

// uniqueViolation is the Postgres error code for unique index violations.
const uniqueViolation = "23505"

// Postgres implements Store on the sagas and saga_log_entries tables.
type Postgres struct {
	db  *sql.DB
	log *zap.Logger
}

// NewPostgres creates a Postgres-backed saga log store.
func NewPostgres(db *sql.DB, log *zap.Logger) *Postgres {
	return &Postgres{db: db, log: log}
}

func (s *Postgres) CreateSaga(ctx context.Context, saga *Saga) error {
	contextJSON, err := jsonx.Marshal(saga.Context)
	if err != nil {
		return fmt.Errorf("encode saga context: %w", err)
	}
	now := time.Now().UTC()
	saga.CreatedAt = now
	saga.UpdatedAt = now
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sagas (correlation_id, status, current_step, context, retries, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		saga.CorrelationID, string(saga.Status), saga.CurrentStep, contextJSON, saga.Retries, now, now,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			return errors.ErrDuplicateSaga
		}
		return fmt.Errorf("insert saga: %w", err)
	}
	return nil
}

func (s *Postgres) GetSaga(ctx context.Context, correlationID string) (*Saga, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT correlation_id, status, current_step, context, retries, created_at, updated_at
		FROM sagas WHERE correlation_id = $1`, correlationID)

	var saga Saga
	var status string
	var contextJSON []byte
	err := row.Scan(&saga.CorrelationID, &status, &saga.CurrentStep, &contextJSON, &saga.Retries, &saga.CreatedAt, &saga.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.ErrSagaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select saga: %w", err)
	}
	saga.Status = Status(status)
	if err := jsonx.Unmarshal(contextJSON, &saga.Context); err != nil {
		return nil, fmt.Errorf("decode saga context: %w", err)
	}
	return &saga, nil
}

func (s *Postgres) UpdateSaga(ctx context.Context, saga *Saga) error {
	contextJSON, err := jsonx.Marshal(saga.Context)
	if err != nil {
		return fmt.Errorf("encode saga context: %w", err)
	}
	saga.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sagas
		SET status = $2, current_step = $3, context = $4, retries = $5, updated_at = $6
		WHERE correlation_id = $1
		  AND status NOT IN ('completed', 'failed', 'compensated')`,
		saga.CorrelationID, string(saga.Status), saga.CurrentStep, contextJSON, saga.Retries, saga.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update saga: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update saga rows: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetSaga(ctx, saga.CorrelationID); getErr != nil {
			return getErr
		}
		return errors.ErrSagaTerminal
	}
	return nil
}

func (s *Postgres) ListByStatus(ctx context.Context, statuses ...Status) ([]*Saga, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT correlation_id, status, current_step, context, retries, created_at, updated_at
		FROM sagas WHERE status = ANY($1) ORDER BY created_at`, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("list sagas: %w", err)
	}
	defer rows.Close()

	var sagas []*Saga
	for rows.Next() {
		var saga Saga
		var status string
		var contextJSON []byte
		if err := rows.Scan(&saga.CorrelationID, &status, &saga.CurrentStep, &contextJSON, &saga.Retries, &saga.CreatedAt, &saga.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan saga: %w", err)
		}
		saga.Status = Status(status)
		if err := jsonx.Unmarshal(contextJSON, &saga.Context); err != nil {
			return nil, fmt.Errorf("decode saga context: %w", err)
		}
		sagas = append(sagas, &saga)
	}
	return sagas, rows.Err()
}

func (s *Postgres) Append(ctx context.Context, entry *LogEntry) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO saga_log_entries (entry_id, correlation_id, step_index, event_kind, event_payload, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (correlation_id, step_index, event_kind) DO NOTHING`,
		entry.EntryID, entry.CorrelationID, entry.StepIndex, entry.EventKind, entry.Payload, entry.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("append saga log entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("append saga log rows: %w", err)
	}
	if affected == 0 {
		return errors.ErrDuplicateEntry
	}
	return nil
}

func (s *Postgres) ReadByCorrelation(ctx context.Context, correlationID string) ([]*LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, correlation_id, step_index, event_kind, event_payload, recorded_at
		FROM saga_log_entries
		WHERE correlation_id = $1
		ORDER BY step_index, recorded_at`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("read saga log: %w", err)
	}
	defer rows.Close()

	var entries []*LogEntry
	for rows.Next() {
		var entry LogEntry
		if err := rows.Scan(&entry.EntryID, &entry.CorrelationID, &entry.StepIndex, &entry.EventKind, &entry.Payload, &entry.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan saga log entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

func (s *Postgres) HasEntry(ctx context.Context, correlationID string, stepIndex int, eventKind string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM saga_log_entries
			WHERE correlation_id = $1 AND step_index = $2 AND event_kind = $3
		)`, correlationID, stepIndex, eventKind).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check saga log entry: %w", err)
	}
	return exists, nil
}
