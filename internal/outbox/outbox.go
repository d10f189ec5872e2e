// Package outbox makes "write + publish" atomic: workers insert the
// outbound event in the same transaction as the domain row, and a dispatcher
// drains the table to the bus.
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alpespartners/saga-orchestrator/internal/codec"
	jsonx "github.com/alpespartners/saga-orchestrator/pkg/json"
)

// Pending is an event waiting to be dispatched together with its topic.
type Pending struct {
	Topic    string
	Envelope *codec.Envelope
}

// Message is a stored outbox row.
type Message struct {
	ID           int64
	Topic        string
	Envelope     *codec.Envelope
	CreatedAt    time.Time
	DispatchedAt *time.Time
}

// EnqueueTx inserts a pending event inside the caller's transaction.
func EnqueueTx(ctx context.Context, tx *sql.Tx, p Pending) error {
	raw, err := jsonx.Marshal(p.Envelope)
	if err != nil {
		return fmt.Errorf("encode outbox envelope: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox_messages (topic, envelope) VALUES ($1, $2)`, p.Topic, raw)
	if err != nil {
		return fmt.Errorf("enqueue outbox message: %w", err)
	}
	return nil
}

// Source is where the dispatcher pulls pending messages from.
type Source interface {
	// Pending returns up to limit undispatched messages in insertion order.
	Pending(ctx context.Context, limit int) ([]*Message, error)
	// MarkDispatched records that a message reached the bus.
	MarkDispatched(ctx context.Context, id int64) error
}

// PostgresSource reads the outbox_messages table.
type PostgresSource struct {
	db *sql.DB
}

// NewPostgresSource creates a Source over db.
func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) Pending(ctx context.Context, limit int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic, envelope, created_at
		FROM outbox_messages
		WHERE dispatched_at IS NULL
		ORDER BY id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select outbox pending: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var msg Message
		var raw []byte
		if err := rows.Scan(&msg.ID, &msg.Topic, &raw, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		var env codec.Envelope
		if err := jsonx.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("decode outbox envelope: %w", err)
		}
		msg.Envelope = &env
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

func (s *PostgresSource) MarkDispatched(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_messages SET dispatched_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox dispatched: %w", err)
	}
	return nil
}
