package influencers

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/outbox"
	"github.com/alpespartners/saga-orchestrator/pkg/errors"
)

const uniqueViolation = "23505"

// PostgresStore implements Store over the influencers table.
type PostgresStore struct {
	db  *sql.DB
	log *zap.Logger
}

// NewPostgresStore creates a Postgres-backed influencer store.
func NewPostgresStore(db *sql.DB, log *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log}
}

func (s *PostgresStore) Register(ctx context.Context, messageID string, inf *Influencer, evt outbox.Pending) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin register influencer: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				s.log.Error("Rollback failed", zap.Error(rbErr))
			}
		}
	}()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO processed_messages (message_id) VALUES ($1)
		ON CONFLICT (message_id) DO NOTHING`, messageID)
	if err != nil {
		return fmt.Errorf("mark message processed: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		err = errors.ErrDuplicateMessage
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO influencers (id, name, email, categories, platforms, description, biography, website, phone, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		inf.ID, inf.Name, inf.Email, pq.Array(inf.Categories), pq.Array(inf.Platforms),
		inf.Description, inf.Biography, inf.Website, inf.Phone, inf.RegisteredAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			err = errors.ErrInfluencerExists
			return err
		}
		return fmt.Errorf("insert influencer: %w", err)
	}

	if err = outbox.EnqueueTx(ctx, tx, evt); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit register influencer: %w", err)
	}
	return nil
}
