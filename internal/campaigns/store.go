package campaigns

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

// PostgresStore implements Store over the campaigns table.
type PostgresStore struct {
	db  *sql.DB
	log *zap.Logger
}

// NewPostgresStore creates a Postgres-backed campaign store.
func NewPostgresStore(db *sql.DB, log *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log}
}

func (s *PostgresStore) Create(ctx context.Context, messageID string, c *Campaign, evt outbox.Pending) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create campaign: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				s.log.Error("Rollback failed", zap.Error(rbErr))
			}
		}
	}()

	if err = markProcessed(ctx, tx, messageID); err != nil {
		return err
	}

	var originID, originName, originEmail interface{}
	if c.Origin != nil {
		originID, originName, originEmail = c.Origin.ID, c.Origin.Name, c.Origin.Email
	}
	var periodEnd interface{}
	if c.Period.End != "" {
		periodEnd = c.Period.End
	}

	// The unique index on name is authoritative for the duplicate-name
	// business rule; no pre-check outside the transaction.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, description, commission_type, commission_amount, currency,
			period_start, period_end, target_categories,
			origin_influencer_id, origin_influencer_name, origin_influencer_email,
			active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		c.ID, c.Name, c.Description, c.Commission.Type, c.Commission.Amount, c.Commission.Currency,
		c.Period.Start, periodEnd, pq.Array(c.TargetCategories),
		originID, originName, originEmail, c.Active, c.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			// A re-derived command carries the same campaign id; only a
			// different campaign with the same name is a collision.
			var existingID string
			if scanErr := s.db.QueryRowContext(ctx, `
				SELECT id FROM campaigns WHERE name = $1`, c.Name).Scan(&existingID); scanErr == nil && existingID == c.ID {
				err = errors.ErrDuplicateMessage
				return err
			}
			err = errors.ErrCampaignNameTaken
			return err
		}
		return fmt.Errorf("insert campaign: %w", err)
	}

	if err = outbox.EnqueueTx(ctx, tx, evt); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create campaign: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, messageID, campaignID string, evt outbox.Pending) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete campaign: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				s.log.Error("Rollback failed", zap.Error(rbErr))
			}
		}
	}()

	if err = markProcessed(ctx, tx, messageID); err != nil {
		return err
	}

	// Deleting a missing campaign still emits the confirmation so the
	// compensation converges.
	if _, err = tx.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1`, campaignID); err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}

	if err = outbox.EnqueueTx(ctx, tx, evt); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete campaign: %w", err)
	}
	return nil
}

func markProcessed(ctx context.Context, tx *sql.Tx, messageID string) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO processed_messages (message_id) VALUES ($1)
		ON CONFLICT (message_id) DO NOTHING`, messageID)
	if err != nil {
		return fmt.Errorf("mark message processed: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return errors.ErrDuplicateMessage
	}
	return nil
}
