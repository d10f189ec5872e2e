package contracts

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

// PostgresStore implements Store over the contracts table.
type PostgresStore struct {
	db  *sql.DB
	log *zap.Logger
}

// NewPostgresStore creates a Postgres-backed contract store.
func NewPostgresStore(db *sql.DB, log *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log}
}

func (s *PostgresStore) Create(ctx context.Context, messageID string, c *Contract, evt outbox.Pending) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create contract: %w", err)
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

	var periodEnd interface{}
	if c.Period.End != "" {
		periodEnd = c.Period.End
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO contracts (id, influencer_id, campaign_id, total_amount, currency, contract_type,
			description, deliverables, period_start, period_end, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.InfluencerID, c.CampaignID, c.TotalAmount, c.Currency, c.ContractType,
		c.Description, c.Deliverables, c.Period.Start, periodEnd, c.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			// A re-derived command carries the same contract id; only a
			// different contract for the same pair is a business error.
			var existingID string
			if scanErr := s.db.QueryRowContext(ctx, `
				SELECT id FROM contracts WHERE influencer_id = $1 AND campaign_id = $2`,
				c.InfluencerID, c.CampaignID).Scan(&existingID); scanErr == nil && existingID == c.ID {
				err = errors.ErrDuplicateMessage
				return err
			}
			err = errors.ErrContractActive
			return err
		}
		return fmt.Errorf("insert contract: %w", err)
	}

	if err = outbox.EnqueueTx(ctx, tx, evt); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create contract: %w", err)
	}
	return nil
}
