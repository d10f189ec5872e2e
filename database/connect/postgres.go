// Package connect opens the service databases. Workers share one Postgres
// instance, so startup races the database container; the dial loop absorbs
// that instead of crash-looping the process.
package connect

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/config"
)

const pingTimeout = 5 * time.Second

// buildDSN renders the lib/pq key=value connection string from config.
func buildDSN(cfg *config.Config) string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode,
	)
}

// ConnectPostgres dials Postgres, retrying with exponential backoff for up to
// cfg.DBConnectAttempts attempts, and applies the pool limits from config.
func ConnectPostgres(ctx context.Context, log *zap.Logger, cfg *config.Config) (*sql.DB, error) {
	dsn := buildDSN(cfg)
	attempts := cfg.DBConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var db *sql.DB
	attempt := 0
	dial := func() error {
		attempt++
		log.Info("Dialing database",
			zap.Int("attempt", attempt),
			zap.Int("attempts_allowed", attempts),
			zap.String("host", cfg.DBHost),
			zap.String("database", cfg.DBName),
		)
		var err error
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return err
		}
		return nil
	}

	schedule := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(attempts-1)), ctx)
	if err := backoff.RetryNotify(dial, schedule, func(err error, next time.Duration) {
		log.Warn("Database not ready", zap.Error(err), zap.Duration("retry_in", next))
	}); err != nil {
		return nil, fmt.Errorf("connect to database %q after %d attempts: %w", cfg.DBName, attempt, err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.DBConnMaxLifetimeMinutes) * time.Minute)
	log.Info("Database connection established", zap.String("database", cfg.DBName))
	return db, nil
}
