package connect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/config"
)

func TestBuildDSN(t *testing.T) {
	cfg := &config.Config{
		DBHost:     "db.internal",
		DBPort:     "5433",
		DBUser:     "saga",
		DBPassword: "secret",
		DBName:     "orchestrator",
		DBSSLMode:  "require",
	}
	assert.Equal(t,
		"host=db.internal port=5433 user=saga password=secret dbname=orchestrator sslmode=require",
		buildDSN(cfg))
}

func TestConnectPostgresHonorsAttemptBudget(t *testing.T) {
	// Nothing listens on this port, so every dial fails; a budget of one
	// attempt must fail fast instead of looping.
	cfg := &config.Config{
		DBHost:            "127.0.0.1",
		DBPort:            "1",
		DBUser:            "saga",
		DBName:            "orchestrator",
		DBSSLMode:         "disable",
		DBConnectAttempts: 1,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := ConnectPostgres(ctx, zap.NewNop(), cfg)
	require.Error(t, err)
	assert.Nil(t, db)
	assert.Contains(t, err.Error(), "after 1 attempts")
}
