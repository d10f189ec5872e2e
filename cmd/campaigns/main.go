// The campaigns binary applies RegisterCampaign and DeleteCampaign commands
// and emits campaign lifecycle events through its outbox.
package main

import (
	"context"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/database/connect"
	"github.com/alpespartners/saga-orchestrator/internal/bootstrap"
	"github.com/alpespartners/saga-orchestrator/internal/campaigns"
	"github.com/alpespartners/saga-orchestrator/internal/health"
	"github.com/alpespartners/saga-orchestrator/internal/outbox"
)

func main() {
	app, err := bootstrap.New(campaigns.ServiceName)
	if err != nil {
		os.Stderr.WriteString("bootstrap failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := app.Log
	defer func() { _ = log.Sync() }()

	ctx := context.Background()

	db, err := connect.ConnectPostgres(ctx, log, app.Cfg)
	if err != nil {
		log.Fatal("Database connection failed", zap.Error(err))
	}
	defer db.Close()

	redis, err := app.Redis()
	if err != nil {
		log.Fatal("Redis connection failed", zap.Error(err))
	}
	defer redis.Close()

	pub, sub := app.Bus(redis)
	defer pub.Close()

	store := campaigns.NewPostgresStore(db, log)
	svc := campaigns.NewService(store, pub, log)
	subs := svc.Attach(ctx, sub)

	dispatcher := outbox.NewDispatcher(outbox.NewPostgresSource(db), pub, log)

	checker := health.NewChecker(log)
	checker.Register("postgres", db.PingContext)
	checker.Register("redis", redis.IsAvailable)
	healthMux := http.NewServeMux()
	healthMux.Handle("/health", checker.Handler())

	err = app.Run(ctx,
		dispatcher.Run,
		app.MetricsTask(),
		app.ServeTask(&http.Server{Addr: ":" + app.Cfg.HTTPPort, Handler: healthMux}),
		app.DrainTask(subs...),
	)
	if err != nil {
		log.Fatal("Campaigns service exited", zap.Error(err))
	}
}
