// The coordinator binary runs the saga orchestrator: it observes service
// events, keeps the saga log and issues forward and compensation commands.
package main

import (
	"context"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/database/connect"
	"github.com/alpespartners/saga-orchestrator/internal/bootstrap"
	"github.com/alpespartners/saga-orchestrator/internal/health"
	"github.com/alpespartners/saga-orchestrator/internal/saga"
	"github.com/alpespartners/saga-orchestrator/internal/sagalog"
)

func main() {
	app, err := bootstrap.New(saga.ServiceName)
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

	store := sagalog.NewPostgres(db, log)
	coord := saga.NewCoordinator(store, pub, log, saga.Options{
		StepTimeout:            app.Cfg.StepTimeout,
		CompensationMaxRetries: app.Cfg.CompensationMaxRetries,
	})
	defer coord.Stop()

	// Resume sagas left open by the previous run before taking new events.
	if err := coord.Recover(ctx); err != nil {
		log.Fatal("Saga recovery failed", zap.Error(err))
	}

	subs := coord.Attach(ctx, sub)

	checker := health.NewChecker(log)
	checker.Register("postgres", db.PingContext)
	checker.Register("redis", redis.IsAvailable)
	healthMux := http.NewServeMux()
	healthMux.Handle("/health", checker.Handler())

	err = app.Run(ctx,
		app.MetricsTask(),
		app.ServeTask(&http.Server{Addr: ":" + app.Cfg.HTTPPort, Handler: healthMux}),
		app.DrainTask(subs...),
	)
	if err != nil {
		log.Fatal("Coordinator exited", zap.Error(err))
	}
}
