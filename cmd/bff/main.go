// The bff binary is the HTTP edge: it accepts influencer registrations,
// mints correlation ids and streams contract outcomes back to clients.
package main

import (
	"context"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/bff"
	"github.com/alpespartners/saga-orchestrator/internal/bootstrap"
	"github.com/alpespartners/saga-orchestrator/internal/health"
)

func main() {
	app, err := bootstrap.New(bff.ServiceName)
	if err != nil {
		os.Stderr.WriteString("bootstrap failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := app.Log
	defer func() { _ = log.Sync() }()

	ctx := context.Background()

	redis, err := app.Redis()
	if err != nil {
		log.Fatal("Redis connection failed", zap.Error(err))
	}
	defer redis.Close()

	pub, sub := app.Bus(redis)
	defer pub.Close()

	svc := bff.NewService(pub, redis, log)
	subs := svc.Attach(ctx, sub)

	checker := health.NewChecker(log)
	checker.Register("redis", redis.IsAvailable)

	srv := &http.Server{
		Addr:    ":" + app.Cfg.HTTPPort,
		Handler: svc.Routes(checker.Handler()),
	}

	err = app.Run(ctx,
		app.ServeTask(srv),
		app.MetricsTask(),
		app.DrainTask(subs...),
	)
	if err != nil {
		log.Fatal("BFF exited", zap.Error(err))
	}
}
