// Package bootstrap carries the runtime scaffolding shared by every service
// binary: configuration, logging, signal handling and graceful shutdown.
package bootstrap

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alpespartners/saga-orchestrator/internal/bus"
	"github.com/alpespartners/saga-orchestrator/internal/config"
	"github.com/alpespartners/saga-orchestrator/internal/metrics"
	"github.com/alpespartners/saga-orchestrator/pkg/logger"
	redisx "github.com/alpespartners/saga-orchestrator/pkg/redis"
)

const shutdownGrace = 15 * time.Second

// App is one service process.
type App struct {
	Name string
	Cfg  *config.Config
	Log  *zap.Logger
}

// New loads configuration and builds the process logger.
func New(name string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Config{
		Environment: cfg.AppEnv,
		LogLevel:    cfg.LogLevel,
		ServiceName: name,
	})
	return &App{Name: name, Cfg: cfg, Log: log}, nil
}

// Run executes every task until the first error or a termination signal,
// then waits for the rest to drain.
func (a *App) Run(ctx context.Context, tasks ...func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		group.Go(func() error { return task(ctx) })
	}
	a.Log.Info("Service started", zap.String("service", a.Name))
	err := group.Wait()
	if err != nil && ctx.Err() == nil {
		return err
	}
	a.Log.Info("Service stopped", zap.String("service", a.Name))
	return nil
}

// Redis connects the Redis client used for the dead-letter stream and the
// BFF snapshot.
func (a *App) Redis() (*redisx.Client, error) {
	return redisx.NewClient(redisx.Config{
		Host:     a.Cfg.RedisHost,
		Port:     a.Cfg.RedisPort,
		Password: a.Cfg.RedisPassword,
		DB:       a.Cfg.RedisDB,
	}, a.Log)
}

// Bus builds the publisher and subscriber pair for the broker, with the
// dead-letter channel backed by redis.
func (a *App) Bus(redis *redisx.Client) (*bus.Publisher, *bus.Subscriber) {
	pub := bus.NewPublisher(a.Cfg.BrokerAddr, a.Log)
	dlq := bus.NewDeadLetter(redis, a.Log)
	sub := bus.NewSubscriber(a.Cfg.BrokerAddr, dlq, a.Log)
	return pub, sub
}

// MetricsTask returns a task serving Prometheus metrics until shutdown.
func (a *App) MetricsTask() func(ctx context.Context) error {
	srv := metrics.NewServer(":" + a.Cfg.MetricsPort)
	return a.ServeTask(srv)
}

// ServeTask runs an HTTP server as a Run task with graceful shutdown.
func (a *App) ServeTask(srv *http.Server) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Log.Warn("HTTP shutdown failed", zap.String("addr", srv.Addr), zap.Error(err))
		}
		return nil
	}
}

// DrainTask waits for shutdown and then closes the given subscriptions.
func (a *App) DrainTask(subs ...*bus.Subscription) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		<-ctx.Done()
		bus.Drain(subs...)
		return nil
	}
}
