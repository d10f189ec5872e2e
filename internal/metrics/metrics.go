package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SagasStarted counts sagas opened by a trigger event.
	SagasStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "saga_started_total",
		Help: "Number of sagas started.",
	})
	// SagasCompleted counts sagas that reached Completed.
	SagasCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "saga_completed_total",
		Help: "Number of sagas completed successfully.",
	})
	// SagasFailed counts sagas that ended as Failed with nothing to compensate.
	SagasFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "saga_failed_total",
		Help: "Number of sagas that failed before any compensatable step.",
	})
	// SagasCompensated counts sagas that finished compensation.
	SagasCompensated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "saga_compensated_total",
		Help: "Number of sagas fully compensated.",
	})
	// CompensationRetries counts compensation publish retries.
	CompensationRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "saga_compensation_retries_total",
		Help: "Number of compensation command retries.",
	})
	// DeadLetters counts messages routed to the dead-letter stream. This is
	// the operator alert counter for decode failures and poisoned messages.
	DeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_dead_letter_total",
		Help: "Number of messages routed to the dead-letter stream.",
	}, []string{"topic"})
	// StepTimeouts counts saga steps that passed their soft deadline.
	StepTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "saga_step_timeouts_total",
		Help: "Number of saga steps that timed out.",
	})
)

// NewServer returns an HTTP server exposing /metrics.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
}
