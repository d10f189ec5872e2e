// Package health exposes liveness and readiness endpoints for the service
// binaries.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	jsonx "github.com/alpespartners/saga-orchestrator/pkg/json"
)

// Probe reports whether one dependency is reachable.
type Probe func(ctx context.Context) error

// Checker aggregates named dependency probes.
type Checker struct {
	mu     sync.Mutex
	log    *zap.Logger
	probes map[string]Probe
}

// NewChecker creates an empty checker.
func NewChecker(log *zap.Logger) *Checker {
	return &Checker{
		log:    log.With(zap.String("module", "health")),
		probes: make(map[string]Probe),
	}
}

// Register adds a named probe. Later registrations replace earlier ones.
func (c *Checker) Register(name string, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = probe
}

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the readiness report. Every probe gets a short deadline; a
// single failing probe turns the response into 503.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		c.mu.Lock()
		probes := make(map[string]Probe, len(c.probes))
		for name, probe := range c.probes {
			probes[name] = probe
		}
		c.mu.Unlock()

		out := report{Status: "ok", Checks: make(map[string]string, len(probes))}
		code := http.StatusOK
		for name, probe := range probes {
			if err := probe(ctx); err != nil {
				c.log.Warn("Health probe failed", zap.String("probe", name), zap.Error(err))
				out.Checks[name] = err.Error()
				out.Status = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			out.Checks[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		body, err := jsonx.Marshal(out)
		if err != nil {
			return
		}
		if _, err := w.Write(body); err != nil {
			c.log.Warn("Write health response failed", zap.Error(err))
		}
	})
}
