package saga

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/bus"
	"github.com/alpespartners/saga-orchestrator/internal/codec"
	"github.com/alpespartners/saga-orchestrator/internal/metrics"
	"github.com/alpespartners/saga-orchestrator/internal/sagalog"
)

// expectedKinds lists the events that settle each dispatched step.
func expectedKinds(step int) []string {
	switch step {
	case StepRegisterCampaign:
		return []string{codec.KindCampaignCreated, codec.KindCampaignRejected}
	case StepCreateContract:
		return []string{codec.KindContractCreated, codec.KindContractError}
	}
	return nil
}

// armStepTimer starts the soft deadline for a dispatched command. Arming
// replaces any previous timer for the correlation.
func (c *Coordinator) armStepTimer(correlationID string, step int) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if old, ok := c.timers[correlationID]; ok {
		old.Stop()
	}
	c.timers[correlationID] = time.AfterFunc(c.opts.StepTimeout, func() {
		c.onStepTimeout(correlationID, step)
	})
}

// cancelTimer stops the pending deadline for a correlation, if any.
func (c *Coordinator) cancelTimer(correlationID string) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if t, ok := c.timers[correlationID]; ok {
		t.Stop()
		delete(c.timers, correlationID)
	}
}

// Stop cancels every pending step timer. Called on shutdown; timers are
// advisory and are re-armed by Recover on the next start.
func (c *Coordinator) Stop() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
}

// onStepTimeout runs when a step deadline expires. The deadline is advisory:
// if the expected event was logged meanwhile, the expiry is a no-op. A real
// timeout at step 1 fails the saga outright; at step 2 it starts compensation
// because the campaign already exists.
func (c *Coordinator) onStepTimeout(correlationID string, step int) {
	ctx := context.Background()
	unlock := c.keys.Lock(correlationID)
	defer unlock()

	c.timerMu.Lock()
	delete(c.timers, correlationID)
	c.timerMu.Unlock()

	saga, err := c.store.GetSaga(ctx, correlationID)
	if err != nil {
		c.log.Error("Load saga for timeout failed",
			zap.String("correlation_id", correlationID), zap.Error(err))
		return
	}
	if saga.Status.Terminal() {
		return
	}
	for _, kind := range expectedKinds(step) {
		seen, err := c.store.HasEntry(ctx, correlationID, step, kind)
		if err != nil {
			c.log.Error("Timeout settle check failed", zap.Error(err))
			return
		}
		if seen {
			// The step settled; the expiry raced the event.
			return
		}
	}

	metrics.StepTimeouts.Inc()
	c.log.Warn("Step timed out",
		zap.String("correlation_id", correlationID),
		zap.Int("step", step),
	)
	if c.append(ctx, saga, step, KindStepTimedOut, nil) != bus.Ack {
		return
	}

	if step == StepRegisterCampaign {
		// No forward step completed; nothing to undo.
		c.finish(ctx, saga, step, sagalog.StatusFailed)
		return
	}
	saga.Status = sagalog.StatusCompensating
	saga.CurrentStep = step
	if c.update(ctx, saga) != bus.Ack {
		return
	}
	c.compensate(ctx, saga, "compensation for step timeout")
}
