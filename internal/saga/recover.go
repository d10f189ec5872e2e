package saga

import (
	"context"

	"go.uber.org/zap"

	"github.com/alpespartners/saga-orchestrator/internal/sagalog"
)

// Recover resumes every non-terminal saga after a restart. The saga log is
// the source of truth: for each open saga the last logged entry decides which
// command to re-derive from the saga context and publish again. Re-derived
// commands reuse the identifiers minted at saga creation, so the services
// deduplicate redundant deliveries.
func (c *Coordinator) Recover(ctx context.Context) error {
	open, err := c.store.ListByStatus(ctx, sagalog.StatusRunning, sagalog.StatusCompensating)
	if err != nil {
		return err
	}
	for _, stale := range open {
		if err := c.recoverOne(ctx, stale.CorrelationID); err != nil {
			c.log.Error("Recover saga failed",
				zap.String("correlation_id", stale.CorrelationID), zap.Error(err))
		}
	}
	if len(open) > 0 {
		c.log.Info("Recovered open sagas", zap.Int("count", len(open)))
	}
	return nil
}

func (c *Coordinator) recoverOne(ctx context.Context, correlationID string) error {
	unlock := c.keys.Lock(correlationID)
	defer unlock()

	saga, err := c.store.GetSaga(ctx, correlationID)
	if err != nil {
		return err
	}

	switch saga.Status {
	case sagalog.StatusRunning:
		settled, err := c.stepSettled(ctx, saga, StepRegisterCampaign)
		if err != nil {
			return err
		}
		if !settled {
			c.dispatchRegisterCampaign(ctx, saga)
			return nil
		}
		settled, err = c.stepSettled(ctx, saga, StepCreateContract)
		if err != nil {
			return err
		}
		if !settled {
			c.dispatchCreateContract(ctx, saga)
		}
	case sagalog.StatusCompensating:
		c.compensate(ctx, saga, "compensation re-dispatched after restart")
	}
	return nil
}

// stepSettled reports whether any outcome for the step, including a timeout,
// was already logged.
func (c *Coordinator) stepSettled(ctx context.Context, saga *sagalog.Saga, step int) (bool, error) {
	kinds := append(expectedKinds(step), KindStepTimedOut)
	for _, kind := range kinds {
		seen, err := c.store.HasEntry(ctx, saga.CorrelationID, step, kind)
		if err != nil {
			return false, err
		}
		if seen {
			return true, nil
		}
	}
	return false, nil
}
