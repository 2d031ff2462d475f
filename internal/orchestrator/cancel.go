package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/campaignforge/engine/internal/envelope"
	"github.com/campaignforge/engine/internal/run"
	"github.com/campaignforge/engine/internal/runstore"
)

// CancelRun implements the §4.I cancellation path: CAS the run to
// cancelling, signal its workflow context, and schedule a force-mark sweep
// that fails any step still running after cancel_grace_ms.
func (o *Orchestrator) CancelRun(ctx context.Context, tenantID, runID string) error {
	r, err := o.runs.GetRun(ctx, tenantID, runID)
	if err != nil {
		return fmt.Errorf("orchestrator: load run %s: %w", runID, err)
	}
	if r.Status.Terminal() || r.Status == run.StatusCancelling {
		return nil
	}
	if err := o.runs.TransitionRunStatus(ctx, tenantID, runID, r.Status, run.StatusCancelling, nil); err != nil {
		return fmt.Errorf("orchestrator: transition run to cancelling: %w", err)
	}

	o.handlesMu.Lock()
	handle, ok := o.handles[runID]
	o.handlesMu.Unlock()
	if ok {
		if err := handle.Cancel(ctx); err != nil {
			o.logger.Warn(ctx, "orchestrator: cancel workflow handle", "run_id", runID, "error", err.Error())
		}
	}

	grace := time.Duration(o.cfg.CancelGraceMs) * time.Millisecond
	go o.forceMarkCancelledAfter(runID, tenantID, grace)
	return nil
}

// forceMarkCancelledAfter waits grace for workers to observe cancellation on
// their own (per §4.I, a worker that notices its signal fire transitions
// itself to failed{CANCELLED}); any step still running afterward is force
// failed, and the run is finalized to cancelled.
func (o *Orchestrator) forceMarkCancelledAfter(runID, tenantID string, grace time.Duration) {
	time.Sleep(grace)

	writeCtx, cancel := gracePersistContext(context.Background(), grace)
	defer cancel()

	steps, err := o.runs.ListSteps(writeCtx, tenantID, runID)
	if err != nil {
		o.logger.Error(writeCtx, "orchestrator: list steps during cancel sweep", "run_id", runID, "error", err.Error())
		return
	}
	for _, s := range steps {
		if s.Status != run.StepRunning {
			continue
		}
		endedAt := time.Now().UTC()
		if err := o.runs.TransitionStep(writeCtx, tenantID, runID, s.StepID, run.StepRunning, run.StepFailed, runstore.StepFields{
			Error:   &run.ErrorRecord{Code: envelope.CodeCancelled, Message: "step force-marked cancelled after grace period"},
			EndedAt: &endedAt,
		}); err != nil {
			o.logger.Warn(writeCtx, "orchestrator: force-mark step cancelled", "run_id", runID, "step_id", s.StepID, "error", err.Error())
		}
	}

	if _, err := o.runs.UpdateRunAggregates(writeCtx, tenantID, runID); err != nil {
		o.logger.Warn(writeCtx, "orchestrator: update run aggregates during cancel sweep", "run_id", runID, "error", err.Error())
	}
	if err := o.runs.TransitionRunStatus(writeCtx, tenantID, runID, run.StatusCancelling, run.StatusCancelled, nil); err != nil {
		o.logger.Warn(writeCtx, "orchestrator: finalize cancelled run", "run_id", runID, "error", err.Error())
	}
}

// gracePersistContext detaches ctx from its parent's cancellation (a step's
// own finalizing write must still land even after its run's context has
// fired) while still bounding the write to a fixed deadline.
func gracePersistContext(ctx context.Context, bound time.Duration) (context.Context, context.CancelFunc) {
	if bound <= 0 {
		bound = 10 * time.Second
	}
	return context.WithTimeout(context.WithoutCancel(ctx), bound)
}
