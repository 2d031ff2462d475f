package orchestrator

import (
	"context"
	"fmt"

	"github.com/campaignforge/engine/internal/run"
)

// aggregateRunInput is the AggregateRun activity's input.
type aggregateRunInput struct {
	TenantID string
	RunID    string
}

// aggregateRunOutput is the AggregateRun activity's output.
type aggregateRunOutput struct {
	Status string
}

// aggregateRunActivity implements §4.I per-run loop step 5: recompute the
// run's step summary and transition it to its terminal status. A run is
// failed if any step is failed (the first such step's error becomes the
// run's error, per §7 propagation), else succeeded.
func (o *Orchestrator) aggregateRunActivity(ctx context.Context, input any) (any, error) {
	in, ok := input.(aggregateRunInput)
	if !ok {
		return nil, fmt.Errorf("orchestrator: aggregateRunActivity: unexpected input type %T", input)
	}

	if _, err := o.runs.UpdateRunAggregates(ctx, in.TenantID, in.RunID); err != nil {
		return nil, fmt.Errorf("orchestrator: update run aggregates: %w", err)
	}

	steps, err := o.runs.ListSteps(ctx, in.TenantID, in.RunID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list steps for run %s: %w", in.RunID, err)
	}

	var failedStep *run.Step
	for _, s := range steps {
		if s.Status == run.StepFailed {
			failedStep = s
			break
		}
	}

	if failedStep != nil {
		errRecord := &run.ErrorRecord{Code: "RUN_FAILED", Message: fmt.Sprintf("step %q failed", failedStep.StepID)}
		if failedStep.Error != nil {
			errRecord = failedStep.Error
		}
		if err := o.runs.TransitionRunStatus(ctx, in.TenantID, in.RunID, run.StatusRunning, run.StatusFailed, errRecord); err != nil {
			return nil, fmt.Errorf("orchestrator: transition run to failed: %w", err)
		}
		return aggregateRunOutput{Status: string(run.StatusFailed)}, nil
	}

	if err := o.runs.TransitionRunStatus(ctx, in.TenantID, in.RunID, run.StatusRunning, run.StatusSucceeded, nil); err != nil {
		return nil, fmt.Errorf("orchestrator: transition run to succeeded: %w", err)
	}
	return aggregateRunOutput{Status: string(run.StatusSucceeded)}, nil
}
