package orchestrator

import (
	"context"
	"fmt"

	"github.com/campaignforge/engine/internal/run"
	"github.com/campaignforge/engine/internal/runstore"
)

// prepareRunInput is the PrepareRun activity's input.
type prepareRunInput struct {
	TenantID string
	RunID    string
}

// stepNode is the topology a workflow needs to compute its ready set; it
// carries no resolver closures since those cannot cross the activity
// boundary, only the data ExecuteStep re-derives its own resolver from.
type stepNode struct {
	StepID       string
	Predecessors []string
}

// prepareRunOutput is the PrepareRun activity's output.
type prepareRunOutput struct {
	AlreadyTerminal bool
	Status          string
	Steps           []stepNode
}

// prepareRunActivity implements §4.I per-run loop steps 1-3: load the run,
// CAS queued -> running, plan the workflow, and persist its steps in
// pending status (idempotently, so a workflow replay never double-plans).
func (o *Orchestrator) prepareRunActivity(ctx context.Context, input any) (any, error) {
	in, ok := input.(prepareRunInput)
	if !ok {
		return nil, fmt.Errorf("orchestrator: prepareRunActivity: unexpected input type %T", input)
	}

	r, err := o.runs.GetRun(ctx, in.TenantID, in.RunID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load run %s: %w", in.RunID, err)
	}
	if r.Status.Terminal() {
		return prepareRunOutput{AlreadyTerminal: true, Status: string(r.Status)}, nil
	}

	if r.Status == run.StatusQueued {
		if err := o.runs.TransitionRunStatus(ctx, in.TenantID, in.RunID, run.StatusQueued, run.StatusRunning, nil); err != nil {
			if err == runstore.ErrIllegalTransition {
				// Another worker already advanced this run past queued;
				// fall through and plan against its current step set.
			} else {
				return nil, fmt.Errorf("orchestrator: transition run to running: %w", err)
			}
		}
	}

	planned, err := o.workflows.Plan(r.WorkflowName, r.TriggerPayload)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: plan %s: %w", r.WorkflowName, err)
	}

	toPersist := make([]runstore.PlannedStep, 0, len(planned))
	nodes := make([]stepNode, 0, len(planned))
	for _, p := range planned {
		toPersist = append(toPersist, runstore.PlannedStep{
			TenantID:     in.TenantID,
			RunID:        in.RunID,
			StepID:       p.StepID,
			SkillID:      p.SkillID,
			SkillVersion: p.SkillVersion,
		})
		nodes = append(nodes, stepNode{StepID: p.StepID, Predecessors: p.Predecessors})
	}
	if err := o.runs.EnsureStepsPlanned(ctx, in.TenantID, in.RunID, toPersist); err != nil {
		return nil, fmt.Errorf("orchestrator: persist planned steps: %w", err)
	}

	return prepareRunOutput{Steps: nodes}, nil
}
