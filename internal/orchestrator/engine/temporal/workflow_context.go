package temporal

import (
	"context"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/campaignforge/engine/internal/orchestrator/engine"
)

// workflowContext adapts a Temporal workflow.Context into engine.WorkflowContext.
type workflowContext struct {
	ctx        workflow.Context
	workflowID string
}

func newWorkflowContext(ctx workflow.Context) *workflowContext {
	info := workflow.GetInfo(ctx)
	return &workflowContext{ctx: ctx, workflowID: info.WorkflowExecution.ID}
}

// Context returns a plain context.Context whose Done channel closes when the
// workflow context is cancelled. The bridging goroutine is started with
// workflow.Go so it participates in Temporal's deterministic scheduling
// instead of a raw Go goroutine.
func (w *workflowContext) Context() context.Context {
	done := make(chan struct{})
	tc := &temporalContext{wf: w.ctx, done: done}
	workflow.Go(w.ctx, func(ctx workflow.Context) {
		ctx.Done().Receive(ctx, nil)
		close(done)
	})
	return tc
}

func (w *workflowContext) WorkflowID() string { return w.workflowID }

func (w *workflowContext) Now() time.Time { return workflow.Now(w.ctx) }

func (w *workflowContext) ExecuteActivity(_ context.Context, req engine.ActivityRequest, result any) error {
	actx := workflow.WithActivityOptions(w.ctx, activityOptions(req))
	fut := workflow.ExecuteActivity(actx, req.Name, req.Input)
	if err := fut.Get(actx, result); err != nil {
		return normalizeError(err)
	}
	return nil
}

func (w *workflowContext) ExecuteActivityAsync(_ context.Context, req engine.ActivityRequest) (engine.Future, error) {
	actx := workflow.WithActivityOptions(w.ctx, activityOptions(req))
	fut := workflow.ExecuteActivity(actx, req.Name, req.Input)
	return &future{future: fut, ctx: actx}, nil
}

func activityOptions(req engine.ActivityRequest) workflow.ActivityOptions {
	timeout := req.Timeout
	if timeout == 0 {
		timeout = time.Minute
	}
	return workflow.ActivityOptions{
		ScheduleToStartTimeout: timeout,
		StartToCloseTimeout:    timeout,
		TaskQueue:              req.Queue,
	}
}

// normalizeError translates Temporal's cancellation error into
// context.Canceled so orchestrator code can classify cancellations the same
// way regardless of engine backend.
func normalizeError(err error) error {
	if err == nil {
		return nil
	}
	if temporal.IsCanceledError(err) {
		return context.Canceled
	}
	return err
}

type future struct {
	future workflow.Future
	ctx    workflow.Context
}

func (f *future) Get(_ context.Context, result any) error {
	if err := f.future.Get(f.ctx, result); err != nil {
		return normalizeError(err)
	}
	return nil
}

func (f *future) IsReady() bool { return f.future.IsReady() }

// temporalContext wires a workflow.Context's cancellation into the standard
// context.Context interface expected by engine.WorkflowContext callers. Its
// Done channel is closed by a workflow.Go goroutine relaying workflow
// cancellation, keeping the bridge replay-safe.
type temporalContext struct {
	wf   workflow.Context
	done chan struct{}
}

func (c *temporalContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (c *temporalContext) Done() <-chan struct{}       { return c.done }

func (c *temporalContext) Err() error {
	select {
	case <-c.done:
		return normalizeError(c.wf.Err())
	default:
		return nil
	}
}

func (c *temporalContext) Value(key any) any {
	if key == workflowIDContextKey {
		return workflow.GetInfo(c.wf).WorkflowExecution.ID
	}
	return nil
}

type contextKey string

const workflowIDContextKey contextKey = "orchestrator.workflow_id"
