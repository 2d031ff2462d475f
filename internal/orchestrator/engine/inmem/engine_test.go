package inmem_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaignforge/engine/internal/orchestrator/engine"
	"github.com/campaignforge/engine/internal/orchestrator/engine/inmem"
)

func TestStartWorkflowExecutesActivityAndReturnsResult(t *testing.T) {
	eng := inmem.New()
	ctx := t.Context()

	require.NoError(t, eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: "double",
		Handler: func(ctx context.Context, input any) (any, error) {
			return input.(int) * 2, nil
		},
	}))

	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "double_workflow",
		Handler: func(wfCtx engine.WorkflowContext, input any) (any, error) {
			var out int
			if err := wfCtx.ExecuteActivity(wfCtx.Context(), engine.ActivityRequest{Name: "double", Input: input}, &out); err != nil {
				return nil, err
			}
			return out, nil
		},
	}))

	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "run-1", Workflow: "double_workflow", Input: 21})
	require.NoError(t, err)

	var result int
	require.NoError(t, handle.Wait(ctx, &result))
	assert.Equal(t, 42, result)
}

func TestExecuteActivityAsyncRunsConcurrently(t *testing.T) {
	eng := inmem.New()
	ctx := t.Context()

	require.NoError(t, eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name:    "echo",
		Handler: func(ctx context.Context, input any) (any, error) { return input, nil },
	}))
	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "fanout",
		Handler: func(wfCtx engine.WorkflowContext, input any) (any, error) {
			futs := make([]engine.Future, 3)
			for i := 0; i < 3; i++ {
				f, err := wfCtx.ExecuteActivityAsync(wfCtx.Context(), engine.ActivityRequest{Name: "echo", Input: i})
				if err != nil {
					return nil, err
				}
				futs[i] = f
			}
			total := 0
			for _, f := range futs {
				var v int
				if err := f.Get(wfCtx.Context(), &v); err != nil {
					return nil, err
				}
				total += v
			}
			return total, nil
		},
	}))

	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "run-2", Workflow: "fanout", Input: nil})
	require.NoError(t, err)

	var result int
	require.NoError(t, handle.Wait(ctx, &result))
	assert.Equal(t, 3, result) // 0 + 1 + 2
}

func TestWorkflowErrorPropagatesThroughWait(t *testing.T) {
	eng := inmem.New()
	ctx := t.Context()

	boom := errors.New("activity exploded")
	require.NoError(t, eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name:    "fail",
		Handler: func(ctx context.Context, input any) (any, error) { return nil, boom },
	}))
	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "failing",
		Handler: func(wfCtx engine.WorkflowContext, input any) (any, error) {
			var out any
			err := wfCtx.ExecuteActivity(wfCtx.Context(), engine.ActivityRequest{Name: "fail"}, &out)
			return nil, err
		},
	}))

	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "run-3", Workflow: "failing"})
	require.NoError(t, err)

	var out any
	err = handle.Wait(ctx, &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestCancelFiresWorkflowContextDone(t *testing.T) {
	eng := inmem.New()
	ctx := t.Context()

	started := make(chan struct{})
	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "cancellable",
		Handler: func(wfCtx engine.WorkflowContext, input any) (any, error) {
			close(started)
			<-wfCtx.Context().Done()
			return nil, wfCtx.Context().Err()
		},
	}))

	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "run-4", Workflow: "cancellable"})
	require.NoError(t, err)
	<-started
	require.NoError(t, handle.Cancel(ctx))

	var out any
	err = handle.Wait(ctx, &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStartWorkflowRejectsUnregisteredName(t *testing.T) {
	eng := inmem.New()
	_, err := eng.StartWorkflow(t.Context(), engine.WorkflowStartRequest{ID: "run-5", Workflow: "nope"})
	require.Error(t, err)
}

func TestRegisterWorkflowRejectsDuplicateName(t *testing.T) {
	eng := inmem.New()
	ctx := t.Context()
	def := engine.WorkflowDefinition{Name: "dup", Handler: func(engine.WorkflowContext, any) (any, error) { return nil, nil }}
	require.NoError(t, eng.RegisterWorkflow(ctx, def))
	require.Error(t, eng.RegisterWorkflow(ctx, def))
}
