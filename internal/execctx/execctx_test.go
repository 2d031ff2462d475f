package execctx_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/campaignforge/engine/internal/execctx"
	"github.com/campaignforge/engine/internal/skill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireCreatesWorkspaceUnderTenantRunStepAttempt(t *testing.T) {
	root := t.TempDir()
	f := execctx.NewFactory(root)

	ec, handlerCtx, err := f.Acquire(context.Background(), execctx.AcquireParams{
		TenantID: "tenant-1",
		RunID:    "run-1",
		StepID:   "step-1",
		Attempt:  1,
		SkillID:  "plan_campaign",
		Policy:   skill.Policy{MaxRuntimeSec: 30},
	})
	require.NoError(t, err)
	defer ec.Dispose()

	info, err := os.Stat(ec.WorkspaceDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.NotEmpty(t, ec.ExecutionID)
	assert.NotNil(t, handlerCtx)
}

func TestDisposeRemovesWorkspace(t *testing.T) {
	root := t.TempDir()
	f := execctx.NewFactory(root)

	ec, _, err := f.Acquire(context.Background(), execctx.AcquireParams{
		TenantID: "t", RunID: "r", StepID: "s", Attempt: 1, SkillID: "sk",
	})
	require.NoError(t, err)

	dir := ec.WorkspaceDir
	ec.Dispose()

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestDisposeIsIdempotent(t *testing.T) {
	root := t.TempDir()
	f := execctx.NewFactory(root)

	ec, _, err := f.Acquire(context.Background(), execctx.AcquireParams{
		TenantID: "t", RunID: "r", StepID: "s", Attempt: 1, SkillID: "sk",
	})
	require.NoError(t, err)

	ec.Dispose()
	assert.NotPanics(t, func() { ec.Dispose() })
}

func TestAcquireEffectiveTimeoutCapsAtRunBudget(t *testing.T) {
	root := t.TempDir()
	f := execctx.NewFactory(root)

	ec, handlerCtx, err := f.Acquire(context.Background(), execctx.AcquireParams{
		TenantID:           "t",
		RunID:              "r",
		StepID:             "s",
		Attempt:            1,
		SkillID:            "sk",
		Policy:             skill.Policy{MaxRuntimeSec: 600},
		RunBudgetRemaining: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer ec.Dispose()

	select {
	case <-handlerCtx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected handler context to time out at the capped run budget, not the longer policy timeout")
	}
}

func TestSignalFiresOnDispose(t *testing.T) {
	root := t.TempDir()
	f := execctx.NewFactory(root)

	ec, _, err := f.Acquire(context.Background(), execctx.AcquireParams{
		TenantID: "t", RunID: "r", StepID: "s", Attempt: 1, SkillID: "sk",
		Policy: skill.Policy{MaxRuntimeSec: 30},
	})
	require.NoError(t, err)

	select {
	case <-ec.Signal.Done():
		t.Fatal("signal should not have fired yet")
	default:
	}

	ec.Dispose()

	select {
	case <-ec.Signal.Done():
	case <-time.After(time.Second):
		t.Fatal("expected signal to fire after Dispose")
	}
}
