// Package runstoretest is a conformance suite shared by every runstore.Store
// backend, so the in-memory and MongoDB implementations are held to the same
// tenant-isolation and compare-and-set contract.
package runstoretest

import (
	"context"
	"testing"
	"time"

	"github.com/campaignforge/engine/internal/run"
	"github.com/campaignforge/engine/internal/runstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises every runstore.Store method against a freshly constructed
// backend returned by newStore.
func Run(t *testing.T, newStore func(t *testing.T) runstore.Store) {
	t.Helper()

	t.Run("CreateAndGetRun", func(t *testing.T) {
		s := newStore(t)
		r, err := s.CreateRun(context.Background(), runstore.CreateRunParams{
			TenantID:     "tenant-a",
			WorkflowName: "campaign.build",
			TriggerType:  run.TriggerInitial,
		})
		require.NoError(t, err)
		assert.Equal(t, run.StatusQueued, r.Status)

		got, err := s.GetRun(context.Background(), "tenant-a", r.ID)
		require.NoError(t, err)
		assert.Equal(t, r.ID, got.ID)

		_, err = s.GetRun(context.Background(), "tenant-b", r.ID)
		assert.ErrorIs(t, err, runstore.ErrTenantMismatch)

		_, err = s.GetRun(context.Background(), "tenant-a", "does-not-exist")
		assert.ErrorIs(t, err, runstore.ErrNotFound)
	})

	t.Run("TransitionRunStatusCAS", func(t *testing.T) {
		s := newStore(t)
		r, err := s.CreateRun(context.Background(), runstore.CreateRunParams{TenantID: "tenant-a", WorkflowName: "campaign.build"})
		require.NoError(t, err)

		require.NoError(t, s.TransitionRunStatus(context.Background(), "tenant-a", r.ID, run.StatusQueued, run.StatusRunning, nil))

		err = s.TransitionRunStatus(context.Background(), "tenant-a", r.ID, run.StatusQueued, run.StatusRunning, nil)
		assert.ErrorIs(t, err, runstore.ErrIllegalTransition)

		errRecord := &run.ErrorRecord{Code: "EXECUTION_FAILED", Message: "boom"}
		require.NoError(t, s.TransitionRunStatus(context.Background(), "tenant-a", r.ID, run.StatusRunning, run.StatusFailed, errRecord))

		got, err := s.GetRun(context.Background(), "tenant-a", r.ID)
		require.NoError(t, err)
		assert.Equal(t, run.StatusFailed, got.Status)
		require.NotNil(t, got.Error)
		assert.Equal(t, "EXECUTION_FAILED", got.Error.Code)
	})

	t.Run("EnsureStepsPlannedIsIdempotentAndOrdered", func(t *testing.T) {
		s := newStore(t)
		r, err := s.CreateRun(context.Background(), runstore.CreateRunParams{TenantID: "tenant-a", WorkflowName: "campaign.build"})
		require.NoError(t, err)

		planned := []runstore.PlannedStep{
			{TenantID: "tenant-a", RunID: r.ID, StepID: "plan", SkillID: "plan_campaign", SkillVersion: "1.0.0"},
			{TenantID: "tenant-a", RunID: r.ID, StepID: "image", SkillID: "generate_intro_image", SkillVersion: "1.0.0"},
		}
		require.NoError(t, s.EnsureStepsPlanned(context.Background(), "tenant-a", r.ID, planned))
		require.NoError(t, s.EnsureStepsPlanned(context.Background(), "tenant-a", r.ID, planned))

		steps, err := s.ListSteps(context.Background(), "tenant-a", r.ID)
		require.NoError(t, err)
		require.Len(t, steps, 2)
		assert.Equal(t, "plan", steps[0].StepID)
		assert.Equal(t, "image", steps[1].StepID)
	})

	t.Run("TransitionStepCASAndIllegalTransition", func(t *testing.T) {
		s := newStore(t)
		r, err := s.CreateRun(context.Background(), runstore.CreateRunParams{TenantID: "tenant-a", WorkflowName: "campaign.build"})
		require.NoError(t, err)
		require.NoError(t, s.EnsureStepsPlanned(context.Background(), "tenant-a", r.ID, []runstore.PlannedStep{
			{TenantID: "tenant-a", RunID: r.ID, StepID: "plan", SkillID: "plan_campaign", SkillVersion: "1.0.0"},
		}))

		fp := "abc123"
		require.NoError(t, s.TransitionStep(context.Background(), "tenant-a", r.ID, "plan", run.StepPending, run.StepRunning, runstore.StepFields{
			InputFingerprint: &fp,
		}))

		err = s.TransitionStep(context.Background(), "tenant-a", r.ID, "plan", run.StepPending, run.StepCompleted, runstore.StepFields{})
		assert.ErrorIs(t, err, runstore.ErrIllegalTransition)

		step, err := s.GetStep(context.Background(), "tenant-a", r.ID, "plan")
		require.NoError(t, err)
		assert.Equal(t, run.StepRunning, step.Status)
		assert.Equal(t, "abc123", step.InputFingerprint)
	})

	t.Run("AppendArtifactCompletesStep", func(t *testing.T) {
		s := newStore(t)
		r, err := s.CreateRun(context.Background(), runstore.CreateRunParams{TenantID: "tenant-a", WorkflowName: "campaign.build"})
		require.NoError(t, err)
		require.NoError(t, s.EnsureStepsPlanned(context.Background(), "tenant-a", r.ID, []runstore.PlannedStep{
			{TenantID: "tenant-a", RunID: r.ID, StepID: "image", SkillID: "generate_intro_image", SkillVersion: "1.0.0"},
		}))
		require.NoError(t, s.TransitionStep(context.Background(), "tenant-a", r.ID, "image", run.StepPending, run.StepRunning, runstore.StepFields{}))

		require.NoError(t, s.AppendArtifact(context.Background(), "tenant-a", r.ID, "image", "artifact-1", time.Now(), 1500))

		step, err := s.GetStep(context.Background(), "tenant-a", r.ID, "image")
		require.NoError(t, err)
		assert.Equal(t, run.StepCompleted, step.Status)
		assert.Equal(t, []string{"artifact-1"}, step.OutputArtifactIDs)
	})

	t.Run("UpdateRunAggregatesRecomputesSummary", func(t *testing.T) {
		s := newStore(t)
		r, err := s.CreateRun(context.Background(), runstore.CreateRunParams{TenantID: "tenant-a", WorkflowName: "campaign.build"})
		require.NoError(t, err)
		require.NoError(t, s.EnsureStepsPlanned(context.Background(), "tenant-a", r.ID, []runstore.PlannedStep{
			{TenantID: "tenant-a", RunID: r.ID, StepID: "plan", SkillID: "plan_campaign", SkillVersion: "1.0.0"},
			{TenantID: "tenant-a", RunID: r.ID, StepID: "image", SkillID: "generate_intro_image", SkillVersion: "1.0.0"},
		}))
		require.NoError(t, s.TransitionStep(context.Background(), "tenant-a", r.ID, "plan", run.StepPending, run.StepCompleted, runstore.StepFields{}))

		summary, err := s.UpdateRunAggregates(context.Background(), "tenant-a", r.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, summary.Total)
		assert.Equal(t, 1, summary.Completed)
		assert.Equal(t, 1, summary.Pending)
	})
}
