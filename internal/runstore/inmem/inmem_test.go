package inmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/campaignforge/engine/internal/run"
	"github.com/campaignforge/engine/internal/runstore"
	"github.com/campaignforge/engine/internal/runstore/inmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRun(t *testing.T, s *inmem.Store) *run.Run {
	t.Helper()
	r, err := s.CreateRun(context.Background(), runstore.CreateRunParams{
		TenantID:        "tenant-a",
		WorkflowName:    "campaign.build",
		WorkflowVersion: "1.0.0",
		TriggerType:     run.TriggerInitial,
		TriggerPayload:  map[string]any{"brief": "launch"},
	})
	require.NoError(t, err)
	return r
}

func TestCreateAndGetRun(t *testing.T) {
	s := inmem.New()
	r := newRun(t, s)
	assert.Equal(t, run.StatusQueued, r.Status)

	got, err := s.GetRun(context.Background(), "tenant-a", r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
}

func TestGetRunTenantMismatch(t *testing.T) {
	s := inmem.New()
	r := newRun(t, s)

	_, err := s.GetRun(context.Background(), "tenant-b", r.ID)
	assert.ErrorIs(t, err, runstore.ErrTenantMismatch)
}

func TestGetRunNotFound(t *testing.T) {
	s := inmem.New()
	_, err := s.GetRun(context.Background(), "tenant-a", "missing")
	assert.ErrorIs(t, err, runstore.ErrNotFound)
}

func TestTransitionRunStatusCAS(t *testing.T) {
	s := inmem.New()
	r := newRun(t, s)

	require.NoError(t, s.TransitionRunStatus(context.Background(), "tenant-a", r.ID, run.StatusQueued, run.StatusRunning, nil))

	got, err := s.GetRun(context.Background(), "tenant-a", r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusRunning, got.Status)
	assert.NotNil(t, got.StartedAt)
}

func TestTransitionRunStatusIllegal(t *testing.T) {
	s := inmem.New()
	r := newRun(t, s)

	err := s.TransitionRunStatus(context.Background(), "tenant-a", r.ID, run.StatusRunning, run.StatusSucceeded, nil)
	assert.ErrorIs(t, err, runstore.ErrIllegalTransition)
}

func TestTransitionRunStatusRecordsErrorOnFailure(t *testing.T) {
	s := inmem.New()
	r := newRun(t, s)

	errRecord := &run.ErrorRecord{Code: "EXECUTION_FAILED", Message: "boom"}
	require.NoError(t, s.TransitionRunStatus(context.Background(), "tenant-a", r.ID, run.StatusQueued, run.StatusFailed, errRecord))

	got, err := s.GetRun(context.Background(), "tenant-a", r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "EXECUTION_FAILED", got.Error.Code)
	assert.NotNil(t, got.CompletedAt)
}

func TestEnsureStepsPlannedIsIdempotent(t *testing.T) {
	s := inmem.New()
	r := newRun(t, s)

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
	assert.Equal(t, run.StepPending, steps[0].Status)
}

func TestTransitionStepCAS(t *testing.T) {
	s := inmem.New()
	r := newRun(t, s)
	require.NoError(t, s.EnsureStepsPlanned(context.Background(), "tenant-a", r.ID, []runstore.PlannedStep{
		{TenantID: "tenant-a", RunID: r.ID, StepID: "plan", SkillID: "plan_campaign", SkillVersion: "1.0.0"},
	}))

	fp := "abc123"
	attempt := 1
	require.NoError(t, s.TransitionStep(context.Background(), "tenant-a", r.ID, "plan", run.StepPending, run.StepRunning, runstore.StepFields{
		InputFingerprint: &fp,
		Attempt:          &attempt,
	}))

	step, err := s.GetStep(context.Background(), "tenant-a", r.ID, "plan")
	require.NoError(t, err)
	assert.Equal(t, run.StepRunning, step.Status)
	assert.Equal(t, "abc123", step.InputFingerprint)
	assert.Equal(t, 1, step.Attempt)
}

func TestTransitionStepIllegalTransition(t *testing.T) {
	s := inmem.New()
	r := newRun(t, s)
	require.NoError(t, s.EnsureStepsPlanned(context.Background(), "tenant-a", r.ID, []runstore.PlannedStep{
		{TenantID: "tenant-a", RunID: r.ID, StepID: "plan", SkillID: "plan_campaign", SkillVersion: "1.0.0"},
	}))

	err := s.TransitionStep(context.Background(), "tenant-a", r.ID, "plan", run.StepRunning, run.StepCompleted, runstore.StepFields{})
	assert.ErrorIs(t, err, runstore.ErrIllegalTransition)
}

func TestAppendArtifactTransitionsStepToCompleted(t *testing.T) {
	s := inmem.New()
	r := newRun(t, s)
	require.NoError(t, s.EnsureStepsPlanned(context.Background(), "tenant-a", r.ID, []runstore.PlannedStep{
		{TenantID: "tenant-a", RunID: r.ID, StepID: "image", SkillID: "generate_intro_image", SkillVersion: "1.0.0"},
	}))
	require.NoError(t, s.TransitionStep(context.Background(), "tenant-a", r.ID, "image", run.StepPending, run.StepRunning, runstore.StepFields{}))

	require.NoError(t, s.AppendArtifact(context.Background(), "tenant-a", r.ID, "image", "artifact-1", time.Now(), 1500))

	step, err := s.GetStep(context.Background(), "tenant-a", r.ID, "image")
	require.NoError(t, err)
	assert.Equal(t, run.StepCompleted, step.Status)
	assert.Equal(t, []string{"artifact-1"}, step.OutputArtifactIDs)
	assert.Equal(t, int64(1500), step.DurationMs)
	assert.NotNil(t, step.EndedAt)
}

func TestUpdateRunAggregates(t *testing.T) {
	s := inmem.New()
	r := newRun(t, s)
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

	got, err := s.GetRun(context.Background(), "tenant-a", r.ID)
	require.NoError(t, err)
	assert.Equal(t, summary, got.StepsSummary)
}
