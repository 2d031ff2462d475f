// Package inmem implements runstore.Store in process memory, used by unit
// tests and local/dev deployments that do not need durability across
// restarts.
package inmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/campaignforge/engine/internal/run"
	"github.com/campaignforge/engine/internal/runstore"
	"github.com/google/uuid"
)

// Store is an in-memory, mutex-guarded runstore.Store.
type Store struct {
	mu    sync.Mutex
	runs  map[string]*run.Run
	steps map[string]map[string]*run.Step // runID -> step_id -> step
	order map[string][]string             // runID -> step_id insertion order
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		runs:  make(map[string]*run.Run),
		steps: make(map[string]map[string]*run.Step),
		order: make(map[string][]string),
	}
}

// CreateRun implements runstore.Store.
func (s *Store) CreateRun(ctx context.Context, p runstore.CreateRunParams) (*run.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &run.Run{
		ID:              uuid.NewString(),
		TenantID:        p.TenantID,
		WorkflowName:    p.WorkflowName,
		WorkflowVersion: p.WorkflowVersion,
		TriggerType:     p.TriggerType,
		TriggerPayload:  p.TriggerPayload,
		Status:          run.StatusQueued,
		BaseRunID:       p.BaseRunID,
		CreatedAt:       time.Now().UTC(),
	}
	s.runs[r.ID] = r
	s.steps[r.ID] = make(map[string]*run.Step)
	return cloneRun(r), nil
}

// GetRun implements runstore.Store.
func (s *Store) GetRun(ctx context.Context, tenantID, runID string) (*run.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[runID]
	if !ok {
		return nil, runstore.ErrNotFound
	}
	if r.TenantID != tenantID {
		return nil, runstore.ErrTenantMismatch
	}
	return cloneRun(r), nil
}

// TransitionRunStatus implements runstore.Store.
func (s *Store) TransitionRunStatus(ctx context.Context, tenantID, runID string, from, to run.Status, errRecord *run.ErrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[runID]
	if !ok {
		return runstore.ErrNotFound
	}
	if r.TenantID != tenantID {
		return runstore.ErrTenantMismatch
	}
	if r.Status != from {
		return runstore.ErrIllegalTransition
	}

	r.Status = to
	r.Error = errRecord
	now := time.Now().UTC()
	if to == run.StatusRunning && r.StartedAt == nil {
		r.StartedAt = &now
	}
	if to.Terminal() {
		r.CompletedAt = &now
	}
	return nil
}

// EnsureStepsPlanned implements runstore.Store.
func (s *Store) EnsureStepsPlanned(ctx context.Context, tenantID, runID string, planned []runstore.PlannedStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[runID]
	if !ok {
		return runstore.ErrNotFound
	}
	if r.TenantID != tenantID {
		return runstore.ErrTenantMismatch
	}

	stepsForRun, ok := s.steps[runID]
	if !ok {
		stepsForRun = make(map[string]*run.Step)
		s.steps[runID] = stepsForRun
	}

	for _, p := range planned {
		if _, exists := stepsForRun[p.StepID]; exists {
			continue
		}
		stepsForRun[p.StepID] = &run.Step{
			ID:           uuid.NewString(),
			RunID:        runID,
			TenantID:     tenantID,
			StepID:       p.StepID,
			SkillID:      p.SkillID,
			SkillVersion: p.SkillVersion,
			Status:       run.StepPending,
		}
		s.order[runID] = append(s.order[runID], p.StepID)
	}
	return nil
}

// ListSteps implements runstore.Store.
func (s *Store) ListSteps(ctx context.Context, tenantID, runID string) ([]*run.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[runID]
	if !ok {
		return nil, runstore.ErrNotFound
	}
	if r.TenantID != tenantID {
		return nil, runstore.ErrTenantMismatch
	}

	stepsForRun := s.steps[runID]
	out := make([]*run.Step, 0, len(stepsForRun))
	for _, stepID := range s.order[runID] {
		out = append(out, cloneStep(stepsForRun[stepID]))
	}
	return out, nil
}

// GetStep implements runstore.Store.
func (s *Store) GetStep(ctx context.Context, tenantID, runID, stepID string) (*run.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[runID]
	if !ok {
		return nil, runstore.ErrNotFound
	}
	if r.TenantID != tenantID {
		return nil, runstore.ErrTenantMismatch
	}
	step, ok := s.steps[runID][stepID]
	if !ok {
		return nil, runstore.ErrNotFound
	}
	return cloneStep(step), nil
}

// TransitionStep implements runstore.Store.
func (s *Store) TransitionStep(ctx context.Context, tenantID, runID, stepID string, from, to run.StepStatus, fields runstore.StepFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionStepLocked(tenantID, runID, stepID, from, to, fields)
}

func (s *Store) transitionStepLocked(tenantID, runID, stepID string, from, to run.StepStatus, fields runstore.StepFields) error {
	r, ok := s.runs[runID]
	if !ok {
		return runstore.ErrNotFound
	}
	if r.TenantID != tenantID {
		return runstore.ErrTenantMismatch
	}
	step, ok := s.steps[runID][stepID]
	if !ok {
		return runstore.ErrNotFound
	}
	if step.Status != from {
		return runstore.ErrIllegalTransition
	}

	step.Status = to
	if fields.InputFingerprint != nil {
		step.InputFingerprint = *fields.InputFingerprint
	}
	if fields.Attempt != nil {
		step.Attempt = *fields.Attempt
	}
	if fields.OutputArtifactIDs != nil {
		step.OutputArtifactIDs = fields.OutputArtifactIDs
	}
	if fields.Error != nil {
		step.Error = fields.Error
	}
	if fields.CacheHit != nil {
		step.CacheHit = *fields.CacheHit
	}
	if fields.StartedAt != nil {
		step.StartedAt = fields.StartedAt
	}
	if fields.EndedAt != nil {
		step.EndedAt = fields.EndedAt
	}
	if fields.DurationMs != nil {
		step.DurationMs = *fields.DurationMs
	}
	return nil
}

// AppendArtifact implements runstore.Store.
func (s *Store) AppendArtifact(ctx context.Context, tenantID, runID, stepID, artifactID string, endedAt time.Time, durationMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	step, ok := s.steps[runID][stepID]
	if !ok {
		return runstore.ErrNotFound
	}
	ids := append(append([]string{}, step.OutputArtifactIDs...), artifactID)
	return s.transitionStepLocked(tenantID, runID, stepID, step.Status, run.StepCompleted, runstore.StepFields{
		OutputArtifactIDs: ids,
		EndedAt:           &endedAt,
		DurationMs:        &durationMs,
	})
}

// UpdateRunAggregates implements runstore.Store.
func (s *Store) UpdateRunAggregates(ctx context.Context, tenantID, runID string) (run.StepsSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[runID]
	if !ok {
		return run.StepsSummary{}, runstore.ErrNotFound
	}
	if r.TenantID != tenantID {
		return run.StepsSummary{}, runstore.ErrTenantMismatch
	}

	var summary run.StepsSummary
	for _, step := range s.steps[runID] {
		summary.Total++
		switch step.Status {
		case run.StepPending:
			summary.Pending++
		case run.StepRunning:
			summary.Running++
		case run.StepCompleted:
			summary.Completed++
		case run.StepSkipped:
			summary.Skipped++
		case run.StepFailed:
			summary.Failed++
		default:
			return run.StepsSummary{}, fmt.Errorf("runstore: unknown step status %q", step.Status)
		}
	}
	r.StepsSummary = summary
	return summary, nil
}

func cloneRun(r *run.Run) *run.Run {
	cp := *r
	return &cp
}

func cloneStep(st *run.Step) *run.Step {
	cp := *st
	cp.OutputArtifactIDs = append([]string{}, st.OutputArtifactIDs...)
	return &cp
}
