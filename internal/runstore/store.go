// Package runstore implements the Run State Store (§4.G): transactional
// persistence of Runs, Steps, and Artifact references, with compare-and-set
// step status transitions and tenant-id enforcement on every operation.
package runstore

import (
	"context"
	"errors"
	"time"

	"github.com/campaignforge/engine/internal/run"
)

// ErrNotFound is returned when a requested run or step does not exist.
var ErrNotFound = errors.New("runstore: not found")

// ErrIllegalTransition is returned when TransitionStep's compare-and-set
// fails because the step's current status does not match fromStatus.
var ErrIllegalTransition = errors.New("runstore: illegal step status transition")

// ErrTenantMismatch is returned when an operation's tenant id does not
// match the owning run's tenant id.
var ErrTenantMismatch = errors.New("runstore: tenant id mismatch")

// CreateRunParams captures everything needed to persist a new Run.
type CreateRunParams struct {
	TenantID        string
	WorkflowName    string
	WorkflowVersion string
	TriggerType     run.TriggerType
	TriggerPayload  map[string]any
	BaseRunID       string
}

// StepFields is the set of mutable fields TransitionStep may update
// alongside the status column, applied atomically with it.
type StepFields struct {
	InputFingerprint  *string
	Attempt           *int
	OutputArtifactIDs []string
	Error             *run.ErrorRecord
	CacheHit          *bool
	StartedAt         *time.Time
	EndedAt           *time.Time
	DurationMs        *int64
}

// PlannedStep is a step row to persist in pending status before the
// scheduling loop begins, per §4.I step 3 (replay-safe planning).
type PlannedStep struct {
	TenantID     string
	RunID        string
	StepID       string
	SkillID      string
	SkillVersion string
}

// Store is the Run State Store contract. Every operation enforces that the
// caller's tenant id matches the owning run's tenant id.
type Store interface {
	// CreateRun persists a new Run in StatusQueued and returns it with
	// its assigned id.
	CreateRun(ctx context.Context, p CreateRunParams) (*run.Run, error)
	// GetRun retrieves a run by id, scoped to tenantID.
	GetRun(ctx context.Context, tenantID, runID string) (*run.Run, error)
	// TransitionRunStatus performs a compare-and-set on the run's
	// status column.
	TransitionRunStatus(ctx context.Context, tenantID, runID string, from, to run.Status, errRecord *run.ErrorRecord) error

	// EnsureStepsPlanned inserts the given planned steps in pending
	// status if they do not already exist for the run (idempotent,
	// supporting orchestrator replay of a deterministic plan).
	EnsureStepsPlanned(ctx context.Context, tenantID, runID string, steps []PlannedStep) error
	// ListSteps returns every step belonging to runID, ordered by
	// insertion (planner) order.
	ListSteps(ctx context.Context, tenantID, runID string) ([]*run.Step, error)
	// GetStep retrieves a single step by its local step_id.
	GetStep(ctx context.Context, tenantID, runID, stepID string) (*run.Step, error)
	// TransitionStep performs a compare-and-set on the step's status
	// column, applying fields atomically with the transition. Returns
	// ErrIllegalTransition if the step's current status is not from.
	TransitionStep(ctx context.Context, tenantID, runID, stepID string, from, to run.StepStatus, fields StepFields) error
	// AppendArtifact records an artifact id produced by a step and
	// transitions the step to completed in the same atomic write, so a
	// reader never observes a completed step with a missing artifact id
	// or an artifact id recorded against a non-terminal step.
	AppendArtifact(ctx context.Context, tenantID, runID, stepID, artifactID string, endedAt time.Time, durationMs int64) error

	// UpdateRunAggregates recomputes the run's StepsSummary from its
	// current step set in one read and persists it.
	UpdateRunAggregates(ctx context.Context, tenantID, runID string) (run.StepsSummary, error)
}
