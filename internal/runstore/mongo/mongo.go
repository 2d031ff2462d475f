// Package mongo provides a MongoDB implementation of runstore.Store, for
// durability across restarts in production deployments.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/campaignforge/engine/internal/run"
	"github.com/campaignforge/engine/internal/runstore"
)

// Store is a MongoDB-backed runstore.Store. Runs and steps live in separate
// collections; a step's document id is "<run_id>:<step_id>" so EnsureStepsPlanned
// can upsert without a read first.
type Store struct {
	runs  *mongo.Collection
	steps *mongo.Collection
}

var _ runstore.Store = (*Store)(nil)

// New constructs a Store from the given run and step collections. Both are
// expected to come from the same connected client; the caller owns indexes
// (a unique index on steps {run_id:1, step_id:1} is assumed by stepDocID).
func New(runs, steps *mongo.Collection) *Store {
	return &Store{runs: runs, steps: steps}
}

func stepDocID(runID, stepID string) string {
	return runID + ":" + stepID
}

type runDocument struct {
	ID              string            `bson:"_id"`
	TenantID        string            `bson:"tenant_id"`
	WorkflowName    string            `bson:"workflow_name"`
	WorkflowVersion string            `bson:"workflow_version"`
	TriggerType     run.TriggerType   `bson:"trigger_type"`
	TriggerPayload  map[string]any    `bson:"trigger_payload"`
	Status          run.Status        `bson:"status"`
	BaseRunID       string            `bson:"base_run_id,omitempty"`
	Error           *run.ErrorRecord  `bson:"error,omitempty"`
	StepsSummary    run.StepsSummary  `bson:"steps_summary"`
	StartedAt       *time.Time        `bson:"started_at,omitempty"`
	CompletedAt     *time.Time        `bson:"completed_at,omitempty"`
	CreatedAt       time.Time         `bson:"created_at"`
}

func (d *runDocument) toRun() *run.Run {
	return &run.Run{
		ID:              d.ID,
		TenantID:        d.TenantID,
		WorkflowName:    d.WorkflowName,
		WorkflowVersion: d.WorkflowVersion,
		TriggerType:     d.TriggerType,
		TriggerPayload:  d.TriggerPayload,
		Status:          d.Status,
		BaseRunID:       d.BaseRunID,
		Error:           d.Error,
		StepsSummary:    d.StepsSummary,
		StartedAt:       d.StartedAt,
		CompletedAt:     d.CompletedAt,
		CreatedAt:       d.CreatedAt,
	}
}

type stepDocument struct {
	ID                string          `bson:"_id"`
	RunID             string          `bson:"run_id"`
	TenantID          string          `bson:"tenant_id"`
	StepID            string          `bson:"step_id"`
	SkillID           string          `bson:"skill_id"`
	SkillVersion      string          `bson:"skill_version"`
	InputFingerprint  string          `bson:"input_fingerprint,omitempty"`
	Attempt           int             `bson:"attempt"`
	Status            run.StepStatus  `bson:"status"`
	OutputArtifactIDs []string        `bson:"output_artifact_ids,omitempty"`
	Error             *run.ErrorRecord `bson:"error,omitempty"`
	CacheHit          bool            `bson:"cache_hit"`
	StartedAt         *time.Time      `bson:"started_at,omitempty"`
	EndedAt           *time.Time      `bson:"ended_at,omitempty"`
	DurationMs        int64           `bson:"duration_ms,omitempty"`
	Seq               int64           `bson:"seq"`
}

func (d *stepDocument) toStep() *run.Step {
	return &run.Step{
		ID:                d.ID,
		RunID:             d.RunID,
		TenantID:          d.TenantID,
		StepID:            d.StepID,
		SkillID:           d.SkillID,
		SkillVersion:      d.SkillVersion,
		InputFingerprint:  d.InputFingerprint,
		Attempt:           d.Attempt,
		Status:            d.Status,
		OutputArtifactIDs: d.OutputArtifactIDs,
		Error:             d.Error,
		CacheHit:          d.CacheHit,
		StartedAt:         d.StartedAt,
		EndedAt:           d.EndedAt,
		DurationMs:        d.DurationMs,
	}
}

// CreateRun implements runstore.Store.
func (s *Store) CreateRun(ctx context.Context, p runstore.CreateRunParams) (*run.Run, error) {
	doc := &runDocument{
		ID:              bson.NewObjectID().Hex(),
		TenantID:        p.TenantID,
		WorkflowName:    p.WorkflowName,
		WorkflowVersion: p.WorkflowVersion,
		TriggerType:     p.TriggerType,
		TriggerPayload:  p.TriggerPayload,
		Status:          run.StatusQueued,
		BaseRunID:       p.BaseRunID,
		CreatedAt:       time.Now().UTC(),
	}
	if _, err := s.runs.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("mongodb create run: %w", err)
	}
	return doc.toRun(), nil
}

// GetRun implements runstore.Store.
func (s *Store) GetRun(ctx context.Context, tenantID, runID string) (*run.Run, error) {
	var doc runDocument
	err := s.runs.FindOne(ctx, bson.M{"_id": runID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, runstore.ErrNotFound
		}
		return nil, fmt.Errorf("mongodb get run %q: %w", runID, err)
	}
	if doc.TenantID != tenantID {
		return nil, runstore.ErrTenantMismatch
	}
	return doc.toRun(), nil
}

// TransitionRunStatus implements runstore.Store.
func (s *Store) TransitionRunStatus(ctx context.Context, tenantID, runID string, from, to run.Status, errRecord *run.ErrorRecord) error {
	if err := s.checkRunTenant(ctx, tenantID, runID); err != nil {
		return err
	}

	set := bson.M{"status": to, "error": errRecord}
	now := time.Now().UTC()
	if to == run.StatusRunning {
		set["started_at"] = now
	}
	if to.Terminal() {
		set["completed_at"] = now
	}

	result, err := s.runs.UpdateOne(ctx,
		bson.M{"_id": runID, "tenant_id": tenantID, "status": from},
		bson.M{"$set": set},
	)
	if err != nil {
		return fmt.Errorf("mongodb transition run %q: %w", runID, err)
	}
	if result.MatchedCount == 0 {
		return runstore.ErrIllegalTransition
	}
	return nil
}

func (s *Store) checkRunTenant(ctx context.Context, tenantID, runID string) error {
	count, err := s.runs.CountDocuments(ctx, bson.M{"_id": runID, "tenant_id": tenantID})
	if err != nil {
		return fmt.Errorf("mongodb check run tenant %q: %w", runID, err)
	}
	if count == 0 {
		exists, err := s.runs.CountDocuments(ctx, bson.M{"_id": runID})
		if err != nil {
			return fmt.Errorf("mongodb check run existence %q: %w", runID, err)
		}
		if exists == 0 {
			return runstore.ErrNotFound
		}
		return runstore.ErrTenantMismatch
	}
	return nil
}

// EnsureStepsPlanned implements runstore.Store.
func (s *Store) EnsureStepsPlanned(ctx context.Context, tenantID, runID string, planned []runstore.PlannedStep) error {
	if err := s.checkRunTenant(ctx, tenantID, runID); err != nil {
		return err
	}

	for i, p := range planned {
		doc := stepDocument{
			ID:           stepDocID(runID, p.StepID),
			RunID:        runID,
			TenantID:     tenantID,
			StepID:       p.StepID,
			SkillID:      p.SkillID,
			SkillVersion: p.SkillVersion,
			Status:       run.StepPending,
			Seq:          int64(i),
		}
		_, err := s.steps.UpdateOne(ctx,
			bson.M{"_id": doc.ID},
			bson.M{"$setOnInsert": doc},
			options.UpdateOne().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("mongodb ensure step planned %q/%q: %w", runID, p.StepID, err)
		}
	}
	return nil
}

// ListSteps implements runstore.Store.
func (s *Store) ListSteps(ctx context.Context, tenantID, runID string) ([]*run.Step, error) {
	if err := s.checkRunTenant(ctx, tenantID, runID); err != nil {
		return nil, err
	}

	cursor, err := s.steps.Find(ctx, bson.M{"run_id": runID}, options.Find().SetSort(bson.M{"seq": 1}))
	if err != nil {
		return nil, fmt.Errorf("mongodb list steps %q: %w", runID, err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []stepDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb list steps decode %q: %w", runID, err)
	}

	out := make([]*run.Step, len(docs))
	for i, doc := range docs {
		out[i] = doc.toStep()
	}
	return out, nil
}

// GetStep implements runstore.Store.
func (s *Store) GetStep(ctx context.Context, tenantID, runID, stepID string) (*run.Step, error) {
	if err := s.checkRunTenant(ctx, tenantID, runID); err != nil {
		return nil, err
	}

	var doc stepDocument
	err := s.steps.FindOne(ctx, bson.M{"_id": stepDocID(runID, stepID)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, runstore.ErrNotFound
		}
		return nil, fmt.Errorf("mongodb get step %q/%q: %w", runID, stepID, err)
	}
	return doc.toStep(), nil
}

// TransitionStep implements runstore.Store.
func (s *Store) TransitionStep(ctx context.Context, tenantID, runID, stepID string, from, to run.StepStatus, fields runstore.StepFields) error {
	if err := s.checkRunTenant(ctx, tenantID, runID); err != nil {
		return err
	}
	return s.casStep(ctx, runID, stepID, from, to, fields)
}

func (s *Store) casStep(ctx context.Context, runID, stepID string, from, to run.StepStatus, fields runstore.StepFields) error {
	set := bson.M{"status": to}
	if fields.InputFingerprint != nil {
		set["input_fingerprint"] = *fields.InputFingerprint
	}
	if fields.Attempt != nil {
		set["attempt"] = *fields.Attempt
	}
	if fields.OutputArtifactIDs != nil {
		set["output_artifact_ids"] = fields.OutputArtifactIDs
	}
	if fields.Error != nil {
		set["error"] = fields.Error
	}
	if fields.CacheHit != nil {
		set["cache_hit"] = *fields.CacheHit
	}
	if fields.StartedAt != nil {
		set["started_at"] = *fields.StartedAt
	}
	if fields.EndedAt != nil {
		set["ended_at"] = *fields.EndedAt
	}
	if fields.DurationMs != nil {
		set["duration_ms"] = *fields.DurationMs
	}

	result, err := s.steps.UpdateOne(ctx,
		bson.M{"_id": stepDocID(runID, stepID), "status": from},
		bson.M{"$set": set},
	)
	if err != nil {
		return fmt.Errorf("mongodb transition step %q/%q: %w", runID, stepID, err)
	}
	if result.MatchedCount == 0 {
		count, err := s.steps.CountDocuments(ctx, bson.M{"_id": stepDocID(runID, stepID)})
		if err != nil {
			return fmt.Errorf("mongodb check step existence %q/%q: %w", runID, stepID, err)
		}
		if count == 0 {
			return runstore.ErrNotFound
		}
		return runstore.ErrIllegalTransition
	}
	return nil
}

// AppendArtifact implements runstore.Store.
func (s *Store) AppendArtifact(ctx context.Context, tenantID, runID, stepID, artifactID string, endedAt time.Time, durationMs int64) error {
	if err := s.checkRunTenant(ctx, tenantID, runID); err != nil {
		return err
	}

	result, err := s.steps.UpdateOne(ctx,
		bson.M{"_id": stepDocID(runID, stepID), "status": bson.M{"$in": bson.A{run.StepRunning, run.StepCompleted}}},
		bson.M{
			"$set":  bson.M{"status": run.StepCompleted, "ended_at": endedAt, "duration_ms": durationMs},
			"$push": bson.M{"output_artifact_ids": artifactID},
		},
	)
	if err != nil {
		return fmt.Errorf("mongodb append artifact %q/%q: %w", runID, stepID, err)
	}
	if result.MatchedCount == 0 {
		count, err := s.steps.CountDocuments(ctx, bson.M{"_id": stepDocID(runID, stepID)})
		if err != nil {
			return fmt.Errorf("mongodb check step existence %q/%q: %w", runID, stepID, err)
		}
		if count == 0 {
			return runstore.ErrNotFound
		}
		return runstore.ErrIllegalTransition
	}
	return nil
}

// UpdateRunAggregates implements runstore.Store.
func (s *Store) UpdateRunAggregates(ctx context.Context, tenantID, runID string) (run.StepsSummary, error) {
	if err := s.checkRunTenant(ctx, tenantID, runID); err != nil {
		return run.StepsSummary{}, err
	}

	cursor, err := s.steps.Find(ctx, bson.M{"run_id": runID})
	if err != nil {
		return run.StepsSummary{}, fmt.Errorf("mongodb update run aggregates %q: %w", runID, err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []stepDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return run.StepsSummary{}, fmt.Errorf("mongodb update run aggregates decode %q: %w", runID, err)
	}

	var summary run.StepsSummary
	for _, doc := range docs {
		summary.Total++
		switch doc.Status {
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
			return run.StepsSummary{}, fmt.Errorf("runstore: unknown step status %q", doc.Status)
		}
	}

	if _, err := s.runs.UpdateOne(ctx, bson.M{"_id": runID}, bson.M{"$set": bson.M{"steps_summary": summary}}); err != nil {
		return run.StepsSummary{}, fmt.Errorf("mongodb persist run aggregates %q: %w", runID, err)
	}
	return summary, nil
}
