// Package run defines the Run/RunStep/ErrorRecord domain types (§3) shared
// by the Workflow Planner, Run Orchestrator, and Run State Store.
package run

import "time"

// Status is a Run's lifecycle state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusRunning    Status = "running"
	StatusCancelling Status = "cancelling"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether status is one of the run's terminal states.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// TriggerType distinguishes how a Run was started.
type TriggerType string

const (
	TriggerInitial TriggerType = "initial"
	TriggerResume  TriggerType = "resume"
	TriggerReplay  TriggerType = "replay"
)

// ErrorRecord captures a fatal error attached to a Run or RunStep.
type ErrorRecord struct {
	Code    string `json:"code" bson:"code"`
	Message string `json:"message" bson:"message"`
}

// StepsSummary is the status-count rollup exposed by the API surface
// (§6.1) and recomputed by UpdateRunAggregates (§4.G).
type StepsSummary struct {
	Total     int `json:"total" bson:"total"`
	Pending   int `json:"pending" bson:"pending"`
	Running   int `json:"running" bson:"running"`
	Completed int `json:"completed" bson:"completed"`
	Skipped   int `json:"skipped" bson:"skipped"`
	Failed    int `json:"failed" bson:"failed"`
}

// Run is a single workflow execution.
type Run struct {
	ID              string         `json:"id" bson:"_id"`
	TenantID        string         `json:"tenant_id" bson:"tenant_id"`
	WorkflowName    string         `json:"workflow_name" bson:"workflow_name"`
	WorkflowVersion string         `json:"workflow_version" bson:"workflow_version"`
	TriggerType     TriggerType    `json:"trigger_type" bson:"trigger_type"`
	TriggerPayload  map[string]any `json:"trigger_payload" bson:"trigger_payload"`
	Status          Status         `json:"status" bson:"status"`
	BaseRunID       string         `json:"base_run_id,omitempty" bson:"base_run_id,omitempty"`
	Error           *ErrorRecord   `json:"error,omitempty" bson:"error,omitempty"`
	StepsSummary    StepsSummary   `json:"steps_summary" bson:"steps_summary"`
	StartedAt       *time.Time     `json:"started_at,omitempty" bson:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at" bson:"created_at"`
}

// StepStatus is a RunStep's lifecycle state.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Terminal reports whether status is one of the step's terminal states.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepSkipped:
		return true
	default:
		return false
	}
}

// Step is one node in a run's dependency graph.
type Step struct {
	ID               string       `json:"id" bson:"_id"`
	RunID            string       `json:"run_id" bson:"run_id"`
	TenantID         string       `json:"tenant_id" bson:"tenant_id"`
	StepID           string       `json:"step_id" bson:"step_id"` // planner-assigned local name
	SkillID          string       `json:"skill_id" bson:"skill_id"`
	SkillVersion     string       `json:"skill_version" bson:"skill_version"`
	InputFingerprint string       `json:"input_fingerprint,omitempty" bson:"input_fingerprint,omitempty"`
	Attempt          int          `json:"attempt" bson:"attempt"`
	Status           StepStatus   `json:"status" bson:"status"`
	OutputArtifactIDs []string    `json:"output_artifact_ids,omitempty" bson:"output_artifact_ids,omitempty"`
	Error            *ErrorRecord `json:"error,omitempty" bson:"error,omitempty"`
	CacheHit         bool         `json:"cache_hit" bson:"cache_hit"`
	StartedAt        *time.Time   `json:"started_at,omitempty" bson:"started_at,omitempty"`
	EndedAt          *time.Time   `json:"ended_at,omitempty" bson:"ended_at,omitempty"`
	DurationMs       int64        `json:"duration_ms,omitempty" bson:"duration_ms,omitempty"`
}
