// Package engine abstracts durable workflow scheduling so the Run
// Orchestrator can drive a run's step graph identically whether the
// underlying execution backend is an in-process goroutine scheduler (tests,
// single-node deployments) or Temporal (durable, replay-safe, long-running
// provider calls measured in minutes rather than seconds).
package engine

import (
	"context"
	"time"
)

type (
	// Engine registers workflow and activity definitions and starts workflow
	// executions. The orchestrator registers exactly one workflow ("RunWorkflow")
	// and three activities ("PrepareRun", "ExecuteStep", "AggregateRun") per
	// process; Temporal and in-memory backends are interchangeable behind this
	// interface.
	Engine interface {
		// RegisterWorkflow registers a workflow definition with the engine. Must
		// be called during initialization before StartWorkflow.
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error

		// RegisterActivity registers an activity definition with the engine.
		// Must be called during initialization before any workflow referencing
		// it starts.
		RegisterActivity(ctx context.Context, def ActivityDefinition) error

		// StartWorkflow begins a new workflow execution and returns a handle.
		// req.ID must be unique; starting with an ID already running returns an
		// error identifying the conflict so callers can treat it as "already
		// owned by another worker" rather than retrying.
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
	}

	// WorkflowDefinition binds a workflow handler to a logical name and
	// default queue.
	WorkflowDefinition struct {
		Name      string
		TaskQueue string
		Handler   WorkflowFunc
	}

	// WorkflowFunc is a workflow entry point. For the Temporal backend it must
	// be deterministic: the same sequence of ExecuteActivity calls for the
	// same input and activity results on replay. The orchestrator's
	// RunWorkflow satisfies this by deriving all scheduling decisions from
	// activity results, never from wall-clock time or local randomness.
	WorkflowFunc func(ctx WorkflowContext, input any) (any, error)

	// WorkflowContext exposes engine operations to a running workflow.
	WorkflowContext interface {
		// Context returns a Go context bound to the workflow's lifetime and
		// cancellation signal.
		Context() context.Context
		// WorkflowID returns the caller-assigned workflow identifier (the run id).
		WorkflowID() string
		// ExecuteActivity runs an activity to completion and decodes its result
		// into result, which must be a non-nil pointer.
		ExecuteActivity(ctx context.Context, req ActivityRequest, result any) error
		// ExecuteActivityAsync schedules an activity without blocking.
		ExecuteActivityAsync(ctx context.Context, req ActivityRequest) (Future, error)
		// Now returns the current time in a manner safe for the backend's
		// replay model (Temporal's workflow.Now, wall-clock for in-memory).
		Now() time.Time
	}

	// Future represents a pending activity result.
	Future interface {
		// Get blocks until the activity completes and decodes its result into
		// result, which must be a non-nil pointer.
		Get(ctx context.Context, result any) error
		// IsReady reports whether Get will return immediately.
		IsReady() bool
	}

	// ActivityDefinition registers an activity handler.
	ActivityDefinition struct {
		Name    string
		Handler ActivityFunc
		Options ActivityOptions
	}

	// ActivityFunc performs the activity's side effects (handler invocation,
	// persistence) given a decoded input value.
	ActivityFunc func(ctx context.Context, input any) (any, error)

	// ActivityOptions configures retry/timeout defaults for an activity.
	// The orchestrator's own retry loop (exponential backoff with jitter,
	// §7) sits above this and is the layer actually consulted for skill
	// step retries; engine-level RetryPolicy only bounds scheduling
	// failures (e.g. a Temporal worker disappearing mid-activity).
	ActivityOptions struct {
		Queue       string
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowStartRequest describes how to launch a workflow execution.
	WorkflowStartRequest struct {
		ID        string
		Workflow  string
		TaskQueue string
		Input     any
		RetryPolicy RetryPolicy
	}

	// ActivityRequest contains the info needed to schedule an activity.
	ActivityRequest struct {
		Name    string
		Input   any
		Queue   string
		Timeout time.Duration
	}

	// WorkflowHandle lets callers interact with a running workflow.
	WorkflowHandle interface {
		// Wait blocks until the workflow completes, decoding its return value
		// into result.
		Wait(ctx context.Context, result any) error
		// Cancel requests cancellation; the workflow's Context().Done() fires.
		Cancel(ctx context.Context) error
	}

	// RetryPolicy is the engine-level scheduling retry policy, distinct from
	// the orchestrator's step-level retry policy.
	RetryPolicy struct {
		MaxAttempts        int
		InitialInterval    time.Duration
		BackoffCoefficient float64
	}
)
