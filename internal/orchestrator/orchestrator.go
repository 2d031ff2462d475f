// Package orchestrator implements the Run Orchestrator (§4.I): it consumes
// run-trigger messages off the queue, drives a run's step graph to
// completion through the Engine abstraction, and enforces the retry,
// caching, and cancellation rules that make a run's execution
// reproducible.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/campaignforge/engine/internal/artifact"
	"github.com/campaignforge/engine/internal/cache"
	"github.com/campaignforge/engine/internal/execctx"
	"github.com/campaignforge/engine/internal/fingerprint"
	"github.com/campaignforge/engine/internal/orchestrator/engine"
	"github.com/campaignforge/engine/internal/orchestrator/queue"
	"github.com/campaignforge/engine/internal/run"
	"github.com/campaignforge/engine/internal/runstore"
	"github.com/campaignforge/engine/internal/skill"
	"github.com/campaignforge/engine/internal/telemetry"
	"github.com/campaignforge/engine/internal/workflow"
)

// Engine-visible names for the single workflow/activity set the
// orchestrator registers (§4.I).
const (
	WorkflowName         = "RunWorkflow"
	activityPrepareRun   = "PrepareRun"
	activityExecuteStep  = "ExecuteStep"
	activityAggregateRun = "AggregateRun"
)

// Config tunes the concurrency and timing knobs named in §4.I/§5. Zero
// values are replaced by the documented defaults in New.
type Config struct {
	// TaskQueue is the engine task queue the workflow/activities run on.
	TaskQueue string
	// PerRunParallelism bounds how many steps of a single run execute
	// concurrently (default 4).
	PerRunParallelism int
	// MaxParallelRunsPerTenant bounds how many runs of one tenant the
	// ingress loop starts concurrently (default 4).
	MaxParallelRunsPerTenant int
	// ProcessConcurrency bounds concurrent in-flight handler invocations
	// across the whole process (default 32).
	ProcessConcurrency int
	// TenantConcurrency bounds concurrent in-flight handler invocations
	// per tenant (default 8).
	TenantConcurrency int
	// CancelGraceMs is the grace period a cancelling step is given before
	// being force-marked failed (default 10000).
	CancelGraceMs int
	// DefaultCacheTTL is the Step Cache entry lifetime when a skill
	// descriptor does not declare one. Zero means unbounded.
	DefaultCacheTTL time.Duration
}

func (c *Config) setDefaults() {
	if c.TaskQueue == "" {
		c.TaskQueue = "orchestrator"
	}
	if c.PerRunParallelism <= 0 {
		c.PerRunParallelism = 4
	}
	if c.MaxParallelRunsPerTenant <= 0 {
		c.MaxParallelRunsPerTenant = 4
	}
	if c.ProcessConcurrency <= 0 {
		c.ProcessConcurrency = 32
	}
	if c.TenantConcurrency <= 0 {
		c.TenantConcurrency = 8
	}
	if c.CancelGraceMs <= 0 {
		c.CancelGraceMs = 10000
	}
}

// Orchestrator wires the Engine, Queue, Run State Store, Workflow Planner,
// Skill Descriptor Registry, Step Cache, Artifact Store, and Execution
// Context Factory into the run-driving algorithm of §4.I.
type Orchestrator struct {
	cfg Config

	engine    engine.Engine
	queue     *queue.Queue
	runs      runstore.Store
	workflows *workflow.Registry
	skills    *skill.Registry
	cache     cache.Cache
	fp        *fingerprint.Fingerprinter
	execFct   *execctx.Factory
	artifacts artifact.Store
	logger    telemetry.Logger
	metrics   telemetry.Metrics

	processSem *semaphore.Weighted

	tenantHandlerSemMu sync.Mutex
	tenantHandlerSem   map[string]*semaphore.Weighted

	tenantRunSemMu sync.Mutex
	tenantRunSem   map[string]*semaphore.Weighted

	handlesMu sync.Mutex
	handles   map[string]engine.WorkflowHandle
}

// Deps bundles the collaborators Orchestrator drives. Every field is
// required except Logger/Metrics, which default to no-ops.
type Deps struct {
	Engine         engine.Engine
	Queue          *queue.Queue
	RunStore       runstore.Store
	Workflows      *workflow.Registry
	Skills         *skill.Registry
	Cache          cache.Cache
	Fingerprinter  *fingerprint.Fingerprinter
	ExecCtxFactory *execctx.Factory
	Artifacts      artifact.Store
	Logger         telemetry.Logger
	Metrics        telemetry.Metrics
}

// New constructs an Orchestrator. It does not start consuming messages;
// call Start for that.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Engine == nil || deps.Queue == nil || deps.RunStore == nil || deps.Workflows == nil ||
		deps.Skills == nil || deps.Cache == nil || deps.Fingerprinter == nil || deps.ExecCtxFactory == nil ||
		deps.Artifacts == nil {
		return nil, errors.New("orchestrator: all Deps fields except Logger/Metrics are required")
	}
	cfg.setDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}

	return &Orchestrator{
		cfg:              cfg,
		engine:           deps.Engine,
		queue:            deps.Queue,
		runs:             deps.RunStore,
		workflows:        deps.Workflows,
		skills:           deps.Skills,
		cache:            deps.Cache,
		fp:               deps.Fingerprinter,
		execFct:          deps.ExecCtxFactory,
		artifacts:        deps.Artifacts,
		logger:           logger,
		metrics:          metrics,
		processSem:       semaphore.NewWeighted(int64(cfg.ProcessConcurrency)),
		tenantHandlerSem: make(map[string]*semaphore.Weighted),
		tenantRunSem:     make(map[string]*semaphore.Weighted),
		handles:          make(map[string]engine.WorkflowHandle),
	}, nil
}

func (o *Orchestrator) tenantHandlerGate(tenantID string) *semaphore.Weighted {
	o.tenantHandlerSemMu.Lock()
	defer o.tenantHandlerSemMu.Unlock()
	sem, ok := o.tenantHandlerSem[tenantID]
	if !ok {
		sem = semaphore.NewWeighted(int64(o.cfg.TenantConcurrency))
		o.tenantHandlerSem[tenantID] = sem
	}
	return sem
}

func (o *Orchestrator) tenantRunGate(tenantID string) *semaphore.Weighted {
	o.tenantRunSemMu.Lock()
	defer o.tenantRunSemMu.Unlock()
	sem, ok := o.tenantRunSem[tenantID]
	if !ok {
		sem = semaphore.NewWeighted(int64(o.cfg.MaxParallelRunsPerTenant))
		o.tenantRunSem[tenantID] = sem
	}
	return sem
}

// Register binds the orchestrator's workflow and activities to its Engine.
// Must be called once before Start.
func (o *Orchestrator) Register(ctx context.Context) error {
	if err := o.engine.RegisterActivity(ctx, engine.ActivityDefinition{
		Name:    activityPrepareRun,
		Handler: o.prepareRunActivity,
	}); err != nil {
		return fmt.Errorf("orchestrator: register %s: %w", activityPrepareRun, err)
	}
	if err := o.engine.RegisterActivity(ctx, engine.ActivityDefinition{
		Name:    activityExecuteStep,
		Handler: o.executeStepActivity,
	}); err != nil {
		return fmt.Errorf("orchestrator: register %s: %w", activityExecuteStep, err)
	}
	if err := o.engine.RegisterActivity(ctx, engine.ActivityDefinition{
		Name:    activityAggregateRun,
		Handler: o.aggregateRunActivity,
	}); err != nil {
		return fmt.Errorf("orchestrator: register %s: %w", activityAggregateRun, err)
	}
	if err := o.engine.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name:      WorkflowName,
		TaskQueue: o.cfg.TaskQueue,
		Handler:   o.runWorkflow,
	}); err != nil {
		return fmt.Errorf("orchestrator: register %s: %w", WorkflowName, err)
	}
	return nil
}

// Start begins consuming run-trigger messages from the queue. The returned
// cancel function stops consumption; it does not cancel runs already
// started.
func (o *Orchestrator) Start(ctx context.Context) (context.CancelFunc, error) {
	return o.queue.Subscribe(ctx, o.onMessage)
}

// onMessage starts a workflow execution for msg, gated by the tenant's
// max_parallel_runs_per_tenant slot (§4.I ingress). It returns promptly so
// the queue message acks as soon as the run is accepted; completion is
// tracked asynchronously so a long-running campaign build never blocks the
// ingress consumer.
func (o *Orchestrator) onMessage(ctx context.Context, msg queue.Message) error {
	gate := o.tenantRunGate(msg.TenantID)
	if err := gate.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("orchestrator: acquire tenant run gate: %w", err)
	}

	handle, err := o.engine.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:        msg.RunID,
		Workflow:  WorkflowName,
		TaskQueue: o.cfg.TaskQueue,
		Input:     RunWorkflowInput{TenantID: msg.TenantID, RunID: msg.RunID},
	})
	if err != nil {
		gate.Release(1)
		// Another worker already owns this run id; not an error for this
		// consumer, but the dedup key must eventually be released.
		o.logger.Warn(ctx, "orchestrator: start workflow failed", "run_id", msg.RunID, "error", err.Error())
		_ = o.queue.Complete(context.Background(), msg.RunID, true)
		return nil
	}

	o.handlesMu.Lock()
	o.handles[msg.RunID] = handle
	o.handlesMu.Unlock()

	go o.awaitWorkflow(msg, handle, gate)
	return nil
}

func (o *Orchestrator) awaitWorkflow(msg queue.Message, handle engine.WorkflowHandle, gate *semaphore.Weighted) {
	defer gate.Release(1)
	defer func() {
		o.handlesMu.Lock()
		delete(o.handles, msg.RunID)
		o.handlesMu.Unlock()
	}()

	var result RunWorkflowResult
	err := handle.Wait(context.Background(), &result)
	succeeded := err == nil && result.Status == string(run.StatusSucceeded)
	if err != nil {
		o.logger.Error(context.Background(), "orchestrator: workflow execution error", "run_id", msg.RunID, "error", err.Error())
	}
	if compErr := o.queue.Complete(context.Background(), msg.RunID, succeeded); compErr != nil {
		o.logger.Error(context.Background(), "orchestrator: release dedup key", "run_id", msg.RunID, "error", compErr.Error())
	}
}

// RunWorkflowInput is the input to the RunWorkflow workflow.
type RunWorkflowInput struct {
	TenantID string
	RunID    string
}

// RunWorkflowResult is RunWorkflow's return value.
type RunWorkflowResult struct {
	Status string
}

// runWorkflow implements the per-run loop and step scheduling loop of
// §4.I. Every scheduling decision is derived from activity results, never
// from wall-clock time or local randomness, so the function replays
// identically on a durable backend.
func (o *Orchestrator) runWorkflow(wctx engine.WorkflowContext, input any) (any, error) {
	in, ok := input.(RunWorkflowInput)
	if !ok {
		return nil, fmt.Errorf("orchestrator: runWorkflow: unexpected input type %T", input)
	}

	var prep prepareRunOutput
	if err := wctx.ExecuteActivity(wctx.Context(), engine.ActivityRequest{
		Name:  activityPrepareRun,
		Input: prepareRunInput{TenantID: in.TenantID, RunID: in.RunID},
		Queue: o.cfg.TaskQueue,
	}, &prep); err != nil {
		return nil, fmt.Errorf("orchestrator: prepare run: %w", err)
	}
	if prep.AlreadyTerminal {
		return RunWorkflowResult{Status: prep.Status}, nil
	}

	status := make(map[string]run.StepStatus, len(prep.Steps))
	for _, s := range prep.Steps {
		status[s.StepID] = run.StepPending
	}

	for {
		if wctx.Context().Err() != nil {
			// CancelRun fired; the background force-mark sweep (started by
			// CancelRun) owns finalizing this run's remaining steps, so the
			// workflow itself just stops dispatching new work.
			return RunWorkflowResult{Status: string(run.StatusCancelling)}, nil
		}

		ready := readyStepIDs(prep.Steps, status)
		if len(ready) == 0 {
			break
		}
		if len(ready) > o.cfg.PerRunParallelism {
			ready = ready[:o.cfg.PerRunParallelism]
		}

		futures := make(map[string]engine.Future, len(ready))
		for _, stepID := range ready {
			status[stepID] = run.StepRunning
			fut, err := wctx.ExecuteActivityAsync(wctx.Context(), engine.ActivityRequest{
				Name:  activityExecuteStep,
				Input: executeStepInput{TenantID: in.TenantID, RunID: in.RunID, StepID: stepID},
				Queue: o.cfg.TaskQueue,
			})
			if err != nil {
				return nil, fmt.Errorf("orchestrator: schedule step %q: %w", stepID, err)
			}
			futures[stepID] = fut
		}

		for stepID, fut := range futures {
			var out executeStepOutput
			if err := fut.Get(wctx.Context(), &out); err != nil {
				return nil, fmt.Errorf("orchestrator: execute step %q: %w", stepID, err)
			}
			status[stepID] = run.StepStatus(out.Status)
		}
	}

	var agg aggregateRunOutput
	if err := wctx.ExecuteActivity(wctx.Context(), engine.ActivityRequest{
		Name:  activityAggregateRun,
		Input: aggregateRunInput{TenantID: in.TenantID, RunID: in.RunID},
		Queue: o.cfg.TaskQueue,
	}, &agg); err != nil {
		return nil, fmt.Errorf("orchestrator: aggregate run: %w", err)
	}

	return RunWorkflowResult{Status: agg.Status}, nil
}

// readyStepIDs returns every pending step whose predecessors are all
// terminal, in deterministic (ascending stepNode slice) order.
func readyStepIDs(steps []stepNode, status map[string]run.StepStatus) []string {
	var ready []string
	for _, s := range steps {
		if status[s.StepID] != run.StepPending {
			continue
		}
		allTerminal := true
		for _, pred := range s.Predecessors {
			if !status[pred].Terminal() {
				allTerminal = false
				break
			}
		}
		if allTerminal {
			ready = append(ready, s.StepID)
		}
	}
	return ready
}
