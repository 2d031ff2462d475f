package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/campaignforge/engine/internal/cache"
	"github.com/campaignforge/engine/internal/envelope"
	"github.com/campaignforge/engine/internal/execctx"
	"github.com/campaignforge/engine/internal/fingerprint"
	"github.com/campaignforge/engine/internal/run"
	"github.com/campaignforge/engine/internal/runstore"
	"github.com/campaignforge/engine/internal/skill"
	"github.com/campaignforge/engine/internal/workflow"
)

// executeStepInput is the ExecuteStep activity's input.
type executeStepInput struct {
	TenantID string
	RunID    string
	StepID   string
}

// executeStepOutput is the ExecuteStep activity's output: the step's final
// status, enough for the workflow to recompute its ready set.
type executeStepOutput struct {
	Status string
}

// executeStepActivity implements the per-step lifecycle of §4.I: cascade
// skip, resolve, fingerprint, cache single-flight, and the producer path
// (CAS to running, invoke handler, retry-on-transient, persist artifacts).
func (o *Orchestrator) executeStepActivity(ctx context.Context, input any) (any, error) {
	in, ok := input.(executeStepInput)
	if !ok {
		return nil, fmt.Errorf("orchestrator: executeStepActivity: unexpected input type %T", input)
	}

	r, err := o.runs.GetRun(ctx, in.TenantID, in.RunID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load run %s: %w", in.RunID, err)
	}
	steps, err := o.runs.ListSteps(ctx, in.TenantID, in.RunID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list steps for run %s: %w", in.RunID, err)
	}
	byStepID := make(map[string]*run.Step, len(steps))
	for _, s := range steps {
		byStepID[s.StepID] = s
	}

	planned, err := o.workflows.Plan(r.WorkflowName, r.TriggerPayload)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: plan %s: %w", r.WorkflowName, err)
	}
	var def *workflow.PlannedStep
	for i := range planned {
		if planned[i].StepID == in.StepID {
			def = &planned[i]
			break
		}
	}
	if def == nil {
		return nil, fmt.Errorf("orchestrator: step %q not present in plan for run %s", in.StepID, in.RunID)
	}

	if cascaded, reason := cascadeSkip(def, byStepID); cascaded {
		if err := o.runs.TransitionStep(ctx, in.TenantID, in.RunID, in.StepID, run.StepPending, run.StepSkipped, runstore.StepFields{
			Error: &run.ErrorRecord{Code: envelope.CodeSkippedDueToUpstream, Message: reason},
		}); err != nil {
			return nil, fmt.Errorf("orchestrator: skip step %q: %w", in.StepID, err)
		}
		return executeStepOutput{Status: string(run.StepSkipped)}, nil
	}

	state, err := o.buildRunState(ctx, in.TenantID, r, steps)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build run state for step %q: %w", in.StepID, err)
	}

	resolvedInput, err := def.Resolve(state)
	if err != nil {
		return o.failStep(ctx, in, envelope.CodeInputResolutionFailed, err.Error())
	}

	scope := fingerprint.Scope{TenantID: in.TenantID, SkillID: def.SkillID, SkillVersion: def.SkillVersion}
	fp, err := o.fp.Fingerprint(scope, resolvedInput)
	if err != nil {
		return o.failStep(ctx, in, envelope.CodeInternalError, fmt.Sprintf("fingerprint: %s", err))
	}

	startedAt := time.Now().UTC()
	if err := o.runs.TransitionStep(ctx, in.TenantID, in.RunID, in.StepID, run.StepPending, run.StepRunning, runstore.StepFields{
		InputFingerprint: &fp,
		StartedAt:        &startedAt,
	}); err != nil {
		return nil, fmt.Errorf("orchestrator: transition step %q to running: %w", in.StepID, err)
	}

	descriptor, err := o.skills.Get(def.SkillID, def.SkillVersion)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load descriptor for %s@%s: %w", def.SkillID, def.SkillVersion, err)
	}
	handler, err := o.skills.Handler(def.SkillID, def.SkillVersion)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load handler for %s@%s: %w", def.SkillID, def.SkillVersion, err)
	}

	key := cache.Key{TenantID: in.TenantID, SkillID: def.SkillID, SkillVersion: def.SkillVersion, Fingerprint: fp}
	entry, hit, err := o.cache.SingleFlight(ctx, key, o.cfg.DefaultCacheTTL, func() (cache.Entry, error) {
		return o.produce(ctx, in, descriptor, handler, resolvedInput)
	})
	if err != nil {
		return o.finishFailedStep(ctx, in, err)
	}

	endedAt := time.Now().UTC()
	durationMs := endedAt.Sub(startedAt).Milliseconds()
	if err := o.completeStep(ctx, in, entry.ArtifactIDs, endedAt, durationMs, hit); err != nil {
		return nil, fmt.Errorf("orchestrator: complete step %q: %w", in.StepID, err)
	}
	return executeStepOutput{Status: string(run.StepCompleted)}, nil
}

// cascadeSkip reports whether def must skip because a non-optional
// predecessor is failed or skipped (§7 propagation: SKIPPED_DUE_TO_UPSTREAM).
func cascadeSkip(def *workflow.PlannedStep, byStepID map[string]*run.Step) (bool, string) {
	for _, pred := range def.Predecessors {
		predStep, ok := byStepID[pred]
		if !ok {
			continue
		}
		if predStep.Status != run.StepFailed && predStep.Status != run.StepSkipped {
			continue
		}
		if def.OptionalEdges[pred] {
			continue
		}
		return true, fmt.Sprintf("predecessor %q is %s", pred, predStep.Status)
	}
	return false, ""
}

// buildRunState reconstructs the workflow.RunState a step's InputResolver
// needs, reading each completed predecessor's output data back out of the
// Step Cache by its persisted input_fingerprint (the Step row itself only
// carries artifact ids, not the skill-declared data payload).
func (o *Orchestrator) buildRunState(ctx context.Context, tenantID string, r *run.Run, steps []*run.Step) (workflow.RunState, error) {
	state := workflow.RunState{TriggerPayload: r.TriggerPayload, Steps: make(map[string]workflow.StepOutput, len(steps))}
	for _, s := range steps {
		if s.Status != run.StepCompleted {
			continue
		}
		var data map[string]any
		if s.InputFingerprint != "" {
			key := cache.Key{TenantID: tenantID, SkillID: s.SkillID, SkillVersion: s.SkillVersion, Fingerprint: s.InputFingerprint}
			entry, hit, err := o.cache.Lookup(ctx, key)
			if err != nil {
				return workflow.RunState{}, fmt.Errorf("load cached output for step %q: %w", s.StepID, err)
			}
			if hit {
				if d, err := decodeSnapshotData(entry.ResultEnvelopeSnapshot); err == nil {
					data = d
				}
			}
		}
		state.Steps[s.StepID] = workflow.StepOutput{Data: data, Artifacts: s.OutputArtifactIDs}
	}
	return state, nil
}

func decodeSnapshotData(snapshot []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(snapshot, &m); err != nil {
		return nil, err
	}
	data, _ := m["data"].(map[string]any)
	return data, nil
}

// produce runs the handler-invocation retry loop for one (skill, input)
// fingerprint; it is passed to cache.SingleFlight so at most one goroutine
// in the process executes it per key (§8 invariant 2).
func (o *Orchestrator) produce(ctx context.Context, in executeStepInput, descriptor *skill.Descriptor, handler skill.Handler, resolvedInput map[string]any) (cache.Entry, error) {
	maxRetries := maxRetriesFor(descriptor)
	gate := o.tenantHandlerGate(in.TenantID)

	for attempt := 1; ; attempt++ {
		res, attemptErr := o.invokeHandler(ctx, in, descriptor, handler, resolvedInput, attempt, gate)
		if attemptErr != nil {
			return cache.Entry{}, attemptErr
		}
		if res.Ok {
			resMap, err := res.ToMap()
			if err != nil {
				return cache.Entry{}, envelope.WrapError(envelope.CodeInternalError, err)
			}
			snapshot, err := json.Marshal(resMap)
			if err != nil {
				return cache.Entry{}, envelope.WrapError(envelope.CodeInternalError, err)
			}
			ids := make([]string, 0, len(res.Artifacts))
			for _, a := range res.Artifacts {
				ids = append(ids, a.ID)
			}
			return cache.Entry{ResultEnvelopeSnapshot: snapshot, ArtifactIDs: ids, CreatedAt: time.Now().UTC()}, nil
		}

		if !retryable(res.ErrorCode, attempt, maxRetries) {
			return cache.Entry{}, envelope.NewError(res.ErrorCode, res.Error)
		}
		select {
		case <-ctx.Done():
			return cache.Entry{}, envelope.WrapError(envelope.CodeCancelled, ctx.Err())
		case <-time.After(backoffDelay(attempt)):
		}
	}
}

// invokeHandler runs one attempt of a skill handler under the process and
// tenant concurrency gates (§5). Its error return is reserved for
// non-retryable classification failures (timeout, cancellation, internal
// setup errors); an ordinary handler failure is instead reported as a
// failure envelope so produce's retry loop can inspect the error code.
func (o *Orchestrator) invokeHandler(ctx context.Context, in executeStepInput, descriptor *skill.Descriptor, handler skill.Handler, resolvedInput map[string]any, attempt int, gate *semaphore.Weighted) (envelope.Result[map[string]any], error) {
	ec, handlerCtx, err := o.execFct.Acquire(ctx, execctx.AcquireParams{
		TenantID: in.TenantID,
		RunID:    in.RunID,
		StepID:   in.StepID,
		Attempt:  attempt,
		SkillID:  descriptor.SkillID,
		Policy:   descriptor.Policy,
	})
	if err != nil {
		return envelope.Result[map[string]any]{}, envelope.WrapError(envelope.CodeInternalError, err)
	}
	defer ec.Dispose()

	if err := o.processSem.Acquire(handlerCtx, 1); err != nil {
		return envelope.Result[map[string]any]{}, classifyContextErr(handlerCtx)
	}
	defer o.processSem.Release(1)
	if err := gate.Acquire(handlerCtx, 1); err != nil {
		return envelope.Result[map[string]any]{}, classifyContextErr(handlerCtx)
	}
	defer gate.Release(1)

	callCtx := execctx.NewContext(handlerCtx, ec)
	out, handlerErr := handler(callCtx, resolvedInput)
	if handlerCtx.Err() != nil {
		return envelope.Result[map[string]any]{}, classifyContextErr(handlerCtx)
	}
	if handlerErr != nil {
		return envelope.Failure[map[string]any](envelope.CodeExecutionError, handlerErr.Error(), envelope.Debug{}), nil
	}

	res, decodeErr := envelope.FromMap(out)
	if decodeErr != nil {
		return envelope.Failure[map[string]any](envelope.CodeExecutionError, decodeErr.Error(), envelope.Debug{}), nil
	}
	return res, nil
}

func classifyContextErr(ctx context.Context) error {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return envelope.NewError(envelope.CodeTimeout, "step exceeded its execution deadline")
	default:
		return envelope.NewError(envelope.CodeCancelled, "step execution was cancelled")
	}
}

func (o *Orchestrator) failStep(ctx context.Context, in executeStepInput, code, message string) (any, error) {
	startedAt := time.Now().UTC()
	if err := o.runs.TransitionStep(ctx, in.TenantID, in.RunID, in.StepID, run.StepPending, run.StepRunning, runstore.StepFields{
		StartedAt: &startedAt,
	}); err != nil {
		return nil, fmt.Errorf("orchestrator: transition step %q to running before failing: %w", in.StepID, err)
	}
	return o.finishFailedStep(ctx, in, envelope.NewError(code, message))
}

func (o *Orchestrator) finishFailedStep(ctx context.Context, in executeStepInput, cause error) (any, error) {
	code := envelope.CodeExecutionError
	message := cause.Error()
	if e, ok := cause.(*envelope.Error); ok {
		code, message = e.Code, e.Message
	}
	endedAt := time.Now().UTC()

	// A CANCELLED/TIMEOUT cause means ctx itself may already be done; this
	// write must still land (§4.I: a worker that observes cancellation is
	// the one expected to persist failed{CANCELLED}), so it runs detached
	// from ctx's cancellation but still bounded by the grace period.
	writeCtx, cancel := gracePersistContext(ctx, time.Duration(o.cfg.CancelGraceMs)*time.Millisecond)
	defer cancel()

	if err := o.runs.TransitionStep(writeCtx, in.TenantID, in.RunID, in.StepID, run.StepRunning, run.StepFailed, runstore.StepFields{
		Error:   &run.ErrorRecord{Code: code, Message: message},
		EndedAt: &endedAt,
	}); err != nil {
		return nil, fmt.Errorf("orchestrator: transition step %q to failed: %w", in.StepID, err)
	}
	return executeStepOutput{Status: string(run.StepFailed)}, nil
}

// completeStep records the producer's (or cache hit's) artifacts and moves
// the step to completed. AppendArtifact does both atomically per artifact;
// a step with no artifacts still needs an explicit transition since
// AppendArtifact requires one id per call.
func (o *Orchestrator) completeStep(ctx context.Context, in executeStepInput, artifactIDs []string, endedAt time.Time, durationMs int64, cacheHit bool) error {
	if len(artifactIDs) == 0 {
		return o.runs.TransitionStep(ctx, in.TenantID, in.RunID, in.StepID, run.StepRunning, run.StepCompleted, runstore.StepFields{
			EndedAt:    &endedAt,
			DurationMs: &durationMs,
			CacheHit:   &cacheHit,
		})
	}
	for _, id := range artifactIDs {
		if err := o.runs.AppendArtifact(ctx, in.TenantID, in.RunID, in.StepID, id, endedAt, durationMs); err != nil {
			return err
		}
	}
	if cacheHit {
		return o.runs.TransitionStep(ctx, in.TenantID, in.RunID, in.StepID, run.StepCompleted, run.StepCompleted, runstore.StepFields{
			CacheHit: &cacheHit,
		})
	}
	return nil
}
