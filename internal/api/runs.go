package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/campaignforge/engine/internal/artifact"
	"github.com/campaignforge/engine/internal/orchestrator/queue"
	"github.com/campaignforge/engine/internal/run"
	"github.com/campaignforge/engine/internal/runstore"
	"github.com/campaignforge/engine/internal/workflow"
)

// RunsHandler implements the Run API Surface's run-triggering and
// read-model endpoints (§4.J, §6.1).
type RunsHandler struct {
	Store     runstore.Store
	Workflows *workflow.Registry
	Artifacts artifact.Store
	Queue     *queue.Queue
}

// NewRunsHandler constructs a RunsHandler over the run engine's shared
// collaborators.
func NewRunsHandler(store runstore.Store, workflows *workflow.Registry, artifacts artifact.Store, q *queue.Queue) *RunsHandler {
	return &RunsHandler{Store: store, Workflows: workflows, Artifacts: artifacts, Queue: q}
}

// RegisterRoutes registers every Run API Surface route on mux.
func (h *RunsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/runs", h.handleTriggerRun)
	mux.HandleFunc("GET /v1/runs/{id}", h.handleGetRun)
	mux.HandleFunc("GET /v1/runs/{id}/steps", h.handleListSteps)
	mux.HandleFunc("GET /v1/runs/{id}/artifacts", h.handleListArtifacts)
	mux.HandleFunc("GET /v1/runs/{id}/cache-analysis", h.handleCacheAnalysis)
}

// triggerRunRequest is the POST /v1/runs request body. Field names are
// snake_case, consistent with every other JSON shape the run engine emits
// (run.Run, run.Step), rather than the camelCase shorthand used in prose
// descriptions of this endpoint elsewhere.
type triggerRunRequest struct {
	WorkflowName    string         `json:"workflow_name"`
	WorkflowVersion string         `json:"workflow_version,omitempty"`
	Payload         map[string]any `json:"payload"`
}

// handleTriggerRun implements TriggerRun (§4.J): validate the trigger
// payload against the named workflow's schema, persist the run in queued
// status, then publish it to the orchestration queue. A payload that fails
// schema validation, or names a workflow that isn't registered, is
// rejected before anything is persisted.
func (h *RunsHandler) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())

	var req triggerRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body: "+err.Error())
		return
	}
	if req.WorkflowName == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "workflow_name is required")
		return
	}
	if req.Payload == nil {
		req.Payload = map[string]any{}
	}

	if err := h.Workflows.ValidatePayload(req.WorkflowName, req.Payload); err != nil {
		var valErr *workflow.ValidationError
		switch {
		case errors.Is(err, workflow.ErrUnknownWorkflow):
			writeError(w, http.StatusBadRequest, "UNKNOWN_WORKFLOW", err.Error())
		case errors.As(err, &valErr):
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", valErr.Error())
		default:
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		}
		return
	}

	created, err := h.Store.CreateRun(r.Context(), runstore.CreateRunParams{
		TenantID:        tenantID,
		WorkflowName:    req.WorkflowName,
		WorkflowVersion: req.WorkflowVersion,
		TriggerType:     run.TriggerInitial,
		TriggerPayload:  req.Payload,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	if _, err := h.Queue.Enqueue(r.Context(), queue.Message{RunID: created.ID, TenantID: tenantID}); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "enqueue run: "+err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, created)
}

// handleGetRun implements GetRun (§4.J).
func (h *RunsHandler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	runID := r.PathValue("id")

	got, err := h.Store.GetRun(r.Context(), tenantID, runID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

// handleListSteps implements ListSteps (§4.J), with an optional ?status=
// filter.
func (h *RunsHandler) handleListSteps(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	runID := r.PathValue("id")

	steps, err := h.Store.ListSteps(r.Context(), tenantID, runID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := make([]*run.Step, 0, len(steps))
		for _, s := range steps {
			if string(s.Status) == status {
				filtered = append(filtered, s)
			}
		}
		steps = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"steps": steps})
}

// artifactRef is the artifact summary ListArtifacts returns: enough to
// locate and identify an artifact without requiring a second round trip
// through GetRun/ListSteps to learn which step produced it.
type artifactRef struct {
	ID       string `json:"id"`
	StepID   string `json:"step_id"`
	Type     string `json:"type"`
	URI      string `json:"uri"`
	Filename string `json:"filename,omitempty"`
}

// handleListArtifacts implements ListArtifacts (§4.J), with an optional
// ?step_id= filter. Artifact ids are hydrated from each step's
// output_artifact_ids via the Artifact Store so callers get a stable
// summary shape instead of re-deriving it from raw step rows.
func (h *RunsHandler) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	runID := r.PathValue("id")
	stepFilter := r.URL.Query().Get("step_id")

	steps, err := h.Store.ListSteps(r.Context(), tenantID, runID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	refs := make([]artifactRef, 0)
	for _, s := range steps {
		if stepFilter != "" && s.StepID != stepFilter {
			continue
		}
		for _, artifactID := range s.OutputArtifactIDs {
			art, stream, err := h.Artifacts.Get(r.Context(), artifactID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "load artifact "+artifactID+": "+err.Error())
				return
			}
			_ = stream.Close()
			refs = append(refs, artifactRef{ID: art.ID, StepID: s.StepID, Type: art.Type, URI: art.URI, Filename: art.Filename})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"artifacts": refs})
}

// skillCacheStats is one skill's cache hit/total tally within a run.
type skillCacheStats struct {
	SkillID  string  `json:"skill_id"`
	Hits     int     `json:"hits"`
	Total    int     `json:"total"`
	HitRatio float64 `json:"hit_ratio"`
}

// handleCacheAnalysis implements CacheAnalysis (§4.J): a per-skill rollup
// of the run's Step Cache hit rate, derived entirely from the already
// persisted cache_hit field on each step (§4.F), with no separate cache
// read required.
func (h *RunsHandler) handleCacheAnalysis(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	runID := r.PathValue("id")

	steps, err := h.Store.ListSteps(r.Context(), tenantID, runID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	order := make([]string, 0)
	bySkill := make(map[string]*skillCacheStats)
	for _, s := range steps {
		stats, ok := bySkill[s.SkillID]
		if !ok {
			stats = &skillCacheStats{SkillID: s.SkillID}
			bySkill[s.SkillID] = stats
			order = append(order, s.SkillID)
		}
		stats.Total++
		if s.CacheHit {
			stats.Hits++
		}
	}

	out := make([]skillCacheStats, 0, len(order))
	for _, skillID := range order {
		stats := bySkill[skillID]
		if stats.Total > 0 {
			stats.HitRatio = float64(stats.Hits) / float64(stats.Total)
		}
		out = append(out, *stats)
	}

	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "skills": out})
}

func (h *RunsHandler) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, runstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	if errors.Is(err, runstore.ErrTenantMismatch) {
		writeError(w, http.StatusForbidden, "TENANT_MISMATCH", err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
}
