// Package execctx implements the Execution Context Factory (§4.E): the
// per-invocation value passed to a skill handler, carrying a scoped
// workspace, logger, secrets accessor, policy, and cancellation signal.
// Contexts are scoped-acquisition: Acquire creates one immediately before a
// handler runs, and the returned Context's Dispose is guaranteed to run on
// every exit path, including a handler panic.
package execctx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/campaignforge/engine/internal/artifact"
	"github.com/campaignforge/engine/internal/secrets"
	"github.com/campaignforge/engine/internal/skill"
	"github.com/campaignforge/engine/internal/telemetry"
	"github.com/google/uuid"
)

// Context is the per-step value handed to a handler.
type Context struct {
	TenantID    string
	RunID       string
	StepID      string
	ExecutionID string
	SkillID     string

	WorkspaceDir    string
	ArtifactBaseURI string

	// Artifacts is the content-addressed store a handler writes its output
	// bytes to. A handler calls Put itself and embeds the returned
	// Artifact's id/uri in the ArtifactRef it returns; the orchestrator
	// never writes artifact bytes on a handler's behalf.
	Artifacts artifact.Store

	Logger  telemetry.Logger
	Secrets secrets.Accessor
	Policy  skill.Policy

	// Signal fires on timeout, explicit cancel, or orchestrator
	// shutdown. Handlers should select on Signal.Done() alongside their
	// own work.
	Signal Signal

	cancel    context.CancelFunc
	baseDir   string
	disposed  bool
}

// Signal is the cancellation handle exposed to handlers.
type Signal interface {
	Done() <-chan struct{}
	Err() error
}

// Factory constructs execution contexts scoped to a workspace root.
type Factory struct {
	workspaceRoot   string
	artifacts       artifact.Store
	artifactBaseURI func(tenantID, runID, stepID string) string
	loggerFor       func(tenantID, runID, stepID, skillID string) telemetry.Logger
	secretsFor      func(tenantID, skillID string) secrets.Accessor
	cancelGraceMs   int
	defaultTimeout  time.Duration
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithArtifactBaseURI overrides the artifact base URI generator.
func WithArtifactBaseURI(fn func(tenantID, runID, stepID string) string) FactoryOption {
	return func(f *Factory) { f.artifactBaseURI = fn }
}

// WithArtifactStore installs the store a handler's Context.Artifacts exposes.
func WithArtifactStore(store artifact.Store) FactoryOption {
	return func(f *Factory) { f.artifacts = store }
}

// WithLoggerFactory overrides how a per-step logger is constructed.
func WithLoggerFactory(fn func(tenantID, runID, stepID, skillID string) telemetry.Logger) FactoryOption {
	return func(f *Factory) { f.loggerFor = fn }
}

// WithSecretsFactory overrides how a per-step secrets accessor is
// constructed.
func WithSecretsFactory(fn func(tenantID, skillID string) secrets.Accessor) FactoryOption {
	return func(f *Factory) { f.secretsFor = fn }
}

// WithCancelGraceMs records a cancel grace period on the Factory. Acquire
// and Dispose do not read it; the orchestrator's force-mark sweep uses its
// own orchestrator.Config.CancelGraceMs.
func WithCancelGraceMs(ms int) FactoryOption {
	return func(f *Factory) { f.cancelGraceMs = ms }
}

// WithDefaultTimeout sets the default per-step timeout used when a
// descriptor's policy omits max_runtime_sec.
func WithDefaultTimeout(d time.Duration) FactoryOption {
	return func(f *Factory) { f.defaultTimeout = d }
}

// NewFactory constructs a Factory rooted at workspaceRoot (§6.3: each step's
// workspace is `<ROOT>/<tenant>/<run>/<step>/<attempt>/`).
func NewFactory(workspaceRoot string, opts ...FactoryOption) *Factory {
	f := &Factory{
		workspaceRoot:  workspaceRoot,
		defaultTimeout: 10 * time.Minute,
		cancelGraceMs:  5000,
		artifactBaseURI: func(tenantID, runID, stepID string) string {
			return fmt.Sprintf("mem://%s/%s/%s", tenantID, runID, stepID)
		},
		loggerFor: func(tenantID, runID, stepID, skillID string) telemetry.Logger {
			return telemetry.NewNoopLogger()
		},
		secretsFor: func(tenantID, skillID string) secrets.Accessor {
			return secrets.New(secrets.WithScope(tenantID, skillID))
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// AcquireParams identifies the step a Context is being acquired for.
type AcquireParams struct {
	TenantID string
	RunID    string
	StepID   string
	Attempt  int
	SkillID  string
	Policy   skill.Policy
	// RunBudgetRemaining, if non-zero, caps the effective timeout at the
	// lesser of policy.max_runtime_sec and the run's remaining budget.
	RunBudgetRemaining time.Duration
}

// Acquire creates a fresh workspace directory and returns a Context ready
// to pass to a handler, along with the derived context.Context the caller
// should use for the handler invocation (it carries the timeout/cancel).
// Dispose must be called on every exit path.
func (f *Factory) Acquire(ctx context.Context, p AcquireParams) (*Context, context.Context, error) {
	workspaceDir := filepath.Join(f.workspaceRoot, p.TenantID, p.RunID, p.StepID, fmt.Sprint(p.Attempt))
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("execctx: create workspace: %w", err)
	}

	timeout := f.effectiveTimeout(p)
	handlerCtx, cancel := context.WithTimeout(ctx, timeout)

	ec := &Context{
		TenantID:        p.TenantID,
		RunID:           p.RunID,
		StepID:          p.StepID,
		ExecutionID:     uuid.NewString(),
		SkillID:         p.SkillID,
		WorkspaceDir:    workspaceDir,
		ArtifactBaseURI: f.artifactBaseURI(p.TenantID, p.RunID, p.StepID),
		Artifacts:       f.artifacts,
		Logger:          f.loggerFor(p.TenantID, p.RunID, p.StepID, p.SkillID),
		Secrets:         f.secretsFor(p.TenantID, p.SkillID),
		Policy:          p.Policy,
		Signal:          handlerCtx,
		cancel:          cancel,
		baseDir:         workspaceDir,
	}
	return ec, handlerCtx, nil
}

func (f *Factory) effectiveTimeout(p AcquireParams) time.Duration {
	timeout := f.defaultTimeout
	if p.Policy.MaxRuntimeSec > 0 {
		timeout = time.Duration(p.Policy.MaxRuntimeSec) * time.Second
	}
	if p.RunBudgetRemaining > 0 && p.RunBudgetRemaining < timeout {
		timeout = p.RunBudgetRemaining
	}
	return timeout
}

// Dispose releases the context's resources: cancels the derived context
// (releasing timer resources), then removes the workspace directory. Safe
// to call more than once and safe to call after a handler panic, as long
// as the caller defers it immediately after Acquire returns.
func (ec *Context) Dispose() {
	if ec.disposed {
		return
	}
	ec.disposed = true
	if ec.cancel != nil {
		ec.cancel()
	}
	if ec.baseDir != "" {
		_ = os.RemoveAll(ec.baseDir)
	}
}

type contextKey struct{}

// NewContext returns a copy of parent carrying ec, retrievable by a handler
// via FromContext. The orchestrator wraps the handler-scoped context.Context
// with this before invoking a skill.Handler.
func NewContext(parent context.Context, ec *Context) context.Context {
	return context.WithValue(parent, contextKey{}, ec)
}

// FromContext retrieves the Context a handler is running under, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	ec, ok := ctx.Value(contextKey{}).(*Context)
	return ec, ok
}
