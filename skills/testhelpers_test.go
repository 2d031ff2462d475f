package skills_test

import (
	"context"
	"testing"

	"github.com/campaignforge/engine/internal/artifact"
	"github.com/campaignforge/engine/internal/execctx"
	"github.com/campaignforge/engine/internal/telemetry"
	"github.com/stretchr/testify/require"
)

// newHandlerContext builds a context.Context carrying an *execctx.Context
// backed by a fresh filesystem artifact store, matching the shape the
// orchestrator hands a handler when it invokes it.
func newHandlerContext(t *testing.T, tenantID, runID, stepID string) context.Context {
	t.Helper()
	store, err := artifact.NewFSStore(t.TempDir())
	require.NoError(t, err)

	ec := &execctx.Context{
		TenantID:  tenantID,
		RunID:     runID,
		StepID:    stepID,
		SkillID:   stepID,
		Artifacts: store,
		Logger:    telemetry.NewNoopLogger(),
		Signal:    context.Background(),
	}
	return execctx.NewContext(context.Background(), ec)
}
