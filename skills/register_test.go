package skills_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/campaignforge/engine/internal/provider"
	"github.com/campaignforge/engine/internal/skill"
	"github.com/campaignforge/engine/skills"
	"github.com/stretchr/testify/require"
)

// catalogDir locates the repository's catalog/ directory relative to this
// test file, so LoadCatalog reads the real descriptors Register expects to
// find bound, not a synthetic fixture.
func catalogDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	dir, err := filepath.Abs(filepath.Join(filepath.Dir(file), "..", "catalog"))
	require.NoError(t, err)
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("catalog dir %s: %v", dir, err)
	}
	return dir
}

func TestRegisterBindsEveryCatalogEntry(t *testing.T) {
	reg := skill.NewRegistry()
	require.NoError(t, reg.LoadCatalog(context.Background(), catalogDir(t)))
	require.Empty(t, reg.ValidationErrors())

	require.NoError(t, skills.Register(reg, &fakeProvider{}))

	for _, d := range reg.List() {
		require.True(t, reg.Has(d.SkillID), "skill %s has no bound handler", d.SkillID)
	}
}

func TestRegisterFailsForUnknownSkill(t *testing.T) {
	reg := skill.NewRegistry()
	err := reg.BindHandler("does_not_exist", "1.0.0", skills.NewStubHandler("does_not_exist"))
	require.Error(t, err)
}

func TestConcretelyImplementedHandlersAreNotStubs(t *testing.T) {
	reg := skill.NewRegistry()
	require.NoError(t, reg.LoadCatalog(context.Background(), catalogDir(t)))
	require.NoError(t, skills.Register(reg, &fakeProvider{textResult: provider.TextResult{Text: "ok"}}))

	handler, err := reg.Handler("plan_campaign", "")
	require.NoError(t, err)
	out, err := handler(newHandlerContext(t, "tenant-a", "run-1", "plan"), map[string]any{"brief": "brief"})
	require.NoError(t, err)
	require.Contains(t, out, "data")
	data, ok := out["data"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "ok", data["intro_copy"])
}
