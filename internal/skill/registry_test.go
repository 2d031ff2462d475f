package skill_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/campaignforge/engine/internal/skill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const indexYAML = `
skills:
  - skill_id: plan_campaign
    version: 1.0.0
    title: Plan Campaign
    status: active
  - skill_id: plan_campaign
    version: 1.1.0
    title: Plan Campaign
    status: active
  - skill_id: broken_skill
    version: 1.0.0
    title: Broken
    status: active
  - skill_id: retired_skill
    version: 1.0.0
    title: Retired
    status: deprecated
`

const planCampaignV1 = `
skill_id: plan_campaign
version: 1.0.0
title: Plan Campaign
description: Produces a campaign plan from a brief.
tags: [planning]
status: active
input_schema:
  type: object
  properties:
    brief: {type: string}
  required: [brief]
output_schema:
  type: object
  properties:
    title: {type: string}
  required: [title]
implementation:
  type: function
  handler: plan_campaign_v1
policy:
  max_runtime_sec: 30
  network: none
`

const planCampaignV1_1 = `
skill_id: plan_campaign
version: 1.1.0
title: Plan Campaign
description: Produces a campaign plan from a brief, v1.1.
tags: [planning]
status: active
input_schema:
  type: object
  properties:
    brief: {type: string}
  required: [brief]
output_schema:
  type: object
  properties:
    title: {type: string}
  required: [title]
implementation:
  type: function
  handler: plan_campaign_v1_1
policy:
  max_runtime_sec: 30
  network: none
`

const brokenSkillYAML = `
skill_id: BrokenSkill
version: not-a-semver
title: Broken
input_schema: {}
output_schema: {}
implementation:
  type: function
  handler: x
`

func writeCatalog(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.yaml"), []byte(indexYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plan_campaign.yaml"), []byte(planCampaignV1_1), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken_skill.yaml"), []byte(brokenSkillYAML), 0o644))
	return dir
}

func TestLoadCatalogRegistersActiveValidDescriptors(t *testing.T) {
	dir := writeCatalog(t)
	reg := skill.NewRegistry()

	require.NoError(t, reg.LoadCatalog(context.Background(), dir))

	d, err := reg.Get("plan_campaign", "")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", d.Version, "Get with empty version resolves to latest by semver")
}

func TestLoadCatalogSkipsDeprecatedAndAccumulatesErrors(t *testing.T) {
	dir := writeCatalog(t)
	reg := skill.NewRegistry()

	require.NoError(t, reg.LoadCatalog(context.Background(), dir))

	_, err := reg.Get("retired_skill", "")
	assert.Error(t, err, "deprecated index entries are never loaded")

	errs := reg.ValidationErrors()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Reason, "does not match")
}

func TestBindHandlerAndDispatch(t *testing.T) {
	dir := writeCatalog(t)
	reg := skill.NewRegistry()
	require.NoError(t, reg.LoadCatalog(context.Background(), dir))

	assert.False(t, reg.Has("plan_campaign"), "registered without a bound handler is not Has")

	err := reg.BindHandler("plan_campaign", "1.1.0", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return map[string]any{"title": "ok"}, nil
	})
	require.NoError(t, err)

	assert.True(t, reg.Has("plan_campaign"))

	h, err := reg.Handler("plan_campaign", "")
	require.NoError(t, err)
	out, err := h(context.Background(), map[string]any{"brief": "launch"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out["title"])
}

func TestListVersionsAscendingBySemver(t *testing.T) {
	dir := writeCatalog(t)
	reg := skill.NewRegistry()
	require.NoError(t, reg.LoadCatalog(context.Background(), dir))

	// Register an older version via a second catalog directory to exercise
	// multi-version ordering beyond what one index.yaml drives.
	olderDir := t.TempDir()
	olderIndex := "skills:\n  - skill_id: plan_campaign\n    version: 1.0.0\n    title: Plan Campaign\n    status: active\n"
	require.NoError(t, os.WriteFile(filepath.Join(olderDir, "index.yaml"), []byte(olderIndex), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(olderDir, "plan_campaign.yaml"), []byte(planCampaignV1), 0o644))
	require.NoError(t, reg.LoadCatalog(context.Background(), olderDir))

	versions := reg.ListVersions("plan_campaign")
	require.Len(t, versions, 2)
	assert.Equal(t, []string{"1.0.0", "1.1.0"}, versions)
}

func TestGetUnknownSkillFails(t *testing.T) {
	reg := skill.NewRegistry()
	_, err := reg.Get("nonexistent", "")
	assert.Error(t, err)
}

func TestListReturnsLatestPerSkill(t *testing.T) {
	dir := writeCatalog(t)
	reg := skill.NewRegistry()
	require.NoError(t, reg.LoadCatalog(context.Background(), dir))

	list := reg.List()
	require.Len(t, list, 1)
	assert.Equal(t, "plan_campaign", list[0].SkillID)
	assert.Equal(t, "1.1.0", list[0].Version)
}
