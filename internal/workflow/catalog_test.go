package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterDefaultsRegistersAllKnownWorkflows(t *testing.T) {
	reg := NewRegistry(&fakeSkillResolver{latest: map[string]string{
		"plan_campaign":                "1.0.0",
		"generate_intro_image":         "1.0.0",
		"assemble_campaign_manifest":   "1.0.0",
		"game_config_from_template":    "1.0.0",
		"generate_3d_asset":            "1.0.0",
	}})
	require.NoError(t, RegisterDefaults(reg))

	for _, name := range []string{"campaign.build", "campaign.build.minimal", "campaign.replace_3d_asset"} {
		assert.True(t, reg.Has(name), "expected %q to be registered", name)
	}
}

func TestCampaignBuildRejectsEmptyPayload(t *testing.T) {
	reg := NewRegistry(&fakeSkillResolver{})
	require.NoError(t, reg.Register(campaignBuild()))

	err := reg.ValidatePayload("campaign.build", map[string]any{})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestCampaignReplace3DAssetRequiresAllThreeFields(t *testing.T) {
	reg := NewRegistry(&fakeSkillResolver{})
	require.NoError(t, reg.Register(campaignReplace3DAsset()))

	assert.Error(t, reg.ValidatePayload("campaign.replace_3d_asset", map[string]any{"campaign_id": "c1"}))
	assert.NoError(t, reg.ValidatePayload("campaign.replace_3d_asset", map[string]any{
		"campaign_id":  "c1",
		"asset_prompt": "a golden trophy",
		"asset_slot":   "hero",
	}))
}

func TestCampaignBuildMinimalPlanIsSingleStep(t *testing.T) {
	resolver := &fakeSkillResolver{latest: map[string]string{"game_config_from_template": "1.0.0"}}
	reg := NewRegistry(resolver)
	require.NoError(t, reg.Register(campaignBuildMinimal()))

	steps, err := reg.Plan("campaign.build.minimal", map[string]any{
		"template_id": "spin_wheel",
		"theme":       "neon",
		"difficulty":  "medium",
	})
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "game_config_from_template", steps[0].SkillID)

	input, err := steps[0].Resolve(RunState{TriggerPayload: map[string]any{
		"template_id": "spin_wheel",
		"theme":       "neon",
		"difficulty":  "medium",
	}})
	require.NoError(t, err)
	assert.Equal(t, "spin_wheel", input["template_id"])
	assert.Equal(t, "neon", input["theme"])
	assert.Equal(t, "medium", input["difficulty"])
}
