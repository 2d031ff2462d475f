package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSkillResolver struct {
	latest map[string]string
}

func (f *fakeSkillResolver) ResolveVersion(skillID, selector string) (string, error) {
	if selector != "" {
		return selector, nil
	}
	return f.latest[skillID], nil
}

func campaignBuildDefinition() Definition {
	return Definition{
		Name:    "campaign.build",
		Version: "1.0.0",
		PayloadSchema: map[string]any{
			"type":     "object",
			"required": []any{"brief"},
			"properties": map[string]any{
				"brief": map[string]any{"type": "string"},
			},
		},
		Steps: []StepDef{
			{
				StepID:  "plan",
				SkillID: "plan_campaign",
				InputBindings: map[string]Binding{
					"brief": Path("trigger.brief"),
				},
			},
			{
				StepID:       "image",
				SkillID:      "generate_intro_image",
				Predecessors: []string{"plan"},
				InputBindings: map[string]Binding{
					"prompt": Path("steps.plan.data.intro_copy"),
				},
			},
			{
				StepID:       "bundle",
				SkillID:      "assemble_campaign_manifest",
				Predecessors: []string{"plan", "image"},
				InputBindings: map[string]Binding{
					"intro_image_uri": Path("steps.image.artifacts[0]"),
				},
			},
		},
	}
}

func TestRegisterAndPlanOrdersTopologically(t *testing.T) {
	resolver := &fakeSkillResolver{latest: map[string]string{
		"plan_campaign":               "1.0.0",
		"generate_intro_image":        "2.1.0",
		"assemble_campaign_manifest":  "1.0.0",
	}}
	reg := NewRegistry(resolver)
	require.NoError(t, reg.Register(campaignBuildDefinition()))

	steps, err := reg.Plan("campaign.build", map[string]any{"brief": "Launch"})
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, "plan", steps[0].StepID)
	assert.Equal(t, "image", steps[1].StepID)
	assert.Equal(t, "bundle", steps[2].StepID)
	assert.Equal(t, "2.1.0", steps[1].SkillVersion)
}

func TestPlanUnknownWorkflowReturnsErrUnknownWorkflow(t *testing.T) {
	reg := NewRegistry(&fakeSkillResolver{})
	_, err := reg.Plan("no.such.workflow", nil)
	assert.ErrorIs(t, err, ErrUnknownWorkflow)
}

func TestValidatePayloadRejectsMissingRequiredField(t *testing.T) {
	reg := NewRegistry(&fakeSkillResolver{})
	require.NoError(t, reg.Register(campaignBuildDefinition()))

	err := reg.ValidatePayload("campaign.build", map[string]any{})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "brief")
}

func TestValidatePayloadAcceptsConformingPayload(t *testing.T) {
	reg := NewRegistry(&fakeSkillResolver{})
	require.NoError(t, reg.Register(campaignBuildDefinition()))

	assert.NoError(t, reg.ValidatePayload("campaign.build", map[string]any{"brief": "Launch it"}))
}

func TestValidatePayloadUnknownWorkflowReturnsErrUnknownWorkflow(t *testing.T) {
	reg := NewRegistry(&fakeSkillResolver{})
	err := reg.ValidatePayload("no.such.workflow", map[string]any{})
	assert.ErrorIs(t, err, ErrUnknownWorkflow)
}

func TestRegisterRejectsCyclicDependency(t *testing.T) {
	def := Definition{
		Name: "cyclic",
		Steps: []StepDef{
			{StepID: "a", SkillID: "s", Predecessors: []string{"b"}},
			{StepID: "b", SkillID: "s", Predecessors: []string{"a"}},
		},
	}
	reg := NewRegistry(&fakeSkillResolver{})
	err := reg.Register(def)
	assert.ErrorIs(t, err, ErrCyclicDependency)
}

func TestRegisterRejectsUndeclaredPredecessorReference(t *testing.T) {
	def := Definition{
		Name: "broken",
		Steps: []StepDef{
			{StepID: "a", SkillID: "s"},
			{
				StepID:  "b",
				SkillID: "s",
				InputBindings: map[string]Binding{
					"x": Path("steps.a.data.x"), // "a" not declared as predecessor of "b"
				},
			},
		},
	}
	reg := NewRegistry(&fakeSkillResolver{})
	assert.Error(t, reg.Register(def))
}
