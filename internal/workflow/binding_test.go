package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveBindingLiteral(t *testing.T) {
	v, err := resolveBinding(Literal("neon"), RunState{})
	require.NoError(t, err)
	assert.Equal(t, "neon", v)
}

func TestResolveBindingTriggerPath(t *testing.T) {
	state := RunState{TriggerPayload: map[string]any{"brief": map[string]any{"title": "Launch"}}}
	v, err := resolveBinding(Path("trigger.brief.title"), state)
	require.NoError(t, err)
	assert.Equal(t, "Launch", v)
}

func TestResolveBindingStepDataPath(t *testing.T) {
	state := RunState{Steps: map[string]StepOutput{
		"plan": {Data: map[string]any{"intro_copy": "Welcome!"}},
	}}
	v, err := resolveBinding(Path("steps.plan.data.intro_copy"), state)
	require.NoError(t, err)
	assert.Equal(t, "Welcome!", v)
}

func TestResolveBindingStepArtifactPath(t *testing.T) {
	state := RunState{Steps: map[string]StepOutput{
		"image": {Artifacts: []string{"art-1", "art-2"}},
	}}
	v, err := resolveBinding(Path("steps.image.artifacts[1]"), state)
	require.NoError(t, err)
	assert.Equal(t, "art-2", v)
}

func TestResolveBindingMissingStepErrors(t *testing.T) {
	_, err := resolveBinding(Path("steps.missing.data.x"), RunState{Steps: map[string]StepOutput{}})
	assert.Error(t, err)
}

func TestResolveBindingArtifactIndexOutOfRangeErrors(t *testing.T) {
	state := RunState{Steps: map[string]StepOutput{"image": {Artifacts: []string{"art-1"}}}}
	_, err := resolveBinding(Path("steps.image.artifacts[5]"), state)
	assert.Error(t, err)
}

func TestCompileResolverRejectsUndeclaredPredecessorReference(t *testing.T) {
	step := StepDef{
		StepID:       "bundle",
		Predecessors: []string{"plan"},
		InputBindings: map[string]Binding{
			"copy": Path("steps.image.data.copy"), // image is not a declared predecessor
		},
	}
	_, err := compileResolver(step)
	assert.Error(t, err)
}

func TestCompileResolverResolvesAllFields(t *testing.T) {
	step := StepDef{
		StepID:       "bundle",
		Predecessors: []string{"plan", "image"},
		InputBindings: map[string]Binding{
			"copy":       Path("steps.plan.data.intro_copy"),
			"image_uri":  Path("steps.image.artifacts[0]"),
			"difficulty": Literal("medium"),
		},
	}
	resolver, err := compileResolver(step)
	require.NoError(t, err)

	state := RunState{Steps: map[string]StepOutput{
		"plan":  {Data: map[string]any{"intro_copy": "Welcome!"}},
		"image": {Artifacts: []string{"art-1"}},
	}}
	got, err := resolver(state)
	require.NoError(t, err)
	assert.Equal(t, "Welcome!", got["copy"])
	assert.Equal(t, "art-1", got["image_uri"])
	assert.Equal(t, "medium", got["difficulty"])
}
