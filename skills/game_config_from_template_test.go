package skills_test

import (
	"testing"

	"github.com/campaignforge/engine/internal/envelope"
	"github.com/campaignforge/engine/skills"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGameConfigFromTemplateDeterministic exercises §8 scenario S1's
// premise directly at the skill level: the same (template_id, theme,
// difficulty) triple, invoked from two unrelated runs, must produce a
// byte-identical game config. The Step Cache keys on exactly this
// determinism (its cache.Key excludes run id), so two runs of
// campaign.build.minimal with an identical trigger payload share an entry.
func TestGameConfigFromTemplateDeterministic(t *testing.T) {
	input := map[string]any{"template_id": "spin_wheel", "theme": "neon", "difficulty": "medium"}

	outA, err := skills.GameConfigFromTemplate(newHandlerContext(t, "tenant-a", "run-a", "game_config_from_template"), input)
	require.NoError(t, err)
	outB, err := skills.GameConfigFromTemplate(newHandlerContext(t, "tenant-a", "run-b", "game_config_from_template"), input)
	require.NoError(t, err)

	resultA, err := envelope.FromMap(outA)
	require.NoError(t, err)
	resultB, err := envelope.FromMap(outB)
	require.NoError(t, err)

	require.True(t, resultA.Ok)
	require.True(t, resultB.Ok)
	assert.Equal(t, resultA.Data["game_config"], resultB.Data["game_config"])
}

func TestGameConfigFromTemplateRequiresAllFields(t *testing.T) {
	out, err := skills.GameConfigFromTemplate(newHandlerContext(t, "tenant-a", "run-a", "step"), map[string]any{"template_id": "spin_wheel"})
	require.NoError(t, err)

	result, err := envelope.FromMap(out)
	require.NoError(t, err)
	assert.False(t, result.Ok)
	assert.Equal(t, envelope.CodeValidationError, result.ErrorCode)
}
