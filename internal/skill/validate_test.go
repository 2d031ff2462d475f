package skill_test

import (
	"testing"

	"github.com/campaignforge/engine/internal/skill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDescriptor() *skill.Descriptor {
	return &skill.Descriptor{
		SkillID:     "plan_campaign",
		Version:     "1.0.0",
		Title:       "Plan Campaign",
		Status:      skill.StatusActive,
		InputSchema: map[string]any{"type": "object"},
		OutputSchema: map[string]any{
			"type": "object",
		},
		Implementation: skill.Implementation{Type: skill.ImplFunction, Handler: "plan_campaign_v1"},
	}
}

func TestValidateAcceptsWellFormedDescriptor(t *testing.T) {
	d := validDescriptor()
	assert.NoError(t, skill.Validate(d))
}

func TestValidateRejectsBadSkillID(t *testing.T) {
	d := validDescriptor()
	d.SkillID = "PlanCampaign"
	assert.Error(t, skill.Validate(d))
}

func TestValidateRejectsNonSemverVersion(t *testing.T) {
	d := validDescriptor()
	d.Version = "v1"
	assert.Error(t, skill.Validate(d))
}

func TestValidateRejectsMissingSchemas(t *testing.T) {
	d := validDescriptor()
	d.InputSchema = nil
	assert.Error(t, skill.Validate(d))
}

func TestValidateRejectsBadImplementationType(t *testing.T) {
	d := validDescriptor()
	d.Implementation.Type = "websocket"
	assert.Error(t, skill.Validate(d))
}

func TestValidateRejectsEmptyHandler(t *testing.T) {
	d := validDescriptor()
	d.Implementation.Handler = ""
	assert.Error(t, skill.Validate(d))
}

func TestCompileSchemaAndValidatePayload(t *testing.T) {
	schema, err := skill.CompileSchema(map[string]any{
		"type":     "object",
		"required": []any{"brief"},
		"properties": map[string]any{
			"brief": map[string]any{"type": "string"},
		},
	})
	require.NoError(t, err)

	assert.NoError(t, skill.ValidatePayload(schema, map[string]any{"brief": "launch a campaign"}))
	assert.Error(t, skill.ValidatePayload(schema, map[string]any{}))
}
