package skills

import (
	"bytes"
	"context"
	"time"

	"github.com/campaignforge/engine/internal/envelope"
	"github.com/campaignforge/engine/internal/execctx"
	"github.com/campaignforge/engine/internal/skill"
)

// StubOutput is the data payload every generic stub handler returns: an
// echo of its skill id and input, sufficient to exercise planning, caching,
// and orchestration without a real model provider behind it.
type StubOutput struct {
	SkillID string         `json:"skill_id"`
	Input   map[string]any `json:"input"`
}

// NewStubHandler returns a deterministic handler for skillID that writes a
// zero-byte placeholder artifact and echoes its input back in the result
// envelope. It is bound to every catalog entry that is not one of the
// concretely implemented skills.
func NewStubHandler(skillID string) skill.Handler {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		start := time.Now()
		ec, ok := execctx.FromContext(ctx)
		if !ok {
			return envelope.Failure[StubOutput](envelope.CodeInternalError, skillID+": no execution context", envelope.NewDebug(time.Since(start))).ToMap()
		}

		art, err := ec.Artifacts.Put(ctx, bytes.NewReader(nil), artifactRequest(ec, "stub/"+skillID, "application/octet-stream", skillID+".bin"))
		if err != nil {
			return envelope.Failure[StubOutput](envelope.CodeExecutionError, err.Error(), envelope.NewDebug(time.Since(start))).ToMap()
		}

		return envelope.Success(StubOutput{SkillID: skillID, Input: input},
			[]envelope.ArtifactRef{{ID: art.ID, Type: art.Type, URI: art.URI, Filename: art.Filename}},
			envelope.NewDebug(time.Since(start))).ToMap()
	}
}
