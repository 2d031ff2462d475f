package skills

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/campaignforge/engine/internal/envelope"
	"github.com/campaignforge/engine/internal/execctx"
)

// GameConfig is the deterministic expansion of a template id, theme, and
// difficulty into a playable game configuration.
type GameConfig struct {
	TemplateID string `json:"template_id"`
	Theme      string `json:"theme"`
	Difficulty string `json:"difficulty"`
	EntryPoint string `json:"entry_point"`
	Rounds     int    `json:"rounds"`
}

// GameConfigFromTemplateOutput is game_config_from_template's data payload.
type GameConfigFromTemplateOutput struct {
	GameConfig GameConfig `json:"game_config"`
}

var difficultyRounds = map[string]int{
	"easy":   3,
	"normal": 5,
	"medium": 5,
	"hard":   8,
}

// defaultRounds is used for any difficulty value not in difficultyRounds,
// so an unrecognized-but-present difficulty still yields a deterministic,
// cacheable config rather than a hard failure.
const defaultRounds = 5

// GameConfigFromTemplate deterministically derives a GameConfig from its
// inputs. It makes no provider call, so identical (template_id, theme,
// difficulty) inputs always fingerprint to the same Step Cache entry
// regardless of which run produced them.
func GameConfigFromTemplate(ctx context.Context, input map[string]any) (map[string]any, error) {
	start := time.Now()
	ec, ok := execctx.FromContext(ctx)
	if !ok {
		return envelope.Failure[GameConfigFromTemplateOutput](envelope.CodeInternalError, "game_config_from_template: no execution context", envelope.NewDebug(time.Since(start))).ToMap()
	}

	templateID, _ := input["template_id"].(string)
	theme, _ := input["theme"].(string)
	difficulty, _ := input["difficulty"].(string)
	if templateID == "" || theme == "" || difficulty == "" {
		return envelope.Failure[GameConfigFromTemplateOutput](envelope.CodeValidationError,
			"game_config_from_template: template_id, theme, and difficulty are required", envelope.NewDebug(time.Since(start))).ToMap()
	}

	rounds, ok := difficultyRounds[difficulty]
	if !ok {
		rounds = defaultRounds
	}

	cfg := GameConfig{
		TemplateID: templateID,
		Theme:      theme,
		Difficulty: difficulty,
		EntryPoint: "index.html",
		Rounds:     rounds,
	}

	body, err := json.Marshal(cfg)
	if err != nil {
		return envelope.Failure[GameConfigFromTemplateOutput](envelope.CodeExecutionError, err.Error(), envelope.NewDebug(time.Since(start))).ToMap()
	}

	art, err := ec.Artifacts.Put(ctx, bytes.NewReader(body), artifactRequest(ec, "game_config", "application/json", "game_config.json"))
	if err != nil {
		return envelope.Failure[GameConfigFromTemplateOutput](envelope.CodeExecutionError, err.Error(), envelope.NewDebug(time.Since(start))).ToMap()
	}

	return envelope.Success(GameConfigFromTemplateOutput{GameConfig: cfg},
		[]envelope.ArtifactRef{{ID: art.ID, Type: art.Type, URI: art.URI, Filename: art.Filename}},
		envelope.NewDebug(time.Since(start))).ToMap()
}
