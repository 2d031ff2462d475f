// Package skills implements the handler side of the skill catalog: the Go
// functions bound to each descriptor's implementation.handler (§4.D, §6.2).
package skills

import (
	"context"
	"fmt"
	"time"

	"github.com/campaignforge/engine/internal/envelope"
	"github.com/campaignforge/engine/internal/execctx"
	"github.com/campaignforge/engine/internal/provider"
	"github.com/campaignforge/engine/internal/skill"
)

// PlanCampaignOutput is plan_campaign's data payload.
type PlanCampaignOutput struct {
	IntroCopy string `json:"intro_copy"`
}

// PlanCampaign calls p.GenerateText to turn a marketing brief into intro
// copy for a campaign's opening screen.
func PlanCampaign(p provider.Provider) skill.Handler {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		start := time.Now()
		ec, ok := execctx.FromContext(ctx)
		if !ok {
			return envelope.Failure[PlanCampaignOutput](envelope.CodeInternalError, "plan_campaign: no execution context", envelope.NewDebug(time.Since(start))).ToMap()
		}

		brief, _ := input["brief"].(string)
		if brief == "" {
			return envelope.Failure[PlanCampaignOutput](envelope.CodeValidationError, "plan_campaign: brief is required", envelope.NewDebug(time.Since(start))).ToMap()
		}
		tone, _ := input["tone"].(string)

		prompt := brief
		if tone != "" {
			prompt = fmt.Sprintf("Tone: %s\n\n%s", tone, brief)
		}

		callCtx, cancel := provider.WithDefaultTimeout(ctx)
		defer cancel()

		callStart := time.Now()
		result, err := p.GenerateText(callCtx, provider.TextRequest{Prompt: prompt})
		debug := envelope.NewDebug(time.Since(start)).WithPhase("generate_text", time.Since(callStart))
		if err != nil {
			select {
			case <-ec.Signal.Done():
				return envelope.Failure[PlanCampaignOutput](envelope.CodeCancelled, "plan_campaign: cancelled", debug).ToMap()
			default:
			}
			classified := provider.ClassifyError(err)
			return envelope.FailureFromError[PlanCampaignOutput](classified, debug).ToMap()
		}
		debug = debug.WithProviderCall(envelope.ProviderCall{Provider: "text", DurationMs: time.Since(callStart).Milliseconds()})

		return envelope.Success(PlanCampaignOutput{IntroCopy: result.Text}, nil, debug).ToMap()
	}
}
