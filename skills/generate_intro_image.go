package skills

import (
	"bytes"
	"context"
	"time"

	"github.com/campaignforge/engine/internal/envelope"
	"github.com/campaignforge/engine/internal/execctx"
	"github.com/campaignforge/engine/internal/provider"
	"github.com/campaignforge/engine/internal/skill"
)

// GenerateIntroImageOutput is generate_intro_image's data payload.
type GenerateIntroImageOutput struct {
	MimeType string `json:"mime_type"`
}

// GenerateIntroImage calls p.GenerateImage for the campaign's intro frame
// and persists the result as an artifact. A RATE_LIMITED or
// PROVIDER_TIMEOUT failure from the provider surfaces as the matching
// transient error code; the orchestrator's own retry policy decides
// whether to invoke this handler again.
func GenerateIntroImage(p provider.Provider) skill.Handler {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		start := time.Now()
		ec, ok := execctx.FromContext(ctx)
		if !ok {
			return envelope.Failure[GenerateIntroImageOutput](envelope.CodeInternalError, "generate_intro_image: no execution context", envelope.NewDebug(time.Since(start))).ToMap()
		}

		prompt, _ := input["prompt"].(string)
		if prompt == "" {
			return envelope.Failure[GenerateIntroImageOutput](envelope.CodeValidationError, "generate_intro_image: prompt is required", envelope.NewDebug(time.Since(start))).ToMap()
		}
		style, _ := input["style"].(string)
		params := map[string]any{}
		if style != "" {
			params["style"] = style
		}

		callCtx, cancel := provider.WithDefaultTimeout(ctx)
		defer cancel()

		callStart := time.Now()
		result, err := p.GenerateImage(callCtx, provider.GenerateRequest{Kind: provider.KindImage, Prompt: prompt, Params: params})
		debug := envelope.NewDebug(time.Since(start)).WithPhase("generate_image", time.Since(callStart))
		if err != nil {
			select {
			case <-ec.Signal.Done():
				return envelope.Failure[GenerateIntroImageOutput](envelope.CodeCancelled, "generate_intro_image: cancelled", debug).ToMap()
			default:
			}
			classified := provider.ClassifyError(err)
			return envelope.FailureFromError[GenerateIntroImageOutput](classified, debug).ToMap()
		}
		debug = debug.WithProviderCall(envelope.ProviderCall{Provider: "image", DurationMs: time.Since(callStart).Milliseconds()})

		mimeType := result.MimeType
		if mimeType == "" {
			mimeType = "image/png"
		}

		bodyBytes := result.Bytes
		if bodyBytes == nil && result.ContentURI != "" {
			rc, err := ec.Artifacts.Resolve(ctx, result.ContentURI)
			if err != nil {
				return envelope.FailureFromError[GenerateIntroImageOutput](provider.ClassifyError(err), debug).ToMap()
			}
			defer rc.Close()
			buf := new(bytes.Buffer)
			if _, err := buf.ReadFrom(rc); err != nil {
				return envelope.Failure[GenerateIntroImageOutput](envelope.CodeExecutionError, err.Error(), debug).ToMap()
			}
			bodyBytes = buf.Bytes()
		}

		art, err := ec.Artifacts.Put(ctx, bytes.NewReader(bodyBytes), artifactRequest(ec, "image/intro-frame", mimeType, "intro.png"))
		if err != nil {
			return envelope.Failure[GenerateIntroImageOutput](envelope.CodeExecutionError, err.Error(), debug).ToMap()
		}

		return envelope.Success(GenerateIntroImageOutput{MimeType: mimeType},
			[]envelope.ArtifactRef{{ID: art.ID, Type: art.Type, URI: art.URI, Filename: art.Filename}}, debug).ToMap()
	}
}
