package skills

import (
	"context"
	"time"

	"github.com/campaignforge/engine/internal/envelope"
)

// ValidateBundleOutput is validate_bundle's data payload.
type ValidateBundleOutput struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

var requiredManifestAssetFields = []string{
	"intro_image_uri",
	"game_bundle_uri",
	"outcome_image_uri",
	"thumbnail_uri",
}

// ValidateBundle checks a campaign manifest for the asset references and
// flow shape assemble_campaign_manifest is expected to have produced. An
// invalid manifest is reported as a successful result with valid=false:
// the manifest is well-formed input that failed a content check, not an
// execution failure of the skill itself.
func ValidateBundle(ctx context.Context, input map[string]any) (map[string]any, error) {
	start := time.Now()

	manifest, ok := input["manifest"].(map[string]any)
	if !ok {
		return envelope.Failure[ValidateBundleOutput](envelope.CodeValidationError, "validate_bundle: manifest is required", envelope.NewDebug(time.Since(start))).ToMap()
	}

	var errs []string

	if v, _ := manifest["manifest_version"].(string); v != "1.0.0" {
		errs = append(errs, "manifest_version must be \"1.0.0\"")
	}

	flow, _ := manifest["flow"].(map[string]any)
	if !sequenceMatches(flow) {
		errs = append(errs, "flow.sequence must be [\"intro\",\"game\",\"outcome\"]")
	}

	assets, _ := manifest["assets"].(map[string]any)
	for _, field := range requiredManifestAssetFields {
		if v, _ := assets[field].(string); v == "" {
			errs = append(errs, "assets."+field+" is required")
		}
	}

	interaction, _ := manifest["interaction"].(map[string]any)
	container, _ := interaction["game_container"].(map[string]any)
	if entry, _ := container["entry_point"].(string); entry != "index.html" {
		errs = append(errs, "interaction.game_container.entry_point must be \"index.html\"")
	}

	if checksum, _ := manifest["checksum"].(string); len(checksum) != 64 {
		errs = append(errs, "checksum must be a 64-character hex digest")
	}

	return envelope.Success(ValidateBundleOutput{Valid: len(errs) == 0, Errors: errs}, nil, envelope.NewDebug(time.Since(start))).ToMap()
}

func sequenceMatches(flow map[string]any) bool {
	raw, ok := flow["sequence"].([]any)
	if !ok || len(raw) != 3 {
		return false
	}
	want := []string{"intro", "game", "outcome"}
	for i, v := range raw {
		s, ok := v.(string)
		if !ok || s != want[i] {
			return false
		}
	}
	return true
}
