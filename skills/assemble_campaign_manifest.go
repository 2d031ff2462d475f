package skills

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/campaignforge/engine/internal/envelope"
	"github.com/campaignforge/engine/internal/execctx"
)

// ManifestButtonBounds is the clickable region of the embedded game
// container within the intro screen.
type ManifestButtonBounds struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ManifestGameContainer describes how the game bundle is mounted.
type ManifestGameContainer struct {
	EntryPoint   string               `json:"entry_point"`
	ButtonBounds ManifestButtonBounds `json:"button_bounds"`
}

// Manifest is the bit-exact campaign manifest shape §8's S6 scenario
// checks: a fixed three-stage flow sequence, the four asset references
// every campaign build must resolve, and a checksum computed over this
// same struct with Checksum held empty.
type Manifest struct {
	ManifestVersion string `json:"manifest_version"`
	Campaign        struct {
		IntroCopy string `json:"intro_copy"`
	} `json:"campaign"`
	Flow struct {
		Sequence []string `json:"sequence"`
	} `json:"flow"`
	Assets struct {
		IntroImageURI   string `json:"intro_image_uri"`
		GameBundleURI   string `json:"game_bundle_uri"`
		OutcomeImageURI string `json:"outcome_image_uri"`
		ThumbnailURI    string `json:"thumbnail_uri"`
	} `json:"assets"`
	Interaction struct {
		GameContainer ManifestGameContainer `json:"game_container"`
	} `json:"interaction"`
	Checksum string `json:"checksum"`
}

// AssembleCampaignManifestOutput is assemble_campaign_manifest's data
// payload.
type AssembleCampaignManifestOutput struct {
	Manifest Manifest `json:"manifest"`
	Checksum string   `json:"checksum"`
}

// AssembleCampaignManifest builds the final campaign manifest from its
// four required asset URIs and the interactive button bounds, then stamps
// it with a SHA-256 checksum of its own canonical (struct field order
// fixed, Checksum cleared) JSON encoding.
func AssembleCampaignManifest(ctx context.Context, input map[string]any) (map[string]any, error) {
	start := time.Now()
	ec, ok := execctx.FromContext(ctx)
	if !ok {
		return envelope.Failure[AssembleCampaignManifestOutput](envelope.CodeInternalError, "assemble_campaign_manifest: no execution context", envelope.NewDebug(time.Since(start))).ToMap()
	}

	introCopy, _ := input["intro_copy"].(string)
	introImageURI, _ := input["intro_image_uri"].(string)
	gameBundleURI, _ := input["game_bundle_uri"].(string)
	outcomeImageURI, _ := input["outcome_image_uri"].(string)
	thumbnailURI, _ := input["thumbnail_uri"].(string)

	if introImageURI == "" || gameBundleURI == "" || outcomeImageURI == "" || thumbnailURI == "" {
		return envelope.Failure[AssembleCampaignManifestOutput](envelope.CodeValidationError,
			"assemble_campaign_manifest: intro_image_uri, game_bundle_uri, outcome_image_uri, and thumbnail_uri are all required", envelope.NewDebug(time.Since(start))).ToMap()
	}

	bounds, err := parseButtonBounds(input["button_bounds"])
	if err != nil {
		return envelope.Failure[AssembleCampaignManifestOutput](envelope.CodeValidationError, "assemble_campaign_manifest: "+err.Error(), envelope.NewDebug(time.Since(start))).ToMap()
	}

	m := Manifest{ManifestVersion: "1.0.0"}
	m.Campaign.IntroCopy = introCopy
	m.Flow.Sequence = []string{"intro", "game", "outcome"}
	m.Assets.IntroImageURI = introImageURI
	m.Assets.GameBundleURI = gameBundleURI
	m.Assets.OutcomeImageURI = outcomeImageURI
	m.Assets.ThumbnailURI = thumbnailURI
	m.Interaction.GameContainer = ManifestGameContainer{EntryPoint: "index.html", ButtonBounds: bounds}

	checksum, err := ChecksumManifest(m)
	if err != nil {
		return envelope.Failure[AssembleCampaignManifestOutput](envelope.CodeExecutionError, err.Error(), envelope.NewDebug(time.Since(start))).ToMap()
	}
	m.Checksum = checksum

	body, err := json.Marshal(m)
	if err != nil {
		return envelope.Failure[AssembleCampaignManifestOutput](envelope.CodeExecutionError, err.Error(), envelope.NewDebug(time.Since(start))).ToMap()
	}

	art, err := ec.Artifacts.Put(ctx, bytes.NewReader(body), artifactRequest(ec, "json/campaign-manifest", "application/json", "manifest.json"))
	if err != nil {
		return envelope.Failure[AssembleCampaignManifestOutput](envelope.CodeExecutionError, err.Error(), envelope.NewDebug(time.Since(start))).ToMap()
	}

	return envelope.Success(AssembleCampaignManifestOutput{Manifest: m, Checksum: checksum},
		[]envelope.ArtifactRef{{ID: art.ID, Type: art.Type, URI: art.URI, Filename: art.Filename}},
		envelope.NewDebug(time.Since(start))).ToMap()
}

// ChecksumManifest hashes m's canonical JSON encoding with Checksum held
// empty. Struct field order is fixed by Manifest's declaration, so the
// encoding is deterministic without needing a separate canonicalization
// pass.
func ChecksumManifest(m Manifest) (string, error) {
	m.Checksum = ""
	body, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

func parseButtonBounds(raw any) (ManifestButtonBounds, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return ManifestButtonBounds{}, errMissingButtonBounds
	}
	x, xok := asFloat(m["x"])
	y, yok := asFloat(m["y"])
	w, wok := asFloat(m["width"])
	h, hok := asFloat(m["height"])
	if !xok || !yok || !wok || !hok {
		return ManifestButtonBounds{}, errMissingButtonBounds
	}
	return ManifestButtonBounds{X: x, Y: y, Width: w, Height: h}, nil
}

func asFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

var errMissingButtonBounds = manifestError("button_bounds requires numeric x, y, width, and height")

type manifestError string

func (e manifestError) Error() string { return string(e) }
