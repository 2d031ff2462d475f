package skills

import (
	"fmt"

	"github.com/campaignforge/engine/internal/provider"
	"github.com/campaignforge/engine/internal/skill"
)

// stubSkillIDs names every catalog entry whose implementation is the
// generic stub handler: video/audio/3D generators and bundle packagers the
// expanded specification describes but does not ask to be concretely
// implemented.
var stubSkillIDs = []string{
	"generate_3d_asset",
	"generate_outcome_image",
	"generate_background_video",
	"generate_voiceover_audio",
	"generate_sound_effect",
	"generate_thumbnail_image",
	"bundle_game_template",
	"package_campaign_bundle",
	"translate_campaign_copy",
	"generate_cta_copy",
	"resize_creative_asset",
	"compress_media_asset",
	"publish_campaign_preview",
}

// Register binds every skill handler this deployment implements to reg,
// at the version the catalog descriptor under catalog/ declares. p backs
// every provider-calling handler (plan_campaign, generate_intro_image);
// the video/audio/3D generators and packagers in stubSkillIDs get a
// deterministic placeholder instead of a real model call.
func Register(reg *skill.Registry, p provider.Provider) error {
	concrete := map[string]skill.Handler{
		"plan_campaign":              PlanCampaign(p),
		"game_config_from_template":  GameConfigFromTemplate,
		"generate_intro_image":       GenerateIntroImage(p),
		"validate_bundle":            ValidateBundle,
		"assemble_campaign_manifest": AssembleCampaignManifest,
	}
	for skillID, handler := range concrete {
		if err := bind(reg, skillID, handler); err != nil {
			return err
		}
	}
	for _, skillID := range stubSkillIDs {
		if err := bind(reg, skillID, NewStubHandler(skillID)); err != nil {
			return err
		}
	}
	return nil
}

func bind(reg *skill.Registry, skillID string, handler skill.Handler) error {
	descriptor, err := reg.Get(skillID, "")
	if err != nil {
		return fmt.Errorf("skills: %s not found in loaded catalog: %w", skillID, err)
	}
	if err := reg.BindHandler(skillID, descriptor.Version, handler); err != nil {
		return fmt.Errorf("skills: bind %s: %w", skillID, err)
	}
	return nil
}
