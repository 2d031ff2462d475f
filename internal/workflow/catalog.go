package workflow

// RegisterDefaults registers the named workflows this deployment supports.
// Workflow definitions are Go-literal tables rather than an authored DSL —
// §9's design notes treat workflow authoring as a stored-graph
// implementation choice, not a language to design.
func RegisterDefaults(reg *Registry) error {
	for _, def := range []Definition{
		campaignBuild(),
		campaignBuildMinimal(),
		campaignReplace3DAsset(),
	} {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// campaignBuild is the full campaign assembly pipeline: plan the campaign
// copy, generate its intro image from that copy, then assemble the final
// manifest referencing the image artifact.
func campaignBuild() Definition {
	return Definition{
		Name:    "campaign.build",
		Version: "1.0.0",
		PayloadSchema: map[string]any{
			"type":     "object",
			"required": []any{"brief"},
			"properties": map[string]any{
				"brief": map[string]any{"type": "string", "minLength": 1},
			},
		},
		Steps: []StepDef{
			{
				StepID:  "plan",
				SkillID: "plan_campaign",
				InputBindings: map[string]Binding{
					"brief": Path("trigger.brief"),
				},
			},
			{
				StepID:       "image",
				SkillID:      "generate_intro_image",
				Predecessors: []string{"plan"},
				InputBindings: map[string]Binding{
					"prompt": Path("steps.plan.data.intro_copy"),
				},
			},
			{
				StepID:       "bundle",
				SkillID:      "assemble_campaign_manifest",
				Predecessors: []string{"plan", "image"},
				InputBindings: map[string]Binding{
					"intro_copy":      Path("steps.plan.data.intro_copy"),
					"intro_image_uri": Path("steps.image.artifacts[0]"),
				},
			},
		},
	}
}

// campaignBuildMinimal builds a game-only campaign from a known template,
// skipping the copywriting/imagery steps — the scenario S1 cache-hit path
// exercises this single-step shape directly.
func campaignBuildMinimal() Definition {
	return Definition{
		Name:    "campaign.build.minimal",
		Version: "1.0.0",
		PayloadSchema: map[string]any{
			"type":     "object",
			"required": []any{"template_id", "theme", "difficulty"},
			"properties": map[string]any{
				"template_id": map[string]any{"type": "string"},
				"theme":       map[string]any{"type": "string"},
				"difficulty":  map[string]any{"type": "string"},
			},
		},
		Steps: []StepDef{
			{
				StepID:  "game_config_from_template",
				SkillID: "game_config_from_template",
				InputBindings: map[string]Binding{
					"template_id": Path("trigger.template_id"),
					"theme":       Path("trigger.theme"),
					"difficulty":  Path("trigger.difficulty"),
				},
			},
		},
	}
}

// campaignReplace3DAsset regenerates a single 3D asset slot within an
// already-assembled campaign.
func campaignReplace3DAsset() Definition {
	return Definition{
		Name:    "campaign.replace_3d_asset",
		Version: "1.0.0",
		PayloadSchema: map[string]any{
			"type":     "object",
			"required": []any{"campaign_id", "asset_prompt", "asset_slot"},
			"properties": map[string]any{
				"campaign_id":  map[string]any{"type": "string"},
				"asset_prompt": map[string]any{"type": "string"},
				"asset_slot":   map[string]any{"type": "string"},
			},
		},
		Steps: []StepDef{
			{
				StepID:  "asset",
				SkillID: "generate_3d_asset",
				InputBindings: map[string]Binding{
					"campaign_id": Path("trigger.campaign_id"),
					"prompt":      Path("trigger.asset_prompt"),
					"slot":        Path("trigger.asset_slot"),
				},
			},
		},
	}
}
