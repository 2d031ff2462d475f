package orchestrator_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/campaignforge/engine/internal/skill"
)

// writeDescriptor writes a minimal valid YAML descriptor for skillID into
// dir as <skillID>.yaml. tags lets a test mark a skill "provider"-backed so
// maxRetriesFor grants it a retry budget.
func writeDescriptor(t *testing.T, dir, skillID string, tags []string) {
	t.Helper()
	tagsYAML := ""
	for _, tag := range tags {
		tagsYAML += fmt.Sprintf("\n  - %s", tag)
	}
	doc := fmt.Sprintf(`skill_id: %s
version: 1.0.0
title: %s
description: test skill
tags:%s
status: active
input_schema:
  type: object
output_schema:
  type: object
implementation:
  type: function
  handler: %s
policy:
  max_runtime_sec: 30
  network: none
`, skillID, skillID, tagsYAML, skillID)
	if err := os.WriteFile(filepath.Join(dir, skillID+".yaml"), []byte(doc), 0o644); err != nil {
		t.Fatalf("write descriptor %s: %v", skillID, err)
	}
}

// writeIndex writes index.yaml listing every skill id as an active entry.
func writeIndex(t *testing.T, dir string, skillIDs ...string) {
	t.Helper()
	doc := "skills:\n"
	for _, id := range skillIDs {
		doc += fmt.Sprintf("  - skill_id: %s\n    version: 1.0.0\n    title: %s\n    status: active\n", id, id)
	}
	if err := os.WriteFile(filepath.Join(dir, "index.yaml"), []byte(doc), 0o644); err != nil {
		t.Fatalf("write index.yaml: %v", err)
	}
}

// newTestRegistry builds a skill.Registry from a catalog of skillID ->
// (handler, tags) pairs written to a temp directory.
func newTestRegistry(t *testing.T, skills map[string]struct {
	Handler skill.Handler
	Tags    []string
}) *skill.Registry {
	t.Helper()
	dir := t.TempDir()
	ids := make([]string, 0, len(skills))
	for id := range skills {
		ids = append(ids, id)
	}
	writeIndex(t, dir, ids...)
	for id, s := range skills {
		writeDescriptor(t, dir, id, s.Tags)
	}

	reg := skill.NewRegistry()
	if err := reg.LoadCatalog(context.Background(), dir); err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	for id, s := range skills {
		if err := reg.BindHandler(id, "1.0.0", s.Handler); err != nil {
			t.Fatalf("bind handler %s: %v", id, err)
		}
	}
	return reg
}
