// Package skill implements the Skill Descriptor Registry (§4.D): loading
// YAML skill descriptors from a catalog directory, validating them against
// the descriptor invariants, and dispatching to bound handler functions by
// (skill_id, version).
package skill

import "regexp"

// ImplementationType enumerates how a descriptor's handler is invoked.
type ImplementationType string

const (
	ImplFunction ImplementationType = "function"
	ImplHTTP     ImplementationType = "http"
	ImplCLI      ImplementationType = "cli"
)

// Status is the lifecycle state of a descriptor.
type Status string

const (
	StatusActive       Status = "active"
	StatusDeprecated   Status = "deprecated"
	StatusExperimental Status = "experimental"
)

// NetworkAccess describes the outbound network policy granted to a skill.
type NetworkAccess string

const (
	NetworkNone     NetworkAccess = "none"
	NetworkOutbound NetworkAccess = "outbound"
)

// Implementation is the §6.2 implementation block.
type Implementation struct {
	Type    ImplementationType `yaml:"type" json:"type"`
	Handler string             `yaml:"handler" json:"handler"`
}

// Policy is the §6.2 policy block, also consumed by the Execution Context
// Factory (§4.E) to populate per-step timeout/network/host-allowlist rules.
type Policy struct {
	MaxRuntimeSec int           `yaml:"max_runtime_sec" json:"max_runtime_sec"`
	Network       NetworkAccess `yaml:"network" json:"network"`
	AllowedHosts  []string      `yaml:"allowed_hosts,omitempty" json:"allowed_hosts,omitempty"`
}

// Descriptor is the versioned contract of a skill, loaded from a single
// `<skill_id>.yaml` catalog file (§6.2).
type Descriptor struct {
	SkillID        string             `yaml:"skill_id" json:"skill_id"`
	Version        string             `yaml:"version" json:"version"`
	Title          string             `yaml:"title" json:"title"`
	Description    string             `yaml:"description" json:"description"`
	Tags           []string           `yaml:"tags,omitempty" json:"tags,omitempty"`
	Status         Status             `yaml:"status" json:"status"`
	InputSchema    map[string]any     `yaml:"input_schema" json:"input_schema"`
	OutputSchema   map[string]any     `yaml:"output_schema" json:"output_schema"`
	Implementation Implementation     `yaml:"implementation" json:"implementation"`
	Policy         Policy             `yaml:"policy" json:"policy"`
}

// IndexEntry is one row of the catalog's index.yaml (§6.2).
type IndexEntry struct {
	SkillID string   `yaml:"skill_id" json:"skill_id"`
	Version string   `yaml:"version" json:"version"`
	Title   string   `yaml:"title" json:"title"`
	Tags    []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Status  Status   `yaml:"status" json:"status"`
}

// Index is the parsed contents of index.yaml.
type Index struct {
	Skills []IndexEntry `yaml:"skills" json:"skills"`
}

var skillIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
