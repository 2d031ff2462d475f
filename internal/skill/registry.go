package skill

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/campaignforge/engine/internal/telemetry"
	"gopkg.in/yaml.v3"
)

// Handler is the function-typed dispatch target bound to a descriptor's
// implementation.handler for implementation.type == function. HTTP/CLI
// implementations are dispatched by adapters outside this package; the
// registry only tracks the binding.
type Handler func(ctx context.Context, input map[string]any) (map[string]any, error)

type versionedEntry struct {
	descriptor *Descriptor
	handler    Handler
}

// Registry loads descriptors from a catalog directory, validates them, and
// dispatches by (skill_id, version).
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]map[string]*versionedEntry // skill_id -> version -> entry
	latest  map[string]string                      // skill_id -> latest version
	errs    []ValidationError
	logger  telemetry.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger installs a scoped logger used during catalog load.
func WithLogger(l telemetry.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry constructs an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		byID:   make(map[string]map[string]*versionedEntry),
		latest: make(map[string]string),
		logger: telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadCatalog reads index.yaml from dir, then for every `active` entry reads
// `<skill_id>.yaml` and validates it. Invalid descriptors are accumulated in
// ValidationErrors and skipped, and so is an unreadable or unparsable
// descriptor file for an index entry, rather than aborting the whole load
// (§4.D). A missing or malformed index.yaml aborts the load with an error.
func (r *Registry) LoadCatalog(ctx context.Context, dir string) error {
	indexPath := filepath.Join(dir, "index.yaml")
	raw, err := os.ReadFile(indexPath)
	if err != nil {
		return fmt.Errorf("skill: read index.yaml: %w", err)
	}

	var idx Index
	if err := yaml.Unmarshal(raw, &idx); err != nil {
		return fmt.Errorf("skill: parse index.yaml: %w", err)
	}

	for _, entry := range idx.Skills {
		if entry.Status != StatusActive {
			continue
		}
		path := filepath.Join(dir, entry.SkillID+".yaml")
		if err := r.loadDescriptorFile(path); err != nil {
			r.recordError(path, err.Error())
		}
	}
	return nil
}

func (r *Registry) loadDescriptorFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read descriptor: %w", err)
	}
	var d Descriptor
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("parse descriptor: %w", err)
	}
	if err := Validate(&d); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	r.register(&d)
	return nil
}

func (r *Registry) recordError(path, reason string) {
	r.mu.Lock()
	r.errs = append(r.errs, ValidationError{Path: path, Reason: reason})
	r.mu.Unlock()
	r.logger.Warn(context.Background(), "skill descriptor rejected", "path", path, "reason", reason)
}

// register inserts a validated descriptor into the catalog, updating the
// latest-by-semver pointer for its skill id.
func (r *Registry) register(d *Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	versions, ok := r.byID[d.SkillID]
	if !ok {
		versions = make(map[string]*versionedEntry)
		r.byID[d.SkillID] = versions
	}
	versions[d.Version] = &versionedEntry{descriptor: d}

	current, hasLatest := r.latest[d.SkillID]
	if !hasLatest || isNewerVersion(d.Version, current) {
		r.latest[d.SkillID] = d.Version
	}
}

func isNewerVersion(candidate, current string) bool {
	cv, err1 := semver.NewVersion(candidate)
	lv, err2 := semver.NewVersion(current)
	if err1 != nil || err2 != nil {
		return candidate > current
	}
	return cv.GreaterThan(lv)
}

// BindHandler attaches a dispatchable handler to a registered (skill_id,
// version). Returns an error if the descriptor is not registered.
func (r *Registry) BindHandler(skillID, version string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	versions, ok := r.byID[skillID]
	if !ok {
		return fmt.Errorf("skill: %s not registered", skillID)
	}
	entry, ok := versions[version]
	if !ok {
		return fmt.Errorf("skill: %s@%s not registered", skillID, version)
	}
	entry.handler = h
	return nil
}

// Get returns the descriptor for skill_id at the given version, or the
// latest version if version is empty.
func (r *Registry) Get(skillID, version string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.byID[skillID]
	if !ok {
		return nil, fmt.Errorf("skill: %s not found", skillID)
	}
	if version == "" {
		version = r.latest[skillID]
	}
	entry, ok := versions[version]
	if !ok {
		return nil, fmt.Errorf("skill: %s@%s not found", skillID, version)
	}
	return entry.descriptor, nil
}

// Handler returns the bound handler for skill_id at the given version (or
// latest if version is empty).
func (r *Registry) Handler(skillID, version string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.byID[skillID]
	if !ok {
		return nil, fmt.Errorf("skill: %s not found", skillID)
	}
	if version == "" {
		version = r.latest[skillID]
	}
	entry, ok := versions[version]
	if !ok {
		return nil, fmt.Errorf("skill: %s@%s not found", skillID, version)
	}
	if entry.handler == nil {
		return nil, fmt.Errorf("skill: %s@%s has no bound handler", skillID, version)
	}
	return entry.handler, nil
}

// ResolveVersion resolves a workflow step's version_selector against the
// registered versions for skillID. An empty selector resolves to latest; an
// exact registered version resolves to itself; any other selector is parsed
// as a semver constraint and resolves to the highest registered version it
// permits.
func (r *Registry) ResolveVersion(skillID, selector string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.byID[skillID]
	if !ok {
		return "", fmt.Errorf("skill: %s not found", skillID)
	}
	if selector == "" {
		return r.latest[skillID], nil
	}
	if _, ok := versions[selector]; ok {
		return selector, nil
	}

	constraint, err := semver.NewConstraint(selector)
	if err != nil {
		return "", fmt.Errorf("skill: %s: invalid version selector %q: %w", skillID, selector, err)
	}
	var best *semver.Version
	var bestRaw string
	for v := range versions {
		sv, err := semver.NewVersion(v)
		if err != nil {
			continue
		}
		if !constraint.Check(sv) {
			continue
		}
		if best == nil || sv.GreaterThan(best) {
			best = sv
			bestRaw = v
		}
	}
	if best == nil {
		return "", fmt.Errorf("skill: %s: no registered version satisfies selector %q", skillID, selector)
	}
	return bestRaw, nil
}

// Has reports whether skill_id is registered AND has a bound handler.
func (r *Registry) Has(skillID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.byID[skillID]
	if !ok {
		return false
	}
	latest := r.latest[skillID]
	entry, ok := versions[latest]
	return ok && entry.handler != nil
}

// ListVersions returns every registered version for skillID, ascending by
// semver.
func (r *Registry) ListVersions(skillID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.byID[skillID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(versions))
	for v := range versions {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		vi, erri := semver.NewVersion(out[i])
		vj, errj := semver.NewVersion(out[j])
		if erri != nil || errj != nil {
			return out[i] < out[j]
		}
		return vi.LessThan(vj)
	})
	return out
}

// List returns the latest descriptor for every registered skill id.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*Descriptor, 0, len(ids))
	for _, id := range ids {
		latest := r.latest[id]
		out = append(out, r.byID[id][latest].descriptor)
	}
	return out
}

// ValidationErrors returns every descriptor rejected during catalog load.
func (r *Registry) ValidationErrors() []ValidationError {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ValidationError, len(r.errs))
	copy(out, r.errs)
	return out
}
