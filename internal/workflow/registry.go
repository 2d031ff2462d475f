package workflow

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SkillVersionResolver resolves a step's version_selector against the
// registered versions of a skill, matching the Skill Descriptor Registry's
// ResolveVersion method.
type SkillVersionResolver interface {
	ResolveVersion(skillID, selector string) (string, error)
}

// Registry holds registered workflow Definitions, keyed by name, along with
// their compiled payload schemas and precomputed topological step order.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]*compiledDefinition
	skill SkillVersionResolver
}

type compiledDefinition struct {
	def       Definition
	schema    *jsonschema.Schema
	topoOrder []string
	resolvers map[string]InputResolver
}

// NewRegistry constructs an empty Registry. skill resolves each step's
// version_selector into a concrete skill version at plan time.
func NewRegistry(skill SkillVersionResolver) *Registry {
	return &Registry{
		defs:  make(map[string]*compiledDefinition),
		skill: skill,
	}
}

// Register validates def's dependency graph (no cycles, every binding
// references a declared predecessor), compiles its payload schema, and adds
// it to the registry. Registering the same name twice overwrites the prior
// definition.
func (r *Registry) Register(def Definition) error {
	order, err := validateNoCycles(def.Steps)
	if err != nil {
		return fmt.Errorf("workflow: register %q: %w", def.Name, err)
	}

	resolvers := make(map[string]InputResolver, len(def.Steps))
	for _, step := range def.Steps {
		resolver, err := compileResolver(step)
		if err != nil {
			return fmt.Errorf("workflow: register %q: %w", def.Name, err)
		}
		resolvers[step.StepID] = resolver
	}

	var schema *jsonschema.Schema
	if len(def.PayloadSchema) > 0 {
		raw, err := json.Marshal(def.PayloadSchema)
		if err != nil {
			return fmt.Errorf("workflow: register %q: marshal payload schema: %w", def.Name, err)
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return fmt.Errorf("workflow: register %q: unmarshal payload schema: %w", def.Name, err)
		}
		schemaURL := "mem://workflow/" + def.Name + "/payload.schema.json"
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, decoded); err != nil {
			return fmt.Errorf("workflow: register %q: add payload schema: %w", def.Name, err)
		}
		schema, err = compiler.Compile(schemaURL)
		if err != nil {
			return fmt.Errorf("workflow: register %q: compile payload schema: %w", def.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = &compiledDefinition{
		def:       def,
		schema:    schema,
		topoOrder: order,
		resolvers: resolvers,
	}
	return nil
}

// ValidationError reports why a trigger payload failed schema validation for
// a known workflow name.
type ValidationError struct {
	WorkflowName string
	Reason       string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow %q: %s", e.WorkflowName, e.Reason)
}

// ValidatePayload checks payload against the workflow's registered JSON
// Schema. Returns ErrUnknownWorkflow for an unregistered name.
func (r *Registry) ValidatePayload(workflowName string, payload map[string]any) error {
	r.mu.RLock()
	compiled, ok := r.defs[workflowName]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownWorkflow
	}
	if compiled.schema == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("workflow: marshal payload for %q: %w", workflowName, err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("workflow: unmarshal payload for %q: %w", workflowName, err)
	}
	if err := compiled.schema.Validate(decoded); err != nil {
		return &ValidationError{WorkflowName: workflowName, Reason: err.Error()}
	}
	return nil
}

// Plan resolves workflowName's registered Definition into a topologically
// ordered slice of PlannedSteps, resolving each step's skill version via the
// SkillVersionResolver. Returns ErrUnknownWorkflow for an unregistered name.
func (r *Registry) Plan(workflowName string, payload map[string]any) ([]PlannedStep, error) {
	r.mu.RLock()
	compiled, ok := r.defs[workflowName]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownWorkflow
	}

	byID := make(map[string]StepDef, len(compiled.def.Steps))
	for _, s := range compiled.def.Steps {
		byID[s.StepID] = s
	}

	out := make([]PlannedStep, 0, len(compiled.topoOrder))
	for _, id := range compiled.topoOrder {
		step := byID[id]
		version, err := r.skill.ResolveVersion(step.SkillID, step.VersionSelector)
		if err != nil {
			return nil, fmt.Errorf("workflow: plan %q step %q: %w", workflowName, id, err)
		}
		out = append(out, PlannedStep{
			StepID:        step.StepID,
			SkillID:       step.SkillID,
			SkillVersion:  version,
			Predecessors:  step.Predecessors,
			OptionalEdges: step.OptionalEdges,
			Resolve:       compiled.resolvers[id],
		})
	}
	return out, nil
}

// Has reports whether workflowName is registered.
func (r *Registry) Has(workflowName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[workflowName]
	return ok
}
