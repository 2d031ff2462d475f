// Package workflow implements the Workflow Planner (§4.H): given a registered
// workflow name (definitions are keyed by name alone; Plan takes no version)
// and a trigger payload, it produces an ordered, topologically
// sorted sequence of PlannedSteps whose input resolvers are pure functions
// of the accumulating run state.
package workflow

import (
	"errors"
	"fmt"
)

// ErrUnknownWorkflow is returned when no Definition is registered under the
// requested name.
var ErrUnknownWorkflow = errors.New("workflow: unknown workflow name")

// ErrCyclicDependency is returned when a Definition's step predecessors
// form a cycle; Register rejects it before it can ever be planned.
var ErrCyclicDependency = errors.New("workflow: cyclic step dependency")

// StepDef is one node in a workflow's declared dependency graph.
type StepDef struct {
	// StepID is the planner-assigned local name, unique within the workflow.
	StepID string
	// SkillID names the skill this step invokes.
	SkillID string
	// VersionSelector is a semver constraint or exact version resolved
	// against the Skill Descriptor Registry at plan time (empty selects
	// latest).
	VersionSelector string
	// Predecessors are step ids that must be terminal before this step
	// becomes ready.
	Predecessors []string
	// OptionalEdges names predecessors whose failure or skip does not
	// itself force this step to skip — only a failed/skipped edge absent
	// from this set cascades.
	OptionalEdges map[string]bool
	// InputBindings maps each input field name to a Binding expression
	// resolved against the run state when the step becomes ready.
	InputBindings map[string]Binding
}

// Definition is a registered workflow: a name, version, payload schema, and
// an ordered-by-declaration (not topo-sorted — Plan sorts) set of steps.
type Definition struct {
	Name string
	// Version is the workflow definition's own version, independent of any
	// skill version a step resolves.
	Version string
	// PayloadSchema is the JSON Schema document validated against the
	// trigger payload before a run is ever created. Nil means any payload
	// is accepted.
	PayloadSchema map[string]any
	Steps         []StepDef
}

// PlannedStep is one entry in the ordered output of Plan: a concrete skill
// invocation with a resolver that is total over the declared dependency
// edges.
type PlannedStep struct {
	StepID        string
	SkillID       string
	SkillVersion  string
	Predecessors  []string
	OptionalEdges map[string]bool
	// Resolve yields the concrete input value for this step given the
	// current run state. It never references anything outside Predecessors
	// and the trigger payload — Register validates this when the definition
	// is registered.
	Resolve InputResolver
}

func validateNoCycles(steps []StepDef) ([]string, error) {
	byID := make(map[string]StepDef, len(steps))
	indegree := make(map[string]int, len(steps))
	successors := make(map[string][]string, len(steps))

	for _, s := range steps {
		byID[s.StepID] = s
		if _, ok := indegree[s.StepID]; !ok {
			indegree[s.StepID] = 0
		}
	}
	for _, s := range steps {
		for _, pred := range s.Predecessors {
			if _, ok := byID[pred]; !ok {
				return nil, fmt.Errorf("workflow: step %q declares unknown predecessor %q", s.StepID, pred)
			}
			indegree[s.StepID]++
			successors[pred] = append(successors[pred], s.StepID)
		}
	}

	var queue []string
	for _, s := range steps {
		if indegree[s.StepID] == 0 {
			queue = append(queue, s.StepID)
		}
	}

	var order []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, succ := range successors[id] {
			indegree[succ]--
			if indegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if len(order) != len(steps) {
		return nil, ErrCyclicDependency
	}
	return order, nil
}
