package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// StepOutput is the portion of run state a resolved predecessor step
// contributes: its data payload (skill-declared output shape) and the
// artifact refs it produced, in emission order.
type StepOutput struct {
	Data      map[string]any
	Artifacts []string
}

// RunState is the accumulating state a Binding resolves against: the
// original trigger payload plus every predecessor step's output observed so
// far.
type RunState struct {
	TriggerPayload map[string]any
	Steps          map[string]StepOutput
}

// Binding is a single input-field expression. Exactly one of the fields is
// set: Literal for a constant value, or Path for a reference into RunState.
type Binding struct {
	// Literal is used verbatim when Path is empty.
	Literal any
	// Path is one of:
	//   trigger.<field>            — a field of the trigger payload
	//   steps.<id>.data.<field>    — a field of a predecessor's output data
	//   steps.<id>.artifacts[<n>]  — the n'th artifact id a predecessor emitted
	// Nested dotted fields (trigger.brief.title) walk nested maps.
	Path string
}

// Literal constructs a Binding that always resolves to v.
func Literal(v any) Binding { return Binding{Literal: v} }

// Path constructs a Binding that resolves against RunState at the given path.
func Path(p string) Binding { return Binding{Path: p} }

// referencedStep returns the predecessor step id a path-bound Binding
// references, or "" for trigger references and literals.
func (b Binding) referencedStep() string {
	if b.Path == "" || !strings.HasPrefix(b.Path, "steps.") {
		return ""
	}
	rest := strings.TrimPrefix(b.Path, "steps.")
	if i := strings.IndexByte(rest, '.'); i >= 0 {
		return rest[:i]
	}
	return rest
}

// InputResolver yields the concrete input map for a step given the current
// run state.
type InputResolver func(state RunState) (map[string]any, error)

// compileResolver builds an InputResolver from a step's declared bindings,
// verifying up front that every step-path reference names a declared
// predecessor (Plan's "resolvers are total" requirement).
func compileResolver(step StepDef) (InputResolver, error) {
	predecessors := make(map[string]bool, len(step.Predecessors))
	for _, p := range step.Predecessors {
		predecessors[p] = true
	}
	for field, b := range step.InputBindings {
		if ref := b.referencedStep(); ref != "" && !predecessors[ref] {
			return nil, fmt.Errorf("workflow: step %q binding %q references undeclared predecessor %q", step.StepID, field, ref)
		}
	}

	bindings := step.InputBindings
	return func(state RunState) (map[string]any, error) {
		out := make(map[string]any, len(bindings))
		for field, b := range bindings {
			v, err := resolveBinding(b, state)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", field, err)
			}
			out[field] = v
		}
		return out, nil
	}, nil
}

func resolveBinding(b Binding, state RunState) (any, error) {
	if b.Path == "" {
		return b.Literal, nil
	}
	switch {
	case strings.HasPrefix(b.Path, "trigger."):
		return resolveDottedPath(state.TriggerPayload, strings.TrimPrefix(b.Path, "trigger."))
	case strings.HasPrefix(b.Path, "steps."):
		return resolveStepPath(state, strings.TrimPrefix(b.Path, "steps."))
	default:
		return nil, fmt.Errorf("unrecognized binding path %q", b.Path)
	}
}

func resolveStepPath(state RunState, rest string) (any, error) {
	stepID, tail, ok := strings.Cut(rest, ".")
	if !ok {
		return nil, fmt.Errorf("malformed step path %q", rest)
	}
	output, ok := state.Steps[stepID]
	if !ok {
		return nil, fmt.Errorf("referenced step %q has not produced output", stepID)
	}

	switch {
	case tail == "data" || strings.HasPrefix(tail, "data."):
		dataPath := strings.TrimPrefix(tail, "data")
		dataPath = strings.TrimPrefix(dataPath, ".")
		if dataPath == "" {
			return output.Data, nil
		}
		return resolveDottedPath(output.Data, dataPath)
	case strings.HasPrefix(tail, "artifacts["):
		idx, err := parseArtifactIndex(tail)
		if err != nil {
			return nil, err
		}
		if idx < 0 || idx >= len(output.Artifacts) {
			return nil, fmt.Errorf("step %q has no artifact at index %d", stepID, idx)
		}
		return output.Artifacts[idx], nil
	default:
		return nil, fmt.Errorf("unrecognized step reference %q", tail)
	}
}

func parseArtifactIndex(tail string) (int, error) {
	if !strings.HasSuffix(tail, "]") {
		return 0, fmt.Errorf("malformed artifact reference %q", tail)
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(tail, "artifacts["), "]")
	idx, err := strconv.Atoi(inner)
	if err != nil {
		return 0, fmt.Errorf("malformed artifact index %q: %w", inner, err)
	}
	return idx, nil
}

func resolveDottedPath(m map[string]any, path string) (any, error) {
	if path == "" {
		return m, nil
	}
	segments := strings.Split(path, ".")
	var cur any = m
	for _, seg := range segments {
		asMap, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path segment %q is not an object", seg)
		}
		v, ok := asMap[seg]
		if !ok {
			return nil, fmt.Errorf("missing field %q", seg)
		}
		cur = v
	}
	return cur, nil
}
