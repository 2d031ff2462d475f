package skill

import (
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError records one descriptor's rejection reason, keyed by the
// catalog path it was loaded from so callers can report it without
// re-resolving the candidate list.
type ValidationError struct {
	Path   string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// Validate checks a descriptor against §3's SkillDescriptor invariants plus
// §4.D's loading rules. It returns the first violation found.
func Validate(d *Descriptor) error {
	if !skillIDPattern.MatchString(d.SkillID) {
		return fmt.Errorf("skill_id %q does not match ^[a-z][a-z0-9_]*$", d.SkillID)
	}
	if _, err := semver.NewVersion(d.Version); err != nil {
		return fmt.Errorf("version %q is not valid semver: %w", d.Version, err)
	}
	if d.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(d.InputSchema) == 0 {
		return fmt.Errorf("input_schema is required")
	}
	if err := validateJSONSchema(d.InputSchema); err != nil {
		return fmt.Errorf("input_schema: %w", err)
	}
	if len(d.OutputSchema) == 0 {
		return fmt.Errorf("output_schema is required")
	}
	if err := validateJSONSchema(d.OutputSchema); err != nil {
		return fmt.Errorf("output_schema: %w", err)
	}
	switch d.Implementation.Type {
	case ImplFunction, ImplHTTP, ImplCLI:
	default:
		return fmt.Errorf("implementation.type %q is not one of function|http|cli", d.Implementation.Type)
	}
	if d.Implementation.Handler == "" {
		return fmt.Errorf("implementation.handler is required")
	}
	switch d.Status {
	case StatusActive, StatusDeprecated, StatusExperimental, "":
	default:
		return fmt.Errorf("status %q is not one of active|deprecated|experimental", d.Status)
	}
	return nil
}

// validateJSONSchema compiles the given map as a JSON Schema document,
// confirming it is syntactically valid. The compiled schema is discarded
// here; CompileSchema returns one that callers keep for validating
// payloads.
func validateJSONSchema(doc map[string]any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", decoded); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	if _, err := c.Compile("schema.json"); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return nil
}

// CompileSchema compiles a JSON Schema document and returns the compiled
// schema for use with ValidatePayload. It validates no payload itself.
func CompileSchema(schemaDoc map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schemaDoc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", decoded); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// ValidatePayload validates an arbitrary decoded JSON value against a
// compiled schema.
func ValidatePayload(schema *jsonschema.Schema, payload any) error {
	return schema.Validate(payload)
}
