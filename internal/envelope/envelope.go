package envelope

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProviderCall is one observational record of a call a handler made to an
// external model provider. Purely informational; never affects control
// flow.
type ProviderCall struct {
	Provider   string `json:"provider" bson:"provider"`
	Model      string `json:"model" bson:"model"`
	DurationMs int64  `json:"duration_ms" bson:"duration_ms"`
	Tokens     *int64 `json:"tokens,omitempty" bson:"tokens,omitempty"`
	RequestID  string `json:"request_id,omitempty" bson:"request_id,omitempty"`
}

// Debug carries observational data attached to every result, success or
// failure.
type Debug struct {
	// TimingsMs is a flat map of phase name to elapsed milliseconds.
	// "total" is mandatory; other phase names are handler-chosen but
	// must stay consistent across invocations of the same skill.
	TimingsMs map[string]int64 `json:"timings_ms" bson:"timings_ms"`
	// ProviderCalls is an ordered list of calls made to external
	// providers during this invocation.
	ProviderCalls []ProviderCall `json:"provider_calls,omitempty" bson:"provider_calls,omitempty"`
}

// NewDebug constructs a Debug value with the mandatory total timing set.
func NewDebug(total time.Duration) Debug {
	return Debug{TimingsMs: map[string]int64{"total": total.Milliseconds()}}
}

// WithPhase records an additional named phase timing and returns the
// receiver for chaining.
func (d Debug) WithPhase(name string, dur time.Duration) Debug {
	if d.TimingsMs == nil {
		d.TimingsMs = map[string]int64{}
	}
	d.TimingsMs[name] = dur.Milliseconds()
	return d
}

// WithProviderCall appends a provider call record and returns the receiver
// for chaining.
func (d Debug) WithProviderCall(call ProviderCall) Debug {
	d.ProviderCalls = append(d.ProviderCalls, call)
	return d
}

// ArtifactRef identifies an artifact a handler produced, by id and type tag,
// for embedding in a result envelope. The Artifact Store is the source of
// truth for the full artifact record; this is a lightweight pointer.
type ArtifactRef struct {
	ID       string `json:"id" bson:"id"`
	Type     string `json:"type" bson:"type"`
	URI      string `json:"uri" bson:"uri"`
	Filename string `json:"filename,omitempty" bson:"filename,omitempty"`
}

// Result[T] is the single return type of every skill handler (§4.C). Exactly
// one of Data (on success) or Error/ErrorCode (on failure) is populated;
// callers should branch on Ok.
type Result[T any] struct {
	Ok        bool          `json:"ok"`
	Data      T             `json:"data,omitempty"`
	Artifacts []ArtifactRef `json:"artifacts,omitempty"`
	Error     string        `json:"error,omitempty"`
	ErrorCode string        `json:"error_code,omitempty"`
	Debug     Debug         `json:"debug"`
}

// Success constructs a successful result envelope.
func Success[T any](data T, artifacts []ArtifactRef, debug Debug) Result[T] {
	return Result[T]{Ok: true, Data: data, Artifacts: artifacts, Debug: debug}
}

// Failure constructs a failure result envelope. Handlers MUST use this for
// expected errors (validation, provider refusal) rather than returning a Go
// error; an uncaught Go error from a handler is converted by the
// orchestrator into a synthesized EXECUTION_ERROR failure envelope instead.
func Failure[T any](code, message string, debug Debug) Result[T] {
	return Result[T]{Ok: false, Error: message, ErrorCode: code, Debug: debug}
}

// FailureFromError constructs a failure result envelope from a structured
// Error, preserving its code.
func FailureFromError[T any](err *Error, debug Debug) Result[T] {
	if err == nil {
		return Failure[T](CodeExecutionError, "unknown error", debug)
	}
	return Failure[T](err.Code, err.Message, debug)
}

// Kind resolves the taxonomy kind of a failed result's error code. Callers
// should only invoke this when Ok is false.
func (r Result[T]) Kind() ErrorKind {
	return KindForCode(r.ErrorCode)
}

// ToMap round-trips r through JSON into a plain map, the shape
// skill.Handler returns. Orchestrator code uses this to hand a typed
// envelope back across the handler boundary without every skill package
// depending on the envelope's generic type parameter.
func (r Result[T]) ToMap() (map[string]any, error) {
	buf, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal result: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil, fmt.Errorf("envelope: unmarshal result into map: %w", err)
	}
	return m, nil
}

// FromMap decodes the map[string]any a skill.Handler returned back into a
// Result envelope. It is the inverse of ToMap and is how the orchestrator
// recovers Ok/Artifacts/ErrorCode/Debug after invoking a handler.
func FromMap(m map[string]any) (Result[map[string]any], error) {
	buf, err := json.Marshal(m)
	if err != nil {
		return Result[map[string]any]{}, fmt.Errorf("envelope: marshal handler output: %w", err)
	}
	var r Result[map[string]any]
	if err := json.Unmarshal(buf, &r); err != nil {
		return Result[map[string]any]{}, fmt.Errorf("envelope: unmarshal handler output into result: %w", err)
	}
	return r, nil
}
