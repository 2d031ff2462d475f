// Package envelope defines SkillResult, the uniform success/failure record
// returned by every skill handler, and the error taxonomy the orchestrator
// uses to decide retry-vs-terminal for a failed step.
package envelope

// ErrorKind classifies a step failure for orchestrator retry/cascade
// decisions (§7). The kind is never serialized to callers directly; it
// drives internal control flow, while ErrorCode is the caller-visible
// string.
type ErrorKind string

const (
	// KindValidation is a payload/schema rejection at the API boundary.
	// User-visible, never retried.
	KindValidation ErrorKind = "validation"
	// KindInputResolution means the planner could not resolve a step's
	// inputs from prior state. Fatal for the step; cascades as skipped
	// for dependents.
	KindInputResolution ErrorKind = "input_resolution"
	// KindPolicyDenied means a network host, secret key, or filesystem
	// path was blocked by policy. Fatal, never retried.
	KindPolicyDenied ErrorKind = "policy_denied"
	// KindTransient covers RATE_LIMITED, PROVIDER_TIMEOUT, NETWORK_ERROR,
	// GENERATION_FAILED. Retried per policy with backoff.
	KindTransient ErrorKind = "transient"
	// KindExecution is an uncaught handler failure, converted to a
	// failure envelope with EXECUTION_ERROR. Retried per policy.
	KindExecution ErrorKind = "execution"
	// KindTimeout means the cancellation signal fired due to deadline.
	// Reported distinctly; never retried automatically.
	KindTimeout ErrorKind = "timeout"
	// KindCancelled means the cancellation signal fired due to explicit
	// cancel or orchestrator shutdown. Never retried automatically.
	KindCancelled ErrorKind = "cancelled"
	// KindInternal is an orchestrator invariant violation. Logged with
	// full context; surfaces as run failed with INTERNAL_ERROR.
	KindInternal ErrorKind = "internal"
)

// Retryable reports whether the orchestrator should consider retrying a
// step that failed with this error kind, subject to the step's remaining
// attempt budget.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTransient, KindExecution:
		return true
	default:
		return false
	}
}

// Well-known error codes. Handlers are not restricted to this list for
// Transient/Execution-adjacent domain codes, but the orchestrator
// recognizes these specifically.
const (
	CodeValidationError       = "VALIDATION_ERROR"
	CodeRateLimited           = "RATE_LIMITED"
	CodeProviderTimeout       = "PROVIDER_TIMEOUT"
	CodeNetworkError          = "NETWORK_ERROR"
	CodeGenerationFailed      = "GENERATION_FAILED"
	CodeExecutionError        = "EXECUTION_ERROR"
	CodeTimeout               = "TIMEOUT"
	CodeCancelled             = "CANCELLED"
	CodeInternalError         = "INTERNAL_ERROR"
	CodePolicyDenied          = "POLICY_DENIED"
	CodeInputResolutionFailed = "INPUT_RESOLUTION_FAILED"
	CodeSkippedDueToUpstream  = "SKIPPED_DUE_TO_UPSTREAM"
)

// codeKinds maps well-known error codes to their taxonomy kind, used by the
// orchestrator to decide retry eligibility for a failure envelope it did not
// itself synthesize.
var codeKinds = map[string]ErrorKind{
	CodeValidationError:       KindValidation,
	CodeRateLimited:           KindTransient,
	CodeProviderTimeout:       KindTransient,
	CodeNetworkError:          KindTransient,
	CodeGenerationFailed:      KindTransient,
	CodeExecutionError:        KindExecution,
	CodeTimeout:               KindTimeout,
	CodeCancelled:             KindCancelled,
	CodeInternalError:         KindInternal,
	CodePolicyDenied:          KindPolicyDenied,
	CodeInputResolutionFailed: KindInputResolution,
	CodeSkippedDueToUpstream:  KindInputResolution,
}

// KindForCode resolves the taxonomy kind for a well-known error code. Unknown
// codes default to KindExecution, matching the orchestrator's treatment of
// an uncaught handler failure.
func KindForCode(code string) ErrorKind {
	if k, ok := codeKinds[code]; ok {
		return k
	}
	return KindExecution
}

// Error is a structured skill failure that preserves a causal chain while
// implementing the standard error interface, so handler code can use
// errors.Is/As across retries.
type Error struct {
	// Code is the caller-visible error code (e.g. RATE_LIMITED).
	Code string
	// Message is the human-readable summary of the failure.
	Message string
	// Cause links to the underlying error, if any.
	Cause *Error
}

// NewError constructs an Error with the given code and message.
func NewError(code, message string) *Error {
	if message == "" {
		message = code
	}
	return &Error{Code: code, Message: message}
}

// WrapError constructs an Error with the given code that wraps an
// underlying error, converting it into an Error chain.
func WrapError(code string, cause error) *Error {
	if cause == nil {
		return NewError(code, "")
	}
	return &Error{Code: code, Message: cause.Error(), Cause: fromError(cause)}
}

func fromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
		return e
	}
	return &Error{Code: CodeExecutionError, Message: err.Error()}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying error to support errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Kind resolves the taxonomy kind for this error's code.
func (e *Error) Kind() ErrorKind {
	if e == nil {
		return KindInternal
	}
	return KindForCode(e.Code)
}
