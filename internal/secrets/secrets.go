// Package secrets implements the whitelist-backed secrets accessor handed
// to skill handlers via the execution context (§6.3).
package secrets

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/campaignforge/engine/internal/telemetry"
)

// DefaultWhitelist is the set of environment keys exposed to handlers
// unless a broader whitelist is configured.
var DefaultWhitelist = []string{
	"OPENAI_API_KEY",
	"ANTHROPIC_API_KEY",
	"GEMINI_API_KEY",
	"LITELLM_MASTER_KEY",
	"LITELLM_BASE_URL",
}

// Accessor is the three-operation secrets surface handed to handlers:
// get(key), has(key), keys().
type Accessor interface {
	Get(ctx context.Context, key string) (string, bool)
	Has(key string) bool
	Keys() []string
}

// envAccessor resolves whitelisted keys from the process environment, with
// a `SKILL_SECRET_<KEY>` prefix override taking precedence per §6.3.
// Denials (a get for a non-whitelisted key) are logged, not errored, since
// handlers treat an absent secret and a denied one identically.
type envAccessor struct {
	whitelist map[string]struct{}
	logger    telemetry.Logger
	tenantID  string
	skillID   string

	mu     sync.Mutex
	lookup func(string) (string, bool)
}

// Option configures an Accessor.
type Option func(*envAccessor)

// WithWhitelist replaces the default whitelist.
func WithWhitelist(keys ...string) Option {
	return func(a *envAccessor) {
		a.whitelist = make(map[string]struct{}, len(keys))
		for _, k := range keys {
			a.whitelist[k] = struct{}{}
		}
	}
}

// WithAdditionalKeys adds keys to the default whitelist.
func WithAdditionalKeys(keys ...string) Option {
	return func(a *envAccessor) {
		for _, k := range keys {
			a.whitelist[k] = struct{}{}
		}
	}
}

// WithLogger installs a scoped logger used to record denied accesses.
func WithLogger(l telemetry.Logger) Option {
	return func(a *envAccessor) { a.logger = l }
}

// WithLookup overrides the environment lookup function; used by tests to
// avoid mutating process environment.
func WithLookup(fn func(string) (string, bool)) Option {
	return func(a *envAccessor) { a.lookup = fn }
}

// WithScope attaches the tenant/skill identifiers used in denial log lines.
func WithScope(tenantID, skillID string) Option {
	return func(a *envAccessor) {
		a.tenantID = tenantID
		a.skillID = skillID
	}
}

// New constructs an Accessor backed by the process environment.
func New(opts ...Option) Accessor {
	a := &envAccessor{
		whitelist: make(map[string]struct{}, len(DefaultWhitelist)),
		logger:    telemetry.NewNoopLogger(),
		lookup:    os.LookupEnv,
	}
	for _, k := range DefaultWhitelist {
		a.whitelist[k] = struct{}{}
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Get returns the value for key if it is whitelisted, preferring a
// SKILL_SECRET_<KEY> override over the bare env var. An unauthorized lookup
// returns ("", false) and is logged as a denial.
func (a *envAccessor) Get(ctx context.Context, key string) (string, bool) {
	if _, ok := a.whitelist[key]; !ok {
		a.logger.Warn(ctx, "secret access denied", "tenant_id", a.tenantID, "skill_id", a.skillID, "key", key)
		return "", false
	}
	if v, ok := a.lookup("SKILL_SECRET_" + key); ok {
		return v, true
	}
	return a.lookup(key)
}

// Has reports whether key is whitelisted and resolvable, without returning
// its value.
func (a *envAccessor) Has(key string) bool {
	if _, ok := a.whitelist[key]; !ok {
		return false
	}
	if _, ok := a.lookup("SKILL_SECRET_" + key); ok {
		return true
	}
	_, ok := a.lookup(key)
	return ok
}

// Keys returns the whitelisted key names currently resolvable, sorted.
func (a *envAccessor) Keys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, 0, len(a.whitelist))
	for k := range a.whitelist {
		if a.Has(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
