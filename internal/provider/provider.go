// Package provider defines the Provider call contract (§6.4): a uniform
// interface over external generation backends (image/video/audio/3D/text)
// with SSRF-safe host validation and a default request timeout.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/campaignforge/engine/internal/envelope"
)

// DefaultTimeout is the request timeout applied when a caller's context
// carries no earlier deadline, per §6.4.
const DefaultTimeout = 60 * time.Second

// GenerationKind names the asset class a GenerateRequest produces.
type GenerationKind string

const (
	KindImage GenerationKind = "image"
	KindVideo GenerationKind = "video"
	KindAudio GenerationKind = "audio"
	Kind3DAsset GenerationKind = "3d_asset"
)

// GenerateRequest is a provider-agnostic generation request.
type GenerateRequest struct {
	Kind   GenerationKind
	Prompt string
	// Model optionally selects a specific upstream model identifier;
	// empty selects the adapter's configured default.
	Model string
	// Params carries kind-specific knobs (resolution, duration, seed, ...).
	Params map[string]any
}

// GenerateResult is a provider-agnostic generation result: either bytes the
// caller should persist as an artifact, or a URI the caller should fetch
// separately.
type GenerateResult struct {
	ContentURI string
	Bytes      []byte
	MimeType   string
	Metadata   map[string]any
}

// TextRequest is a provider-agnostic text generation request, used by
// skills like plan_campaign that call an LLM directly rather than a
// media-generation backend.
type TextRequest struct {
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// TextResult is the text-completion counterpart of GenerateResult.
type TextResult struct {
	Text  string
	Usage map[string]any
}

// Provider is implemented by every generation backend adapter
// (gateway/anthropic/openai/bedrock).
type Provider interface {
	GenerateImage(ctx context.Context, req GenerateRequest) (GenerateResult, error)
	GenerateVideo(ctx context.Context, req GenerateRequest) (GenerateResult, error)
	GenerateAudio(ctx context.Context, req GenerateRequest) (GenerateResult, error)
	Generate3DAsset(ctx context.Context, req GenerateRequest) (GenerateResult, error)
	GenerateText(ctx context.Context, req TextRequest) (TextResult, error)
}

// WithDefaultTimeout returns ctx with DefaultTimeout applied if ctx carries
// no deadline of its own (a step's execution context already derives a
// policy/descriptor-driven deadline; this is the provider-layer fallback).
func WithDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultTimeout)
}

// ErrHostNotAllowed is wrapped into an envelope.Error with CodePolicyDenied
// by ValidateHost's callers.
var ErrHostNotAllowed = errors.New("provider: host not in allowed_hosts policy")

// ErrRateLimited is the sentinel every adapter wraps its own rate-limit
// signal with, so ClassifyError and the ratelimit middleware can recognize
// it without depending on adapter-specific error types.
var ErrRateLimited = errors.New("provider: rate limited")

// ValidateHost checks that rawURL's host is present in allowedHosts
// (exact match), rejects loopback/private/link-local IPs outright (SSRF
// guard independent of the allow-list), and rejects non-http(s) schemes.
// allowedHosts comes from the invoking skill descriptor's network_access
// policy.
func ValidateHost(rawURL string, allowedHosts []string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: unparseable url: %v", ErrHostNotAllowed, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q not allowed", ErrHostNotAllowed, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrHostNotAllowed)
	}
	if ip := net.ParseIP(host); ip != nil && isDisallowedIP(ip) {
		return fmt.Errorf("%w: %s resolves to a non-routable address", ErrHostNotAllowed, host)
	}

	for _, allowed := range allowedHosts {
		if strings.EqualFold(host, allowed) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
}

func isDisallowedIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// ClassifyError maps a low-level transport/provider error into the
// envelope.Error codes the orchestrator's retry policy recognizes.
func ClassifyError(err error) *envelope.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrHostNotAllowed) {
		return envelope.WrapError(envelope.CodePolicyDenied, err)
	}
	if errors.Is(err, ErrRateLimited) {
		return envelope.WrapError(envelope.CodeRateLimited, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return envelope.WrapError(envelope.CodeProviderTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return envelope.WrapError(envelope.CodeNetworkError, err)
	}
	return envelope.WrapError(envelope.CodeGenerationFailed, err)
}
