// Package gateway implements provider.Provider against a LiteLLM-compatible
// HTTP gateway (§6.3's LITELLM_BASE_URL/LITELLM_MASTER_KEY), the shared
// entry point for image/video/audio/3D-asset generation across backends
// that support the OpenAI-style gateway protocol.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/campaignforge/engine/internal/provider"
)

// ErrBaseURLRequired indicates the gateway client was constructed without a
// base URL.
var ErrBaseURLRequired = errors.New("gateway: base url is required")

// Client is a provider.Provider backed by an HTTP call to a LiteLLM-style
// gateway. It validates every request host against AllowedHosts before
// dialing out, satisfying each skill descriptor's network_access policy.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	masterKey    string
	allowedHosts []string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default *http.Client (e.g. for test doubles).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAllowedHosts sets the SSRF allow-list checked before every call. This
// should come from the invoking skill descriptor's policy.network_access.
func WithAllowedHosts(hosts []string) Option {
	return func(c *Client) { c.allowedHosts = hosts }
}

// New constructs a gateway Client. baseURL and masterKey correspond to
// LITELLM_BASE_URL/LITELLM_MASTER_KEY.
func New(baseURL, masterKey string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}
	c := &Client{
		httpClient: http.DefaultClient,
		baseURL:    baseURL,
		masterKey:  masterKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type generateRequestBody struct {
	Model  string         `json:"model"`
	Prompt string         `json:"prompt"`
	Params map[string]any `json:"params,omitempty"`
}

type generateResponseBody struct {
	URL      string         `json:"url"`
	MimeType string         `json:"mime_type"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Error    *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) call(ctx context.Context, path string, req provider.GenerateRequest) (provider.GenerateResult, error) {
	ctx, cancel := provider.WithDefaultTimeout(ctx)
	defer cancel()

	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return provider.GenerateResult{}, fmt.Errorf("gateway: build endpoint: %w", err)
	}
	if err := provider.ValidateHost(endpoint, c.allowedHosts); err != nil {
		return provider.GenerateResult{}, err
	}

	body, err := json.Marshal(generateRequestBody{Model: req.Model, Prompt: req.Prompt, Params: req.Params})
	if err != nil {
		return provider.GenerateResult{}, fmt.Errorf("gateway: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return provider.GenerateResult{}, fmt.Errorf("gateway: build http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.masterKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.masterKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return provider.GenerateResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.GenerateResult{}, fmt.Errorf("gateway: read response: %w", err)
	}

	var decoded generateResponseBody
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return provider.GenerateResult{}, fmt.Errorf("gateway: decode response: %w", err)
	}
	if decoded.Error != nil {
		return provider.GenerateResult{}, fmt.Errorf("gateway: %s: %s", decoded.Error.Code, decoded.Error.Message)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return provider.GenerateResult{}, fmt.Errorf("%w: gateway status %d", provider.ErrRateLimited, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return provider.GenerateResult{}, fmt.Errorf("gateway: upstream status %d", resp.StatusCode)
	}

	return provider.GenerateResult{ContentURI: decoded.URL, MimeType: decoded.MimeType, Metadata: decoded.Metadata}, nil
}

// GenerateImage implements provider.Provider.
func (c *Client) GenerateImage(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	return c.call(ctx, "/v1/images/generations", req)
}

// GenerateVideo implements provider.Provider.
func (c *Client) GenerateVideo(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	return c.call(ctx, "/v1/videos/generations", req)
}

// GenerateAudio implements provider.Provider.
func (c *Client) GenerateAudio(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	return c.call(ctx, "/v1/audio/generations", req)
}

// Generate3DAsset implements provider.Provider.
func (c *Client) Generate3DAsset(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	return c.call(ctx, "/v1/3d/generations", req)
}

// GenerateText implements provider.Provider by calling the gateway's
// chat-completions endpoint; kept for descriptors that route text through
// the same gateway rather than a direct Anthropic/OpenAI adapter.
func (c *Client) GenerateText(ctx context.Context, req provider.TextRequest) (provider.TextResult, error) {
	result, err := c.call(ctx, "/v1/chat/completions", provider.GenerateRequest{
		Prompt: req.Prompt,
		Model:  req.Model,
		Params: map[string]any{"max_tokens": req.MaxTokens, "temperature": req.Temperature},
	})
	if err != nil {
		return provider.TextResult{}, err
	}
	text, _ := result.Metadata["text"].(string)
	return provider.TextResult{Text: text, Usage: result.Metadata}, nil
}
