// Package anthropic implements provider.Provider's GenerateText over the
// Anthropic Claude Messages API via github.com/anthropics/anthropic-sdk-go.
// cmd/server does not construct it; it wires only the gateway provider.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/campaignforge/engine/internal/provider"
)


// MessagesClient is the subset of *sdk.MessageService this adapter calls,
// satisfied by the real client or a test double.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client adapts MessagesClient to provider.Provider. Only GenerateText is
// meaningful here; the media-generation methods return an error since
// Claude does not serve image/video/audio/3D generation.
type Client struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int
	temperature  float64
}

// Options configures a Client.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// New builds a Client from an injected MessagesClient, for tests or
// alternate transports.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	return &Client{
		msg:          msg,
		defaultModel: opts.DefaultModel,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a Client using the SDK's default HTTP transport
// and the given ANTHROPIC_API_KEY.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	sdkClient := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&sdkClient.Messages, Options{DefaultModel: defaultModel})
}

func (c *Client) effectiveModel(requested string) string {
	if requested != "" {
		return requested
	}
	return c.defaultModel
}

func (c *Client) effectiveMaxTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	if c.maxTokens > 0 {
		return c.maxTokens
	}
	return 1024
}

// GenerateText implements provider.Provider.
func (c *Client) GenerateText(ctx context.Context, req provider.TextRequest) (provider.TextResult, error) {
	ctx, cancel := provider.WithDefaultTimeout(ctx)
	defer cancel()

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.effectiveModel(req.Model)),
		MaxTokens: int64(c.effectiveMaxTokens(req.MaxTokens)),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	temp := req.Temperature
	if temp == 0 {
		temp = c.temperature
	}
	if temp > 0 {
		params.Temperature = sdk.Float(temp)
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return provider.TextResult{}, fmt.Errorf("%w: %w", provider.ErrRateLimited, err)
		}
		return provider.TextResult{}, fmt.Errorf("anthropic: messages.new: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return provider.TextResult{
		Text: text.String(),
		Usage: map[string]any{
			"input_tokens":  msg.Usage.InputTokens,
			"output_tokens": msg.Usage.OutputTokens,
		},
	}, nil
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

var errUnsupported = errors.New("anthropic: media generation is not supported by this provider")

// GenerateImage is unsupported; Claude does not serve image generation.
func (c *Client) GenerateImage(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	return provider.GenerateResult{}, errUnsupported
}

// GenerateVideo is unsupported; Claude does not serve video generation.
func (c *Client) GenerateVideo(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	return provider.GenerateResult{}, errUnsupported
}

// GenerateAudio is unsupported; Claude does not serve audio generation.
func (c *Client) GenerateAudio(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	return provider.GenerateResult{}, errUnsupported
}

// Generate3DAsset is unsupported; Claude does not serve 3D asset generation.
func (c *Client) Generate3DAsset(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	return provider.GenerateResult{}, errUnsupported
}
