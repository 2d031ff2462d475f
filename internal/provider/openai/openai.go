// Package openai implements provider.Provider's GenerateText and
// GenerateImage over the OpenAI API via github.com/openai/openai-go.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/campaignforge/engine/internal/provider"
)

// ChatClient is the subset of the openai-go client this adapter calls,
// satisfied by the real client or a test double.
type ChatClient interface {
	ChatCompletionNew(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
	ImageGenerate(ctx context.Context, params openai.ImageGenerateParams) (*openai.ImagesResponse, error)
}

// sdkClient adapts the generated openai.Client to ChatClient.
type sdkClient struct {
	client openai.Client
}

func (s sdkClient) ChatCompletionNew(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return s.client.Chat.Completions.New(ctx, params)
}

func (s sdkClient) ImageGenerate(ctx context.Context, params openai.ImageGenerateParams) (*openai.ImagesResponse, error) {
	return s.client.Images.Generate(ctx, params)
}

// Client adapts ChatClient to provider.Provider.
type Client struct {
	chat         ChatClient
	defaultModel string
	imageModel   string
}

// Options configures a Client.
type Options struct {
	DefaultModel string
	ImageModel   string
}

// New builds a Client from an injected ChatClient.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("openai: default model is required")
	}
	imageModel := opts.ImageModel
	if imageModel == "" {
		imageModel = string(openai.ImageModelDallE3)
	}
	return &Client{chat: chat, defaultModel: modelID, imageModel: imageModel}, nil
}

// NewFromAPIKey constructs a Client using the default openai-go HTTP
// transport and the given OPENAI_API_KEY.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	return New(sdkClient{client: openai.NewClient(option.WithAPIKey(apiKey))}, Options{DefaultModel: defaultModel})
}

// GenerateText implements provider.Provider.
func (c *Client) GenerateText(ctx context.Context, req provider.TextRequest) (provider.TextResult, error) {
	ctx, cancel := provider.WithDefaultTimeout(ctx)
	defer cancel()

	modelID := strings.TrimSpace(req.Model)
	if modelID == "" {
		modelID = c.defaultModel
	}
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(modelID),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := c.chat.ChatCompletionNew(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return provider.TextResult{}, fmt.Errorf("%w: %w", provider.ErrRateLimited, err)
		}
		return provider.TextResult{}, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return provider.TextResult{}, errors.New("openai: empty completion choices")
	}
	return provider.TextResult{
		Text: resp.Choices[0].Message.Content,
		Usage: map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
		},
	}, nil
}

// GenerateImage implements provider.Provider via DALL-E.
func (c *Client) GenerateImage(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	ctx, cancel := provider.WithDefaultTimeout(ctx)
	defer cancel()

	modelID := req.Model
	if modelID == "" {
		modelID = c.imageModel
	}
	resp, err := c.chat.ImageGenerate(ctx, openai.ImageGenerateParams{
		Model:  openai.ImageModel(modelID),
		Prompt: req.Prompt,
		N:      openai.Int(1),
		Size:   openai.ImageGenerateParamsSize1024x1024,
	})
	if err != nil {
		if isRateLimited(err) {
			return provider.GenerateResult{}, fmt.Errorf("%w: %w", provider.ErrRateLimited, err)
		}
		return provider.GenerateResult{}, fmt.Errorf("openai: create image: %w", err)
	}
	if len(resp.Data) == 0 {
		return provider.GenerateResult{}, errors.New("openai: empty image response")
	}
	return provider.GenerateResult{ContentURI: resp.Data[0].URL, MimeType: "image/png"}, nil
}

func isRateLimited(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

var errUnsupported = errors.New("openai: generation kind not supported by this provider")

// GenerateVideo is unsupported by the OpenAI adapter.
func (c *Client) GenerateVideo(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	return provider.GenerateResult{}, errUnsupported
}

// GenerateAudio is unsupported by the OpenAI adapter.
func (c *Client) GenerateAudio(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	return provider.GenerateResult{}, errUnsupported
}

// Generate3DAsset is unsupported by the OpenAI adapter.
func (c *Client) Generate3DAsset(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	return provider.GenerateResult{}, errUnsupported
}
