// Package bedrock implements provider.Provider's GenerateText over the AWS
// Bedrock Converse API via github.com/aws/aws-sdk-go-v2/service/bedrockruntime.
package bedrock

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/campaignforge/engine/internal/provider"
)

// RuntimeClient is the subset of *bedrockruntime.Client this adapter calls,
// satisfied by the real client or a test double.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Client adapts RuntimeClient to provider.Provider.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	maxTokens    int
	temperature  float32
}

// Options configures a Client.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float32
}

// New builds a Client from an injected RuntimeClient.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model is required")
	}
	return &Client{
		runtime:      runtime,
		defaultModel: opts.DefaultModel,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
	}, nil
}

// GenerateText implements provider.Provider via the Converse API.
func (c *Client) GenerateText(ctx context.Context, req provider.TextRequest) (provider.TextResult, error) {
	ctx, cancel := provider.WithDefaultTimeout(ctx)
	defer cancel()

	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}

	inferenceConfig := &brtypes.InferenceConfiguration{}
	if maxTokens := effectiveMaxTokens(req.MaxTokens, c.maxTokens); maxTokens > 0 {
		mt := int32(maxTokens)
		inferenceConfig.MaxTokens = &mt
	}
	if temp := effectiveTemperature(float32(req.Temperature), c.temperature); temp > 0 {
		inferenceConfig.Temperature = &temp
	}

	out, err := c.runtime.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: &modelID,
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: req.Prompt}},
			},
		},
		InferenceConfig: inferenceConfig,
	})
	if err != nil {
		if isThrottled(err) {
			return provider.TextResult{}, fmt.Errorf("%w: %w", provider.ErrRateLimited, err)
		}
		return provider.TextResult{}, fmt.Errorf("bedrock: converse: %w", err)
	}

	output, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return provider.TextResult{}, errors.New("bedrock: unexpected converse output shape")
	}
	var text string
	for _, block := range output.Value.Content {
		if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text += tb.Value
		}
	}

	usage := map[string]any{}
	if out.Usage != nil {
		if out.Usage.InputTokens != nil {
			usage["input_tokens"] = *out.Usage.InputTokens
		}
		if out.Usage.OutputTokens != nil {
			usage["output_tokens"] = *out.Usage.OutputTokens
		}
	}
	return provider.TextResult{Text: text, Usage: usage}, nil
}

func effectiveMaxTokens(requested, fallback int) int {
	if requested > 0 {
		return requested
	}
	return fallback
}

func effectiveTemperature(requested, fallback float32) float32 {
	if requested > 0 {
		return requested
	}
	return fallback
}

func isThrottled(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ThrottlingException"
	}
	return false
}

var errUnsupported = errors.New("bedrock: media generation is not supported by this provider")

// GenerateImage is unsupported by the Bedrock Converse adapter.
func (c *Client) GenerateImage(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	return provider.GenerateResult{}, errUnsupported
}

// GenerateVideo is unsupported by the Bedrock Converse adapter.
func (c *Client) GenerateVideo(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	return provider.GenerateResult{}, errUnsupported
}

// GenerateAudio is unsupported by the Bedrock Converse adapter.
func (c *Client) GenerateAudio(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	return provider.GenerateResult{}, errUnsupported
}

// Generate3DAsset is unsupported by the Bedrock Converse adapter.
func (c *Client) Generate3DAsset(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	return provider.GenerateResult{}, errUnsupported
}
