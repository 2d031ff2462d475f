package bedrock

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaignforge/engine/internal/provider"
)

type fakeRuntimeClient struct {
	resp *bedrockruntime.ConverseOutput
	err  error
	got  *bedrockruntime.ConverseInput
}

func (f *fakeRuntimeClient) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.got = params
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type throttleError struct{}

func (throttleError) Error() string                  { return "throttled" }
func (throttleError) ErrorCode() string               { return "ThrottlingException" }
func (throttleError) ErrorMessage() string            { return "rate exceeded" }
func (throttleError) ErrorFault() smithy.ErrorFault   { return smithy.FaultServer }

func TestNewRequiresRuntimeClient(t *testing.T) {
	_, err := New(nil, Options{DefaultModel: "anthropic.claude-3"})
	require.Error(t, err)
}

func TestNewRequiresDefaultModel(t *testing.T) {
	_, err := New(&fakeRuntimeClient{}, Options{})
	require.Error(t, err)
}

func TestGenerateTextJoinsTextBlocks(t *testing.T) {
	inTok := int32(5)
	outTok := int32(9)
	fake := &fakeRuntimeClient{resp: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: "hello bedrock"}},
		}},
		Usage: &brtypes.TokenUsage{InputTokens: &inTok, OutputTokens: &outTok},
	}}
	client, err := New(fake, Options{DefaultModel: "anthropic.claude-3"})
	require.NoError(t, err)

	result, err := client.GenerateText(t.Context(), provider.TextRequest{Prompt: "write intro copy"})
	require.NoError(t, err)
	assert.Equal(t, "hello bedrock", result.Text)
	assert.EqualValues(t, 5, result.Usage["input_tokens"])
}

func TestGenerateTextClassifiesThrottlingExceptionAsRateLimited(t *testing.T) {
	fake := &fakeRuntimeClient{err: throttleError{}}
	client, err := New(fake, Options{DefaultModel: "anthropic.claude-3"})
	require.NoError(t, err)

	_, err = client.GenerateText(t.Context(), provider.TextRequest{Prompt: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrRateLimited)
}

func TestGenerateTextWrapsNonThrottleError(t *testing.T) {
	fake := &fakeRuntimeClient{err: errors.New("network blip")}
	client, err := New(fake, Options{DefaultModel: "anthropic.claude-3"})
	require.NoError(t, err)

	_, err = client.GenerateText(t.Context(), provider.TextRequest{Prompt: "x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, provider.ErrRateLimited)
}

func TestUnsupportedMediaMethods(t *testing.T) {
	client, err := New(&fakeRuntimeClient{}, Options{DefaultModel: "anthropic.claude-3"})
	require.NoError(t, err)

	_, err = client.GenerateImage(t.Context(), provider.GenerateRequest{})
	assert.ErrorIs(t, err, errUnsupported)
	_, err = client.GenerateVideo(t.Context(), provider.GenerateRequest{})
	assert.ErrorIs(t, err, errUnsupported)
	_, err = client.GenerateAudio(t.Context(), provider.GenerateRequest{})
	assert.ErrorIs(t, err, errUnsupported)
	_, err = client.Generate3DAsset(t.Context(), provider.GenerateRequest{})
	assert.ErrorIs(t, err, errUnsupported)
}
