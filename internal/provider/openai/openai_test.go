package openai

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaignforge/engine/internal/provider"
)

type fakeChatClient struct {
	chatResp  *openai.ChatCompletion
	chatErr   error
	imageResp *openai.ImagesResponse
	imageErr  error
	gotChat   openai.ChatCompletionNewParams
	gotImage  openai.ImageGenerateParams
}

func (f *fakeChatClient) ChatCompletionNew(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	f.gotChat = params
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return f.chatResp, nil
}

func (f *fakeChatClient) ImageGenerate(ctx context.Context, params openai.ImageGenerateParams) (*openai.ImagesResponse, error) {
	f.gotImage = params
	if f.imageErr != nil {
		return nil, f.imageErr
	}
	return f.imageResp, nil
}

func TestNewRequiresChatClient(t *testing.T) {
	_, err := New(nil, Options{DefaultModel: "gpt-4o"})
	require.Error(t, err)
}

func TestNewRequiresDefaultModel(t *testing.T) {
	_, err := New(&fakeChatClient{}, Options{})
	require.Error(t, err)
}

func TestGenerateTextReturnsFirstChoice(t *testing.T) {
	fake := &fakeChatClient{chatResp: &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "campaign intro copy"}},
		},
		Usage: openai.CompletionUsage{PromptTokens: 10, CompletionTokens: 20},
	}}
	client, err := New(fake, Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	result, err := client.GenerateText(t.Context(), provider.TextRequest{Prompt: "write intro copy"})
	require.NoError(t, err)
	assert.Equal(t, "campaign intro copy", result.Text)
	assert.Equal(t, openai.ChatModel("gpt-4o"), fake.gotChat.Model)
}

func TestGenerateTextClassifiesRateLimitError(t *testing.T) {
	fake := &fakeChatClient{chatErr: &openai.Error{StatusCode: http.StatusTooManyRequests}}
	client, err := New(fake, Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = client.GenerateText(t.Context(), provider.TextRequest{Prompt: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrRateLimited)
}

func TestGenerateTextWrapsNonRateLimitError(t *testing.T) {
	fake := &fakeChatClient{chatErr: errors.New("network blip")}
	client, err := New(fake, Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = client.GenerateText(t.Context(), provider.TextRequest{Prompt: "x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, provider.ErrRateLimited)
}

func TestGenerateImageReturnsURL(t *testing.T) {
	fake := &fakeChatClient{imageResp: &openai.ImagesResponse{
		Data: []openai.Image{{URL: "https://cdn.example.com/hero.png"}},
	}}
	client, err := New(fake, Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	result, err := client.GenerateImage(t.Context(), provider.GenerateRequest{Prompt: "a hero shot"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/hero.png", result.ContentURI)
}

func TestUnsupportedMediaMethods(t *testing.T) {
	client, err := New(&fakeChatClient{}, Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = client.GenerateVideo(t.Context(), provider.GenerateRequest{})
	assert.ErrorIs(t, err, errUnsupported)
	_, err = client.GenerateAudio(t.Context(), provider.GenerateRequest{})
	assert.ErrorIs(t, err, errUnsupported)
	_, err = client.Generate3DAsset(t.Context(), provider.GenerateRequest{})
	assert.ErrorIs(t, err, errUnsupported)
}
