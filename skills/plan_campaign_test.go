package skills_test

import (
	"context"
	"errors"
	"testing"

	"github.com/campaignforge/engine/internal/envelope"
	"github.com/campaignforge/engine/internal/provider"
	"github.com/campaignforge/engine/skills"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	textResult provider.TextResult
	textErr    error

	imageResult provider.GenerateResult
	imageErr    error
	imageCalls  int
	imageErrs   []error
}

func (f *fakeProvider) GenerateText(context.Context, provider.TextRequest) (provider.TextResult, error) {
	return f.textResult, f.textErr
}

func (f *fakeProvider) GenerateImage(context.Context, provider.GenerateRequest) (provider.GenerateResult, error) {
	if f.imageCalls < len(f.imageErrs) {
		err := f.imageErrs[f.imageCalls]
		f.imageCalls++
		return provider.GenerateResult{}, err
	}
	f.imageCalls++
	return f.imageResult, f.imageErr
}

func (f *fakeProvider) GenerateVideo(context.Context, provider.GenerateRequest) (provider.GenerateResult, error) {
	return provider.GenerateResult{}, errors.New("not implemented")
}

func (f *fakeProvider) GenerateAudio(context.Context, provider.GenerateRequest) (provider.GenerateResult, error) {
	return provider.GenerateResult{}, errors.New("not implemented")
}

func (f *fakeProvider) Generate3DAsset(context.Context, provider.GenerateRequest) (provider.GenerateResult, error) {
	return provider.GenerateResult{}, errors.New("not implemented")
}

func TestPlanCampaignSuccess(t *testing.T) {
	p := &fakeProvider{textResult: provider.TextResult{Text: "Welcome to the arena."}}
	handler := skills.PlanCampaign(p)

	out, err := handler(newHandlerContext(t, "tenant-a", "run-1", "plan"), map[string]any{"brief": "A neon spin-the-wheel campaign"})
	require.NoError(t, err)

	result, err := envelope.FromMap(out)
	require.NoError(t, err)
	assert.True(t, result.Ok)
	assert.Equal(t, "Welcome to the arena.", result.Data["intro_copy"])
}

func TestPlanCampaignRequiresBrief(t *testing.T) {
	handler := skills.PlanCampaign(&fakeProvider{})

	out, err := handler(newHandlerContext(t, "tenant-a", "run-1", "plan"), map[string]any{})
	require.NoError(t, err)

	result, err := envelope.FromMap(out)
	require.NoError(t, err)
	assert.False(t, result.Ok)
	assert.Equal(t, envelope.CodeValidationError, result.ErrorCode)
}

func TestPlanCampaignClassifiesProviderError(t *testing.T) {
	handler := skills.PlanCampaign(&fakeProvider{textErr: provider.ErrRateLimited})

	out, err := handler(newHandlerContext(t, "tenant-a", "run-1", "plan"), map[string]any{"brief": "brief"})
	require.NoError(t, err)

	result, err := envelope.FromMap(out)
	require.NoError(t, err)
	assert.False(t, result.Ok)
	assert.Equal(t, envelope.CodeRateLimited, result.ErrorCode)
}
