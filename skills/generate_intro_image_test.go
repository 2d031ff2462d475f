package skills_test

import (
	"testing"

	"github.com/campaignforge/engine/internal/envelope"
	"github.com/campaignforge/engine/internal/provider"
	"github.com/campaignforge/engine/skills"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGenerateIntroImageRetriedUntilSuccess exercises §8 scenario S2's
// handler-visible half directly: the first two invocations fail with
// RATE_LIMITED, the third succeeds and emits exactly one artifact. The
// retry loop itself belongs to the orchestrator; this confirms the handler
// produces the failure/success envelopes that loop depends on.
func TestGenerateIntroImageRetriedUntilSuccess(t *testing.T) {
	p := &fakeProvider{
		imageErrs:   []error{provider.ErrRateLimited, provider.ErrRateLimited},
		imageResult: provider.GenerateResult{Bytes: []byte("pngbytes"), MimeType: "image/png"},
	}
	handler := skills.GenerateIntroImage(p)
	input := map[string]any{"prompt": "neon arena"}

	for attempt := 1; attempt <= 2; attempt++ {
		out, err := handler(newHandlerContext(t, "tenant-a", "run-1", "image"), input)
		require.NoError(t, err)
		result, err := envelope.FromMap(out)
		require.NoError(t, err)
		assert.False(t, result.Ok, "attempt %d should fail", attempt)
		assert.Equal(t, envelope.CodeRateLimited, result.ErrorCode)
	}

	out, err := handler(newHandlerContext(t, "tenant-a", "run-1", "image"), input)
	require.NoError(t, err)
	result, err := envelope.FromMap(out)
	require.NoError(t, err)
	require.True(t, result.Ok)
	require.Len(t, result.Artifacts, 1)
}

func TestGenerateIntroImageRequiresPrompt(t *testing.T) {
	handler := skills.GenerateIntroImage(&fakeProvider{})

	out, err := handler(newHandlerContext(t, "tenant-a", "run-1", "image"), map[string]any{})
	require.NoError(t, err)

	result, err := envelope.FromMap(out)
	require.NoError(t, err)
	assert.False(t, result.Ok)
	assert.Equal(t, envelope.CodeValidationError, result.ErrorCode)
}
