package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaignforge/engine/internal/envelope"
)

func TestValidateHostAcceptsAllowListedHost(t *testing.T) {
	err := ValidateHost("https://api.example.com/v1/images/generations", []string{"api.example.com"})
	assert.NoError(t, err)
}

func TestValidateHostRejectsUnlistedHost(t *testing.T) {
	err := ValidateHost("https://evil.example.com/v1/images/generations", []string{"api.example.com"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHostNotAllowed)
}

func TestValidateHostRejectsBadScheme(t *testing.T) {
	err := ValidateHost("ftp://api.example.com/file", []string{"api.example.com"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHostNotAllowed)
}

func TestValidateHostRejectsLoopbackIP(t *testing.T) {
	err := ValidateHost("http://127.0.0.1:8080/admin", []string{"127.0.0.1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHostNotAllowed)
}

func TestValidateHostRejectsPrivateIP(t *testing.T) {
	err := ValidateHost("http://10.0.0.5/internal", []string{"10.0.0.5"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHostNotAllowed)
}

func TestValidateHostRejectsUnparseableURL(t *testing.T) {
	err := ValidateHost("://not-a-url", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHostNotAllowed)
}

func TestWithDefaultTimeoutAppliesFallback(t *testing.T) {
	ctx, cancel := WithDefaultTimeout(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(DefaultTimeout), deadline, time.Second)
}

func TestWithDefaultTimeoutPreservesExistingDeadline(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	want, _ := parent.Deadline()

	ctx, cancel2 := WithDefaultTimeout(parent)
	defer cancel2()
	got, ok := ctx.Deadline()
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestClassifyErrorMapsHostNotAllowedToPolicyDenied(t *testing.T) {
	got := ClassifyError(ErrHostNotAllowed)
	require.NotNil(t, got)
	assert.Equal(t, envelope.CodePolicyDenied, got.Code)
}

func TestClassifyErrorMapsRateLimitedSentinel(t *testing.T) {
	wrapped := fmt.Errorf("%w: 429 too many requests", ErrRateLimited)
	got := ClassifyError(wrapped)
	require.NotNil(t, got)
	assert.Equal(t, envelope.CodeRateLimited, got.Code)
}

func TestClassifyErrorMapsDeadlineExceeded(t *testing.T) {
	got := ClassifyError(context.DeadlineExceeded)
	require.NotNil(t, got)
	assert.Equal(t, envelope.CodeProviderTimeout, got.Code)
}

func TestClassifyErrorMapsNetError(t *testing.T) {
	got := ClassifyError(&net.DNSError{Err: "no such host", IsNotFound: true})
	require.NotNil(t, got)
	assert.Equal(t, envelope.CodeNetworkError, got.Code)
}

func TestClassifyErrorDefaultsToGenerationFailed(t *testing.T) {
	got := ClassifyError(errors.New("some unexpected provider failure"))
	require.NotNil(t, got)
	assert.Equal(t, envelope.CodeGenerationFailed, got.Code)
}

func TestClassifyErrorNilReturnsNil(t *testing.T) {
	assert.Nil(t, ClassifyError(nil))
}
