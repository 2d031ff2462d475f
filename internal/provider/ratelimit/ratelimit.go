// Package ratelimit wraps a provider.Provider with an AIMD adaptive token
// bucket: it estimates request cost, blocks until budget is available, and
// halves its effective tokens-per-minute ceiling whenever the wrapped
// provider reports provider.ErrRateLimited, recovering gradually on success.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/campaignforge/engine/internal/envelope"
	"github.com/campaignforge/engine/internal/provider"
)

// Limiter applies an adaptive tokens-per-minute budget on top of a
// provider.Provider. It is process-local: this deployment has no
// Pulse-backed cluster coordinator, so the effective budget is estimated
// per-process rather than shared across replicas.
type Limiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM float64
	minTPM     float64
	maxTPM     float64

	recoveryRate float64
}

// New constructs a Limiter configured with an initial tokens-per-minute
// budget and an upper bound. When maxTPM is zero or less than initialTPM, it
// is clamped to initialTPM.
func New(initialTPM, maxTPM float64) *Limiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &Limiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Wrap returns a provider.Provider that enforces l's budget before
// delegating every call to next.
func (l *Limiter) Wrap(next provider.Provider) provider.Provider {
	return &limited{next: next, limiter: l}
}

func (l *Limiter) wait(ctx context.Context, estimatedTokens int) error {
	return l.limiter.WaitN(ctx, estimatedTokens)
}

func (l *Limiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if provider.ClassifyError(err).Code == envelope.CodeRateLimited {
		l.backoff()
	}
}

func (l *Limiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	l.setTPMLocked(newTPM)
}

func (l *Limiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	l.setTPMLocked(newTPM)
}

func (l *Limiter) setTPMLocked(tpm float64) {
	if tpm == l.currentTPM {
		return
	}
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
}

// estimateTokens approximates a request's token cost at roughly one token
// per three characters of prompt, plus a fixed buffer for provider framing.
func estimateTokens(prompt string) int {
	n := len(prompt) / 3
	if n < 1 {
		n = 1
	}
	return n + 500
}

type limited struct {
	next    provider.Provider
	limiter *Limiter
}

func (l *limited) GenerateImage(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	if err := l.limiter.wait(ctx, estimateTokens(req.Prompt)); err != nil {
		return provider.GenerateResult{}, err
	}
	res, err := l.next.GenerateImage(ctx, req)
	l.limiter.observe(err)
	return res, err
}

func (l *limited) GenerateVideo(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	if err := l.limiter.wait(ctx, estimateTokens(req.Prompt)); err != nil {
		return provider.GenerateResult{}, err
	}
	res, err := l.next.GenerateVideo(ctx, req)
	l.limiter.observe(err)
	return res, err
}

func (l *limited) GenerateAudio(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	if err := l.limiter.wait(ctx, estimateTokens(req.Prompt)); err != nil {
		return provider.GenerateResult{}, err
	}
	res, err := l.next.GenerateAudio(ctx, req)
	l.limiter.observe(err)
	return res, err
}

func (l *limited) Generate3DAsset(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	if err := l.limiter.wait(ctx, estimateTokens(req.Prompt)); err != nil {
		return provider.GenerateResult{}, err
	}
	res, err := l.next.Generate3DAsset(ctx, req)
	l.limiter.observe(err)
	return res, err
}

func (l *limited) GenerateText(ctx context.Context, req provider.TextRequest) (provider.TextResult, error) {
	if err := l.limiter.wait(ctx, estimateTokens(req.Prompt)); err != nil {
		return provider.TextResult{}, err
	}
	res, err := l.next.GenerateText(ctx, req)
	l.limiter.observe(err)
	return res, err
}
