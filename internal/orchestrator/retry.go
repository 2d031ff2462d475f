package orchestrator

import (
	"math/rand"
	"time"

	"github.com/campaignforge/engine/internal/envelope"
	"github.com/campaignforge/engine/internal/skill"
)

// providerBackedTag marks a descriptor whose implementation calls an
// external generation provider (image/video/audio/3D); these get a retry
// budget, while deterministic skills (planners, validators, bundlers)
// default to none.
const providerBackedTag = "provider"

// maxRetriesFor returns a descriptor's retry budget (§4.I "Retry policy"):
// 0 for deterministic skills, 2 for provider-backed ones. Descriptor YAML
// has no retry field of its own, so the classification is read off the
// tags every descriptor already carries.
func maxRetriesFor(d *skill.Descriptor) int {
	for _, tag := range d.Tags {
		if tag == providerBackedTag {
			return 2
		}
	}
	return 0
}

// backoffBase/backoffCap/backoffJitter implement the exponential backoff
// with jitter described in §4.I: starts at 1s, doubles, caps at 8s, ±20%.
const (
	backoffBase   = time.Second
	backoffCap    = 8 * time.Second
	backoffJitter = 0.2
)

// backoffDelay returns the delay before retry attempt n (1-indexed: the
// delay before the second attempt is backoffDelay(1)).
func backoffDelay(attempt int) time.Duration {
	d := backoffBase << uint(attempt-1)
	if d > backoffCap || d <= 0 {
		d = backoffCap
	}
	jitter := 1 + backoffJitter*(2*rand.Float64()-1)
	return time.Duration(float64(d) * jitter)
}

// retryable reports whether code should be retried given the remaining
// attempt budget, per the transient-only rule in §4.I/§7.
func retryable(code string, attempt, maxRetries int) bool {
	if attempt > maxRetries {
		return false
	}
	return envelope.KindForCode(code).Retryable()
}
