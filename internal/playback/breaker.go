package playback

import (
	"sync"
	"time"
)

// Breaker is a process-wide circuit breaker over the video-site's
// official search API. It is mutex-guarded coarse-grained state, the
// same style celebrity.go's Hub/GameManager use for their own
// bookkeeping — no breaker library appears anywhere in the retrieved
// pack.
type Breaker struct {
	mu           sync.Mutex
	trippedUntil time.Time
	cooldown     time.Duration
}

// NewBreaker builds a breaker that suppresses official-API calls for
// cooldown once tripped. SPEC_FULL.md leaves the exact duration to the
// implementation; several hours is the spec's suggestion.
func NewBreaker(cooldown time.Duration) *Breaker {
	if cooldown <= 0 {
		cooldown = 3 * time.Hour
	}
	return &Breaker{cooldown: cooldown}
}

// Trip suppresses further official-API calls until the cooldown elapses.
func (b *Breaker) Trip() {
	b.mu.Lock()
	defer b.mu.Unlock()

	until := time.Now().Add(b.cooldown)
	if until.After(b.trippedUntil) {
		b.trippedUntil = until
	}
}

// IsSearchDown reports whether the breaker is currently tripped.
func (b *Breaker) IsSearchDown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return time.Now().Before(b.trippedUntil)
}

// Reset clears the breaker, for tests.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trippedUntil = time.Time{}
}
