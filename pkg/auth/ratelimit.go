package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter decides whether an identity may make another request.
type RateLimiter interface {
	Allow(ctx context.Context, identity *Identity) error
}

// TierConfig is the rate limit of a service tier. A RequestsPerMinute of
// zero disables limiting for the tier.
type TierConfig struct {
	RequestsPerMinute int
	// Burst defaults to RequestsPerMinute/10, at least 1.
	Burst int
}

// idleLimiterTTL is how long an unused bucket is kept.
const idleLimiterTTL = 10 * time.Minute

// TokenBucketLimiter keeps one token bucket per subject and tier.
type TokenBucketLimiter struct {
	tiers map[string]TierConfig
	def   TierConfig
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var _ RateLimiter = (*TokenBucketLimiter)(nil)

// NewTokenBucketLimiter returns a limiter using tiers, falling back to def
// for unknown tiers.
func NewTokenBucketLimiter(tiers map[string]TierConfig, def TierConfig) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		tiers:   tiers,
		def:     def,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow takes a token from the identity's bucket or returns
// ErrTooManyRequests.
func (l *TokenBucketLimiter) Allow(_ context.Context, identity *Identity) error {
	tier := identity.Tier()
	tc, ok := l.tiers[tier]
	if !ok {
		tc = l.def
	}
	if tc.RequestsPerMinute <= 0 {
		return nil
	}

	key := identity.Tenant + "\x00" + identity.Subject + "\x00" + tier
	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		burst := tc.Burst
		if burst <= 0 {
			burst = max(tc.RequestsPerMinute/10, 1)
		}
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(float64(tc.RequestsPerMinute)/60), burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.sweep(now)
	l.mu.Unlock()

	if !b.limiter.AllowN(now, 1) {
		return ErrTooManyRequests
	}
	return nil
}

// sweep drops idle buckets, at most once per TTL. Must hold l.mu.
func (l *TokenBucketLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < idleLimiterTTL {
		return
	}
	l.lastSweep = now
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > idleLimiterTTL {
			delete(l.buckets, k)
		}
	}
}
