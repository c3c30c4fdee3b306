package bucket

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/atomic"

	"proofgate/internal/ratelimit/models"
)

// InMemoryBucketStore implements BucketStore with per-key token buckets.
// Buckets for distinct keys are fully independent; the only shared state is
// the bucket map itself. Suitable for single-instance deployments; use
// RedisBucketStore when limits must hold across instances.
type InMemoryBucketStore struct {
	mu      sync.RWMutex
	buckets map[string]*tokenBucket

	// Admission decision counters, exported for operational visibility.
	allowed *atomic.Int64
	denied  *atomic.Int64
}

// tokenBucket holds up to burst tokens, refilling continuously at rate
// tokens/second. Each bucket has its own lock so concurrent requests for
// different keys never contend.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// NewInMemoryBucketStore creates a new in-memory bucket store.
func NewInMemoryBucketStore() *InMemoryBucketStore {
	return &InMemoryBucketStore{
		buckets: make(map[string]*tokenBucket),
		allowed: atomic.NewInt64(0),
		denied:  atomic.NewInt64(0),
	}
}

// Allow consumes one token from the key's bucket, or rejects the request.
func (s *InMemoryBucketStore) Allow(ctx context.Context, key string, burst int, refillRate float64) (*models.RateLimitResult, error) {
	return s.AllowN(ctx, key, 1, burst, refillRate)
}

// AllowN consumes cost tokens if available. The refill and consume happen
// under the bucket lock, so concurrent requests from the same client cannot
// over-consume (no lost updates).
func (s *InMemoryBucketStore) AllowN(_ context.Context, key string, cost int, burst int, refillRate float64) (*models.RateLimitResult, error) {
	b := s.getOrCreateBucket(key, burst)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.refill(now, burst, refillRate)

	if b.tokens >= float64(cost) {
		b.tokens -= float64(cost)
		s.allowed.Inc()
		return &models.RateLimitResult{
			Allowed:   true,
			Limit:     burst,
			Remaining: int(b.tokens),
			ResetAt:   resetTime(now, b.tokens, burst, refillRate),
		}, nil
	}

	s.denied.Inc()
	retryAfter := retrySeconds(b.tokens, cost, refillRate)
	return &models.RateLimitResult{
		Allowed:    false,
		Limit:      burst,
		Remaining:  int(b.tokens),
		ResetAt:    resetTime(now, b.tokens, burst, refillRate),
		RetryAfter: retryAfter,
	}, nil
}

// Reset clears the bucket for a key, restoring full burst capacity.
func (s *InMemoryBucketStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}

// Stats returns the admission decision counters since startup.
func (s *InMemoryBucketStore) Stats() (allowed, denied int64) {
	return s.allowed.Load(), s.denied.Load()
}

// Sweep discards buckets that have been idle long enough to refill
// completely; recreating them later is indistinguishable from keeping them.
// Call periodically to bound memory under churning client identities.
func (s *InMemoryBucketStore) Sweep(burst int, refillRate float64) int {
	if refillRate <= 0 {
		return 0
	}
	idle := time.Duration(float64(burst)/refillRate*float64(time.Second)) + time.Minute

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	cutoff := time.Now().Add(-idle)
	for key, b := range s.buckets {
		b.mu.Lock()
		stale := b.lastRefill.Before(cutoff)
		b.mu.Unlock()
		if stale {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed
}

func (s *InMemoryBucketStore) getOrCreateBucket(key string, burst int) *tokenBucket {
	s.mu.RLock()
	b := s.buckets[key]
	s.mu.RUnlock()
	if b != nil {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.buckets[key]; b != nil {
		return b
	}
	b = &tokenBucket{tokens: float64(burst), lastRefill: time.Now()}
	s.buckets[key] = b
	return b
}

// refill adds the tokens accrued since the last refill, capped at burst.
// Must be called while holding b.mu.
func (b *tokenBucket) refill(now time.Time, burst int, refillRate float64) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(float64(burst), b.tokens+elapsed*refillRate)
		b.lastRefill = now
	}
}

// resetTime estimates when the bucket is full again.
func resetTime(now time.Time, tokens float64, burst int, refillRate float64) time.Time {
	if refillRate <= 0 {
		return now
	}
	missing := float64(burst) - tokens
	if missing <= 0 {
		return now
	}
	return now.Add(time.Duration(missing / refillRate * float64(time.Second)))
}

// retrySeconds is the integer ceiling of the wait until cost tokens accrue.
func retrySeconds(tokens float64, cost int, refillRate float64) int {
	if refillRate <= 0 {
		return 0
	}
	needed := float64(cost) - tokens
	if needed <= 0 {
		return 0
	}
	return int(math.Ceil(needed / refillRate))
}
