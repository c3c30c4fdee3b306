package bucket

import (
	"context"
	"log/slog"

	"proofgate/internal/ratelimit/models"
	"proofgate/pkg/platform/circuit"
)

// FailoverBucketStore fronts a primary store (Redis) with a local fallback
// behind a circuit breaker. When the primary is unreachable the limiter
// degrades to per-instance buckets instead of failing every admission check.
// Limits are weaker during the outage, but the endpoint stays protected and
// available.
type FailoverBucketStore struct {
	primary  BucketStoreOps
	fallback BucketStoreOps
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

// BucketStoreOps is the operation set shared by all bucket stores.
type BucketStoreOps interface {
	Allow(ctx context.Context, key string, burst int, refillRate float64) (*models.RateLimitResult, error)
	AllowN(ctx context.Context, key string, cost int, burst int, refillRate float64) (*models.RateLimitResult, error)
	Reset(ctx context.Context, key string) error
}

// NewFailoverBucketStore wraps primary with fallback.
func NewFailoverBucketStore(primary, fallback BucketStoreOps, logger *slog.Logger) *FailoverBucketStore {
	return &FailoverBucketStore{
		primary:  primary,
		fallback: fallback,
		breaker:  circuit.New("ratelimit-primary"),
		logger:   logger,
	}
}

func (s *FailoverBucketStore) Allow(ctx context.Context, key string, burst int, refillRate float64) (*models.RateLimitResult, error) {
	return s.AllowN(ctx, key, 1, burst, refillRate)
}

func (s *FailoverBucketStore) AllowN(ctx context.Context, key string, cost int, burst int, refillRate float64) (*models.RateLimitResult, error) {
	if s.breaker.IsOpen() {
		result, err := s.primary.AllowN(ctx, key, cost, burst, refillRate)
		if err == nil {
			if usePrimary, change := s.breaker.RecordSuccess(); usePrimary {
				if change.Closed {
					s.logger.InfoContext(ctx, "rate limit primary store recovered",
						"breaker", s.breaker.Name(),
					)
				}
				return result, nil
			}
			// Probe succeeded but the circuit is still open; keep decisions
			// on the fallback so admission stays consistent within the
			// degraded window.
			return s.fallback.AllowN(ctx, key, cost, burst, refillRate)
		}
		s.breaker.RecordFailure()
		return s.fallback.AllowN(ctx, key, cost, burst, refillRate)
	}

	result, err := s.primary.AllowN(ctx, key, cost, burst, refillRate)
	if err == nil {
		s.breaker.RecordSuccess()
		return result, nil
	}

	// A failed primary call never fails the admission check; the local
	// fallback answers while the breaker counts toward opening.
	if _, change := s.breaker.RecordFailure(); change.Opened {
		s.logger.ErrorContext(ctx, "rate limit primary store unavailable, degrading to local buckets",
			"breaker", s.breaker.Name(),
			"error", err.Error(),
		)
	}
	return s.fallback.AllowN(ctx, key, cost, burst, refillRate)
}

// Reset clears the key in both stores; either may hold state for it.
func (s *FailoverBucketStore) Reset(ctx context.Context, key string) error {
	fallbackErr := s.fallback.Reset(ctx, key)
	if err := s.primary.Reset(ctx, key); err != nil {
		return err
	}
	return fallbackErr
}
