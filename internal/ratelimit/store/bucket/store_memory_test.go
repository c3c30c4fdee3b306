package bucket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"

	"proofgate/internal/ratelimit/models"
)

const (
	testBurst      = 10
	testRefillRate = 1.0
)

type InMemoryBucketStoreSuite struct {
	suite.Suite
	store *InMemoryBucketStore
	ctx   context.Context
}

func TestInMemoryBucketStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryBucketStoreSuite))
}

func (s *InMemoryBucketStoreSuite) SetupTest() {
	s.store = NewInMemoryBucketStore()
	s.ctx = context.Background()
}

// backdate moves a bucket's refill time into the past so refill behavior can
// be tested without sleeping.
func (s *InMemoryBucketStoreSuite) backdate(key string, d time.Duration) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	b, ok := s.store.buckets[key]
	s.Require().True(ok, "bucket %q must exist", key)
	b.mu.Lock()
	b.lastRefill = b.lastRefill.Add(-d)
	b.mu.Unlock()
}

func (s *InMemoryBucketStoreSuite) TestAllow() {
	s.Run("first request allowed with full burst", func() {
		result, err := s.store.Allow(s.ctx, "subject:alice", testBurst, testRefillRate)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testBurst, result.Limit)
		s.Equal(testBurst-1, result.Remaining)
	})

	s.Run("requests up to burst allowed", func() {
		var result *models.RateLimitResult
		var err error
		for n_ := 0; n_ < testBurst; n_++ {
			result, err = s.store.Allow(s.ctx, "subject:bob", testBurst, testRefillRate)
		}
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(0, result.Remaining)
	})

	s.Run("request over burst denied with retry hint", func() {
		for n_ := 0; n_ < testBurst; n_++ {
			_, err := s.store.Allow(s.ctx, "subject:carol", testBurst, testRefillRate)
			require.NoError(s.T(), err)
		}
		result, err := s.store.Allow(s.ctx, "subject:carol", testBurst, testRefillRate)
		s.Require().NoError(err)
		s.False(result.Allowed)
		s.Equal(0, result.Remaining)
		s.Equal(1, result.RetryAfter)
	})

	s.Run("denied request does not consume tokens", func() {
		for n_ := 0; n_ < testBurst; n_++ {
			_, err := s.store.Allow(s.ctx, "subject:dave", testBurst, testRefillRate)
			require.NoError(s.T(), err)
		}
		for n_ := 0; n_ < 3; n_++ {
			result, err := s.store.Allow(s.ctx, "subject:dave", testBurst, testRefillRate)
			s.Require().NoError(err)
			s.False(result.Allowed)
		}
		s.backdate("subject:dave", time.Second)
		result, err := s.store.Allow(s.ctx, "subject:dave", testBurst, testRefillRate)
		s.Require().NoError(err)
		s.True(result.Allowed, "one second of refill should admit exactly one request")
	})
}

func (s *InMemoryBucketStoreSuite) TestAllowN() {
	s.Run("cost of 1 behaves like Allow", func() {
		result, err := s.store.AllowN(s.ctx, "subject:n1", 1, testBurst, testRefillRate)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testBurst-1, result.Remaining)
	})

	s.Run("cost of 5 consumes 5 tokens", func() {
		result, err := s.store.AllowN(s.ctx, "subject:n5", 5, testBurst, testRefillRate)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(5, result.Remaining)
	})

	s.Run("cost above available tokens denied", func() {
		_, err := s.store.AllowN(s.ctx, "subject:nbig", 8, testBurst, testRefillRate)
		s.Require().NoError(err)
		result, err := s.store.AllowN(s.ctx, "subject:nbig", 5, testBurst, testRefillRate)
		s.Require().NoError(err)
		s.False(result.Allowed)
		s.Equal(3, result.RetryAfter)
	})
}

func (s *InMemoryBucketStoreSuite) TestRefill() {
	s.Run("tokens accrue over time up to burst", func() {
		for n_ := 0; n_ < testBurst; n_++ {
			_, err := s.store.Allow(s.ctx, "subject:refill", testBurst, testRefillRate)
			require.NoError(s.T(), err)
		}
		s.backdate("subject:refill", 4*time.Second)

		result, err := s.store.Allow(s.ctx, "subject:refill", testBurst, testRefillRate)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(3, result.Remaining)
	})

	s.Run("refill never exceeds burst", func() {
		_, err := s.store.Allow(s.ctx, "subject:capped", testBurst, testRefillRate)
		s.Require().NoError(err)
		s.backdate("subject:capped", time.Hour)

		result, err := s.store.Allow(s.ctx, "subject:capped", testBurst, testRefillRate)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testBurst-1, result.Remaining)
	})
}

func (s *InMemoryBucketStoreSuite) TestPerKeyIsolation() {
	for n_ := 0; n_ < testBurst; n_++ {
		_, err := s.store.Allow(s.ctx, "subject:greedy", testBurst, testRefillRate)
		require.NoError(s.T(), err)
	}
	exhausted, err := s.store.Allow(s.ctx, "subject:greedy", testBurst, testRefillRate)
	s.Require().NoError(err)
	s.False(exhausted.Allowed)

	other, err := s.store.Allow(s.ctx, "subject:patient", testBurst, testRefillRate)
	s.Require().NoError(err)
	s.True(other.Allowed, "one exhausted identity must not affect another")
	s.Equal(testBurst-1, other.Remaining)
}

func (s *InMemoryBucketStoreSuite) TestReset() {
	for n_ := 0; n_ < testBurst; n_++ {
		_, err := s.store.Allow(s.ctx, "subject:reset", testBurst, testRefillRate)
		require.NoError(s.T(), err)
	}
	s.Require().NoError(s.store.Reset(s.ctx, "subject:reset"))

	result, err := s.store.Allow(s.ctx, "subject:reset", testBurst, testRefillRate)
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.Equal(testBurst-1, result.Remaining)
}

func (s *InMemoryBucketStoreSuite) TestConcurrentAccess() {
	const (
		workers    = 20
		perWorker  = 10
		totalCalls = workers * perWorker
	)

	var wg sync.WaitGroup
	allowed := atomic.NewInt64(0)
	for n_ := 0; n_ < workers; n_++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n_ := 0; n_ < perWorker; n_++ {
				result, err := s.store.Allow(s.ctx, "subject:contested", totalCalls, 0.000001)
				require.NoError(s.T(), err)
				if result.Allowed {
					allowed.Inc()
				}
			}
		}()
	}
	wg.Wait()

	// Burst equals the total number of calls and the refill is negligible,
	// so every call must have been admitted exactly once.
	s.Equal(int64(totalCalls), allowed.Load())

	gotAllowed, gotDenied := s.store.Stats()
	s.Equal(int64(totalCalls), gotAllowed)
	s.Equal(int64(0), gotDenied)
}

func (s *InMemoryBucketStoreSuite) TestSweep() {
	_, err := s.store.Allow(s.ctx, "subject:stale", testBurst, testRefillRate)
	s.Require().NoError(err)
	_, err = s.store.Allow(s.ctx, "subject:fresh", testBurst, testRefillRate)
	s.Require().NoError(err)

	s.backdate("subject:stale", time.Hour)

	removed := s.store.Sweep(testBurst, testRefillRate)
	s.Equal(1, removed)

	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	s.NotContains(s.store.buckets, "subject:stale")
	s.Contains(s.store.buckets, "subject:fresh")
}
