package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"

	"proofgate/internal/ratelimit/models"
	dErrors "proofgate/pkg/domain-errors"
)

// fakeBucketStore records the keys it was asked about and returns a canned
// decision.
type fakeBucketStore struct {
	keys    []string
	allowed bool
	err     error
}

func (f *fakeBucketStore) Allow(ctx context.Context, key string, burst int, refillRate float64) (*models.RateLimitResult, error) {
	return f.AllowN(ctx, key, 1, burst, refillRate)
}

func (f *fakeBucketStore) AllowN(_ context.Context, key string, _ int, burst int, _ float64) (*models.RateLimitResult, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return nil, f.err
	}
	result := &models.RateLimitResult{Allowed: f.allowed, Limit: burst}
	if !f.allowed {
		result.RetryAfter = 1
	}
	return result, nil
}

func (f *fakeBucketStore) Reset(context.Context, string) error { return nil }

type ServiceSuite struct {
	suite.Suite
	buckets *fakeBucketStore
	ctx     context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.buckets = &fakeBucketStore{allowed: true}
	s.ctx = context.Background()
}

func (s *ServiceSuite) newService(opts ...Option) *Service {
	svc, err := New(s.buckets, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	s.Require().NoError(err)
	return svc
}

func (s *ServiceSuite) TestNew() {
	s.Run("nil bucket store rejected", func() {
		_, err := New(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
		s.Error(err)
	})

	s.Run("non-positive burst rejected", func() {
		_, err := New(s.buckets, slog.New(slog.NewTextHandler(io.Discard, nil)),
			WithConfig(&Config{Burst: 0, RefillRate: 1.0}))
		s.Error(err)
	})

	s.Run("non-positive refill rate rejected", func() {
		_, err := New(s.buckets, slog.New(slog.NewTextHandler(io.Discard, nil)),
			WithConfig(&Config{Burst: 10, RefillRate: 0}))
		s.Error(err)
	})
}

func (s *ServiceSuite) TestIdentityKeying() {
	s.Run("authenticated subject keys by subject", func() {
		svc := s.newService()
		_, err := svc.Check(s.ctx, "user-42", "203.0.113.9")
		s.Require().NoError(err)
		s.Require().Len(s.buckets.keys, 1)
		s.Equal("subject:user-42", s.buckets.keys[0])
	})

	s.Run("anonymous request falls back to client IP", func() {
		svc := s.newService()
		_, err := svc.Check(s.ctx, "", "203.0.113.9")
		s.Require().NoError(err)
		s.Equal("ip:203.0.113.9", s.buckets.keys[len(s.buckets.keys)-1])
	})

	s.Run("colons in identity are sanitized", func() {
		svc := s.newService()
		_, err := svc.Check(s.ctx, "", "2001:db8::1")
		s.Require().NoError(err)
		s.Equal("ip:2001_db8__1", s.buckets.keys[len(s.buckets.keys)-1])
	})
}

func (s *ServiceSuite) TestExemptSubjects() {
	svc := s.newService(WithExemptSubjects([]string{"health-prober"}))

	result, err := svc.Check(s.ctx, "health-prober", "")
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.Empty(s.buckets.keys, "exempt subjects must not touch the bucket store")

	_, err = svc.Check(s.ctx, "ordinary-user", "")
	s.Require().NoError(err)
	s.Len(s.buckets.keys, 1)
}

func (s *ServiceSuite) TestDisabled() {
	svc := s.newService(WithDisabled())

	result, err := svc.Check(s.ctx, "anyone", "")
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.Empty(s.buckets.keys)
}

func (s *ServiceSuite) TestDeniedResult() {
	s.buckets.allowed = false
	svc := s.newService()

	result, err := svc.Check(s.ctx, "user-42", "")
	s.Require().NoError(err)
	s.False(result.Allowed)
	s.Equal(1, result.RetryAfter)
}

func (s *ServiceSuite) TestStoreError() {
	s.buckets.err = errors.New("connection refused")
	svc := s.newService()

	_, err := svc.Check(s.ctx, "user-42", "")
	s.Require().Error(err)
	s.Equal(dErrors.CodeInternal, dErrors.CodeOf(err))
}
