package service

import (
	"context"
	"fmt"
	"log/slog"

	"proofgate/internal/ratelimit/metrics"
	"proofgate/internal/ratelimit/models"
	dErrors "proofgate/pkg/domain-errors"
)

// BucketStore is the token-bucket contract shared by the in-memory and
// Redis implementations.
type BucketStore interface {
	Allow(ctx context.Context, key string, burst int, refillRate float64) (*models.RateLimitResult, error)
	AllowN(ctx context.Context, key string, cost int, burst int, refillRate float64) (*models.RateLimitResult, error)
	Reset(ctx context.Context, key string) error
}

// Config holds the token-bucket parameters applied to every client identity.
type Config struct {
	Burst      int
	RefillRate float64 // tokens per second
}

// DefaultConfig allows short bursts while holding sustained traffic to one
// verification per second per client.
func DefaultConfig() *Config {
	return &Config{Burst: 10, RefillRate: 1.0}
}

// Service is the admission-control layer in front of the verification
// pipeline. Buckets are keyed by authenticated subject, falling back to
// client IP for unauthenticated probes, so one noisy client cannot spend
// the CPU budget of the signature-verification path. Rejections here are
// cheap: no cryptographic work has happened yet.
//
// The service only decides; the verification pipeline owns the audit entry
// for rate-limited requests, keeping the one-entry-per-request invariant in
// a single place.
type Service struct {
	buckets  BucketStore
	config   *Config
	exempt   map[string]bool
	disabled bool
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithConfig(cfg *Config) Option {
	return func(s *Service) {
		s.config = cfg
	}
}

// WithExemptSubjects marks subjects whose requests bypass admission control
// (internal health probers, trusted batch jobs).
func WithExemptSubjects(subjects []string) Option {
	return func(s *Service) {
		for _, subject := range subjects {
			s.exempt[subject] = true
		}
	}
}

// WithDisabled turns admission control into a pass-through. Intended for
// load testing and local development only.
func WithDisabled() Option {
	return func(s *Service) {
		s.disabled = true
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(buckets BucketStore, logger *slog.Logger, opts ...Option) (*Service, error) {
	if buckets == nil {
		return nil, fmt.Errorf("bucket store is required")
	}
	svc := &Service{
		buckets: buckets,
		config:  DefaultConfig(),
		exempt:  make(map[string]bool),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.config.Burst <= 0 || svc.config.RefillRate <= 0 {
		return nil, fmt.Errorf("burst and refill rate must be positive")
	}
	return svc, nil
}

// Check runs admission control for one request. The identity is the
// authenticated subject when present, otherwise the client IP.
func (s *Service) Check(ctx context.Context, subject, clientIP string) (*models.RateLimitResult, error) {
	identity, keyPrefix := subject, "subject"
	if identity == "" {
		identity, keyPrefix = clientIP, "ip"
	}

	if s.disabled || s.exempt[identity] {
		return &models.RateLimitResult{
			Allowed:   true,
			Limit:     s.config.Burst,
			Remaining: s.config.Burst,
		}, nil
	}

	key := fmt.Sprintf("%s:%s", keyPrefix, models.SanitizeKeySegment(identity))
	result, err := s.buckets.Allow(ctx, key, s.config.Burst, s.config.RefillRate)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check rate limit")
	}

	if result.Allowed {
		if s.metrics != nil {
			s.metrics.IncrementAllowed()
		}
	} else {
		if s.metrics != nil {
			s.metrics.IncrementDenied()
		}
		s.logger.WarnContext(ctx, "rate limit exceeded",
			"identity", identity,
			"key_type", keyPrefix,
			"retry_after", result.RetryAfter,
		)
	}
	return result, nil
}
