// Package verification orchestrates one proof-verification request through
// its full lifecycle: admission control, cryptographic verification, audit
// logging, response. The stages are strictly sequential per request and
// fully independent across requests; the only shared mutable state lives in
// the rate limiter's buckets.
package verification

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"proofgate/internal/auditlog"
	"proofgate/internal/platform/metrics"
	"proofgate/internal/proof"
	ratelimit "proofgate/internal/ratelimit/service"
	dErrors "proofgate/pkg/domain-errors"
	"proofgate/pkg/requestcontext"
)

// Outcome labels the terminal classification of a request for audit entries
// and metrics.
type Outcome string

const (
	OutcomeVerified    Outcome = "verified"
	OutcomeRejected    Outcome = "rejected"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeInternal    Outcome = "internal"
)

// Result is the service-level verification result handed to the transport
// layer. Err is nil exactly when Valid is true.
type Result struct {
	Valid      bool
	Outcome    Outcome
	ProofID    string
	Context    proof.Context
	Err        *dErrors.Error
	RetryAfter int
}

// Recorder is the slice of the audit logger the pipeline needs.
type Recorder interface {
	Record(ctx context.Context, entry auditlog.Entry) error
}

// Service drives the per-request state machine:
// Received → AdmissionChecked → Verified|Rejected → Logged → Responded.
// Exactly one audit entry is written per request, on every path including
// timeouts, so a verification attempt can never go unrecorded.
type Service struct {
	limiter    *ratelimit.Service
	audit      Recorder
	logger     *slog.Logger
	metrics    *metrics.Metrics
	bestEffort bool
}

// Option configures a Service.
type Option func(*Service)

// WithBestEffortAudit lets the service respond even when the audit record
// could not be persisted. Without it, a failed audit append fails the
// request: the service never reports "valid" without a durable record.
func WithBestEffortAudit() Option {
	return func(s *Service) {
		s.bestEffort = true
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(limiter *ratelimit.Service, audit Recorder, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		limiter: limiter,
		audit:   audit,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify runs one request through the pipeline. The raw body is parsed
// inside the pipeline so malformed payloads follow the same audited path as
// cryptographic rejections. The returned Result is always non-nil.
func (s *Service) Verify(ctx context.Context, body []byte) *Result {
	subject := requestcontext.Subject(ctx)
	clientIP := requestcontext.ClientIP(ctx)

	// Received → AdmissionChecked. Quota is consulted before any parsing or
	// cryptographic work so over-limit clients cost almost nothing.
	admission, err := s.limiter.Check(ctx, subject, clientIP)
	if err != nil {
		return s.finish(ctx, subject, &Result{
			Outcome: OutcomeInternal,
			Err:     dErrors.Wrap(err, dErrors.CodeInternal, "admission check failed"),
		}, nil)
	}
	if !admission.Allowed {
		return s.finish(ctx, subject, &Result{
			Outcome:    OutcomeRateLimited,
			RetryAfter: admission.RetryAfter,
			Err: dErrors.New(dErrors.CodeRateLimited, "verification quota exhausted").
				WithField("retry_after", admission.RetryAfter),
		}, nil)
	}

	// AdmissionChecked → Verified|Rejected.
	p, parseErr := parseProof(body)
	if parseErr != nil {
		return s.finish(ctx, subject, &Result{
			Outcome: OutcomeRejected,
			Err:     parseErr,
		}, nil)
	}

	if deadlineExceeded(ctx) {
		return s.finish(ctx, subject, timeoutResult(), p)
	}

	start := time.Now()
	verifiedCtx, verifyErr := proof.VerifyProofStrict(p)
	if s.metrics != nil {
		s.metrics.VerifyDurationSecs.Observe(time.Since(start).Seconds())
	}

	if deadlineExceeded(ctx) {
		return s.finish(ctx, subject, timeoutResult(), p)
	}

	if verifyErr != nil {
		var coded *dErrors.Error
		if !errors.As(verifyErr, &coded) {
			coded = dErrors.Wrap(verifyErr, dErrors.CodeInternal, "verification failed")
		}
		return s.finish(ctx, subject, &Result{
			Outcome: OutcomeRejected,
			ProofID: p.ID(),
			Err:     coded,
		}, p)
	}

	return s.finish(ctx, subject, &Result{
		Valid:   true,
		Outcome: OutcomeVerified,
		ProofID: p.ID(),
		Context: verifiedCtx,
	}, p)
}

// finish is the Logged → Responded transition: write exactly one audit
// entry, count the outcome, and return the result. When the audit append
// fails in required mode, the result degrades to an internal error; a
// "valid" response without a durable record would be a silent failure.
func (s *Service) finish(ctx context.Context, subject string, result *Result, p *proof.Proof) *Result {
	entry := s.buildEntry(ctx, subject, result, p)

	// Detach from the request deadline: a timed-out request still gets its
	// best-effort "attempt timed out" record.
	auditCtx := context.WithoutCancel(ctx)
	if err := s.audit.Record(auditCtx, entry); err != nil {
		s.logger.ErrorContext(ctx, "failed to record audit entry",
			"error", err,
			"outcome", result.Outcome,
			"request_id", requestcontext.RequestID(ctx),
		)
		if !s.bestEffort {
			result = &Result{
				Outcome: OutcomeInternal,
				Err:     dErrors.Wrap(err, dErrors.CodeInternal, "audit record not durable"),
			}
		}
	}

	if s.metrics != nil {
		s.metrics.VerificationsTotal.WithLabelValues(string(result.Outcome)).Inc()
	}
	return result
}

func (s *Service) buildEntry(ctx context.Context, subject string, result *Result, p *proof.Proof) auditlog.Entry {
	level := auditlog.LevelInfo
	message := "proof verified"
	metadata := map[string]string{
		"outcome": string(result.Outcome),
	}

	if result.Err != nil {
		message = "proof verification failed"
		metadata["error_code"] = string(result.Err.Code)
		switch result.Outcome {
		case OutcomeRejected:
			// Cryptographic rejections are adversarial-input signals.
			level = auditlog.LevelWarning
		case OutcomeRateLimited:
			level = auditlog.LevelWarning
			message = "verification rate limited"
		case OutcomeTimeout:
			level = auditlog.LevelWarning
			message = "verification attempt timed out"
		default:
			level = auditlog.LevelError
		}
	}

	if ip := requestcontext.ClientIP(ctx); ip != "" {
		metadata["client_ip"] = ip
	}
	if ua := requestcontext.UserAgent(ctx); ua != "" {
		metadata["user_agent"] = ua
	}
	if result.ProofID != "" {
		metadata["proof_id"] = result.ProofID
	}
	if p != nil {
		metadata["public_key"] = hex.EncodeToString(p.PublicKey)
		metadata["signature_excerpt"] = signatureExcerpt(p.Signature)
	}

	return auditlog.Entry{
		Timestamp: requestcontext.Now(ctx),
		Level:     level,
		Message:   message,
		UserID:    subject,
		RequestID: requestcontext.RequestID(ctx),
		Metadata:  metadata,
	}
}

// signatureExcerpt keeps plaintext-adjacent metadata non-reversible: eight
// bytes identify a signature in forensics without reproducing it.
func signatureExcerpt(sig []byte) string {
	if len(sig) <= 8 {
		return hex.EncodeToString(sig)
	}
	return hex.EncodeToString(sig[:8]) + "…"
}

func parseProof(body []byte) (*proof.Proof, *dErrors.Error) {
	var req VerifyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed request body")
	}
	if req.Proof == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "missing proof object")
	}

	pctx := proof.Context{}
	if len(req.Proof.Context) > 0 {
		decoded, err := proof.DecodeJSONContext(req.Proof.Context)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed proof context")
		}
		pctx = decoded
	}

	return &proof.Proof{
		Context:       pctx,
		Signature:     req.Proof.Signature,
		PublicKey:     req.Proof.PublicKey,
		Algorithm:     req.Proof.Algorithm,
		IdentityToken: req.Proof.IdentityToken,
	}, nil
}

func deadlineExceeded(ctx context.Context) bool {
	return ctx.Err() != nil
}

func timeoutResult() *Result {
	return &Result{
		Outcome: OutcomeTimeout,
		Err:     dErrors.New(dErrors.CodeTimeout, "verification did not complete before the request deadline"),
	}
}
