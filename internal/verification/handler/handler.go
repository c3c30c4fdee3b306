package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"proofgate/internal/platform/metrics"
	"proofgate/internal/platform/middleware"
	"proofgate/internal/verification"
	dErrors "proofgate/pkg/domain-errors"
	"proofgate/pkg/platform/httputil"
	"proofgate/pkg/requestcontext"
)

// maxBodyBytes caps the request body above the 1 MiB context ceiling,
// leaving room for base64 signature fields and JSON framing. Larger bodies
// are cut off before they reach the pipeline at all.
const maxBodyBytes = 2 << 20

// Service defines the interface for proof verification.
type Service interface {
	Verify(ctx context.Context, body []byte) *verification.Result
}

// Handler handles the proof-verification endpoint.
type Handler struct {
	logger        *slog.Logger
	verifier      Service
	metrics       *metrics.Metrics
	jwtValidator  middleware.JWTValidator
	requiredScope string
	timeout       time.Duration
}

// New creates a verification Handler.
func New(
	verifier Service,
	logger *slog.Logger,
	m *metrics.Metrics,
	jwtValidator middleware.JWTValidator,
	requiredScope string,
	timeout time.Duration,
) *Handler {
	return &Handler{
		logger:        logger,
		verifier:      verifier,
		metrics:       m,
		jwtValidator:  jwtValidator,
		requiredScope: requiredScope,
		timeout:       timeout,
	}
}

// Register registers the verification routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	verifyRouter := chi.NewRouter()
	verifyRouter.Use(middleware.Recovery(h.logger))
	verifyRouter.Use(middleware.RequestID)
	verifyRouter.Use(middleware.Metadata)
	verifyRouter.Use(middleware.Logger(h.logger))
	verifyRouter.Use(middleware.Timeout(h.timeout))
	verifyRouter.Use(middleware.ContentTypeJSON)
	if h.metrics != nil {
		verifyRouter.Use(middleware.Latency(h.metrics))
	}
	verifyRouter.Use(middleware.RequireAuth(h.jwtValidator, h.requiredScope, h.logger))
	verifyRouter.Post("/proof/verify", h.handleVerify)

	r.Mount("/", verifyRouter)
}

// handleVerify runs one request through the verification pipeline and maps
// the result onto the wire.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.logger.WarnContext(ctx, "request body rejected",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "request body too large or unreadable"))
		return
	}

	result := h.verifier.Verify(ctx, body)

	if result.Valid {
		httputil.WriteJSON(w, http.StatusOK, verification.VerifyResponse{
			Valid:   true,
			ProofID: result.ProofID,
			Context: result.Context,
		})
		return
	}

	status := dErrors.ToHTTPStatus(result.Err.Code)
	if result.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	}
	httputil.WriteJSON(w, status, verification.VerifyResponse{
		Valid:   false,
		ProofID: result.ProofID,
		Error: &verification.ErrorDetail{
			Code:       string(result.Err.Code),
			Message:    safeMessage(result.Err),
			Details:    result.Err.Fields,
			RetryAfter: result.RetryAfter,
		},
	})
}

// safeMessage hides internal error text; everything else is written to be
// client-readable at construction time.
func safeMessage(err *dErrors.Error) string {
	if err.Code == dErrors.CodeInternal {
		return "internal error"
	}
	return err.Message
}
