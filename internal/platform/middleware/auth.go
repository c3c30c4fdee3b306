package middleware

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"proofgate/pkg/requestcontext"
)

// JWTValidator defines the interface for validating bearer tokens.
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims the verification service relies on. The
// subject identity keys the rate limiter and shows up as audit user_id.
type JWTClaims struct {
	Subject string
	Scopes  []string
}

// RequireAuth rejects requests without a valid bearer token carrying the
// required scope. On success the subject and scopes are placed in the request
// context for the rate limiter and audit trail.
func RequireAuth(validator JWTValidator, requiredScope string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			if requiredScope != "" && !slices.Contains(claims.Scopes, requiredScope) {
				logger.WarnContext(ctx, "forbidden - missing scope",
					"subject", claims.Subject,
					"required_scope", requiredScope,
					"request_id", requestID,
				)
				writeAuthError(w, http.StatusForbidden, "insufficient_scope", "Token does not carry the required scope")
				return
			}

			ctx = requestcontext.WithSubject(ctx, claims.Subject)
			ctx = requestcontext.WithScopes(ctx, claims.Scopes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + code + `","error_description":"` + description + `"}`))
}
