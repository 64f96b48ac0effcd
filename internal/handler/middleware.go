package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/marketingguide/mgai-api/internal/domain"
	"github.com/marketingguide/mgai-api/internal/infra/ratelimit"

	"go.uber.org/zap"
)

// TokenVerifier resolves a Supabase access token into the caller's identity.
type TokenVerifier interface {
	Verify(token string) (domain.Identity, error)
}

type contextKey string

const identityKey contextKey = "identity"

// AuthMiddleware validates Bearer tokens and injects the caller's identity into context.
func AuthMiddleware(verifier TokenVerifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "missing authorization token")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				logger.Warn("auth: invalid token format",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			id, err := verifier.Verify(parts[1])
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// WithIdentity stores the authenticated identity in ctx.
func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext extracts the authenticated identity from context.
func IdentityFromContext(ctx context.Context) domain.Identity {
	id, _ := ctx.Value(identityKey).(domain.Identity)
	return id
}

// keyByUser buckets authenticated requests per user and falls back to the
// client address.
func keyByUser(r *http.Request) string {
	if id := IdentityFromContext(r.Context()); id.UserID != "" {
		return "ratelimit:user:" + id.UserID
	}
	return ratelimit.KeyByIP(r)
}
