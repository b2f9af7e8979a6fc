package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-session-broker/internal/audit"
	apperrors "github.com/openclaw/wa-session-broker/internal/errors"
	"github.com/openclaw/wa-session-broker/internal/httputil"
	"github.com/openclaw/wa-session-broker/internal/util"
)

type contextKey string

const OwnerContextKey contextKey = "owner"

// OwnerHeader carries the tenant on whose behalf the caller acts.
const OwnerHeader = "X-Owner-ID"

const maxOwnerIDLength = 128

func GetOwner(ctx context.Context) string {
	if owner, ok := ctx.Value(OwnerContextKey).(string); ok {
		return owner
	}
	return ""
}

func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, OwnerContextKey, ownerID)
}

type AuthMiddleware struct {
	tokenHash string
}

// NewAuthMiddleware checks bearer tokens against tokenHash. An empty hash
// disables token checks; the owner header is still required.
func NewAuthMiddleware(tokenHash string) *AuthMiddleware {
	if tokenHash == "" {
		log.Warn().Msg("API_TOKEN_HASH is empty, API authentication disabled")
	}
	return &AuthMiddleware{tokenHash: tokenHash}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.tokenHash != "" {
			token := extractToken(r)
			if token == "" {
				httputil.WriteError(w, apperrors.Unauthorized("Missing authentication token"))
				return
			}

			if !util.ConstantTimeEqual(util.HashToken(token), m.tokenHash) {
				audit.LogFromRequest(r, audit.Event{
					Type:    audit.EventAuthFailure,
					Details: map[string]any{"reason": "invalid_token"},
				})
				httputil.WriteError(w, apperrors.Unauthorized("Invalid token"))
				return
			}
		}

		owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
		if owner == "" {
			httputil.WriteError(w, apperrors.MissingRequired(OwnerHeader))
			return
		}
		if len(owner) > maxOwnerIDLength {
			httputil.WriteError(w, apperrors.ValidationError("X-Owner-ID is too long"))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
	})
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	// EventSource cannot set headers.
	if r.Header.Get("Accept") == "text/event-stream" {
		return r.URL.Query().Get("token")
	}

	return ""
}
