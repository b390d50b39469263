package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/wagate/gateway-server-go/internal/token"
)

type contextKey string

const UserContextKey contextKey = "user"

// GetUser returns the authenticated user's claims, or nil.
func GetUser(ctx context.Context) *token.AccessClaims {
	if claims, ok := ctx.Value(UserContextKey).(*token.AccessClaims); ok {
		return claims
	}
	return nil
}

// AuthMiddleware guards user-facing routes with a Bearer access token.
type AuthMiddleware struct {
	tokens *token.Manager
}

func NewAuthMiddleware(tokens *token.Manager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearer(r)
		if raw == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing authentication token",
			})
			return
		}

		claims, err := m.tokens.VerifyAccessToken(raw)
		if err != nil {
			log.Warn().Err(err).Msg("auth middleware: invalid token attempt")
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid token",
			})
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearer(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}
