package middleware

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/wagate/gateway-server-go/internal/httputil"
	"github.com/wagate/gateway-server-go/internal/token"
	"github.com/wagate/gateway-server-go/internal/whatsapp"
)

// SessionTokenHeader carries the per-session capability token on message
// relay calls.
const SessionTokenHeader = "X-Session-Token"

const SessionClaimsContextKey contextKey = "sessionClaims"

// GetSessionClaims returns the verified capability token claims, or nil.
func GetSessionClaims(ctx context.Context) *token.SessionClaims {
	if claims, ok := ctx.Value(SessionClaimsContextKey).(*token.SessionClaims); ok {
		return claims
	}
	return nil
}

// SessionTokenMiddleware guards message relay routes with the capability
// token. The signature check recovers the owner and account; the core then
// re-verifies both against the persisted record so a token cannot outlive
// its session.
type SessionTokenMiddleware struct {
	tokens *token.Manager
	core   *whatsapp.Service
}

func NewSessionTokenMiddleware(tokens *token.Manager, core *whatsapp.Service) *SessionTokenMiddleware {
	return &SessionTokenMiddleware{tokens: tokens, core: core}
}

func (m *SessionTokenMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(SessionTokenHeader)
		if raw == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing session token",
			})
			return
		}

		claims, err := m.tokens.VerifySessionToken(raw)
		if err != nil {
			log.Warn().Err(err).Msg("session token middleware: invalid token attempt")
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid or expired session token",
			})
			return
		}

		if err := m.core.VerifySendAccess(r.Context(), claims.UserID, claims.AccountID); err != nil {
			httputil.WriteError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), SessionClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
