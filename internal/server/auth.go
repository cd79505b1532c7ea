package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
)

// Principal is the authenticated caller attached to the request
// context by authMiddleware (spec §6 authorization rule).
type Principal struct {
	UserID  string
	IsAdmin bool
}

type principalKey struct{}

// TokenStore resolves a bearer token to its Principal. Backed by a
// simple in-memory map loaded at startup; swapping in a real identity
// provider only requires a new TokenStore implementation (spec §9
// keeps this boundary narrow and typed, same as the repository and
// storage interfaces).
type TokenStore interface {
	Lookup(token string) (Principal, bool)
}

// StaticTokenStore is a fixed token->principal table, the simplest
// TokenStore that satisfies the bearer-token contract for an
// operator-managed deployment.
type StaticTokenStore map[string]Principal

func (s StaticTokenStore) Lookup(token string) (Principal, bool) {
	p, ok := s[token]
	return p, ok
}

// authMiddleware requires a bearer token resolvable by tokens, and
// attaches the resolved Principal to the request context. 401 on a
// missing/unknown token (spec §6 status codes).
func authMiddleware(tokens TokenStore, logger arbor.ILogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
				return
			}
			token := strings.TrimPrefix(header, "Bearer ")
			if token == "" {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
				return
			}
			principal, ok := tokens.Lookup(token)
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "unknown bearer token")
				return
			}
			ctx := context.WithValue(r.Context(), principalKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// authorizeUserScope enforces spec §6's authorization rule for every
// user-scoped endpoint: auth.user_id == path/query user_id OR
// auth.is_admin. A violation writes 403 and logs a security-audit
// event (spec §6: "Violations... emit a security-audit event").
func authorizeUserScope(w http.ResponseWriter, r *http.Request, logger arbor.ILogger, scopedUserID string) bool {
	principal, ok := principalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "no authenticated principal")
		return false
	}
	if principal.IsAdmin || principal.UserID == scopedUserID {
		return true
	}
	logger.Warn().
		Str("principal_user_id", principal.UserID).
		Str("scoped_user_id", scopedUserID).
		Str("path", r.URL.Path).
		Msg("security audit: authorization violation")
	writeError(w, http.StatusForbidden, "forbidden", "not authorized for this user scope")
	return false
}
