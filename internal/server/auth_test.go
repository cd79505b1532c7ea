package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func testTokens() StaticTokenStore {
	return StaticTokenStore{
		"user-token":  {UserID: "user-1", IsAdmin: false},
		"admin-token": {UserID: "admin-1", IsAdmin: true},
	}
}

func passthroughHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}

func TestAuthMiddlewareRejectsMissingHeader(t *testing.T) {
	mw := authMiddleware(testTokens(), arbor.NewLogger())
	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()

	mw(passthroughHandler()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareRejectsUnknownToken(t *testing.T) {
	mw := authMiddleware(testTokens(), arbor.NewLogger())
	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	rec := httptest.NewRecorder()

	mw(passthroughHandler()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareAcceptsKnownToken(t *testing.T) {
	mw := authMiddleware(testTokens(), arbor.NewLogger())
	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.Header.Set("Authorization", "Bearer user-token")
	rec := httptest.NewRecorder()

	var sawPrincipal Principal
	handler := func(w http.ResponseWriter, r *http.Request) {
		sawPrincipal, _ = principalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}

	mw(http.HandlerFunc(handler)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "user-1", sawPrincipal.UserID)
}

func withPrincipal(r *http.Request, p Principal) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), principalKey{}, p))
}

func TestAuthorizeUserScopeAllowsOwnUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/work-orders", nil)
	req = withPrincipal(req, Principal{UserID: "user-1"})
	rec := httptest.NewRecorder()

	require.True(t, authorizeUserScope(rec, req, arbor.NewLogger(), "user-1"))
}

func TestAuthorizeUserScopeAllowsAdminForAnyUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/work-orders", nil)
	req = withPrincipal(req, Principal{UserID: "admin-1", IsAdmin: true})
	rec := httptest.NewRecorder()

	require.True(t, authorizeUserScope(rec, req, arbor.NewLogger(), "someone-else"))
}

func TestAuthorizeUserScopeRejectsMismatchedUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/work-orders", nil)
	req = withPrincipal(req, Principal{UserID: "user-1"})
	rec := httptest.NewRecorder()

	require.False(t, authorizeUserScope(rec, req, arbor.NewLogger(), "someone-else"))
	require.Equal(t, http.StatusForbidden, rec.Code)
}
