package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRateLimitMiddlewareAllowsWithinBurst(t *testing.T) {
	limiter := newPerUserLimiter(1, 2)
	mw := rateLimitMiddleware(limiter)
	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/anything", nil), Principal{UserID: "user-1"})

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		mw(passthroughHandler()).ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimitMiddlewareRejectsOnceExhausted(t *testing.T) {
	limiter := newPerUserLimiter(1, 1)
	mw := rateLimitMiddleware(limiter)
	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/anything", nil), Principal{UserID: "user-1"})

	first := httptest.NewRecorder()
	mw(passthroughHandler()).ServeHTTP(first, req)
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	mw(passthroughHandler()).ServeHTTP(second, req)
	require.Equal(t, http.StatusServiceUnavailable, second.Code)
}

func TestRateLimitMiddlewareTracksUsersIndependently(t *testing.T) {
	limiter := newPerUserLimiter(1, 1)
	mw := rateLimitMiddleware(limiter)

	reqA := withPrincipal(httptest.NewRequest(http.MethodGet, "/anything", nil), Principal{UserID: "user-a"})
	reqB := withPrincipal(httptest.NewRequest(http.MethodGet, "/anything", nil), Principal{UserID: "user-b"})

	recA := httptest.NewRecorder()
	mw(passthroughHandler()).ServeHTTP(recA, reqA)
	require.Equal(t, http.StatusOK, recA.Code)

	recB := httptest.NewRecorder()
	mw(passthroughHandler()).ServeHTTP(recB, reqB)
	require.Equal(t, http.StatusOK, recB.Code, "a different user's bucket should be independent")
}
