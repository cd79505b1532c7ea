package server

import (
	"fmt"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// loggingMiddleware logs every request's method, path, status, and
// duration, matching the teacher's loggingMiddleware (internal/server/middleware.go)
// level-by-status-code convention.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		reqID := chimw.GetReqID(r.Context())

		event := s.app.Logger.Trace()
		switch {
		case ww.Status() >= 500:
			event = s.app.Logger.Error()
		case ww.Status() >= 400:
			event = s.app.Logger.Warn()
		}
		event.
			Str("request_id", reqID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int64("duration_ms", duration.Milliseconds()).
			Msg("http request")
	})
}

// corsMiddleware allows any origin: this API is consumed by a browser
// extension / local UI rather than a single known origin, matching
// the teacher's corsMiddleware comment ("Allow all origins for local
// development").
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recovererMiddleware turns a panicking handler into a 500 instead of
// crashing the process, matching the teacher's recoveryMiddleware.
func (s *Server) recovererMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.app.Logger.Error().
					Str("path", r.URL.Path).
					Str("panic", fmt.Sprintf("%v", rec)).
					Msg("server: panic recovered")
				writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
