// Package server implements the HTTP/WebSocket API (spec §6). Grounded
// on the teacher's internal/server package (Server wrapping a router
// over *app.App, a middleware chain applied around it, a conditional
// bypass for WebSocket upgrades), generalized from net/http.ServeMux's
// manual prefix matching to github.com/go-chi/chi/v5's declarative
// path-parameter routing.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/fossawork/dispatcher/internal/app"
)

// Server owns the chi router and the underlying http.Server.
type Server struct {
	app     *app.App
	router  chi.Router
	http    *http.Server
	tokens  TokenStore
	limiter *perUserLimiter
}

// New builds a Server over application, authorizing requests against
// tokens (spec §6 bearer-token auth).
func New(application *app.App, tokens TokenStore) *Server {
	s := &Server{
		app:     application,
		tokens:  tokens,
		limiter: newPerUserLimiter(5, 10),
	}
	s.router = s.routes()

	addr := fmt.Sprintf("%s:%d", application.Config.Server.Host, application.Config.Server.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(s.recovererMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)

	// The WebSocket endpoint authenticates via its path token directly
	// (spec §6 WS /automation/ws/{token}) rather than the Authorization
	// header, so it sits outside authMiddleware.
	r.Get("/automation/ws/{token}", s.handleWS)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.tokens, s.app.Logger))
		r.Use(rateLimitMiddleware(s.limiter))

		r.Route("/credentials/{service}", func(r chi.Router) {
			r.Post("/", s.handleCredentialStore)
			r.Get("/", s.handleCredentialGet)
			r.Delete("/", s.handleCredentialDelete)
			r.Post("/test", s.handleCredentialTest)
		})

		r.Route("/work-orders", func(r chi.Router) {
			r.Post("/scrape", s.handleScrapeWorkOrders)
			r.Get("/scrape/progress/{user_id}", s.handleScrapeProgress)
			r.Get("/", s.handleListWorkOrders)
			r.Delete("/clear-all", s.handleClearAllWorkOrders)
			r.Post("/scrape-dispensers-batch", s.handleBatchDispenserScrape)
			r.Get("/{id}", s.handleGetWorkOrder)
			r.Patch("/{id}/status", s.handleUpdateWorkOrderStatus)
			r.Post("/{id}/scrape-dispensers", s.handleDispenserScrape)
			r.Delete("/{id}", s.handleDeleteWorkOrder)
		})

		r.Route("/automation", func(r chi.Router) {
			r.Post("/form/process-visit", s.handleProcessVisit)
			r.Post("/form/process-batch", s.handleProcessBatch)
			r.Get("/queue/jobs/{job_id}", s.handleJobStatus)
			r.Post("/queue/jobs/{job_id}/cancel", s.handleJobCancel)
			r.Get("/queue/status", s.handleQueueStatus)
		})

		r.Get("/recovery/stats", s.handleRecoveryStats)
		r.Get("/resources/utilization", s.handleResourceUtilization)
	})

	return r
}

// Start begins serving. Blocks until Shutdown is called or the
// listener fails.
func (s *Server) Start() error {
	s.app.Logger.Info().Str("address", s.http.Addr).Msg("server: HTTP API starting")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen failed: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the composed router for tests.
func (s *Server) Handler() http.Handler { return s.router }
