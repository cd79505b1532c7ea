package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fossawork/dispatcher/internal/progress"
)

// tokenPrincipal resolves a WebSocket path token the same way
// authMiddleware resolves a bearer header, since the WS route sits
// outside that middleware (spec §6: the token is embedded in the path
// for this one endpoint, not the Authorization header).
func (s *Server) tokenPrincipal(token string) (Principal, bool) {
	return s.tokens.Lookup(token)
}

// handleWS upgrades to a WebSocket and streams progress events scoped
// to the token's user (spec §6 WS /automation/ws/{token}). An optional
// job_id query parameter narrows the subscription to one job.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	principal, ok := s.tokenPrincipal(token)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "unknown websocket token")
		return
	}

	jobID := r.URL.Query().Get("job_id")
	if err := progress.ServeWS(s.app.Bus, s.app.Logger, w, r, jobID, principal.UserID); err != nil {
		s.app.Logger.Debug().Err(err).Str("user_id", principal.UserID).Msg("server: websocket session ended")
	}
}
