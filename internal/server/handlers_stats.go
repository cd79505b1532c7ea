package server

import "net/http"

// handleRecoveryStats surfaces the recovery engine's per-(kind,
// operation) success rates and recent classified errors (spec §6,
// §4.7 telemetry; admin-only since it is not user-scoped).
func (s *Server) handleRecoveryStats(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromContext(r.Context())
	if !ok || !principal.IsAdmin {
		writeError(w, http.StatusForbidden, "forbidden", "recovery stats require an admin principal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":         s.app.Recovery.Stats(),
		"recent_errors": s.app.Recovery.RecentErrors(),
	})
}

func (s *Server) handleResourceUtilization(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromContext(r.Context())
	if !ok || !principal.IsAdmin {
		writeError(w, http.StatusForbidden, "forbidden", "resource utilization requires an admin principal")
		return
	}
	writeJSON(w, http.StatusOK, s.app.Resources.Utilization())
}
