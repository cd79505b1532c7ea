package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fossawork/dispatcher/internal/models"
	"github.com/fossawork/dispatcher/internal/repository"
)

// handleScrapeWorkOrders enqueues a list-scrape job (spec §6
// POST /work-orders/scrape?user_id=).
func (s *Server) handleScrapeWorkOrders(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	if !authorizeUserScope(w, r, s.app.Logger, userID) {
		return
	}

	job := &models.Job{
		UserID:    userID,
		Kind:      models.JobKindScrapeList,
		Priority:  models.PriorityHigh,
		Payload:   map[string]interface{}{},
		Resources: models.ResourceRequirement{Sessions: 1, MemoryMB: 512},
	}
	if err := s.app.Queue.Enqueue(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to enqueue scrape")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "queued", "job_id": job.JobID})
}

// handleScrapeProgress serves GET /work-orders/scrape/progress/{user_id}
// (spec §6) with the queue's aggregate depth snapshot (Queue.Stats). It
// does not report a phase, percentage or message for userID's scrape;
// every authorized caller gets the same queue-wide numbers.
func (s *Server) handleScrapeProgress(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if !authorizeUserScope(w, r, s.app.Logger, userID) {
		return
	}
	writeJSON(w, http.StatusOK, s.app.Queue.Stats())
}

func (s *Server) handleListWorkOrders(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	if !authorizeUserScope(w, r, s.app.Logger, userID) {
		return
	}

	q := r.URL.Query()
	page := repository.Pagination{
		Skip:  atoiDefault(q.Get("skip"), 0),
		Limit: atoiDefault(q.Get("limit"), 50),
	}
	var filters repository.WorkOrderFilters
	if start, end, ok := parseDateRange(q.Get("start_date"), q.Get("end_date")); ok {
		dr := repository.NewDateRangeFilter(start, end)
		filters = dr
	}

	orders, total, err := s.app.Repository.FindWorkOrders(r.Context(), userID, filters, page)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list work orders")
		return
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	w.Header().Set("X-Skip", strconv.Itoa(page.Skip))
	w.Header().Set("X-Limit", strconv.Itoa(page.Limit))
	writeJSON(w, http.StatusOK, orders)
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func parseDateRange(startStr, endStr string) (time.Time, time.Time, bool) {
	if startStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, false
	}
	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err := time.Parse("2006-01-02", endStr)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func (s *Server) handleGetWorkOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := userIDParam(r)
	if !authorizeUserScope(w, r, s.app.Logger, userID) {
		return
	}

	wo, err := s.app.Repository.FindWorkOrder(r.Context(), id, userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "record_not_found", "work order not found")
		return
	}
	dispensers, err := s.app.Repository.DispensersForWorkOrder(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load dispensers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"work_order": wo, "dispensers": dispensers})
}

func (s *Server) handleUpdateWorkOrderStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := userIDParam(r)
	if !authorizeUserScope(w, r, s.app.Logger, userID) {
		return
	}

	var req statusUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "malformed request body")
		return
	}
	if err := validateBody(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	wo, err := s.app.Repository.FindWorkOrder(r.Context(), id, userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "record_not_found", "work order not found")
		return
	}
	wo.Status = models.WorkOrderStatus(req.Status)
	wo.UpdatedAt = time.Now()
	if err := s.app.Repository.UpsertWorkOrder(r.Context(), wo); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update status")
		return
	}
	writeJSON(w, http.StatusOK, wo)
}

func (s *Server) handleDeleteWorkOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := userIDParam(r)
	if !authorizeUserScope(w, r, s.app.Logger, userID) {
		return
	}
	if _, err := s.app.Repository.FindWorkOrder(r.Context(), id, userID); err != nil {
		writeError(w, http.StatusNotFound, "record_not_found", "work order not found")
		return
	}
	if err := s.app.Repository.DeleteWorkOrder(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete work order")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearAllWorkOrders(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	if !authorizeUserScope(w, r, s.app.Logger, userID) {
		return
	}
	orders, _, err := s.app.Repository.FindWorkOrders(r.Context(), userID, repository.WorkOrderFilters{}, repository.Pagination{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list work orders")
		return
	}
	for _, wo := range orders {
		if err := s.app.Repository.DeleteWorkOrder(r.Context(), wo.ID); err != nil {
			s.app.Logger.Warn().Err(err).Str("work_order_id", wo.ID).Msg("server: clear-all failed to delete work order")
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": len(orders)})
}

func (s *Server) handleDispenserScrape(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := userIDParam(r)
	if !authorizeUserScope(w, r, s.app.Logger, userID) {
		return
	}
	forceRefresh := r.URL.Query().Get("force_refresh") == "true"

	job := &models.Job{
		UserID:    userID,
		Kind:      models.JobKindScrapeDispensers,
		Priority:  models.PriorityNormal,
		Payload:   map[string]interface{}{"work_order_id": id, "force_refresh": forceRefresh},
		Resources: models.ResourceRequirement{Sessions: 1, MemoryMB: 512},
	}
	if err := s.app.Queue.Enqueue(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to enqueue dispenser scrape")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "queued", "job_id": job.JobID})
}

func (s *Server) handleBatchDispenserScrape(w http.ResponseWriter, r *http.Request) {
	var req batchDispenserScrapeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "malformed request body")
		return
	}
	if err := validateBody(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if !authorizeUserScope(w, r, s.app.Logger, req.UserID) {
		return
	}

	job := &models.Job{
		UserID:    req.UserID,
		Kind:      models.JobKindScrapeList,
		Priority:  models.PriorityNormal,
		Payload:   map[string]interface{}{"batch_dispensers": true},
		Resources: models.ResourceRequirement{Sessions: 1, MemoryMB: 512},
	}
	if err := s.app.Queue.Enqueue(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to enqueue batch scrape")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "queued", "job_id": job.JobID})
}
