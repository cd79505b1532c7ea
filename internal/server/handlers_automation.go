package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fossawork/dispatcher/internal/models"
)

func (s *Server) handleProcessVisit(w http.ResponseWriter, r *http.Request) {
	var req processVisitRequest
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
		UserID:   req.UserID,
		Kind:     models.JobKindRunForm,
		Priority: models.JobPriority(req.Priority),
		Payload: map[string]interface{}{
			"work_order_id": req.WorkOrderID,
			"dispenser_id":  req.DispenserID,
		},
		Resources: models.ResourceRequirement{Sessions: 1, MemoryMB: 512},
	}
	if err := s.app.Queue.Enqueue(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to enqueue form run")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "queued", "job_id": job.JobID})
}

func (s *Server) handleProcessBatch(w http.ResponseWriter, r *http.Request) {
	var req processBatchRequest
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

	ids := make([]interface{}, len(req.WorkOrderIDs))
	for i, id := range req.WorkOrderIDs {
		ids[i] = id
	}

	job := &models.Job{
		UserID:    req.UserID,
		Kind:      models.JobKindRunBatch,
		Priority:  models.PriorityNormal,
		Payload:   map[string]interface{}{"work_order_ids": ids},
		Resources: models.ResourceRequirement{Sessions: 1, MemoryMB: 512},
	}
	if err := s.app.Queue.Enqueue(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to enqueue batch run")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "queued", "job_id": job.JobID})
}

// jobByID finds a job by scanning the queue's persisted store; the
// queue does not keep an indexed getter beyond Stats/Cancel, matching
// spec §4.9's scope of "scheduling, retries, resource accounting" only.
func (s *Server) jobByID(r *http.Request, jobID string) (*models.Job, bool) {
	jobs, err := s.app.JobStorage.ListJobs(r.Context())
	if err != nil {
		return nil, false
	}
	for _, j := range jobs {
		if j.JobID == jobID {
			return j, true
		}
	}
	return nil, false
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, ok := s.jobByID(r, jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "record_not_found", "job not found")
		return
	}
	if !authorizeUserScope(w, r, s.app.Logger, job.UserID) {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, ok := s.jobByID(r, jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "record_not_found", "job not found")
		return
	}
	if !authorizeUserScope(w, r, s.app.Logger, job.UserID) {
		return
	}
	if err := s.app.Queue.Cancel(r.Context(), jobID); err != nil {
		writeError(w, http.StatusConflict, "constraint_violation", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "cancelled", "job_id": jobID})
}

// handleQueueStatus aggregates queue depths with resource utilization
// (spec §6 GET /automation/queue/status).
func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queue":     s.app.Queue.Stats(),
		"resources": s.app.Resources.Utilization(),
		"browser":   s.app.BrowserPool.Utilization(),
	})
}
