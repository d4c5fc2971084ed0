package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/advisehq/plan-gateway/internal/service"
)

// Handlers contains HTTP handler functions
type Handlers struct {
	service *service.Service
}

// NewHandlers creates a new handlers instance
func NewHandlers(svc *service.Service) *Handlers {
	return &Handlers{service: svc}
}

// Health handles health check requests
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// CreateJob handles POST /v1/plan-jobs
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	log := GetLogger(r.Context())
	identity := GetIdentity(r.Context())

	var req struct {
		RequestRef string          `json:"request_ref"`
		Payload    json.RawMessage `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if log != nil {
			log.Warn("invalid request body", "error", err)
		}
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	job, reused, err := h.service.CreateJob(r.Context(), identity, req.RequestRef, req.Payload)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if log != nil {
		log.Info("plan job accepted",
			"job_id", job.ID,
			"reused", reused,
			"status", job.Status)
	}

	status := http.StatusCreated
	if reused {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"job":    job,
		"reused": reused,
	})
}

// GetJob handles GET /v1/plan-jobs/{job_id}
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	identity := GetIdentity(r.Context())
	jobID := chi.URLParam(r, "job_id")

	job, err := h.service.GetJob(r.Context(), identity, jobID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"job": job,
	})
}

// ListJobs handles GET /v1/plan-jobs
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	identity := GetIdentity(r.Context())

	jobs, err := h.service.ListJobs(r.Context(), identity)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	jobs = FilterJobs(jobs, r.URL.Query().Get("status"))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"jobs": jobs,
	})
}

// CancelJob handles POST /v1/plan-jobs/{job_id}/cancel
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	log := GetLogger(r.Context())
	identity := GetIdentity(r.Context())
	jobID := chi.URLParam(r, "job_id")

	job, err := h.service.CancelJob(r.Context(), identity, jobID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if log != nil {
		log.Info("plan job cancel requested", "job_id", jobID, "status", job.Status)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"job": job,
	})
}

// GetPlan handles GET /v1/plans/{plan_ref}
func (h *Handlers) GetPlan(w http.ResponseWriter, r *http.Request) {
	identity := GetIdentity(r.Context())
	planRef := chi.URLParam(r, "plan_ref")

	accepted, err := h.service.GetPlan(r.Context(), identity, planRef)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"plan": accepted,
	})
}

// respondError writes a JSON error response with logging
func respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	log := GetLogger(r.Context())
	requestID := GetRequestID(r.Context())

	if log != nil {
		log.Error("returning error response",
			"status", status,
			"message", message,
			"request_id", requestID)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message":    message,
			"code":       status,
			"request_id": requestID,
		},
	})
}

// handleServiceError maps service errors to HTTP responses
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	log := GetLogger(r.Context())

	if log != nil {
		log.Error("service error occurred", "error", err.Error())
	}

	switch {
	case errors.Is(err, service.ErrJobNotFound):
		respondError(w, r, http.StatusNotFound, "job not found")
	case errors.Is(err, service.ErrPlanNotFound):
		respondError(w, r, http.StatusNotFound, "plan not found")
	case errors.Is(err, service.ErrInvalidPayload):
		respondError(w, r, http.StatusBadRequest, "invalid planning payload")
	default:
		respondError(w, r, http.StatusInternalServerError, "internal server error")
	}
}
