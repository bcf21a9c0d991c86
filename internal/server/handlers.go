package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/stylemotion/catwalk-api/internal/job"
	"github.com/stylemotion/catwalk-api/internal/provider"
	"github.com/stylemotion/catwalk-api/internal/queue"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service  *job.Service
	registry *provider.Registry
	queue    queue.Queue
	logger   *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.Service, registry *provider.Registry, q queue.Queue, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service:  service,
		registry: registry,
		queue:    q,
		logger:   logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateJob handles POST /jobs requests. The job is accepted and queued;
// generation happens asynchronously.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	created, err := h.service.Submit(r.Context(), job.SubmitInput{
		ProductID:      req.ProductID,
		InputAssets:    req.InputAssets,
		Provider:       req.Provider,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		AspectRatio:    req.AspectRatio,
		Duration:       req.Duration,
		Template:       req.Template,
	})
	if err != nil {
		if errors.Is(err, job.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		h.logger.Error("failed to submit job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to submit job", "JOB_SUBMIT_FAILED")
		return
	}

	writeJSON(w, http.StatusAccepted, toJobResponse(created))
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	found, err := h.service.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(found))
}

// ListJobs handles GET /jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_LIST_FAILED")
		return
	}

	resp := JobListResponse{
		Jobs:  make([]JobResponse, 0, len(jobs)),
		Count: len(jobs),
	}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelJob handles DELETE /jobs/{id} requests.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	cancelled, err := h.service.Cancel(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, job.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		case errors.Is(err, job.ErrNotCancellable):
			writeError(w, http.StatusConflict, "job already finished", "JOB_NOT_CANCELLABLE")
		default:
			h.logger.Error("failed to cancel job",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to cancel job", "JOB_CANCEL_FAILED")
		}
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(cancelled))
}

// ListProviders handles GET /providers requests.
func (h *Handlers) ListProviders(w http.ResponseWriter, r *http.Request) {
	available := h.registry.Available()
	resp := ProvidersResponse{Available: make([]string, 0, len(available))}
	for _, t := range available {
		resp.Available = append(resp.Available, string(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

// QueueStats handles GET /queue/stats requests.
func (h *Handlers) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to read queue stats", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read queue stats", "QUEUE_STATS_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, QueueStatsResponse{
		Waiting:   stats.Waiting,
		Active:    stats.Active,
		Completed: stats.Completed,
		Failed:    stats.Failed,
	})
}

// toJobResponse maps the domain job to its HTTP representation.
func toJobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:          j.ID,
		ProductID:   j.ProductID,
		Provider:    string(j.Provider),
		Status:      string(j.Status),
		Progress:    j.Progress,
		Prompt:      j.Prompt,
		AspectRatio: j.AspectRatio,
		Duration:    j.Duration,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt,
	}
	if !j.StartedAt.IsZero() {
		resp.StartedAt = timePtr(j.StartedAt)
	}
	if !j.CompletedAt.IsZero() {
		resp.CompletedAt = timePtr(j.CompletedAt)
	}
	if j.OutputAsset != nil {
		resp.OutputAsset = &AssetResponse{
			URL:       j.OutputAsset.URL,
			Filename:  j.OutputAsset.Filename,
			MimeType:  j.OutputAsset.MimeType,
			SizeBytes: j.OutputAsset.SizeBytes,
		}
	}
	return resp
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
