package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"lease-analyzer/internal/apperr"
	"lease-analyzer/internal/models"
	"lease-analyzer/internal/ratelimit"
	"lease-analyzer/internal/telemetry"
)

// Jobs is the write side used by the HTTP surface.
type Jobs interface {
	Start(ctx context.Context, req models.AnalysisRequest) (models.Job, error)
	Terminate(ctx context.Context, jobID string) (models.Job, error)
}

// StatusReader is the read side used for polling.
type StatusReader interface {
	GetStatus(ctx context.Context, id string) (models.Job, error)
	GetResult(ctx context.Context, id string) (models.AnalysisResult, error)
}

// Limiter admits or rejects submissions per tenant.
type Limiter interface {
	Allow(ctx context.Context, tenant string) (ratelimit.Decision, error)
}

// DeadLetters lists jobs the dispatcher gave up on.
type DeadLetters interface {
	DLQPeek(ctx context.Context, count int64) ([]string, error)
}

// Options wires the server. Limiter and DeadLetters are optional.
type Options struct {
	Jobs        Jobs
	Status      StatusReader
	Limiter     Limiter
	DeadLetters DeadLetters
	Logger      *slog.Logger
}

// Server wires HTTP handlers for submission and polling.
type Server struct {
	jobs    Jobs
	status  StatusReader
	limiter Limiter
	dlq     DeadLetters
	logger  *slog.Logger
}

func New(opts Options) *Server {
	return &Server{
		jobs:    opts.Jobs,
		status:  opts.Status,
		limiter: opts.Limiter,
		dlq:     opts.DeadLetters,
		logger:  opts.Logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/analyze", s.handleAnalyze)
		r.Get("/status/{id}", s.handleStatus)
		r.Get("/result/{id}", s.handleResult)
		r.Post("/terminate/{id}", s.handleTerminate)
		if s.dlq != nil {
			r.Get("/dlq", s.handleDLQ)
		}
	})
	return r
}

type analyzeResponse struct {
	AnalysisID        string           `json:"analysisId"`
	Status            models.JobStatus `json:"status"`
	StatusURL         string           `json:"statusUrl"`
	ResultURL         string           `json:"resultUrl"`
	EstimatedDuration string           `json:"estimatedDuration"`
	CreatedTime       time.Time        `json:"createdTime"`
}

type progressView struct {
	CurrentStep models.Phase `json:"currentStep"`
	Percentage  int          `json:"percentage"`
	Message     string       `json:"message"`
}

type statusResponse struct {
	AnalysisID      string                 `json:"analysisId"`
	Status          models.JobStatus       `json:"status"`
	FileInfo        models.FileInfo        `json:"fileInfo"`
	Progress        progressView           `json:"progress"`
	Result          *models.AnalysisResult `json:"result,omitempty"`
	Error           string                 `json:"error,omitempty"`
	CreatedTime     time.Time              `json:"createdTime"`
	LastUpdatedTime time.Time              `json:"lastUpdatedTime"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Status string `json:"status,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req models.AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}

	if s.limiter != nil {
		d, err := s.limiter.Allow(r.Context(), tenantFromRequest(r))
		if err != nil {
			s.logger.Error("rate limiter unavailable", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "rate limit error"})
			return
		}
		if !d.Allowed {
			telemetry.RateLimitRejects.Inc()
			secs := int(d.RetryAfter.Round(time.Second) / time.Second)
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limited"})
			return
		}
	}

	job, err := s.jobs.Start(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, analyzeResponse{
		AnalysisID:        job.ID,
		Status:            job.Status,
		StatusURL:         "/api/status/" + job.ID,
		ResultURL:         "/api/result/" + job.ID,
		EstimatedDuration: "5-10 minutes",
		CreatedTime:       job.CreatedAt,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.status.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusView(job))
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.status.GetResult(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Terminate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, statusView(job))
}

// handleDLQ returns the ids of jobs the dispatcher gave up on.
func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	items, err := s.dlq.DLQPeek(r.Context(), 100)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if items == nil {
		items = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func statusView(job models.Job) statusResponse {
	return statusResponse{
		AnalysisID: job.ID,
		Status:     job.Status,
		FileInfo: models.FileInfo{
			FileName:   job.Input.FileName,
			FileSize:   job.Input.FileSize,
			UploadedAt: job.CreatedAt,
		},
		Progress: progressView{
			CurrentStep: job.Phase,
			Percentage:  job.Progress,
			Message:     job.Message,
		},
		Result:          job.Result,
		Error:           job.Error,
		CreatedTime:     job.CreatedAt,
		LastUpdatedTime: job.UpdatedAt,
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var notReady *apperr.NotReadyError
	switch {
	case errors.As(err, &notReady):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "analysis not finished", Status: notReady.Status})
	case errors.Is(err, apperr.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		s.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func tenantFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return v
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
