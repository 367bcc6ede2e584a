package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"schematic-pipeline/internal/domain"
	"schematic-pipeline/internal/domain/model"
	"schematic-pipeline/internal/infra/logging"
	"schematic-pipeline/internal/infra/metrics"
	"schematic-pipeline/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type Server struct {
	jobUC        usecase.JobUseCase
	maxBodyBytes int64
	timeout      time.Duration
	log          *zerolog.Logger
}

func NewServer(jobUC usecase.JobUseCase, maxBodyBytes int64, timeout time.Duration, logger *zerolog.Logger) *Server {
	return &Server{
		jobUC:        jobUC,
		maxBodyBytes: maxBodyBytes,
		timeout:      timeout,
		log:          logging.Component(logger, "http"),
	}
}

// Router builds the intake and status API.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(TraceID())
	r.Use(RequestLog(s.log))
	r.Use(Recover(s.log))
	r.Use(Timeout(s.timeout))

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/generate", s.handleGenerate)
		r.Get("/jobs/{id}", s.handleGetJob)
	})
	return r
}

// AdminHandler serves only /health and /metrics, for processes without the
// public API.
func AdminHandler(logger *zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return Chain(r, Recover(logging.Component(logger, "admin")))
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	log := logging.With(r.Context(), s.log)

	var req model.GenerateRequest
	body := http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	resp, err := s.jobUC.Generate(r.Context(), req)
	if err != nil {
		if usecase.IsClientError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Msg("generate request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// JobView is the public representation of a job.
type JobView struct {
	JobID        string    `json:"jobId"`
	Status       string    `json:"status"`
	Prompt       string    `json:"prompt"`
	Attempts     int       `json:"attempts"`
	Error        string    `json:"error,omitempty"`
	ArtifactKey  string    `json:"artifactKey,omitempty"`
	ArtifactSize int64     `json:"artifactSize,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func newJobView(j *model.Job) JobView {
	return JobView{
		JobID:        j.ID,
		Status:       string(j.Status),
		Prompt:       j.Prompt,
		Attempts:     j.Attempts,
		Error:        j.LastError,
		ArtifactKey:  j.ArtifactKey,
		ArtifactSize: j.ArtifactSize,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.jobUC.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		logging.With(r.Context(), s.log).Error().Err(err).Str("job_id", id).Msg("get job failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
