package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"drawing-query/internal/domain"
	"drawing-query/internal/domain/ports/usecase"
	"drawing-query/internal/infra/logging"
	"drawing-query/internal/infra/metrics"
)

const maxBodyBytes = 1 << 20

// Server exposes the query job orchestrator over HTTP.
type Server struct {
	jobs usecase.QueryJobs
	auth *AuthManager
	log  *zerolog.Logger
	dev  bool
}

func NewServer(jobs usecase.QueryJobs, auth *AuthManager, logger *zerolog.Logger, dev bool) *Server {
	l := logger.With().Str("component", "API").Logger()
	return &Server{jobs: jobs, auth: auth, log: &l, dev: dev}
}

// Router builds the chi router with every route and middleware attached.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1/queries", func(r chi.Router) {
		r.Use(RequireAuth(s.auth), Timeout(10*time.Second))
		r.Post("/", s.handleSubmit)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleStatus)
	})
	return r
}

type submitRequest struct {
	Query    string   `json:"query"`
	Targets  []string `json:"targets"`
	UseCache *bool    `json:"use_cache"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	useCache := true
	if req.UseCache != nil {
		useCache = *req.UseCache
	}

	id, err := s.jobs.Submit(r.Context(), req.Query, req.Targets, useCache)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	l := logging.With(r.Context(), s.log)
	l.Info().Str("job_id", id).Str("query", logging.Redact(req.Query, s.dev)).Msg("query accepted")
	writeJSON(w, http.StatusAccepted, submitResponse{JobID: id})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.jobs.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.jobs.ListJobs(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	default:
		l := logging.With(r.Context(), s.log)
		l.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
