// Package api exposes the HTTP interface for the indexing service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/seoforge/url-indexer/internal/config"
	"github.com/seoforge/url-indexer/internal/indexer"
	"github.com/seoforge/url-indexer/internal/orchestrator"
)

// Server wires HTTP handlers to the store and the orchestrator.
type Server struct {
	router    chi.Router
	store     indexer.Store
	processor orchestrator.Processor
	clock     indexer.Clock
	cfg       config.Config
	logger    *zap.Logger
	// baseCtx parents async processing kicked off by handlers so request
	// cancellation does not abort a running job.
	baseCtx context.Context
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	baseCtx context.Context,
	store indexer.Store,
	processor orchestrator.Processor,
	clock indexer.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:     store,
		processor: processor,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
		baseCtx:   baseCtx,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.createJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Get("/submissions", s.listSubmissions)
				r.Post("/process", s.processJob)
				r.Post("/pause", s.pauseJob)
				r.Post("/retry", s.retryJob)
			})
		})
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", s.createAccount)
			r.Get("/{account_id}", s.getAccount)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type createJobRequest struct {
	OwnerID    string   `json:"owner_id"`
	Kind       string   `json:"kind"`
	URLs       []string `json:"urls"`
	SitemapURL string   `json:"sitemap_url"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, err := s.toJob(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.CreateJob(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, "create job failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"job_id": job.ID, "status": string(job.Status)})
}

func (s *Server) toJob(req createJobRequest) (indexer.Job, error) {
	if req.OwnerID == "" {
		return indexer.Job{}, errors.New("owner_id is required")
	}
	kind := indexer.JobKind(req.Kind)
	switch kind {
	case indexer.JobKindManual:
		if len(req.URLs) == 0 {
			return indexer.Job{}, errors.New("urls required for manual jobs")
		}
	case indexer.JobKindSitemap:
		if req.SitemapURL == "" {
			return indexer.Job{}, errors.New("sitemap_url required for sitemap jobs")
		}
		if _, err := url.ParseRequestURI(req.SitemapURL); err != nil {
			return indexer.Job{}, fmt.Errorf("invalid sitemap_url: %w", err)
		}
	default:
		return indexer.Job{}, fmt.Errorf("kind must be %q or %q", indexer.JobKindManual, indexer.JobKindSitemap)
	}
	return indexer.Job{
		ID:         uuid.NewString(),
		OwnerID:    req.OwnerID,
		Kind:       kind,
		Status:     indexer.JobStatusPending,
		URLs:       req.URLs,
		SitemapURL: req.SitemapURL,
		CreatedAt:  s.clock.Now(),
	}, nil
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) listSubmissions(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := s.store.GetJob(r.Context(), jobID); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	subs, err := s.store.ListSubmissions(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list submissions failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": subs})
}

// processJob kicks off processing asynchronously. The 202 means the job was
// accepted, not that it will win the lock.
func (s *Server) processJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if indexer.IsTerminal(job.Status) && job.Status != indexer.JobStatusPaused {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is %s", job.Status))
		return
	}
	if job.Status == indexer.JobStatusPaused {
		// Manual resume: re-arm so the lock can succeed.
		if err := s.store.UpdateJobStatus(r.Context(), jobID, indexer.JobStatusPending, "resumed via API", nil); err != nil {
			writeError(w, http.StatusInternalServerError, "resume failed")
			return
		}
	}
	go func() {
		if err := s.processor.Process(s.baseCtx, jobID); err != nil {
			if errors.Is(err, orchestrator.ErrAlreadyProcessing) || errors.Is(err, orchestrator.ErrNotEligible) {
				s.logger.Info("process request ignored",
					zap.String("job_id", jobID),
					zap.Error(err),
				)
				return
			}
			s.logger.Error("async job processing failed",
				zap.String("job_id", jobID),
				zap.Error(err),
			)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) pauseJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status != indexer.JobStatusRunning && job.Status != indexer.JobStatusPending {
		writeError(w, http.StatusConflict, fmt.Sprintf("cannot pause a %s job", job.Status))
		return
	}
	if err := s.store.UpdateJobStatus(r.Context(), jobID, indexer.JobStatusPaused, "paused via API", nil); err != nil {
		writeError(w, http.StatusInternalServerError, "pause failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(indexer.JobStatusPaused)})
}

// retryJob re-arms a failed job. The pending rows of the failed run (if any)
// resume; otherwise the next run re-submits every URL.
func (s *Server) retryJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status != indexer.JobStatusFailed {
		writeError(w, http.StatusConflict, fmt.Sprintf("cannot retry a %s job", job.Status))
		return
	}
	if err := s.store.UpdateJobStatus(r.Context(), jobID, indexer.JobStatusPending, "retry via API", nil); err != nil {
		writeError(w, http.StatusInternalServerError, "retry failed")
		return
	}
	go func() {
		if err := s.processor.Process(s.baseCtx, jobID); err != nil &&
			!errors.Is(err, orchestrator.ErrAlreadyProcessing) && !errors.Is(err, orchestrator.ErrNotEligible) {
			s.logger.Error("async job retry failed",
				zap.String("job_id", jobID),
				zap.Error(err),
			)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

type createAccountRequest struct {
	OwnerID       string `json:"owner_id"`
	CredentialRef string `json:"credential_ref"`
	DailyLimit    int    `json:"daily_limit"`
}

func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.OwnerID == "" || req.CredentialRef == "" {
		writeError(w, http.StatusBadRequest, "owner_id and credential_ref are required")
		return
	}
	if req.DailyLimit <= 0 {
		req.DailyLimit = 200
	}
	account := indexer.Account{
		ID:            uuid.NewString(),
		OwnerID:       req.OwnerID,
		CredentialRef: req.CredentialRef,
		Active:        true,
		DailyLimit:    req.DailyLimit,
	}
	if err := s.store.CreateAccount(r.Context(), account); err != nil {
		writeError(w, http.StatusInternalServerError, "create account failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"account": account})
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	account, err := s.store.GetAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
