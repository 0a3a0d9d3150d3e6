// Package api exposes report jobs, downloads and maintenance operations over
// HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/ClockSheet/internal/apperror"
	"github.com/dharsanguruparan/ClockSheet/internal/config"
	"github.com/dharsanguruparan/ClockSheet/internal/fetch"
	"github.com/dharsanguruparan/ClockSheet/internal/filestore"
	"github.com/dharsanguruparan/ClockSheet/internal/jobs"
	"github.com/dharsanguruparan/ClockSheet/internal/model"
	"github.com/dharsanguruparan/ClockSheet/internal/signing"
	"github.com/dharsanguruparan/ClockSheet/internal/storage"
	"github.com/dharsanguruparan/ClockSheet/internal/strategy"
)

// Jobs is the job manager surface used by the handlers.
type Jobs interface {
	Create(ctx context.Context, req model.ReportRequest) (*model.ReportJob, error)
	Status(ctx context.Context, id string) (*model.ReportJob, error)
	List(ctx context.Context) ([]model.ReportJob, error)
	Cancel(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
	Cleanup(ctx context.Context) (*jobs.CleanupReport, error)
	Stats(ctx context.Context) (*jobs.Stats, error)
}

// Launcher starts generation of a created job, in process or on a queue.
type Launcher interface {
	Launch(ctx context.Context, jobID string) error
}

// LaunchFunc adapts a function to Launcher.
type LaunchFunc func(ctx context.Context, jobID string) error

// Launch implements Launcher.
func (f LaunchFunc) Launch(ctx context.Context, jobID string) error { return f(ctx, jobID) }

// Files reads the local report directory.
type Files interface {
	Get(reportID string) (*model.ReportFile, error)
	List() ([]model.ReportFile, error)
	Stats() (*filestore.Stats, error)
}

// Activities manages the activity type cache.
type Activities interface {
	Sync(ctx context.Context) (int, error)
	Refresh(ctx context.Context) (int, error)
	List(ctx context.Context) ([]model.ActivityType, error)
}

// Previewer estimates a request without generating it.
type Previewer interface {
	Preview(ctx context.Context, req model.ReportRequest) (*strategy.Preview, error)
}

// Directory is the HR API as seen by the filter pickers.
type Directory interface {
	fetch.Source
	TokenInfo(ctx context.Context) (json.RawMessage, error)
}

// Presigner issues object storage URLs for archived reports.
type Presigner interface {
	PresignReport(ctx context.Context, filename string, ttl time.Duration) (string, error)
}

// Deps groups the collaborators of a Server. Archive and Metrics are
// optional.
type Deps struct {
	Jobs       Jobs
	Launcher   Launcher
	Files      Files
	Activities Activities
	Preview    Previewer
	Directory  Directory
	Signer     *signing.Signer
	Archive    Presigner
	Metrics    http.Handler
	Logger     logrus.FieldLogger
}

// Server exposes HTTP endpoints for report generation.
type Server struct {
	cfg    *config.Config
	deps   Deps
	log    logrus.FieldLogger
	now    func() time.Time
	server *http.Server
	once   sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	return &Server{
		cfg:  cfg,
		deps: deps,
		log:  deps.Logger.WithField("component", "api"),
		now:  time.Now,
	}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:              s.cfg.Address,
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.WithField("address", s.cfg.Address).Info("api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the routed handler wrapped in middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/reports", s.handleReports)
	mux.HandleFunc("/reports/", s.handleReportRoute)
	mux.HandleFunc("/download", s.handleSignedDownload)
	mux.HandleFunc("/preview", s.handlePreview)
	mux.HandleFunc("/files", s.handleFiles)
	mux.HandleFunc("/activity-types", s.handleActivityTypes)
	mux.HandleFunc("/activity-types/", s.handleActivityTypeAction)
	mux.HandleFunc("/sesame/", s.handleSesame)
	mux.HandleFunc("/maintenance/", s.handleMaintenance)
	if s.deps.Metrics != nil {
		mux.Handle("/metrics", s.deps.Metrics)
	}
	return corsMiddleware(s.loggingMiddleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// route splits /prefix/{id}/{action} into id and action.
func route(path, prefix string) (string, string) {
	parts := strings.SplitN(strings.Trim(strings.TrimPrefix(path, prefix), "/"), "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

func allow(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	respondError(w, http.StatusMethodNotAllowed, apperror.CodeValidation, "method not allowed")
	return false
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.WithError(err).Warn("encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code apperror.Code, msg string) {
	respondJSON(w, status, errorBody{Error: msg, Code: string(code)})
}

// respondFailure maps err onto an HTTP status and a user safe message.
func (s *Server) respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	code := apperror.CodeOf(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, filestore.ErrNotFound):
		respondError(w, http.StatusNotFound, apperror.CodeNotFound, "report not found")
		return
	case errors.Is(err, jobs.ErrQueueFull):
		status, code = http.StatusServiceUnavailable, apperror.CodeLimitExceeded
	case apperror.IsValidation(err):
		status = http.StatusBadRequest
	case code == apperror.CodeLimitExceeded:
		status = http.StatusServiceUnavailable
	case code == apperror.CodeAuth, code == apperror.CodeConnection, code == apperror.CodeTimeout,
		code == apperror.CodeServer, code == apperror.CodeRateLimit:
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	msg := apperror.MessageOf(err)
	if errors.Is(err, jobs.ErrQueueFull) {
		msg = "too many reports are being generated, try again later"
	}
	respondError(w, status, code, msg)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":  r.Method,
			"path":    r.URL.Path,
			"status":  rec.status,
			"elapsed": time.Since(start),
		}).Debug("request")
	})
}
