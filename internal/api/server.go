package api

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/contentflow/wfm/internal/artifact"
	"github.com/contentflow/wfm/internal/model"
	"github.com/contentflow/wfm/internal/service"
)

// Jobs is the part of the admission controller the API uses.
type Jobs interface {
	Submit(kind model.Kind, params model.Params, batchID string) string
	Get(id string) (model.JobView, error)
	List(status model.Status) []model.JobView
	ActiveCount() int
	QueuedCount() int
	MaxConcurrent() int
}

// Feeds serves live job logs.
type Feeds interface {
	Tail(ctx context.Context, id string) (iter.Seq[service.Message], error)
}

var (
	_ Jobs  = (*service.Controller)(nil)
	_ Feeds = (*service.Publisher)(nil)
)

type Handler struct {
	jobs     Jobs
	feeds    Feeds
	store    artifact.Store
	validate *validator.Validate
	version  string
	now      func() time.Time
}

func New(jobs Jobs, feeds Feeds, store artifact.Store, version string) *Handler {
	return &Handler{
		jobs:     jobs,
		feeds:    feeds,
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		version:  version,
		now:      time.Now,
	}
}

// Routes returns the router serving all endpoints.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/brand-data/generate", h.GenerateBrandData)
		r.Post("/briefs/generate", h.GenerateBrief)
		r.Post("/briefs/generate/batch", h.GenerateBriefBatch)
		r.Post("/drafts/generate", h.GenerateDraft)
		r.Post("/drafts/generate/batch", h.GenerateDraftBatch)

		r.Get("/jobs", h.ListJobs)
		r.Get("/jobs/{id}", h.GetJob)
		r.Get("/jobs/{id}/logs", h.StreamLogs)

		for _, c := range collections {
			r.Route("/"+c.path, func(r chi.Router) {
				r.Get("/", h.listFiles(c))
				r.Post("/upload", h.uploadFile(c))
				r.Put("/save", h.saveFile(c))
				r.Get("/{filename}", h.getFile(c))
				r.Delete("/{filename}", h.deleteFile(c))
			})
		}
	})
	return r
}

// requestLogger logs every finished request with slog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			slog.DebugContext(r.Context(), "request served",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr)
		}()
		next.ServeHTTP(ww, r)
	})
}

type RootResponse struct {
	Message string `json:"message"`
	Version string `json:"version"`
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, RootResponse{Message: "Content Workflow Manager API", Version: h.version})
}

type HealthResponse struct {
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
	ActiveJobs        int       `json:"active_jobs"`
	QueuedJobs        int       `json:"queued_jobs"`
	MaxConcurrentJobs int       `json:"max_concurrent_jobs"`
	Version           string    `json:"version"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, HealthResponse{
		Status:            "healthy",
		Timestamp:         h.now().UTC(),
		ActiveJobs:        h.jobs.ActiveCount(),
		QueuedJobs:        h.jobs.QueuedCount(),
		MaxConcurrentJobs: h.jobs.MaxConcurrent(),
		Version:           h.version,
	})
}
