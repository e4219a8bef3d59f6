// Package server provides the HTTP server and handlers.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bryan-buckman/aurora/internal/icon"
	"github.com/bryan-buckman/aurora/internal/logger"
	"github.com/bryan-buckman/aurora/internal/model"
	"github.com/bryan-buckman/aurora/internal/rss"
	"github.com/bryan-buckman/aurora/internal/scheduler"
)

// Store is the persistence the handlers use directly.
type Store interface {
	DatabaseType() string
	Ping(ctx context.Context) error
	CreateFeed(ctx context.Context, url, title string, category *string) (*model.Feed, error)
	ListFeeds(ctx context.Context) ([]model.Feed, error)
	ListEntries(ctx context.Context, feedID string) ([]model.Entry, error)
	RecordFeedFailure(ctx context.Context, id, status string, at time.Time) error
	ResetFeedErrors(ctx context.Context, id string) error
	GetSettings(ctx context.Context) (model.Settings, error)
	SaveSettings(ctx context.Context, s model.Settings) error
}

// FeedFetcher fetches a single feed on demand.
type FeedFetcher interface {
	FetchFeed(ctx context.Context, feedID string) (*rss.FetchResult, error)
}

// IconService resolves and maintains site icons.
type IconService interface {
	GetIcon(ctx context.Context, domain string, forceRefresh bool) (*icon.Result, error)
	ListIcons(ctx context.Context) ([]model.IconCacheRecord, error)
	Cleanup(ctx context.Context) (int64, error)
}

// TaskScheduler exposes the scheduled tasks.
type TaskScheduler interface {
	Tasks() []scheduler.ScheduledTask
	TaskHistory(id string, limit int) ([]scheduler.TaskExecutionResult, error)
	ExecuteTaskManually(ctx context.Context, id string) (scheduler.TaskExecutionResult, error)
	ToggleTask(id string, enabled bool) error
}

// Deps are the collaborators of a Server.
type Deps struct {
	Store     Store
	Fetcher   FeedFetcher
	Icons     IconService
	Scheduler TaskScheduler
	Logger    logger.Interface
	Gatherer  prometheus.Gatherer
}

// Server is the main HTTP server.
type Server struct {
	store   Store
	fetcher FeedFetcher
	icons   IconService
	sched   TaskScheduler
	log     logger.Interface

	gatherer     prometheus.Gatherer
	started      time.Time
	fetchTimeout time.Duration
	router       chi.Router
	http         *http.Server
}

// New creates a new server.
func New(d Deps) *Server {
	s := &Server{
		store:    d.Store,
		fetcher:  d.Fetcher,
		icons:    d.Icons,
		sched:    d.Scheduler,
		log:      d.Logger,
		gatherer: d.Gatherer,
		started:  time.Now(),

		fetchTimeout: defaultFetchTimeout,
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.NewRegistry()
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/{taskID}/history", s.handleTaskHistory)
		r.Post("/tasks/{taskID}/execute", s.handleExecuteTask)
		r.Post("/tasks/{taskID}/toggle", s.handleToggleTask)

		r.Get("/icons", s.handleListIcons)
		r.Post("/icons/cleanup", s.handleCleanupIcons)
		r.Get("/icons/{domain}", s.handleGetIcon)
		r.Post("/icons/{domain}/refresh", s.handleRefreshIcon)

		r.Get("/feeds", s.handleListFeeds)
		r.Post("/feeds", s.handleCreateFeed)
		r.Get("/feeds/{feedID}/entries", s.handleListEntries)
		r.Post("/feeds/{feedID}/fetch", s.handleFetchFeed)
		r.Post("/feeds/{feedID}/reset", s.handleResetFeed)

		r.Get("/settings", s.handleGetSettings)
		r.Post("/settings", s.handleSaveSettings)
	})

	s.router = r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("Server starting", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
