package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/claude/liftlog/internal/engine"
	"github.com/claude/liftlog/internal/ingest/alpha"
	"github.com/claude/liftlog/internal/models"
	"github.com/claude/liftlog/internal/resolver"
	"github.com/claude/liftlog/internal/session"
	"github.com/claude/liftlog/internal/syncer"
	"github.com/claude/liftlog/internal/vitals"
)

// Sessions owns the active session document.
type Sessions interface {
	Start(opts session.StartOptions) (models.Session, error)
	Discard() error
	Snapshot() (models.Session, bool)
}

// Pipeline applies utterances and other ordered session jobs.
type Pipeline interface {
	Process(ctx context.Context, utterance string) (engine.Result, error)
	QuickRepeat(ctx context.Context, exerciseID string) (engine.Result, error)
	Finish(ctx context.Context) (models.Session, error)
}

// Sync reports and drives remote synchronization.
type Sync interface {
	Status(ctx context.Context) (syncer.Status, error)
	Drain(ctx context.Context) (int, error)
}

// Catalog resolves exercise names.
type Catalog interface {
	Resolve(name string) (resolver.Match, error)
	Refresh(ctx context.Context, force bool) error
	Status() resolver.Status
}

// History serves past sessions per exercise.
type History interface {
	Exercise(exerciseID string) models.ExerciseHistory
	Sync(ctx context.Context) error
	SyncedAt() time.Time
}

// Importer merges an exported training log into history.
type Importer interface {
	Import(ctx context.Context, r io.Reader) (alpha.Result, error)
}

// Vitals collects health samples for the active session.
type Vitals interface {
	Add(s vitals.Sample) bool
	Summary() vitals.Summary
}

// Deps are the services behind the HTTP API. Importer, Vitals and MCP may
// be nil; their routes are then not mounted.
type Deps struct {
	Sessions Sessions
	Pipeline Pipeline
	Sync     Sync
	Catalog  Catalog
	History  History
	Importer Importer
	Vitals   Vitals
	MCP      http.Handler
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	deps   Deps
	events *Events
	log    *slog.Logger
	apiKey string
	router chi.Router
}

// New creates a new Server with all routes configured. events may be nil.
func New(deps Deps, events *Events, apiKey string, log *slog.Logger) *Server {
	if events == nil {
		events = NewEvents(log)
	}
	s := &Server{
		deps:   deps,
		events: events,
		log:    log,
		apiKey: apiKey,
		router: chi.NewRouter(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(RequestLogging(s.log))
	s.router.Use(CORS)

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(APIKeyAuth(s.apiKey))

		r.Get("/session", s.handleGetSession)
		r.Post("/session", s.handleStartSession)
		r.Delete("/session", s.handleDiscardSession)
		r.Post("/session/finish", s.handleFinishSession)
		r.Get("/session/events", s.handleSessionEvents)

		r.Post("/utterances", s.handleUtterance)
		r.Post("/quick-repeat", s.handleQuickRepeat)

		r.Get("/sync/status", s.handleSyncStatus)
		r.Post("/sync/drain", s.handleSyncDrain)

		r.Get("/catalog", s.handleCatalogStatus)
		r.Post("/catalog/refresh", s.handleCatalogRefresh)
		r.Get("/exercises/resolve", s.handleResolve)
		r.Get("/exercises/{id}/history", s.handleExerciseHistory)
		r.Post("/history/sync", s.handleHistorySync)

		if s.deps.Importer != nil {
			r.Post("/import/alpha", s.handleAlphaImport)
		}
		if s.deps.Vitals != nil {
			r.Post("/vitals", s.handleHAEVitals)
			r.Post("/vitals/samples", s.handleVitalsSamples)
			r.Get("/vitals/summary", s.handleVitalsSummary)
		}
	})

	if s.deps.MCP != nil {
		s.router.With(APIKeyAuth(s.apiKey)).Handle("/mcp", s.deps.MCP)
	}
}
