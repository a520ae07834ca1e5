package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/claude/liftlog/internal/classifier"
	"github.com/claude/liftlog/internal/engine"
	"github.com/claude/liftlog/internal/resolver"
	"github.com/claude/liftlog/internal/session"
)

// startRequest starts a session. Routine exercises without an id are
// resolved by name.
type startRequest struct {
	Title   string                    `json:"title"`
	Routine []session.RoutineExercise `json:"routine"`
}

type utteranceRequest struct {
	Text string `json:"text"`
}

type quickRepeatRequest struct {
	ExerciseID string `json:"exercise_id"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.deps.Sessions.Snapshot()
	if !ok {
		writeError(w, session.ErrNoActiveSession)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
			return
		}
	}
	for i := range req.Routine {
		ex := &req.Routine[i]
		if ex.ID != "" {
			continue
		}
		m, err := s.deps.Catalog.Resolve(ex.Name)
		if err != nil {
			writeError(w, err)
			return
		}
		ex.ID = m.ID
		if ex.Name == "" {
			ex.Name = m.Title
		}
	}

	doc, err := s.deps.Sessions.Start(session.StartOptions{Title: req.Title, Routine: req.Routine})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleFinishSession(w http.ResponseWriter, r *http.Request) {
	doc, err := s.deps.Pipeline.Finish(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDiscardSession(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sessions.Discard(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUtterance(w http.ResponseWriter, r *http.Request) {
	var req utteranceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}

	res, err := s.deps.Pipeline.Process(r.Context(), req.Text)
	if err != nil {
		writeResultError(w, res, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleQuickRepeat(w http.ResponseWriter, r *http.Request) {
	var req quickRepeatRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
			return
		}
	}
	res, err := s.deps.Pipeline.QuickRepeat(r.Context(), req.ExerciseID)
	if err != nil {
		writeResultError(w, res, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Sync.Status(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSyncDrain(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Sync.Drain(r.Context())
	if err != nil {
		s.log.Warn("manual drain stopped", "pushed", n, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"pushed": n, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pushed": n})
}

func (s *Server) handleCatalogStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Catalog.Status())
}

func (s *Server) handleCatalogRefresh(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") != "false"
	if err := s.deps.Catalog.Refresh(r.Context(), force); err != nil {
		s.log.Error("catalog refresh failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Catalog.Status())
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name parameter required"})
		return
	}
	m, err := s.deps.Catalog.Resolve(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleExerciseHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.History.Exercise(chi.URLParam(r, "id")))
}

func (s *Server) handleHistorySync(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.History.Sync(r.Context()); err != nil {
		s.log.Error("history sync failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]time.Time{"synced_at": s.deps.History.SyncedAt()})
}

func (s *Server) handleAlphaImport(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Importer.Import(r.Context(), r.Body)
	if err != nil {
		s.log.Error("alpha import error", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNoActiveSession),
		errors.Is(err, session.ErrSessionActive),
		errors.Is(err, session.ErrNothingToUndo):
		return http.StatusConflict
	case errors.Is(err, resolver.ErrNotFound),
		errors.Is(err, session.ErrSetNotFound),
		errors.Is(err, session.ErrExerciseNotFound),
		errors.Is(err, engine.ErrNoHistory):
		return http.StatusNotFound
	case errors.Is(err, classifier.ErrClassification),
		errors.Is(err, classifier.ErrUnresolvedReference),
		errors.Is(err, session.ErrInvalidSet):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// writeResultError reports a failed job together with whatever the
// classifier produced before the failure.
func writeResultError(w http.ResponseWriter, res engine.Result, err error) {
	body := map[string]any{"error": err.Error()}
	if res.Command != nil {
		body["command"] = res.Command
	}
	var ce *classifier.Error
	if errors.As(err, &ce) && ce.Raw != "" {
		body["raw"] = ce.Raw
	}
	writeJSON(w, statusFor(err), body)
}
