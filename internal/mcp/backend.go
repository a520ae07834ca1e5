package mcp

import (
	"context"
	"fmt"

	"github.com/claude/liftlog/internal/engine"
	"github.com/claude/liftlog/internal/models"
	"github.com/claude/liftlog/internal/resolver"
	"github.com/claude/liftlog/internal/session"
	"github.com/claude/liftlog/internal/syncer"
)

// Backend abstracts the session engine for MCP tools. Local (in-process)
// and HTTPClient (remote via REST API) satisfy this interface.
type Backend interface {
	Session(ctx context.Context) (models.Session, bool, error)
	StartSession(ctx context.Context, title string, exercises []string) (models.Session, error)
	Utterance(ctx context.Context, text string) (engine.Result, error)
	QuickRepeat(ctx context.Context, exerciseID string) (engine.Result, error)
	FinishSession(ctx context.Context) (models.Session, error)
	DiscardSession(ctx context.Context) error
	SyncStatus(ctx context.Context) (syncer.Status, error)
	ResolveExercise(ctx context.Context, name string) (resolver.Match, error)
	ExerciseHistory(ctx context.Context, exerciseID string) (models.ExerciseHistory, error)
}

// Sessions owns the active session document.
type Sessions interface {
	Start(opts session.StartOptions) (models.Session, error)
	Discard() error
	Snapshot() (models.Session, bool)
}

// Pipeline applies ordered session jobs.
type Pipeline interface {
	Process(ctx context.Context, utterance string) (engine.Result, error)
	QuickRepeat(ctx context.Context, exerciseID string) (engine.Result, error)
	Finish(ctx context.Context) (models.Session, error)
}

// Local serves MCP tools from in-process services.
type Local struct {
	Sessions Sessions
	Pipeline Pipeline
	Sync     interface {
		Status(ctx context.Context) (syncer.Status, error)
	}
	Catalog interface {
		Resolve(name string) (resolver.Match, error)
	}
	History interface {
		Exercise(exerciseID string) models.ExerciseHistory
	}
}

// Compile-time check: Local satisfies Backend.
var _ Backend = (*Local)(nil)

func (l *Local) Session(ctx context.Context) (models.Session, bool, error) {
	doc, ok := l.Sessions.Snapshot()
	return doc, ok, nil
}

// StartSession resolves each exercise name against the catalog and starts a
// session with them as its routine.
func (l *Local) StartSession(ctx context.Context, title string, exercises []string) (models.Session, error) {
	routine := make([]session.RoutineExercise, 0, len(exercises))
	for _, name := range exercises {
		m, err := l.Catalog.Resolve(name)
		if err != nil {
			return models.Session{}, fmt.Errorf("resolving %q: %w", name, err)
		}
		routine = append(routine, session.RoutineExercise{Exercise: session.Exercise{ID: m.ID, Name: m.Title}})
	}
	return l.Sessions.Start(session.StartOptions{Title: title, Routine: routine})
}

func (l *Local) Utterance(ctx context.Context, text string) (engine.Result, error) {
	return l.Pipeline.Process(ctx, text)
}

func (l *Local) QuickRepeat(ctx context.Context, exerciseID string) (engine.Result, error) {
	return l.Pipeline.QuickRepeat(ctx, exerciseID)
}

func (l *Local) FinishSession(ctx context.Context) (models.Session, error) {
	return l.Pipeline.Finish(ctx)
}

func (l *Local) DiscardSession(ctx context.Context) error {
	return l.Sessions.Discard()
}

func (l *Local) SyncStatus(ctx context.Context) (syncer.Status, error) {
	return l.Sync.Status(ctx)
}

func (l *Local) ResolveExercise(ctx context.Context, name string) (resolver.Match, error) {
	return l.Catalog.Resolve(name)
}

func (l *Local) ExerciseHistory(ctx context.Context, exerciseID string) (models.ExerciseHistory, error) {
	return l.History.Exercise(exerciseID), nil
}
