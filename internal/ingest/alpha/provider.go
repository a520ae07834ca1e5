package alpha

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/claude/liftlog/internal/models"
	"github.com/claude/liftlog/internal/resolver"
)

// Resolver maps exported exercise names to catalog identifiers.
type Resolver interface {
	Resolve(name string) (resolver.Match, error)
}

// HistoryMerger stores imported sessions.
type HistoryMerger interface {
	Merge(ctx context.Context, sessions []models.HistorySession) error
}

// Result counts what an import contributed.
type Result struct {
	Sessions   int      `json:"sessions"`
	Exercises  int      `json:"exercises"`
	Sets       int      `json:"sets"`
	Unresolved []string `json:"unresolved,omitempty"`
}

// Provider imports Alpha Progression exports into the history cache.
type Provider struct {
	resolver Resolver
	history  HistoryMerger
	loc      *time.Location
	log      *slog.Logger
}

// NewProvider creates a Provider. Export times are read in loc; nil means
// local time.
func NewProvider(res Resolver, history HistoryMerger, loc *time.Location, log *slog.Logger) *Provider {
	if loc == nil {
		loc = time.Local
	}
	return &Provider{resolver: res, history: history, loc: loc, log: log}
}

// Import parses r and merges every exercise that resolves to a catalog
// entry. Re-importing the same export replaces the earlier import.
func (p *Provider) Import(ctx context.Context, r io.Reader) (Result, error) {
	sessions, err := Parse(r)
	if err != nil {
		return Result{}, fmt.Errorf("parsing CSV: %w", err)
	}

	history, res := p.Convert(sessions)
	if err := p.history.Merge(ctx, history); err != nil {
		return res, fmt.Errorf("merging history: %w", err)
	}
	p.log.Info("alpha export imported",
		"sessions", res.Sessions,
		"exercises", res.Exercises,
		"sets", res.Sets,
		"unresolved", len(res.Unresolved),
	)
	return res, nil
}

// Convert maps parsed sessions to history records. RIR becomes
// RPE = 10 - RIR and warm-ups are typed warmup.
func (p *Provider) Convert(sessions []Session) ([]models.HistorySession, Result) {
	var (
		out        []models.HistorySession
		res        Result
		unresolved = map[string]bool{}
	)
	for _, s := range sessions {
		start := time.Date(s.Date.Year(), s.Date.Month(), s.Date.Day(), s.Date.Hour(), s.Date.Minute(), 0, 0, p.loc)
		workoutID := "alpha:" + start.UTC().Format(time.RFC3339)
		imported := false

		for i, ex := range s.Exercises {
			id, ok := p.resolve(ex)
			if !ok {
				unresolved[ex.Name] = true
				continue
			}
			hs := models.HistorySession{
				WorkoutID:     workoutID,
				ExerciseID:    id,
				ExerciseIndex: i,
				Title:         s.Name,
				StartTime:     start,
			}
			for _, set := range ex.Sets {
				hs.Sets = append(hs.Sets, convertSet(set, start))
			}
			if len(hs.Sets) == 0 {
				continue
			}
			out = append(out, hs)
			imported = true
			res.Exercises++
			res.Sets += len(hs.Sets)
		}
		if imported {
			res.Sessions++
		}
	}
	for name := range unresolved {
		res.Unresolved = append(res.Unresolved, name)
	}
	sort.Strings(res.Unresolved)
	return out, res
}

// resolve tries the name qualified by equipment first, matching catalog
// titles such as "Bench Press (Barbell)".
func (p *Provider) resolve(ex Exercise) (string, bool) {
	if ex.Equipment != "" {
		if m, err := p.resolver.Resolve(ex.Name + " (" + ex.Equipment + ")"); err == nil && m.Exact {
			return m.ID, true
		}
	}
	m, err := p.resolver.Resolve(ex.Name)
	if err != nil {
		return "", false
	}
	return m.ID, true
}

func convertSet(s Set, at time.Time) models.CompletedSet {
	out := models.CompletedSet{
		WeightKg:  models.Ptr(s.WeightKg),
		Reps:      models.Ptr(s.Reps),
		Type:      models.SetNormal,
		Timestamp: at,
	}
	if s.IsWarmup {
		out.Type = models.SetWarmup
	}
	if s.RIR != nil {
		out.RPE = models.Ptr(models.RPEFromRIR(*s.RIR))
	}
	return out
}
