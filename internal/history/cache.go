package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/claude/liftlog/internal/models"
	"github.com/claude/liftlog/internal/storage"
)

// trendThreshold is the relative change in average weight that counts as
// progress or regression.
const trendThreshold = 0.025

// Source reads finished workouts from the remote platform.
type Source interface {
	// RecentSessions returns every exercise session of workouts that started
	// at or after since.
	RecentSessions(ctx context.Context, since time.Time) ([]models.HistorySession, error)
	// HistoryChanges returns workouts changed remotely after since.
	HistoryChanges(ctx context.Context, since time.Time) (models.HistoryChanges, error)
}

// Store persists the cache.
type Store interface {
	LoadHistory(ctx context.Context, since time.Time) ([]models.HistorySession, error)
	ReplaceHistory(ctx context.Context, sessions []models.HistorySession) error
	UpsertHistoryWorkout(ctx context.Context, sessions []models.HistorySession) error
	DeleteHistoryWorkout(ctx context.Context, workoutID string) error
	PruneHistory(ctx context.Context, before time.Time) (int64, error)
	GetSyncTime(ctx context.Context, key string) (time.Time, error)
	SetSyncTime(ctx context.Context, key string, t time.Time) error
}

// Cache is a read-only local mirror of the user's recent sessions, keyed by
// exercise identifier.
type Cache struct {
	source      Source
	store       Store
	window      time.Duration
	perExercise int
	log         *slog.Logger
	now         func() time.Time

	mu         sync.RWMutex
	byExercise map[string][]models.HistorySession
	syncedAt   time.Time

	syncMu sync.Mutex
}

// New creates a Cache holding at most perExercise sessions for each exercise
// from the last window of time.
func New(source Source, store Store, window time.Duration, perExercise int, log *slog.Logger) *Cache {
	return &Cache{
		source:      source,
		store:       store,
		window:      window,
		perExercise: perExercise,
		log:         log,
		now:         time.Now,
		byExercise:  map[string][]models.HistorySession{},
	}
}

// Load fills the in-memory index from the store.
func (c *Cache) Load(ctx context.Context) error {
	syncedAt, err := c.store.GetSyncTime(ctx, storage.KeyHistorySyncedAt)
	if err != nil {
		return err
	}
	if err := c.reload(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.syncedAt = syncedAt
	c.mu.Unlock()
	return nil
}

// Refresh replaces the cache with a full fetch of the rolling window.
func (c *Cache) Refresh(ctx context.Context) error {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *Cache) refreshLocked(ctx context.Context) error {
	started := c.now()
	sessions, err := c.source.RecentSessions(ctx, started.Add(-c.window))
	if err != nil {
		return fmt.Errorf("fetching history: %w", err)
	}
	if err := c.store.ReplaceHistory(ctx, sessions); err != nil {
		return err
	}
	if err := c.markSynced(ctx, started); err != nil {
		return err
	}
	c.log.Info("history refreshed", "sessions", len(sessions))
	return c.reload(ctx)
}

// Sync applies remote changes since the last sync. Without a previous sync it
// falls back to a full Refresh.
func (c *Cache) Sync(ctx context.Context) error {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	c.mu.RLock()
	since := c.syncedAt
	c.mu.RUnlock()
	if since.IsZero() {
		return c.refreshLocked(ctx)
	}

	started := c.now()
	changes, err := c.source.HistoryChanges(ctx, since)
	if err != nil {
		return fmt.Errorf("fetching history changes: %w", err)
	}
	if len(changes.Updated) > 0 {
		if err := c.store.UpsertHistoryWorkout(ctx, changes.Updated); err != nil {
			return err
		}
	}
	for _, id := range changes.Deleted {
		if err := c.store.DeleteHistoryWorkout(ctx, id); err != nil {
			return err
		}
	}
	pruned, err := c.store.PruneHistory(ctx, started.Add(-c.window))
	if err != nil {
		return err
	}
	if err := c.markSynced(ctx, started); err != nil {
		return err
	}
	c.log.Info("history synced",
		"updated", len(changes.Updated),
		"deleted", len(changes.Deleted),
		"pruned_sets", pruned,
	)
	return c.reload(ctx)
}

// Merge adds sessions from an offline import. Workouts already cached are
// replaced.
func (c *Cache) Merge(ctx context.Context, sessions []models.HistorySession) error {
	if len(sessions) == 0 {
		return nil
	}
	if err := c.store.UpsertHistoryWorkout(ctx, sessions); err != nil {
		return err
	}
	return c.reload(ctx)
}

// SyncedAt returns the time of the last successful remote sync.
func (c *Cache) SyncedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.syncedAt
}

func (c *Cache) markSynced(ctx context.Context, at time.Time) error {
	if err := c.store.SetSyncTime(ctx, storage.KeyHistorySyncedAt, at); err != nil {
		return err
	}
	c.mu.Lock()
	c.syncedAt = at
	c.mu.Unlock()
	return nil
}

func (c *Cache) reload(ctx context.Context) error {
	sessions, err := c.store.LoadHistory(ctx, c.now().Add(-c.window))
	if err != nil {
		return err
	}
	// Sessions arrive newest first.
	byExercise := make(map[string][]models.HistorySession)
	for _, s := range sessions {
		if len(s.Sets) == 0 {
			continue
		}
		list := byExercise[s.ExerciseID]
		if len(list) >= c.perExercise {
			continue
		}
		byExercise[s.ExerciseID] = append(list, s)
	}

	c.mu.Lock()
	c.byExercise = byExercise
	c.mu.Unlock()
	return nil
}

// Sessions returns the cached sessions for an exercise, newest first.
func (c *Cache) Sessions(exerciseID string) []models.HistorySession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := c.byExercise[exerciseID]
	out := make([]models.HistorySession, len(list))
	for i, s := range list {
		out[i] = s
		out[i].Sets = cloneSets(s.Sets)
	}
	return out
}

// Exercise returns the sessions and trend of one exercise. Sessions is
// never nil.
func (c *Cache) Exercise(exerciseID string) models.ExerciseHistory {
	out := models.ExerciseHistory{ExerciseID: exerciseID, Sessions: c.Sessions(exerciseID)}
	if tr, ok := c.Trend(exerciseID); ok {
		out.Trend = &tr
	}
	if at := c.SyncedAt(); !at.IsZero() {
		out.SyncedAt = &at
	}
	return out
}

// LastSets returns the sets of the most recent session with the exercise.
func (c *Cache) LastSets(exerciseID string) ([]models.CompletedSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := c.byExercise[exerciseID]
	if len(list) == 0 {
		return nil, false
	}
	return cloneSets(list[0].Sets), true
}

// MatchingSet returns the set of the most recent session that matches the
// 1-based ordinal. When the current session has gone past the recorded sets,
// the last recorded set is returned.
func (c *Cache) MatchingSet(exerciseID string, ordinal int) (models.CompletedSet, bool) {
	sets, ok := c.LastSets(exerciseID)
	if !ok {
		return models.CompletedSet{}, false
	}
	return pickOrdinal(sets, ordinal), true
}

func pickOrdinal(sets []models.CompletedSet, ordinal int) models.CompletedSet {
	if ordinal < 1 {
		ordinal = 1
	}
	if ordinal > len(sets) {
		return sets[len(sets)-1]
	}
	return sets[ordinal-1]
}

// Trend summarizes the cached sessions for an exercise. Warm-up sets are
// ignored. The direction compares the newest session's average weight with
// the average of the older sessions.
func (c *Cache) Trend(exerciseID string) (models.Trend, bool) {
	c.mu.RLock()
	list := c.byExercise[exerciseID]
	c.mu.RUnlock()
	if len(list) == 0 {
		return models.Trend{}, false
	}
	return computeTrend(list), true
}

func computeTrend(sessions []models.HistorySession) models.Trend {
	var weight, reps, rpe mean
	for _, s := range sessions {
		for _, set := range s.Sets {
			if set.Type == models.SetWarmup {
				continue
			}
			weight.addPtr(set.WeightKg)
			if set.Reps != nil {
				reps.add(float64(*set.Reps))
			}
			rpe.addPtr(set.RPE)
		}
	}

	t := models.Trend{
		Direction:     models.TrendStable,
		AverageWeight: weight.value(),
		AverageReps:   reps.value(),
		AverageRPE:    rpe.value(),
		Sessions:      len(sessions),
	}

	latest := sessionWeight(sessions[0])
	var older mean
	for _, s := range sessions[1:] {
		older.addPtr(sessionWeight(s))
	}
	if latest == nil || older.n == 0 || older.sum == 0 {
		return t
	}
	base := *older.value()
	change := (*latest - base) / base
	switch {
	case change > trendThreshold:
		t.Direction = models.TrendUp
	case change < -trendThreshold:
		t.Direction = models.TrendDown
	}
	return t
}

func sessionWeight(s models.HistorySession) *float64 {
	var m mean
	for _, set := range s.Sets {
		if set.Type != models.SetWarmup {
			m.addPtr(set.WeightKg)
		}
	}
	return m.value()
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v float64) {
	m.sum += v
	m.n++
}

func (m *mean) addPtr(v *float64) {
	if v != nil {
		m.add(*v)
	}
}

func (m *mean) value() *float64 {
	if m.n == 0 {
		return nil
	}
	v := m.sum / float64(m.n)
	return &v
}

func cloneSets(sets []models.CompletedSet) []models.CompletedSet {
	out := make([]models.CompletedSet, len(sets))
	for i, s := range sets {
		out[i] = s.Clone()
	}
	return out
}
