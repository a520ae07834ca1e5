package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/claude/liftlog/internal/models"
)

// ErrNotFound is returned when no catalog entry is close enough to a name.
var ErrNotFound = errors.New("exercise not found")

// CatalogSource fetches the complete remote exercise catalog.
type CatalogSource interface {
	ExerciseTemplates(ctx context.Context) ([]models.CatalogExercise, error)
}

// CatalogStore persists the catalog between runs.
type CatalogStore interface {
	LoadCatalog(ctx context.Context) ([]models.CatalogExercise, time.Time, error)
	ReplaceCatalog(ctx context.Context, exercises []models.CatalogExercise, fetchedAt time.Time) error
}

// Match is the result of resolving a name.
type Match struct {
	ID       string `json:"exercise_id"`
	Title    string `json:"title"`
	Distance int    `json:"distance"`
	Exact    bool   `json:"exact"`
}

// Status describes the cached catalog.
type Status struct {
	Exercises  int       `json:"exercises"`
	FetchedAt  time.Time `json:"fetched_at"`
	Stale      bool      `json:"stale"`
	Refreshing bool      `json:"refreshing"`
}

type entry struct {
	key     string
	keyLen  int
	id      string
	title   string
	primary bool
}

type index struct {
	byKey   map[string]entry
	entries []entry
	byID    map[string]models.CatalogExercise
}

// Resolver maps spoken or typed exercise names to catalog identifiers.
type Resolver struct {
	source CatalogSource
	store  CatalogStore
	maxAge time.Duration
	log    *slog.Logger
	now    func() time.Time

	mu         sync.RWMutex
	idx        *index
	fetchedAt  time.Time
	refreshing bool

	refreshMu sync.Mutex
	wg        sync.WaitGroup
}

// New creates a Resolver. store may be nil, in which case the catalog lives
// only in memory.
func New(source CatalogSource, store CatalogStore, maxAge time.Duration, log *slog.Logger) *Resolver {
	return &Resolver{
		source: source,
		store:  store,
		maxAge: maxAge,
		log:    log,
		now:    time.Now,
		idx:    buildIndex(nil),
	}
}

// Start loads the persisted catalog and, when it is missing or older than
// the configured max age, refreshes it in the background. Start never waits
// for the network.
func (r *Resolver) Start(ctx context.Context) error {
	if r.store != nil {
		exercises, fetchedAt, err := r.store.LoadCatalog(ctx)
		if err != nil {
			return fmt.Errorf("loading catalog: %w", err)
		}
		r.install(exercises, fetchedAt)
		r.log.Info("catalog loaded", "exercises", len(exercises), "fetched_at", fetchedAt)
	}

	if r.source != nil && r.isStale() {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.Refresh(ctx, false); err != nil && ctx.Err() == nil {
				r.log.Warn("background catalog refresh failed", "error", err)
			}
		}()
	}
	return nil
}

// Wait blocks until background refreshes started by Start have returned.
func (r *Resolver) Wait() {
	r.wg.Wait()
}

// Refresh fetches the catalog from the source. Unless force is set, a catalog
// younger than the max age is kept.
func (r *Resolver) Refresh(ctx context.Context, force bool) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	if !force && !r.isStale() {
		return nil
	}
	if r.source == nil {
		return errors.New("no catalog source configured")
	}

	r.setRefreshing(true)
	defer r.setRefreshing(false)

	exercises, err := r.source.ExerciseTemplates(ctx)
	if err != nil {
		return fmt.Errorf("fetching catalog: %w", err)
	}
	now := r.now()
	if r.store != nil {
		if err := r.store.ReplaceCatalog(ctx, exercises, now); err != nil {
			return fmt.Errorf("saving catalog: %w", err)
		}
	}
	r.install(exercises, now)
	r.log.Info("catalog refreshed", "exercises", len(exercises))
	return nil
}

// Load replaces the in-memory catalog without touching the store.
func (r *Resolver) Load(exercises []models.CatalogExercise, fetchedAt time.Time) {
	r.install(exercises, fetchedAt)
}

// Resolve returns the catalog entry matching name. An exact match on the
// normalized name wins; otherwise the closest entry within the edit-distance
// tolerance is returned. Equidistant entries are ordered by shorter name,
// then lexically.
func (r *Resolver) Resolve(name string) (Match, error) {
	key := Normalize(name)
	if key == "" {
		return Match{}, fmt.Errorf("%w: empty name", ErrNotFound)
	}

	r.mu.RLock()
	idx := r.idx
	r.mu.RUnlock()

	if e, ok := idx.byKey[key]; ok {
		return Match{ID: e.id, Title: e.title, Exact: true}, nil
	}

	limit := maxDistance(utf8.RuneCountInString(key))
	var (
		best  entry
		bestD = -1
	)
	for _, e := range idx.entries {
		d := levenshtein.ComputeDistance(key, e.key)
		if d > limit {
			continue
		}
		if bestD < 0 || better(d, e, bestD, best) {
			best, bestD = e, d
		}
	}
	if bestD < 0 {
		return Match{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return Match{ID: best.id, Title: best.title, Distance: bestD}, nil
}

func better(d int, e entry, bestD int, best entry) bool {
	if d != bestD {
		return d < bestD
	}
	if e.keyLen != best.keyLen {
		return e.keyLen < best.keyLen
	}
	if e.key != best.key {
		return e.key < best.key
	}
	if e.primary != best.primary {
		return e.primary
	}
	return e.id < best.id
}

// Lookup returns the catalog entry with the given identifier.
func (r *Resolver) Lookup(id string) (models.CatalogExercise, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.idx.byID[id]
	return ex, ok
}

// Status reports the catalog size and freshness.
func (r *Resolver) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Status{
		Exercises:  len(r.idx.byID),
		FetchedAt:  r.fetchedAt,
		Stale:      r.staleLocked(),
		Refreshing: r.refreshing,
	}
}

func (r *Resolver) install(exercises []models.CatalogExercise, fetchedAt time.Time) {
	idx := buildIndex(exercises)
	r.mu.Lock()
	r.idx = idx
	r.fetchedAt = fetchedAt
	r.mu.Unlock()
}

func (r *Resolver) setRefreshing(v bool) {
	r.mu.Lock()
	r.refreshing = v
	r.mu.Unlock()
}

func (r *Resolver) isStale() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.staleLocked()
}

func (r *Resolver) staleLocked() bool {
	if r.fetchedAt.IsZero() || len(r.idx.byID) == 0 {
		return true
	}
	return r.now().Sub(r.fetchedAt) > r.maxAge
}

func buildIndex(exercises []models.CatalogExercise) *index {
	idx := &index{
		byKey: make(map[string]entry, len(exercises)*2),
		byID:  make(map[string]models.CatalogExercise, len(exercises)),
	}

	add := func(key string, ex models.CatalogExercise, primary bool) {
		if key == "" {
			return
		}
		e := entry{key: key, keyLen: utf8.RuneCountInString(key), id: ex.ID, title: ex.Title, primary: primary}
		idx.entries = append(idx.entries, e)
		if cur, ok := idx.byKey[key]; ok {
			// Primary titles beat aliases; otherwise the first ID in sort order wins.
			if cur.primary && !primary {
				return
			}
			if cur.primary == primary && cur.id < ex.ID {
				return
			}
		}
		idx.byKey[key] = e
	}

	sorted := make([]models.CatalogExercise, len(exercises))
	copy(sorted, exercises)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, ex := range sorted {
		idx.byID[ex.ID] = ex
		add(Normalize(ex.Title), ex, true)
	}
	for _, ex := range sorted {
		if alias := stripQualifier(ex.Title); alias != "" {
			add(Normalize(alias), ex, false)
		}
	}
	return idx
}
