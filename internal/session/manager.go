package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/claude/liftlog/internal/models"
)

// maxUndo bounds the undo stack.
const maxUndo = 50

// Observer is notified of every change to the active session. Calls are made
// while the manager's lock is held and arrive in mutation order, so
// implementations must not block or call back into the Manager.
type Observer interface {
	SessionStarted(doc models.Session)
	SessionChanged(doc models.Session)
	SessionEnded(doc models.Session)
	SessionDiscarded(id uuid.UUID)
	SessionRestored(doc models.Session)
}

// Manager owns the single active Session Document. All mutations are
// serialized through it; each is applied to a copy and committed only when it
// succeeds.
type Manager struct {
	observer Observer
	log      *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	doc  *models.Session
	undo []models.Session
}

// NewManager creates a Manager. observer may be nil.
func NewManager(observer Observer, log *slog.Logger) *Manager {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Manager{observer: observer, log: log, now: time.Now}
}

// StartOptions describes a new session.
type StartOptions struct {
	Title   string            `json:"title"`
	Routine []RoutineExercise `json:"routine,omitempty"`
}

// Start creates the active session.
func (m *Manager) Start(opts StartOptions) (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.doc != nil {
		return models.Session{}, ErrSessionActive
	}
	title := opts.Title
	if title == "" {
		title = defaultTitle(m.now())
	}
	doc := newDocument(uuid.New(), title, m.now(), opts.Routine)
	doc.Version = 1
	m.doc = &doc
	m.undo = nil

	m.log.Info("session started", "session_id", doc.ID, "title", doc.Title, "exercises", len(doc.Exercises))
	m.observer.SessionStarted(doc.Clone())
	return doc.Clone(), nil
}

// Restore installs a previously persisted document as the active session.
func (m *Manager) Restore(doc models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.doc != nil {
		return ErrSessionActive
	}
	d := doc.Clone()
	if d.NextSeq <= maxSeq(&d) {
		d.NextSeq = maxSeq(&d) + 1
	}
	m.doc = &d
	m.undo = nil

	m.log.Info("session restored", "session_id", d.ID, "version", d.Version, "sets", d.TotalCompletedSets())
	m.observer.SessionRestored(d.Clone())
	return nil
}

// Finish ends the active session. description, when non-empty, replaces the
// session description.
func (m *Manager) Finish(description string) (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.doc == nil {
		return models.Session{}, ErrNoActiveSession
	}
	doc := m.doc.Clone()
	end := m.now()
	doc.EndTime = &end
	if description != "" {
		doc.Description = description
	}
	doc.Version++
	m.doc = nil
	m.undo = nil

	m.log.Info("session finished", "session_id", doc.ID, "sets", doc.TotalCompletedSets())
	m.observer.SessionEnded(doc.Clone())
	return doc, nil
}

// Discard drops the active session without finishing it.
func (m *Manager) Discard() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.doc == nil {
		return ErrNoActiveSession
	}
	id := m.doc.ID
	m.doc = nil
	m.undo = nil

	m.log.Info("session discarded", "session_id", id)
	m.observer.SessionDiscarded(id)
	return nil
}

// Snapshot returns a copy of the active session.
func (m *Manager) Snapshot() (models.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc == nil {
		return models.Session{}, false
	}
	return m.doc.Clone(), true
}

// Active reports whether a session is in progress.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc != nil
}

// View runs fn with a read-only copy of the active session while holding the
// lock, so no mutation can land between the read and fn returning.
func (m *Manager) View(fn func(doc models.Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc == nil {
		return ErrNoActiveSession
	}
	return fn(m.doc.Clone())
}

// LogSet appends a completed set to ex. An empty ex.ID logs to the current
// exercise. An exercise not yet in the session is inserted after the current
// one. Logging the last planned set completes the exercise and advances to
// the next open one.
func (m *Manager) LogSet(ex Exercise, in SetInput) (models.Session, error) {
	return m.mutate("log_set", func(doc *models.Session) error {
		set, err := validateSet(in)
		if err != nil {
			return err
		}

		var idx int
		switch {
		case ex.ID == "":
			if _, ok := doc.Current(); !ok {
				return fmt.Errorf("%w: no current exercise", ErrExerciseNotFound)
			}
			idx = doc.CurrentIndex
		default:
			var ok bool
			if idx, ok = findExercise(doc, ex.ID); !ok {
				idx = insertAfterCurrent(doc, newEntry(ex, nil))
			}
		}
		doc.CurrentIndex = idx

		set.Seq = doc.NextSeq
		set.Timestamp = m.now()
		doc.NextSeq++

		entry := &doc.Exercises[idx]
		entry.CompletedSets = append(entry.CompletedSets, set)
		if n := len(entry.PlannedSets); n > 0 && len(entry.CompletedSets) >= n && !entry.IsCompleted {
			entry.IsCompleted = true
			advance(doc)
		}
		return nil
	})
}

// AddExercise inserts ex after the current exercise and makes it current. An
// exercise already in the session that is still open becomes current instead.
func (m *Manager) AddExercise(ex Exercise, planned []models.PlannedSet) (models.Session, error) {
	return m.mutate("add_exercise", func(doc *models.Session) error {
		if ex.ID == "" {
			return fmt.Errorf("%w: missing exercise id", ErrExerciseNotFound)
		}
		if idx, ok := findExercise(doc, ex.ID); ok && !doc.Exercises[idx].IsCompleted {
			doc.CurrentIndex = idx
			return nil
		}
		insertAfterCurrent(doc, newEntry(ex, planned))
		return nil
	})
}

// SwitchExercise replaces the current exercise with ex, keeping its completed
// sets in place.
func (m *Manager) SwitchExercise(ex Exercise) (models.Session, error) {
	return m.mutate("switch_exercise", func(doc *models.Session) error {
		if ex.ID == "" {
			return fmt.Errorf("%w: missing exercise id", ErrExerciseNotFound)
		}
		cur, ok := doc.Current()
		if !ok {
			cur = &doc.Exercises[insertAfterCurrent(doc, newEntry(ex, nil))]
		}
		cur.ExerciseID = ex.ID
		cur.DisplayName = ex.Name
		return nil
	})
}

// SkipExercise marks ex, or the current exercise when ex.ID is empty, as
// completed and advances to the next open exercise.
func (m *Manager) SkipExercise(ex Exercise) (models.Session, error) {
	return m.mutate("skip_exercise", func(doc *models.Session) error {
		idx := doc.CurrentIndex
		if ex.ID != "" {
			var ok bool
			if idx, ok = findExercise(doc, ex.ID); !ok {
				return fmt.Errorf("%w: %s", ErrExerciseNotFound, ex.ID)
			}
		} else if _, ok := doc.Current(); !ok {
			return fmt.Errorf("%w: no current exercise", ErrExerciseNotFound)
		}
		doc.Exercises[idx].IsCompleted = true
		doc.CurrentIndex = idx
		advance(doc)
		return nil
	})
}

// EditSet overwrites fields of the set addressed by ref.
func (m *Manager) EditSet(ref SetRef, patch SetPatch) (models.Session, error) {
	return m.mutate("edit_set", func(doc *models.Session) error {
		if patch.Empty() {
			return fmt.Errorf("%w: nothing to change", ErrInvalidSet)
		}
		exIdx, setIdx, err := locate(doc, ref)
		if err != nil {
			return err
		}
		set := &doc.Exercises[exIdx].CompletedSets[setIdx]
		if err := applyPatch(set, patch); err != nil {
			return err
		}
		if !set.HasMetrics() {
			return fmt.Errorf("%w: edit leaves no metrics", ErrInvalidSet)
		}
		return nil
	})
}

// DeleteSet removes the set addressed by ref. An exercise that was completed
// by reaching its planned sets reopens when it drops below them again; a
// skipped exercise stays completed.
func (m *Manager) DeleteSet(ref SetRef) (models.Session, error) {
	return m.mutate("delete_set", func(doc *models.Session) error {
		exIdx, setIdx, err := locate(doc, ref)
		if err != nil {
			return err
		}
		entry := &doc.Exercises[exIdx]
		planned := len(entry.PlannedSets)
		metPlan := planned > 0 && len(entry.CompletedSets) >= planned
		entry.CompletedSets = append(entry.CompletedSets[:setIdx], entry.CompletedSets[setIdx+1:]...)
		if entry.IsCompleted && metPlan && len(entry.CompletedSets) < planned {
			entry.IsCompleted = false
		}
		return nil
	})
}

// UndoLast reverts the most recent mutation. The revert is itself a mutation
// and is pushed like any other.
func (m *Manager) UndoLast() (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.doc == nil {
		return models.Session{}, ErrNoActiveSession
	}
	if len(m.undo) == 0 {
		return models.Session{}, ErrNothingToUndo
	}
	prev := m.undo[len(m.undo)-1]
	m.undo = m.undo[:len(m.undo)-1]

	prev.Version = m.doc.Version + 1
	// Sequence numbers never go backwards.
	prev.NextSeq = m.doc.NextSeq
	m.doc = &prev

	m.log.Info("session mutated", "op", "undo", "session_id", prev.ID, "version", prev.Version)
	m.observer.SessionChanged(prev.Clone())
	return prev.Clone(), nil
}

// UndoDepth returns how many mutations can be undone.
func (m *Manager) UndoDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo)
}

func (m *Manager) mutate(op string, fn func(doc *models.Session) error) (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.doc == nil {
		return models.Session{}, ErrNoActiveSession
	}
	next := m.doc.Clone()
	if err := fn(&next); err != nil {
		m.log.Debug("session mutation rejected", "op", op, "error", err)
		return models.Session{}, err
	}
	next.Version = m.doc.Version + 1

	m.undo = append(m.undo, *m.doc)
	if len(m.undo) > maxUndo {
		m.undo = append(m.undo[:0:0], m.undo[len(m.undo)-maxUndo:]...)
	}
	m.doc = &next

	m.log.Info("session mutated", "op", op, "session_id", next.ID, "version", next.Version)
	m.observer.SessionChanged(next.Clone())
	return next.Clone(), nil
}

func newEntry(ex Exercise, planned []models.PlannedSet) models.ExerciseEntry {
	return models.ExerciseEntry{
		ExerciseID:    ex.ID,
		DisplayName:   ex.Name,
		PlannedSets:   append([]models.PlannedSet(nil), planned...),
		CompletedSets: []models.CompletedSet{},
	}
}

func maxSeq(doc *models.Session) int64 {
	var hi int64
	for _, ex := range doc.Exercises {
		for _, s := range ex.CompletedSets {
			if s.Seq > hi {
				hi = s.Seq
			}
		}
	}
	return hi
}

func defaultTitle(t time.Time) string {
	h := t.Hour()
	switch {
	case h < 12:
		return "Morning Workout"
	case h < 17:
		return "Afternoon Workout"
	default:
		return "Evening Workout"
	}
}

// Observers fans every notification out to each observer in order.
type Observers []Observer

func (o Observers) SessionStarted(doc models.Session) {
	for _, ob := range o {
		ob.SessionStarted(doc)
	}
}

func (o Observers) SessionChanged(doc models.Session) {
	for _, ob := range o {
		ob.SessionChanged(doc)
	}
}

func (o Observers) SessionEnded(doc models.Session) {
	for _, ob := range o {
		ob.SessionEnded(doc)
	}
}

func (o Observers) SessionDiscarded(id uuid.UUID) {
	for _, ob := range o {
		ob.SessionDiscarded(id)
	}
}

func (o Observers) SessionRestored(doc models.Session) {
	for _, ob := range o {
		ob.SessionRestored(doc)
	}
}

type nopObserver struct{}

func (nopObserver) SessionStarted(models.Session)  {}
func (nopObserver) SessionChanged(models.Session)  {}
func (nopObserver) SessionEnded(models.Session)    {}
func (nopObserver) SessionDiscarded(uuid.UUID)     {}
func (nopObserver) SessionRestored(models.Session) {}
