package session

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/claude/liftlog/internal/models"
)

var (
	ErrNoActiveSession  = errors.New("no active session")
	ErrSessionActive    = errors.New("a session is already active")
	ErrNothingToUndo    = errors.New("nothing to undo")
	ErrSetNotFound      = errors.New("set not found")
	ErrExerciseNotFound = errors.New("exercise not in session")
	ErrInvalidSet       = errors.New("invalid set")
)

// Exercise identifies a resolved catalog exercise.
type Exercise struct {
	ID   string `json:"exercise_id"`
	Name string `json:"name"`
}

// RoutineExercise is one exercise of the routine a session starts from.
type RoutineExercise struct {
	Exercise
	SupersetGroup *int                `json:"superset_group,omitempty"`
	PlannedSets   []models.PlannedSet `json:"planned_sets,omitempty"`
	Notes         string              `json:"notes,omitempty"`
}

// SetInput carries the metrics of a set to log.
type SetInput struct {
	WeightKg        *float64       `json:"weight_kg,omitempty"`
	Reps            *int           `json:"reps,omitempty"`
	RPE             *float64       `json:"rpe,omitempty"`
	DurationSeconds *int           `json:"duration_seconds,omitempty"`
	Type            models.SetType `json:"type,omitempty"`
}

// SetRef addresses a completed set.
//
// With ExerciseID empty and Ordinal zero it refers to the most recent set of
// the whole document. With only ExerciseID it refers to that exercise's last
// set. With only Ordinal it refers to a set of the current exercise.
type SetRef struct {
	ExerciseID string `json:"exercise_id,omitempty"`
	Ordinal    int    `json:"ordinal,omitempty"`
}

func (r SetRef) String() string {
	switch {
	case r.ExerciseID == "" && r.Ordinal == 0:
		return "most recent set"
	case r.Ordinal == 0:
		return fmt.Sprintf("last set of %s", r.ExerciseID)
	case r.ExerciseID == "":
		return fmt.Sprintf("set %d of current exercise", r.Ordinal)
	default:
		return fmt.Sprintf("set %d of %s", r.Ordinal, r.ExerciseID)
	}
}

func newDocument(id uuid.UUID, title string, start time.Time, routine []RoutineExercise) models.Session {
	doc := models.Session{
		ID:        id,
		Title:     title,
		StartTime: start,
		Exercises: make([]models.ExerciseEntry, 0, len(routine)),
		NextSeq:   1,
	}
	for _, r := range routine {
		doc.Exercises = append(doc.Exercises, models.ExerciseEntry{
			ExerciseID:    r.ID,
			DisplayName:   r.Name,
			SupersetGroup: r.SupersetGroup,
			PlannedSets:   append([]models.PlannedSet(nil), r.PlannedSets...),
			CompletedSets: []models.CompletedSet{},
			Notes:         r.Notes,
		})
	}
	return doc
}

// findExercise returns the index of exerciseID, preferring the current entry,
// then the last entry that is not completed, then the last entry.
func findExercise(doc *models.Session, exerciseID string) (int, bool) {
	if cur, ok := doc.Current(); ok && cur.ExerciseID == exerciseID {
		return doc.CurrentIndex, true
	}
	found := -1
	for i := len(doc.Exercises) - 1; i >= 0; i-- {
		if doc.Exercises[i].ExerciseID != exerciseID {
			continue
		}
		if !doc.Exercises[i].IsCompleted {
			return i, true
		}
		if found < 0 {
			found = i
		}
	}
	return found, found >= 0
}

// insertAfterCurrent inserts e right after the current exercise and makes it
// current.
func insertAfterCurrent(doc *models.Session, e models.ExerciseEntry) int {
	at := doc.CurrentIndex + 1
	if len(doc.Exercises) == 0 || at > len(doc.Exercises) {
		at = len(doc.Exercises)
	}
	doc.Exercises = append(doc.Exercises, models.ExerciseEntry{})
	copy(doc.Exercises[at+1:], doc.Exercises[at:])
	doc.Exercises[at] = e
	doc.CurrentIndex = at
	return at
}

// advance moves the current pointer to the next exercise that is not
// completed, searching forward and then from the top. It stays put when
// everything is done.
func advance(doc *models.Session) {
	n := len(doc.Exercises)
	for k := 1; k < n; k++ {
		i := (doc.CurrentIndex + k) % n
		if !doc.Exercises[i].IsCompleted {
			doc.CurrentIndex = i
			return
		}
	}
}

func validateSet(in SetInput) (models.CompletedSet, error) {
	set := models.CompletedSet{
		WeightKg:        in.WeightKg,
		Reps:            in.Reps,
		RPE:             models.NormalizeRPEPtr(in.RPE),
		DurationSeconds: in.DurationSeconds,
		Type:            in.Type,
	}
	if set.Type == "" {
		set.Type = models.SetNormal
	}
	if !set.Type.Valid() {
		return models.CompletedSet{}, fmt.Errorf("%w: unknown set type %q", ErrInvalidSet, set.Type)
	}
	if !set.HasMetrics() {
		return models.CompletedSet{}, fmt.Errorf("%w: no weight, reps or duration", ErrInvalidSet)
	}
	if err := checkMetrics(set.WeightKg, set.Reps, set.DurationSeconds); err != nil {
		return models.CompletedSet{}, err
	}
	return set.Clone(), nil
}

func checkMetrics(weight *float64, reps, duration *int) error {
	if weight != nil && (*weight < 0 || math.IsNaN(*weight) || math.IsInf(*weight, 0)) {
		return fmt.Errorf("%w: weight %v", ErrInvalidSet, *weight)
	}
	if reps != nil && *reps < 0 {
		return fmt.Errorf("%w: reps %d", ErrInvalidSet, *reps)
	}
	if duration != nil && *duration < 0 {
		return fmt.Errorf("%w: duration %d", ErrInvalidSet, *duration)
	}
	return nil
}

// locate resolves ref to an exercise and set index.
func locate(doc *models.Session, ref SetRef) (exIdx, setIdx int, err error) {
	if ref.ExerciseID == "" && ref.Ordinal == 0 {
		exIdx, setIdx, ok := doc.LastCompleted()
		if !ok {
			return 0, 0, fmt.Errorf("%w: nothing logged yet", ErrSetNotFound)
		}
		return exIdx, setIdx, nil
	}

	if ref.ExerciseID == "" {
		if _, ok := doc.Current(); !ok {
			return 0, 0, fmt.Errorf("%w: no current exercise", ErrExerciseNotFound)
		}
		exIdx = doc.CurrentIndex
	} else {
		var ok bool
		if exIdx, ok = findExercise(doc, ref.ExerciseID); !ok {
			return 0, 0, fmt.Errorf("%w: %s", ErrExerciseNotFound, ref.ExerciseID)
		}
	}

	sets := doc.Exercises[exIdx].CompletedSets
	if len(sets) == 0 {
		return 0, 0, fmt.Errorf("%w: %s", ErrSetNotFound, ref)
	}
	if ref.Ordinal == 0 {
		return exIdx, len(sets) - 1, nil
	}
	if ref.Ordinal < 1 || ref.Ordinal > len(sets) {
		return 0, 0, fmt.Errorf("%w: %s", ErrSetNotFound, ref)
	}
	return exIdx, ref.Ordinal - 1, nil
}

// SetPatch lists the fields to overwrite on an existing set. Nil fields are
// left unchanged.
type SetPatch struct {
	WeightKg        *float64       `json:"weight_kg,omitempty"`
	Reps            *int           `json:"reps,omitempty"`
	RPE             *float64       `json:"rpe,omitempty"`
	DurationSeconds *int           `json:"duration_seconds,omitempty"`
	Type            models.SetType `json:"type,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p SetPatch) Empty() bool {
	return p.WeightKg == nil && p.Reps == nil && p.RPE == nil && p.DurationSeconds == nil && p.Type == ""
}

func applyPatch(set *models.CompletedSet, p SetPatch) error {
	if err := checkMetrics(p.WeightKg, p.Reps, p.DurationSeconds); err != nil {
		return err
	}
	if p.Type != "" && !p.Type.Valid() {
		return fmt.Errorf("%w: unknown set type %q", ErrInvalidSet, p.Type)
	}
	if p.WeightKg != nil {
		set.WeightKg = models.Ptr(*p.WeightKg)
	}
	if p.Reps != nil {
		set.Reps = models.Ptr(*p.Reps)
	}
	if p.RPE != nil {
		set.RPE = models.NormalizeRPEPtr(p.RPE)
	}
	if p.DurationSeconds != nil {
		set.DurationSeconds = models.Ptr(*p.DurationSeconds)
	}
	if p.Type != "" {
		set.Type = p.Type
	}
	return nil
}
