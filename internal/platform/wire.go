package platform

import (
	"time"

	"github.com/claude/liftlog/internal/models"
)

// WorkoutInput is the body of a workout create or update, sent wrapped as
// {"workout": {...}}.
type WorkoutInput struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	StartTime   time.Time       `json:"start_time"`
	EndTime     time.Time       `json:"end_time"`
	IsPrivate   bool            `json:"is_private"`
	Exercises   []ExerciseInput `json:"exercises"`
}

// ExerciseInput is one exercise of a WorkoutInput.
type ExerciseInput struct {
	ExerciseTemplateID string     `json:"exercise_template_id"`
	SupersetID         *int       `json:"superset_id"`
	Notes              string     `json:"notes"`
	Sets               []SetInput `json:"sets"`
}

// SetInput is one set of an ExerciseInput. Absent metrics are sent as null.
type SetInput struct {
	Type            string   `json:"type"`
	WeightKg        *float64 `json:"weight_kg"`
	Reps            *int     `json:"reps"`
	DistanceMeters  *int     `json:"distance_meters"`
	DurationSeconds *int     `json:"duration_seconds"`
	RPE             *float64 `json:"rpe"`
}

type workoutEnvelope struct {
	Workout WorkoutInput `json:"workout"`
}

// Workout is a workout as returned by the platform.
type Workout struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     time.Time  `json:"end_time"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CreatedAt   time.Time  `json:"created_at"`
	Exercises   []Exercise `json:"exercises"`
}

// Exercise is one exercise of a returned Workout.
type Exercise struct {
	Index              int    `json:"index"`
	Title              string `json:"title"`
	Notes              string `json:"notes"`
	ExerciseTemplateID string `json:"exercise_template_id"`
	SupersetID         *int   `json:"superset_id"`
	Sets               []Set  `json:"sets"`
}

// Set is one set of a returned Exercise.
type Set struct {
	Index           int      `json:"index"`
	Type            string   `json:"type"`
	WeightKg        *float64 `json:"weight_kg"`
	Reps            *int     `json:"reps"`
	DistanceMeters  *int     `json:"distance_meters"`
	DurationSeconds *int     `json:"duration_seconds"`
	RPE             *float64 `json:"rpe"`
}

// writeResponse is the platform's reply to a create or update: the workout as
// a single-element array under the resource key.
type writeResponse struct {
	Workout []Workout `json:"workout"`
}

type workoutsPage struct {
	Page      int       `json:"page"`
	PageCount int       `json:"page_count"`
	Workouts  []Workout `json:"workouts"`
}

// ExerciseTemplate is a catalog entry.
type ExerciseTemplate struct {
	ID                    string   `json:"id"`
	Title                 string   `json:"title"`
	Type                  string   `json:"type"`
	PrimaryMuscleGroup    string   `json:"primary_muscle_group"`
	SecondaryMuscleGroups []string `json:"secondary_muscle_groups"`
	IsCustom              bool     `json:"is_custom"`
}

type templatesPage struct {
	Page              int                `json:"page"`
	PageCount         int                `json:"page_count"`
	ExerciseTemplates []ExerciseTemplate `json:"exercise_templates"`
}

// Event is an entry of the workout change feed.
type Event struct {
	Type      string    `json:"type"`
	Workout   *Workout  `json:"workout,omitempty"`
	ID        string    `json:"id,omitempty"`
	DeletedAt time.Time `json:"deleted_at,omitempty"`
}

const (
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

type eventsPage struct {
	Page      int     `json:"page"`
	PageCount int     `json:"page_count"`
	Events    []Event `json:"events"`
}

type countResponse struct {
	WorkoutCount int `json:"workout_count"`
}

// ToWire converts a session document to the platform's write format.
// Exercises without completed sets are left out; planned sets are never sent.
// An open session reports its latest activity as end time.
func ToWire(doc models.Session) WorkoutInput {
	in := WorkoutInput{
		Title:       doc.Title,
		Description: doc.Description,
		StartTime:   doc.StartTime.UTC(),
		EndTime:     doc.LastActivity().UTC(),
		Exercises:   []ExerciseInput{},
	}
	if doc.EndTime != nil {
		in.EndTime = doc.EndTime.UTC()
	}

	for _, ex := range doc.Exercises {
		if len(ex.CompletedSets) == 0 {
			continue
		}
		out := ExerciseInput{
			ExerciseTemplateID: ex.ExerciseID,
			SupersetID:         ex.SupersetGroup,
			Notes:              ex.Notes,
			Sets:               make([]SetInput, 0, len(ex.CompletedSets)),
		}
		for _, s := range ex.CompletedSets {
			typ := s.Type
			if !typ.Valid() {
				typ = models.SetNormal
			}
			out.Sets = append(out.Sets, SetInput{
				Type:            string(typ),
				WeightKg:        s.WeightKg,
				Reps:            s.Reps,
				DurationSeconds: s.DurationSeconds,
				RPE:             models.NormalizeRPEPtr(s.RPE),
			})
		}
		in.Exercises = append(in.Exercises, out)
	}
	return in
}

// HistorySessions splits a returned workout into one history session per
// exercise.
func (w Workout) HistorySessions() []models.HistorySession {
	out := make([]models.HistorySession, 0, len(w.Exercises))
	for i, ex := range w.Exercises {
		hs := models.HistorySession{
			WorkoutID:     w.ID,
			ExerciseID:    ex.ExerciseTemplateID,
			ExerciseIndex: i,
			Title:         ex.Title,
			StartTime:     w.StartTime,
			Sets:          make([]models.CompletedSet, 0, len(ex.Sets)),
		}
		for _, s := range ex.Sets {
			typ := models.SetType(s.Type)
			if !typ.Valid() {
				typ = models.SetNormal
			}
			hs.Sets = append(hs.Sets, models.CompletedSet{
				WeightKg:        s.WeightKg,
				Reps:            s.Reps,
				RPE:             models.NormalizeRPEPtr(s.RPE),
				DurationSeconds: s.DurationSeconds,
				Type:            typ,
				Timestamp:       w.StartTime,
			})
		}
		out = append(out, hs)
	}
	return out
}

func (t ExerciseTemplate) catalog() models.CatalogExercise {
	return models.CatalogExercise{
		ID:                 t.ID,
		Title:              t.Title,
		Type:               t.Type,
		PrimaryMuscleGroup: t.PrimaryMuscleGroup,
		IsCustom:           t.IsCustom,
	}
}
