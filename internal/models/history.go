package models

import "time"

// CatalogExercise is one entry of the remote exercise catalog.
type CatalogExercise struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	Type               string `json:"type,omitempty"`
	PrimaryMuscleGroup string `json:"primary_muscle_group,omitempty"`
	IsCustom           bool   `json:"is_custom,omitempty"`
}

// HistorySession holds the sets one past workout recorded for one exercise.
type HistorySession struct {
	WorkoutID     string         `json:"workout_id"`
	ExerciseID    string         `json:"exercise_id"`
	ExerciseIndex int            `json:"exercise_index"`
	Title         string         `json:"title"`
	StartTime     time.Time      `json:"start_time"`
	Sets          []CompletedSet `json:"sets"`
}

// ExerciseHistory is the cached history of one exercise, newest session
// first.
type ExerciseHistory struct {
	ExerciseID string           `json:"exercise_id"`
	Sessions   []HistorySession `json:"sessions"`
	Trend      *Trend           `json:"trend,omitempty"`
	SyncedAt   *time.Time       `json:"synced_at,omitempty"`
}

// TrendDirection is the direction of an exercise's recent progression.
type TrendDirection string

const (
	TrendUp     TrendDirection = "up"
	TrendDown   TrendDirection = "down"
	TrendStable TrendDirection = "stable"
)

// Trend summarizes the recent sessions of one exercise.
type Trend struct {
	Direction     TrendDirection `json:"direction"`
	AverageWeight *float64       `json:"average_weight_kg,omitempty"`
	AverageReps   *float64       `json:"average_reps,omitempty"`
	AverageRPE    *float64       `json:"average_rpe,omitempty"`
	Sessions      int            `json:"sessions"`
}

// PendingPush is a queued push of a session document that failed or was
// deferred while offline. At most one entry exists per session; newer states
// replace older ones.
type PendingPush struct {
	SessionID string    `json:"session_id"`
	RemoteID  string    `json:"remote_id,omitempty"`
	Document  Session   `json:"document"`
	Final     bool      `json:"final"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	QueuedAt  time.Time `json:"queued_at"`
}

// Snapshot is the durable copy of an in-progress session.
type Snapshot struct {
	Document Session   `json:"document"`
	RemoteID string    `json:"remote_id,omitempty"`
	Ended    bool      `json:"ended"`
	SavedAt  time.Time `json:"saved_at"`
}

// HistoryChanges lists workouts created, updated or deleted remotely since
// a point in time.
type HistoryChanges struct {
	Updated []HistorySession `json:"updated"`
	Deleted []string         `json:"deleted"`
}
