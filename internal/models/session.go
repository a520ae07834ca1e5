package models

import (
	"time"

	"github.com/google/uuid"
)

// SetType classifies a completed set.
type SetType string

const (
	SetNormal  SetType = "normal"
	SetWarmup  SetType = "warmup"
	SetFailure SetType = "failure"
	SetDropset SetType = "dropset"
)

// Valid reports whether t is one of the known set types.
func (t SetType) Valid() bool {
	switch t {
	case SetNormal, SetWarmup, SetFailure, SetDropset:
		return true
	}
	return false
}

// PlannedSet is a target for a set that has not been performed yet.
type PlannedSet struct {
	WeightKg        *float64 `json:"weight_kg,omitempty"`
	Reps            *int     `json:"reps,omitempty"`
	RPE             *float64 `json:"rpe,omitempty"`
	DurationSeconds *int     `json:"duration_seconds,omitempty"`
}

// CompletedSet is a performed set with its recorded metrics.
//
// Seq is a document-wide, strictly increasing number assigned when the set is
// logged. The set with the highest Seq is the most recent set of the session.
type CompletedSet struct {
	WeightKg        *float64  `json:"weight_kg,omitempty"`
	Reps            *int      `json:"reps,omitempty"`
	RPE             *float64  `json:"rpe,omitempty"`
	DurationSeconds *int      `json:"duration_seconds,omitempty"`
	Type            SetType   `json:"type"`
	Timestamp       time.Time `json:"timestamp"`
	Seq             int64     `json:"seq"`
}

// HasMetrics reports whether at least one metric is recorded.
func (s CompletedSet) HasMetrics() bool {
	return s.WeightKg != nil || s.Reps != nil || s.DurationSeconds != nil
}

// ExerciseEntry is one exercise of the session with its planned and completed sets.
type ExerciseEntry struct {
	ExerciseID    string         `json:"exercise_id"`
	DisplayName   string         `json:"display_name"`
	SupersetGroup *int           `json:"superset_group,omitempty"`
	PlannedSets   []PlannedSet   `json:"planned_sets"`
	CompletedSets []CompletedSet `json:"completed_sets"`
	IsCompleted   bool           `json:"is_completed"`
	Notes         string         `json:"notes,omitempty"`
}

// NextSetNumber returns the 1-based ordinal of the next set to perform.
func (e ExerciseEntry) NextSetNumber() int {
	return len(e.CompletedSets) + 1
}

// Session is the live, mutable document of an in-progress workout.
type Session struct {
	ID           uuid.UUID       `json:"id"`
	Title        string          `json:"title"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      *time.Time      `json:"end_time,omitempty"`
	Exercises    []ExerciseEntry `json:"exercises"`
	CurrentIndex int             `json:"current_index"`
	Description  string          `json:"description,omitempty"`

	// Version increments on every mutation.
	Version int64 `json:"version"`
	NextSeq int64 `json:"next_seq"`
}

// Current returns the current exercise entry, if any.
func (s *Session) Current() (*ExerciseEntry, bool) {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Exercises) {
		return nil, false
	}
	return &s.Exercises[s.CurrentIndex], true
}

// LastCompleted locates the completed set with the highest Seq across the
// whole document. It returns the exercise index and set index.
func (s *Session) LastCompleted() (exIdx, setIdx int, ok bool) {
	var best int64 = -1
	for i, ex := range s.Exercises {
		for j, set := range ex.CompletedSets {
			if set.Seq > best {
				best = set.Seq
				exIdx, setIdx, ok = i, j, true
			}
		}
	}
	return exIdx, setIdx, ok
}

// LastActivity returns the timestamp of the latest completed set, or the
// start time when nothing has been logged.
func (s *Session) LastActivity() time.Time {
	last := s.StartTime
	for _, ex := range s.Exercises {
		for _, set := range ex.CompletedSets {
			if set.Timestamp.After(last) {
				last = set.Timestamp
			}
		}
	}
	return last
}

// TotalCompletedSets counts completed sets across all exercises.
func (s *Session) TotalCompletedSets() int {
	n := 0
	for _, ex := range s.Exercises {
		n += len(ex.CompletedSets)
	}
	return n
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	out := s
	if s.EndTime != nil {
		t := *s.EndTime
		out.EndTime = &t
	}
	out.Exercises = make([]ExerciseEntry, len(s.Exercises))
	for i, ex := range s.Exercises {
		out.Exercises[i] = ex.clone()
	}
	return out
}

func (e ExerciseEntry) clone() ExerciseEntry {
	out := e
	out.SupersetGroup = clonePtr(e.SupersetGroup)
	out.PlannedSets = make([]PlannedSet, len(e.PlannedSets))
	for i, p := range e.PlannedSets {
		out.PlannedSets[i] = PlannedSet{
			WeightKg:        clonePtr(p.WeightKg),
			Reps:            clonePtr(p.Reps),
			RPE:             clonePtr(p.RPE),
			DurationSeconds: clonePtr(p.DurationSeconds),
		}
	}
	out.CompletedSets = make([]CompletedSet, len(e.CompletedSets))
	for i, c := range e.CompletedSets {
		out.CompletedSets[i] = c.Clone()
	}
	return out
}

// Clone returns a deep copy of the set.
func (s CompletedSet) Clone() CompletedSet {
	out := s
	out.WeightKg = clonePtr(s.WeightKg)
	out.Reps = clonePtr(s.Reps)
	out.RPE = clonePtr(s.RPE)
	out.DurationSeconds = clonePtr(s.DurationSeconds)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
