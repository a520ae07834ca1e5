package classifier

import (
	"errors"
	"fmt"

	"github.com/claude/liftlog/internal/models"
)

var (
	// ErrClassification marks model output that is malformed, off-schema or
	// self-contradictory. The utterance is discarded.
	ErrClassification = errors.New("classification failed")
	// ErrUnresolvedReference marks a command that refers to a context block
	// that does not exist, such as "same" before anything was logged.
	ErrUnresolvedReference = errors.New("unresolved reference")
)

// Error describes a failed classification.
type Error struct {
	Kind   error
	Reason string
	Raw    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Kind }

func classificationError(raw, format string, args ...any) *Error {
	return &Error{Kind: ErrClassification, Reason: fmt.Sprintf(format, args...), Raw: raw}
}

// CommandType discriminates Command.
type CommandType string

const (
	LogSet         CommandType = "log_set"
	SwitchExercise CommandType = "switch_exercise"
	AddExercise    CommandType = "add_exercise"
	SkipExercise   CommandType = "skip_exercise"
	Undo           CommandType = "undo"
	EditLastSet    CommandType = "edit_last_set"
	EditSet        CommandType = "edit_set"
	DeleteSet      CommandType = "delete_set"
)

// CommandTypes lists every command type in schema order.
var CommandTypes = []CommandType{
	LogSet, SwitchExercise, AddExercise, SkipExercise, Undo, EditLastSet, EditSet, DeleteSet,
}

// Valid reports whether t is a known command type.
func (t CommandType) Valid() bool {
	for _, c := range CommandTypes {
		if c == t {
			return true
		}
	}
	return false
}

// Reference names the context block a command copies values from.
type Reference string

const (
	RefNone        Reference = ""
	RefJustLogged  Reference = "just_logged"
	RefLastWorkout Reference = "last_workout"
)

// SetValues are the set metrics carried by a command. Weights are in
// kilograms and RPE is normalized.
type SetValues struct {
	WeightKg        *float64       `json:"weight_kg,omitempty"`
	Reps            *int           `json:"reps,omitempty"`
	RPE             *float64       `json:"rpe,omitempty"`
	DurationSeconds *int           `json:"duration_seconds,omitempty"`
	Type            models.SetType `json:"type,omitempty"`
}

// Empty reports whether no value is set.
func (v SetValues) Empty() bool {
	return v.WeightKg == nil && v.Reps == nil && v.RPE == nil && v.DurationSeconds == nil && v.Type == ""
}

func (v SetValues) hasMetrics() bool {
	return v.WeightKg != nil || v.Reps != nil || v.DurationSeconds != nil
}

// ResolvedExercise is an exercise named in the utterance and matched
// against the catalog.
type ResolvedExercise struct {
	Spoken string `json:"spoken"`
	ID     string `json:"exercise_id"`
	Title  string `json:"title"`
	Exact  bool   `json:"exact"`
}

// Command is the structured result of classifying one utterance. Exactly
// one command is produced per utterance; which fields are meaningful
// depends on Type.
type Command struct {
	Type          CommandType       `json:"command_type"`
	Confidence    float64           `json:"confidence"`
	LowConfidence bool              `json:"low_confidence,omitempty"`
	Rationale     string            `json:"rationale,omitempty"`
	Exercise      *ResolvedExercise `json:"exercise,omitempty"`
	Set           SetValues         `json:"set"`
	SetNumber     int               `json:"set_number,omitempty"`
	PlannedSets   int               `json:"planned_sets,omitempty"`
	Reference     Reference         `json:"reference,omitempty"`
}
