package classifier

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"strings"

	"github.com/claude/liftlog/internal/models"
)

// SchemaName names the response schema for backends that require one.
const SchemaName = "workout_command"

// rawCommand is the exact shape the model must return. Every field is
// required by the schema; absent values are null.
type rawCommand struct {
	CommandType     string   `json:"commandType"`
	Confidence      *float64 `json:"confidence"`
	Rationale       *string  `json:"rationale"`
	ExerciseName    *string  `json:"exerciseName"`
	Weight          *float64 `json:"weight"`
	WeightUnit      *string  `json:"weightUnit"`
	Reps            *int     `json:"reps"`
	RPE             *float64 `json:"rpe"`
	DurationSeconds *int     `json:"durationSeconds"`
	SetType         *string  `json:"setType"`
	SetNumber       *int     `json:"setNumber"`
	PlannedSets     *int     `json:"plannedSets"`
	Reference       *string  `json:"reference"`
}

var schemaFields = []string{
	"commandType", "confidence", "rationale", "exerciseName", "weight", "weightUnit",
	"reps", "rpe", "durationSeconds", "setType", "setNumber", "plannedSets", "reference",
}

func nullable(typ string, extra map[string]any) map[string]any {
	m := map[string]any{"type": []string{typ, "null"}}
	for k, v := range extra {
		m[k] = v
	}
	return m
}

func nullableEnum(values ...string) map[string]any {
	enum := make([]any, 0, len(values)+1)
	for _, v := range values {
		enum = append(enum, v)
	}
	enum = append(enum, nil)
	return map[string]any{"type": []string{"string", "null"}, "enum": enum}
}

// ResponseSchema returns the strict JSON schema of the model response.
func ResponseSchema() map[string]any {
	types := make([]string, len(CommandTypes))
	for i, t := range CommandTypes {
		types[i] = string(t)
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"commandType":     map[string]any{"type": "string", "enum": types},
			"confidence":      map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"rationale":       nullable("string", nil),
			"exerciseName":    nullable("string", nil),
			"weight":          nullable("number", map[string]any{"minimum": 0}),
			"weightUnit":      nullableEnum(string(models.Kilograms), string(models.Pounds)),
			"reps":            nullable("integer", map[string]any{"minimum": 0}),
			"rpe":             nullable("number", nil),
			"durationSeconds": nullable("integer", map[string]any{"minimum": 0}),
			"setType":         nullableEnum(string(models.SetNormal), string(models.SetWarmup), string(models.SetFailure), string(models.SetDropset)),
			"setNumber":       nullable("integer", map[string]any{"minimum": 1}),
			"plannedSets":     nullable("integer", map[string]any{"minimum": 1}),
			"reference":       nullableEnum(string(RefJustLogged), string(RefLastWorkout)),
		},
		"required":             schemaFields,
		"additionalProperties": false,
	}
}

// decode parses and validates model output. It converts weights to
// kilograms and normalizes RPE. The exercise name is returned unresolved.
func decode(raw string) (Command, string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Command{}, "", classificationError(raw, "empty response")
	}

	// Presence check: the schema requires every key, null or not.
	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &keys); err != nil {
		return Command{}, "", classificationError(raw, "invalid JSON: %v", err)
	}
	for _, f := range schemaFields {
		if _, ok := keys[f]; !ok {
			return Command{}, "", classificationError(raw, "missing field %q", f)
		}
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	dec.DisallowUnknownFields()
	var rc rawCommand
	if err := dec.Decode(&rc); err != nil {
		return Command{}, "", classificationError(raw, "off-schema response: %v", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Command{}, "", classificationError(raw, "trailing data after response")
	}

	cmd := Command{Type: CommandType(rc.CommandType)}
	if !cmd.Type.Valid() {
		return Command{}, "", classificationError(raw, "unknown command type %q", rc.CommandType)
	}
	if rc.Confidence == nil || math.IsNaN(*rc.Confidence) || *rc.Confidence < 0 || *rc.Confidence > 1 {
		return Command{}, "", classificationError(raw, "confidence missing or outside [0,1]")
	}
	cmd.Confidence = *rc.Confidence
	if rc.Rationale != nil {
		cmd.Rationale = strings.TrimSpace(*rc.Rationale)
	}

	var name string
	if rc.ExerciseName != nil {
		name = strings.TrimSpace(*rc.ExerciseName)
	}

	set, err := decodeSet(raw, rc)
	if err != nil {
		return Command{}, "", err
	}
	cmd.Set = set

	if rc.SetNumber != nil {
		if *rc.SetNumber < 1 {
			return Command{}, "", classificationError(raw, "setNumber %d below 1", *rc.SetNumber)
		}
		cmd.SetNumber = *rc.SetNumber
	}
	if rc.PlannedSets != nil {
		if *rc.PlannedSets < 1 {
			return Command{}, "", classificationError(raw, "plannedSets %d below 1", *rc.PlannedSets)
		}
		cmd.PlannedSets = *rc.PlannedSets
	}
	if rc.Reference != nil {
		cmd.Reference = Reference(*rc.Reference)
		if cmd.Reference != RefJustLogged && cmd.Reference != RefLastWorkout {
			return Command{}, "", classificationError(raw, "unknown reference %q", *rc.Reference)
		}
	}

	if err := checkConsistency(raw, cmd, name); err != nil {
		return Command{}, "", err
	}
	return cmd, name, nil
}

func decodeSet(raw string, rc rawCommand) (SetValues, error) {
	var set SetValues

	if rc.WeightUnit != nil && rc.Weight == nil {
		return SetValues{}, classificationError(raw, "weightUnit without weight")
	}
	if rc.Weight != nil {
		w := *rc.Weight
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return SetValues{}, classificationError(raw, "invalid weight %v", w)
		}
		unit := models.Kilograms
		if rc.WeightUnit != nil {
			unit = models.WeightUnit(*rc.WeightUnit)
			if unit != models.Kilograms && unit != models.Pounds {
				return SetValues{}, classificationError(raw, "unknown weight unit %q", *rc.WeightUnit)
			}
		}
		kg := models.ToKilograms(w, unit)
		set.WeightKg = &kg
	}
	if rc.Reps != nil {
		if *rc.Reps < 0 {
			return SetValues{}, classificationError(raw, "negative reps")
		}
		set.Reps = models.Ptr(*rc.Reps)
	}
	if rc.RPE != nil {
		if math.IsNaN(*rc.RPE) {
			return SetValues{}, classificationError(raw, "invalid rpe")
		}
		set.RPE = models.NormalizeRPEPtr(rc.RPE)
	}
	if rc.DurationSeconds != nil {
		if *rc.DurationSeconds < 0 {
			return SetValues{}, classificationError(raw, "negative duration")
		}
		set.DurationSeconds = models.Ptr(*rc.DurationSeconds)
	}
	if rc.SetType != nil {
		set.Type = models.SetType(*rc.SetType)
		if !set.Type.Valid() {
			return SetValues{}, classificationError(raw, "unknown set type %q", *rc.SetType)
		}
	}
	return set, nil
}

// checkConsistency rejects responses whose populated fields contradict the
// command type.
func checkConsistency(raw string, cmd Command, name string) error {
	fail := func(format string, args ...any) error {
		return classificationError(raw, string(cmd.Type)+": "+format, args...)
	}
	noSet := func() error {
		if !cmd.Set.Empty() {
			return fail("carries set values")
		}
		return nil
	}

	if cmd.PlannedSets != 0 && cmd.Type != AddExercise {
		return fail("plannedSets only applies to add_exercise")
	}
	if cmd.Reference != RefNone {
		switch cmd.Type {
		case LogSet, EditLastSet, EditSet:
		default:
			return fail("reference only applies to set commands")
		}
	}

	switch cmd.Type {
	case LogSet:
		if cmd.SetNumber != 0 {
			return fail("setNumber is set")
		}
		if !cmd.Set.hasMetrics() && cmd.Reference == RefNone {
			return fail("no weight, reps, duration or reference")
		}
	case SwitchExercise, AddExercise:
		if name == "" {
			return fail("exerciseName is required")
		}
		if cmd.SetNumber != 0 {
			return fail("setNumber is set")
		}
		return noSet()
	case SkipExercise:
		if cmd.SetNumber != 0 {
			return fail("setNumber is set")
		}
		return noSet()
	case Undo:
		if name != "" || cmd.SetNumber != 0 {
			return fail("carries a target")
		}
		return noSet()
	case EditLastSet:
		if cmd.SetNumber != 0 || name != "" {
			return fail("carries an explicit target")
		}
		if cmd.Set.Empty() && cmd.Reference == RefNone {
			return fail("nothing to change")
		}
	case EditSet:
		if cmd.SetNumber == 0 {
			return fail("setNumber is required")
		}
		if cmd.Set.Empty() && cmd.Reference == RefNone {
			return fail("nothing to change")
		}
	case DeleteSet:
		return noSet()
	}
	return nil
}
