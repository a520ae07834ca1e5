package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/claude/liftlog/internal/models"
	"github.com/claude/liftlog/internal/resolver"
)

var testLog = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeLLM struct {
	response string
	err      error
	calls    int
	last     Request
}

func (f *fakeLLM) Complete(ctx context.Context, req Request) (string, error) {
	f.calls++
	f.last = req
	return f.response, f.err
}

func testResolver() *resolver.Resolver {
	r := resolver.New(nil, nil, time.Hour, testLog)
	r.Load([]models.CatalogExercise{
		{ID: "79D0BB3A", Title: "Bench Press (Barbell)"},
		{ID: "D04AC939", Title: "Squat (Barbell)"},
		{ID: "F1E57334", Title: "Incline Bench Press (Dumbbell)"},
	}, time.Now())
	return r
}

// response builds a model reply with every schema field present.
func response(fields map[string]any) string {
	out := map[string]any{}
	for _, f := range schemaFields {
		out[f] = nil
	}
	out["confidence"] = 0.95
	for k, v := range fields {
		out[k] = v
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func classify(t *testing.T, raw string, cctx Context) (Command, error) {
	t.Helper()
	llm := &fakeLLM{response: raw}
	c := New(llm, testResolver(), 0.6, testLog)
	cmd, err := c.Classify(context.Background(), "utterance", cctx)
	if llm.calls != 1 {
		t.Errorf("model calls = %d, want 1", llm.calls)
	}
	return cmd, err
}

func justLogged(w float64, reps int, rpe float64) Context {
	return Context{
		Current: &CurrentExercise{ExerciseID: "79D0BB3A", Name: "Bench Press (Barbell)", NextSet: 2},
		JustLogged: &SetRef{
			ExerciseID:   "79D0BB3A",
			ExerciseName: "Bench Press (Barbell)",
			SetNumber:    1,
			Set:          models.CompletedSet{WeightKg: models.Ptr(w), Reps: models.Ptr(reps), RPE: models.Ptr(rpe), Type: models.SetNormal},
		},
	}
}

func TestClassifyExplicitLogSet(t *testing.T) {
	cmd, err := classify(t, response(map[string]any{
		"commandType":  "log_set",
		"exerciseName": "bench press",
		"weight":       100,
		"weightUnit":   "kg",
		"reps":         8,
	}), Context{})
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Type != LogSet {
		t.Errorf("type = %s", cmd.Type)
	}
	if cmd.Exercise == nil || cmd.Exercise.ID != "79D0BB3A" {
		t.Errorf("exercise = %+v", cmd.Exercise)
	}
	want := SetValues{WeightKg: models.Ptr(100.0), Reps: models.Ptr(8)}
	if diff := cmp.Diff(want, cmd.Set); diff != "" {
		t.Errorf("set (-want +got):\n%s", diff)
	}
	if cmd.LowConfidence {
		t.Error("flagged low confidence")
	}
}

func TestClassifyPoundsConverted(t *testing.T) {
	cmd, err := classify(t, response(map[string]any{
		"commandType": "log_set",
		"weight":      225,
		"weightUnit":  "lb",
		"reps":        5,
		"rpe":         8.7,
	}), Context{})
	if err != nil {
		t.Fatal(err)
	}
	want := 225 * models.KilogramsPerPound
	if math.Abs(*cmd.Set.WeightKg-want) > 1e-9 {
		t.Errorf("weight = %v, want %v", *cmd.Set.WeightKg, want)
	}
	if *cmd.Set.RPE != 8.5 {
		t.Errorf("rpe = %v, want 8.5", *cmd.Set.RPE)
	}
	if cmd.Exercise != nil {
		t.Errorf("exercise = %+v, want current", cmd.Exercise)
	}
}

// TestSameCopiesJustLogged verifies "same" reproduces the previous set's
// weight, reps and RPE exactly.
func TestSameCopiesJustLogged(t *testing.T) {
	cmd, err := classify(t, response(map[string]any{
		"commandType": "log_set",
		"reference":   "just_logged",
	}), justLogged(102.5, 6, 8.5))
	if err != nil {
		t.Fatal(err)
	}
	want := SetValues{WeightKg: models.Ptr(102.5), Reps: models.Ptr(6), RPE: models.Ptr(8.5)}
	if diff := cmp.Diff(want, cmd.Set); diff != "" {
		t.Errorf("set (-want +got):\n%s", diff)
	}
}

func TestReferenceOverride(t *testing.T) {
	cmd, err := classify(t, response(map[string]any{
		"commandType": "log_set",
		"reference":   "just_logged",
		"reps":        5,
	}), justLogged(100, 8, 8))
	if err != nil {
		t.Fatal(err)
	}
	if *cmd.Set.Reps != 5 || *cmd.Set.WeightKg != 100 {
		t.Errorf("set = %+v", cmd.Set)
	}
}

func TestLastWorkoutReference(t *testing.T) {
	cctx := Context{
		Current: &CurrentExercise{ExerciseID: "D04AC939", Name: "Squat (Barbell)", NextSet: 1},
		LastWorkout: &SetRef{ExerciseID: "D04AC939", SetNumber: 1,
			Set: models.CompletedSet{WeightKg: models.Ptr(140.0), Reps: models.Ptr(5)}},
	}
	cmd, err := classify(t, response(map[string]any{
		"commandType": "log_set",
		"reference":   "last_workout",
	}), cctx)
	if err != nil {
		t.Fatal(err)
	}
	if *cmd.Set.WeightKg != 140 || *cmd.Set.Reps != 5 || cmd.Set.RPE != nil {
		t.Errorf("set = %+v", cmd.Set)
	}
}

// TestLastWorkoutReferenceForOtherExercise verifies values from one
// exercise's last workout are never copied onto a different exercise.
func TestLastWorkoutReferenceForOtherExercise(t *testing.T) {
	cctx := Context{
		Current: &CurrentExercise{ExerciseID: "D04AC939", Name: "Squat (Barbell)", NextSet: 1},
		LastWorkout: &SetRef{ExerciseID: "D04AC939", SetNumber: 1,
			Set: models.CompletedSet{WeightKg: models.Ptr(140.0), Reps: models.Ptr(5)}},
	}
	_, err := classify(t, response(map[string]any{
		"commandType":  "log_set",
		"exerciseName": "bench press",
		"reference":    "last_workout",
	}), cctx)
	if !errors.Is(err, ErrUnresolvedReference) {
		t.Errorf("err = %v, want ErrUnresolvedReference", err)
	}

	cmd, err := classify(t, response(map[string]any{
		"commandType":  "log_set",
		"exerciseName": "squat",
		"reference":    "last_workout",
	}), cctx)
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Exercise == nil || cmd.Exercise.ID != "D04AC939" || *cmd.Set.WeightKg != 140 {
		t.Errorf("cmd = %+v", cmd)
	}
}

func TestUnresolvedReference(t *testing.T) {
	_, err := classify(t, response(map[string]any{
		"commandType": "log_set",
		"reference":   "just_logged",
	}), Context{})
	if !errors.Is(err, ErrUnresolvedReference) {
		t.Errorf("err = %v, want ErrUnresolvedReference", err)
	}
	var ce *Error
	if !errors.As(err, &ce) || ce.Raw == "" {
		t.Errorf("error does not carry raw output: %v", err)
	}
}

func TestResolutionFailure(t *testing.T) {
	_, err := classify(t, response(map[string]any{
		"commandType":  "add_exercise",
		"exerciseName": "underwater basket weaving",
	}), Context{})
	if !errors.Is(err, resolver.ErrNotFound) {
		t.Errorf("err = %v, want resolver.ErrNotFound", err)
	}
}

// TestRejectsMalformedOutput verifies every non-conforming or contradictory
// payload becomes a classification failure.
func TestRejectsMalformedOutput(t *testing.T) {
	missing := map[string]any{"commandType": "undo", "confidence": 0.9}
	missingJSON, _ := json.Marshal(missing)

	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"not json", "log a set"},
		{"fenced", "```json\n" + response(map[string]any{"commandType": "undo"}) + "\n```"},
		{"missing fields", string(missingJSON)},
		{"unknown field", strings.Replace(response(map[string]any{"commandType": "undo"}), "{", `{"extra":1,`, 1)},
		{"trailing data", response(map[string]any{"commandType": "undo"}) + "{}"},
		{"unknown type", response(map[string]any{"commandType": "celebrate"})},
		{"confidence out of range", response(map[string]any{"commandType": "undo", "confidence": 1.5})},
		{"undo with weight", response(map[string]any{"commandType": "undo", "weight": 100})},
		{"log without values", response(map[string]any{"commandType": "log_set"})},
		{"log with set number", response(map[string]any{"commandType": "log_set", "reps": 5, "setNumber": 2})},
		{"switch without name", response(map[string]any{"commandType": "switch_exercise"})},
		{"add with reps", response(map[string]any{"commandType": "add_exercise", "exerciseName": "squat", "reps": 5})},
		{"edit_set without number", response(map[string]any{"commandType": "edit_set", "reps": 5})},
		{"edit_last_set with number", response(map[string]any{"commandType": "edit_last_set", "reps": 5, "setNumber": 1})},
		{"edit nothing", response(map[string]any{"commandType": "edit_last_set"})},
		{"delete with values", response(map[string]any{"commandType": "delete_set", "reps": 5})},
		{"unit without weight", response(map[string]any{"commandType": "log_set", "reps": 5, "weightUnit": "kg"})},
		{"bad unit", response(map[string]any{"commandType": "log_set", "weight": 5, "weightUnit": "stone"})},
		{"negative reps", response(map[string]any{"commandType": "log_set", "reps": -3})},
		{"fractional reps", response(map[string]any{"commandType": "log_set", "reps": 7.5})},
		{"planned sets on log", response(map[string]any{"commandType": "log_set", "reps": 5, "plannedSets": 3})},
		{"reference on skip", response(map[string]any{"commandType": "skip_exercise", "reference": "just_logged"})},
		{"bad set type", response(map[string]any{"commandType": "log_set", "reps": 5, "setType": "giant"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := classify(t, tt.raw, justLogged(100, 8, 8))
			if !errors.Is(err, ErrClassification) {
				t.Errorf("err = %v, want ErrClassification", err)
			}
		})
	}
}

func TestAcceptsEveryCommandType(t *testing.T) {
	tests := []map[string]any{
		{"commandType": "switch_exercise", "exerciseName": "incline bench press"},
		{"commandType": "add_exercise", "exerciseName": "squat", "plannedSets": 3},
		{"commandType": "skip_exercise"},
		{"commandType": "undo"},
		{"commandType": "edit_last_set", "reps": 7},
		{"commandType": "edit_set", "setNumber": 2, "weight": 95, "weightUnit": "kg"},
		{"commandType": "delete_set", "setNumber": 3},
		{"commandType": "delete_set"},
	}
	for _, fields := range tests {
		cmd, err := classify(t, response(fields), justLogged(100, 8, 8))
		if err != nil {
			t.Errorf("%v: %v", fields, err)
			continue
		}
		if string(cmd.Type) != fields["commandType"] {
			t.Errorf("type = %s, want %v", cmd.Type, fields["commandType"])
		}
	}
}

// TestLowConfidenceApplied verifies low-confidence results are returned,
// only flagged.
func TestLowConfidenceApplied(t *testing.T) {
	cmd, err := classify(t, response(map[string]any{"commandType": "undo", "confidence": 0.2}), Context{})
	if err != nil {
		t.Fatal(err)
	}
	if !cmd.LowConfidence || cmd.Confidence != 0.2 {
		t.Errorf("cmd = %+v", cmd)
	}
}

func TestCompletionError(t *testing.T) {
	llm := &fakeLLM{err: errors.New("timeout")}
	c := New(llm, testResolver(), 0.6, testLog)
	if _, err := c.Classify(context.Background(), "bench 100 for 8", Context{}); err == nil {
		t.Fatal("expected error")
	}

	if _, err := c.Classify(context.Background(), "   ", Context{}); !errors.Is(err, ErrClassification) {
		t.Errorf("blank utterance err = %v", err)
	}
	if llm.calls != 1 {
		t.Errorf("model calls = %d, want 1", llm.calls)
	}
}

func TestRequestCarriesContextAndSchema(t *testing.T) {
	llm := &fakeLLM{response: response(map[string]any{"commandType": "undo"})}
	c := New(llm, testResolver(), 0.6, testLog)
	if _, err := c.Classify(context.Background(), "undo that", justLogged(100, 8, 8)); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"CURRENT EXERCISE:", "ROUTINE:", "JUST LOGGED:", "LAST WORKOUT:", "UTTERANCE:\nundo that"} {
		if !strings.Contains(llm.last.User, want) {
			t.Errorf("user prompt missing %q:\n%s", want, llm.last.User)
		}
	}
	if llm.last.Schema["additionalProperties"] != false {
		t.Error("schema allows additional properties")
	}
	required := llm.last.Schema["required"].([]string)
	props := llm.last.Schema["properties"].(map[string]any)
	if len(required) != len(props) {
		t.Errorf("required %d of %d properties", len(required), len(props))
	}
}

func TestBuildContext(t *testing.T) {
	start := time.Date(2026, 10, 15, 18, 0, 0, 0, time.UTC)
	doc := models.Session{
		StartTime: start,
		Exercises: []models.ExerciseEntry{
			{ExerciseID: "bench", DisplayName: "Bench", PlannedSets: make([]models.PlannedSet, 3),
				CompletedSets: []models.CompletedSet{
					{WeightKg: models.Ptr(100.0), Reps: models.Ptr(8), Seq: 1},
					{WeightKg: models.Ptr(100.0), Reps: models.Ptr(7), Seq: 3},
				}},
			{ExerciseID: "squat", DisplayName: "Squat", PlannedSets: []models.PlannedSet{{Reps: models.Ptr(5)}, {Reps: models.Ptr(5)}},
				CompletedSets: []models.CompletedSet{
					{WeightKg: models.Ptr(140.0), Reps: models.Ptr(5), Seq: 2},
				}},
		},
		CurrentIndex: 1,
	}
	hist := fakeHistory{"squat": {set(130, 5), set(135, 5)}}

	c := BuildContext(doc, hist)
	if c.Current.Name != "Squat" || c.Current.NextSet != 2 || c.Current.Planned != 2 {
		t.Errorf("current = %+v", c.Current)
	}
	if c.Current.NextTarget == nil || *c.Current.NextTarget.Reps != 5 {
		t.Errorf("next target = %+v", c.Current.NextTarget)
	}
	// Highest sequence wins even though it belongs to another exercise.
	if c.JustLogged.ExerciseID != "bench" || c.JustLogged.SetNumber != 2 || *c.JustLogged.Set.Reps != 7 {
		t.Errorf("just logged = %+v", c.JustLogged)
	}
	if c.LastWorkout == nil || *c.LastWorkout.Set.WeightKg != 135 {
		t.Errorf("last workout = %+v", c.LastWorkout)
	}
	if len(c.Routine) != 2 || !c.Routine[1].Current {
		t.Errorf("routine = %+v", c.Routine)
	}

	text := c.Render()
	for _, want := range []string{"Squat, next set: 2 of 2 planned", "> 2. Squat: 1/2 sets", "Bench set 2: weight 100 kg, reps 7", "Squat set 2: weight 135 kg, reps 5"} {
		if !strings.Contains(text, want) {
			t.Errorf("render missing %q:\n%s", want, text)
		}
	}
}

type fakeHistory map[string][]models.CompletedSet

func (f fakeHistory) MatchingSet(id string, ordinal int) (models.CompletedSet, bool) {
	sets := f[id]
	if len(sets) == 0 {
		return models.CompletedSet{}, false
	}
	if ordinal > len(sets) {
		return sets[len(sets)-1], true
	}
	return sets[ordinal-1], true
}

func (f fakeHistory) Trend(id string) (models.Trend, bool) {
	return models.Trend{}, false
}

func set(w float64, reps int) models.CompletedSet {
	return models.CompletedSet{WeightKg: models.Ptr(w), Reps: models.Ptr(reps), Type: models.SetNormal}
}

// TestOpenAIClientRequest verifies the single completion call uses
// temperature 0 and a strict JSON schema.
func TestOpenAIClientRequest(t *testing.T) {
	var (
		mu    sync.Mutex
		body  map[string]any
		calls int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if r.URL.Path != "/chat/completions" || r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("request = %s auth=%q", r.URL.Path, r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"commandType\":\"undo\"}"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("k", srv.URL, "gpt-4o-mini", 5*time.Second)
	out, err := c.Complete(context.Background(), Request{System: "s", User: "u", Schema: ResponseSchema(), SchemaName: SchemaName})
	if err != nil {
		t.Fatal(err)
	}
	if out != `{"commandType":"undo"}` {
		t.Errorf("content = %q", out)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if body["temperature"] != 0.0 {
		t.Errorf("temperature = %v, want 0", body["temperature"])
	}
	rf := body["response_format"].(map[string]any)
	schema := rf["json_schema"].(map[string]any)
	if rf["type"] != "json_schema" || schema["strict"] != true || schema["name"] != SchemaName {
		t.Errorf("response_format = %v", rf)
	}
}

func TestOpenAIClientHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOpenAIClient("k", srv.URL, "m", time.Second)
	if _, err := c.Complete(context.Background(), Request{}); err == nil {
		t.Error("expected error for 429")
	}
}
