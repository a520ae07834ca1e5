package alpha

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/claude/liftlog/internal/models"
	"github.com/claude/liftlog/internal/resolver"
)

type captureMerger struct {
	sessions []models.HistorySession
}

func (c *captureMerger) Merge(ctx context.Context, sessions []models.HistorySession) error {
	c.sessions = append(c.sessions, sessions...)
	return nil
}

func newTestProvider(t *testing.T) (*Provider, *captureMerger) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	res := resolver.New(nil, nil, time.Hour, log)
	res.Load([]models.CatalogExercise{
		{ID: "BENCH", Title: "Bench Press (Barbell)"},
		{ID: "BENCH_DB", Title: "Bench Press (Dumbbell)"},
		{ID: "HACK", Title: "Hack Squat (Machine)"},
		{ID: "CALF", Title: "Standing Calf Raise (Machine)"},
	}, time.Now())
	m := &captureMerger{}
	return NewProvider(res, m, time.UTC, log), m
}

// TestImportConvertsSets verifies RIR becomes RPE, warm-ups keep their type
// and the equipment picks the matching catalog variant.
func TestImportConvertsSets(t *testing.T) {
	p, merged := newTestProvider(t)
	res, err := p.Import(context.Background(), strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}

	var bench *models.HistorySession
	for i := range merged.sessions {
		if merged.sessions[i].ExerciseID == "BENCH" {
			bench = &merged.sessions[i]
		}
	}
	if bench == nil {
		t.Fatalf("bench press not imported: %+v", merged.sessions)
	}
	if want := time.Date(2026, 2, 17, 5, 4, 0, 0, time.UTC); !bench.StartTime.Equal(want) {
		t.Errorf("start = %v, want %v", bench.StartTime, want)
	}
	if bench.WorkoutID != "alpha:2026-02-17T05:04:00Z" {
		t.Errorf("workout id = %q", bench.WorkoutID)
	}
	if len(bench.Sets) != 6 {
		t.Fatalf("sets = %d, want 6", len(bench.Sets))
	}
	if bench.Sets[0].Type != models.SetWarmup || bench.Sets[0].RPE != nil {
		t.Errorf("warm-up = %+v", bench.Sets[0])
	}
	work := bench.Sets[3]
	if work.Type != models.SetNormal || *work.RPE != 10 || *work.WeightKg != 102.5 || *work.Reps != 6 {
		t.Errorf("working set = %+v", work)
	}

	if res.Sessions != 2 {
		t.Errorf("sessions = %d, want 2", res.Sessions)
	}
	for _, name := range []string{"Hyperextensions on Roman Chair", "Hanging Leg Raises"} {
		found := false
		for _, u := range res.Unresolved {
			found = found || u == name
		}
		if !found {
			t.Errorf("%q not reported unresolved: %v", name, res.Unresolved)
		}
	}
}

func TestConvertRIRRounding(t *testing.T) {
	p, _ := newTestProvider(t)
	rir := 1.5
	out, res := p.Convert([]Session{{
		Name: "Push",
		Date: time.Date(2026, 2, 17, 5, 4, 0, 0, time.UTC),
		Exercises: []Exercise{{
			Number: 1, Name: "Bench Press", Equipment: "Dumbbells",
			Sets: []Set{{Number: 1, WeightKg: 30, Reps: 10, RIR: &rir}},
		}},
	}})
	if len(out) != 1 || res.Sets != 1 {
		t.Fatalf("out = %+v", out)
	}
	// "Bench Press (Dumbbells)" is not an exact title; the plain name resolves.
	if out[0].ExerciseID != "BENCH" && out[0].ExerciseID != "BENCH_DB" {
		t.Errorf("exercise = %q", out[0].ExerciseID)
	}
	if *out[0].Sets[0].RPE != 8.5 {
		t.Errorf("rpe = %v, want 8.5", *out[0].Sets[0].RPE)
	}
}
