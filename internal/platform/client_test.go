package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/claude/liftlog/internal/models"
)

var testLog = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestClient(url string) *Client {
	c := NewClient(url, "secret", 2, 5*time.Second, testLog)
	c.SetReadBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }, 3)
	return c
}

func sampleDoc() models.Session {
	start := time.Date(2026, 10, 15, 18, 0, 0, 0, time.UTC)
	return models.Session{
		ID:        uuid.New(),
		Title:     "Push",
		StartTime: start,
		Exercises: []models.ExerciseEntry{
			{
				ExerciseID:  "79D0BB3A",
				DisplayName: "Bench Press (Barbell)",
				CompletedSets: []models.CompletedSet{
					{WeightKg: models.Ptr(100.0), Reps: models.Ptr(8), RPE: models.Ptr(7.3), Type: models.SetNormal, Timestamp: start.Add(5 * time.Minute)},
					{WeightKg: models.Ptr(100.0), Reps: models.Ptr(8), RPE: models.Ptr(11.0), Type: models.SetFailure, Timestamp: start.Add(9 * time.Minute)},
				},
			},
			{
				ExerciseID:  "PLANNED",
				PlannedSets: []models.PlannedSet{{Reps: models.Ptr(10)}},
			},
		},
	}
}

// TestCreateWorkoutWireFormat verifies the write wrapper, snake_case fields,
// RPE normalization and single-element array response handling.
func TestCreateWorkoutWireFormat(t *testing.T) {
	var (
		mu  sync.Mutex
		got map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Method != http.MethodPost || r.URL.Path != "/v1/workouts" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("api-key") != "secret" {
			t.Errorf("api-key = %q", r.Header.Get("api-key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
			return
		}
		w.Write([]byte(`{"workout":[{"id":"remote-1","title":"Push"}]}`))
	}))
	defer srv.Close()

	id, err := newTestClient(srv.URL).CreateWorkout(context.Background(), sampleDoc())
	if err != nil {
		t.Fatal(err)
	}
	if id != "remote-1" {
		t.Errorf("id = %q, want remote-1", id)
	}

	mu.Lock()
	defer mu.Unlock()
	workout, ok := got["workout"].(map[string]any)
	if !ok {
		t.Fatalf("body not wrapped under workout: %v", got)
	}
	if workout["start_time"] != "2026-10-15T18:00:00Z" {
		t.Errorf("start_time = %v", workout["start_time"])
	}
	// Open session: end time is the latest set.
	if workout["end_time"] != "2026-10-15T18:09:00Z" {
		t.Errorf("end_time = %v", workout["end_time"])
	}
	exercises := workout["exercises"].([]any)
	if len(exercises) != 1 {
		t.Fatalf("exercises = %d, want 1 (planned-only omitted)", len(exercises))
	}
	ex := exercises[0].(map[string]any)
	if ex["exercise_template_id"] != "79D0BB3A" {
		t.Errorf("exercise_template_id = %v", ex["exercise_template_id"])
	}
	sets := ex["sets"].([]any)
	first := sets[0].(map[string]any)
	if first["weight_kg"] != 100.0 || first["reps"] != 8.0 || first["type"] != "normal" {
		t.Errorf("first set = %v", first)
	}
	if first["rpe"] != 7.5 {
		t.Errorf("rpe = %v, want 7.5", first["rpe"])
	}
	if v, present := first["duration_seconds"]; !present || v != nil {
		t.Errorf("duration_seconds = %v (present %v), want null", v, present)
	}
	second := sets[1].(map[string]any)
	if second["rpe"] != 10.0 || second["type"] != "failure" {
		t.Errorf("second set = %v", second)
	}
}

func TestUpdateWorkout(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPut || r.URL.Path != "/v1/workouts/remote-1" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"workout":[{"id":"remote-1"}]}`))
	}))
	defer srv.Close()

	if err := newTestClient(srv.URL).UpdateWorkout(context.Background(), "remote-1", sampleDoc()); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

// TestWriteDoesNotRetry verifies create/update surface the first failure so
// the sync queue owns retrying.
func TestWriteDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).CreateWorkout(context.Background(), sampleDoc())
	var he *HTTPError
	if !errors.As(err, &he) || he.StatusCode != 500 {
		t.Fatalf("err = %v, want HTTPError 500", err)
	}
	if IsNetworkError(err) {
		t.Error("HTTP error classified as network error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestEmptyWriteResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"workout":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).CreateWorkout(context.Background(), sampleDoc())
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Errorf("err = %v, want DecodeError", err)
	}
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := newTestClient(url).Ping(context.Background())
	if !IsNetworkError(err) {
		t.Errorf("IsNetworkError(%v) = false", err)
	}
}

// TestExerciseTemplatesPagesToExhaustion verifies every page is read.
func TestExerciseTemplatesPagesToExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if r.URL.Query().Get("pageSize") != "2" {
			t.Errorf("pageSize = %s", r.URL.Query().Get("pageSize"))
		}
		fmt.Fprintf(w, `{"page":%d,"page_count":3,"exercise_templates":[{"id":"t%d","title":"Ex %d","is_custom":%v}]}`,
			page, page, page, page == 3)
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).ExerciseTemplates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[2].ID != "t3" || !got[2].IsCustom {
		t.Errorf("templates = %+v", got)
	}
}

// TestReadRetriesServerErrors verifies reads retry 5xx but not 4xx.
func TestReadRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"workout_count":4}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if _, err := c.read(context.Background(), "/v1/workouts/count", nil); err != nil {
		t.Fatalf("read: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}

	calls.Store(0)
	srv4 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv4.Close()
	_, err := newTestClient(srv4.URL).ExerciseTemplates(context.Background())
	var he *HTTPError
	if !errors.As(err, &he) || he.StatusCode != 401 {
		t.Errorf("err = %v, want HTTPError 401", err)
	}
	if calls.Load() != 1 {
		t.Errorf("4xx calls = %d, want 1", calls.Load())
	}
}

// TestRecentSessionsStopsAtWindow verifies paging stops once workouts older
// than the window appear, and that each exercise becomes a history session.
func TestRecentSessionsStopsAtWindow(t *testing.T) {
	now := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	pages := map[string]string{
		"1": fmt.Sprintf(`{"page":1,"page_count":5,"workouts":[
			{"id":"w1","start_time":%q,"exercises":[
				{"index":0,"title":"Bench","exercise_template_id":"bench","sets":[{"type":"normal","weight_kg":100,"reps":8,"rpe":8}]},
				{"index":1,"title":"Row","exercise_template_id":"row","sets":[{"type":"warmup","weight_kg":40,"reps":12}]}]}]}`,
			now.Add(-24*time.Hour).Format(time.RFC3339)),
		"2": fmt.Sprintf(`{"page":2,"page_count":5,"workouts":[
			{"id":"w2","start_time":%q,"exercises":[{"index":0,"exercise_template_id":"bench","sets":[{"type":"normal","reps":5}]}]},
			{"id":"w3","start_time":%q,"exercises":[{"index":0,"exercise_template_id":"bench","sets":[{"type":"normal","reps":5}]}]}]}`,
			now.Add(-48*time.Hour).Format(time.RFC3339), now.Add(-200*24*time.Hour).Format(time.RFC3339)),
	}
	var (
		mu        sync.Mutex
		requested []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Query().Get("page")
		mu.Lock()
		requested = append(requested, p)
		mu.Unlock()
		w.Write([]byte(pages[p]))
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).RecentSessions(context.Background(), now.Add(-90*24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(requested) != 2 {
		t.Errorf("pages requested = %v, want 2", requested)
	}
	if len(got) != 3 {
		t.Fatalf("sessions = %d, want 3", len(got))
	}
	if got[1].ExerciseID != "row" || got[1].Sets[0].Type != models.SetWarmup {
		t.Errorf("row session = %+v", got[1])
	}
	if *got[0].Sets[0].RPE != 8 {
		t.Errorf("rpe = %v", *got[0].Sets[0].RPE)
	}
}

func TestHistoryChanges(t *testing.T) {
	since := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/workouts/events" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("since") != "2026-10-01T00:00:00Z" {
			t.Errorf("since = %s", r.URL.Query().Get("since"))
		}
		w.Write([]byte(`{"page":1,"page_count":1,"events":[
			{"type":"updated","workout":{"id":"w9","start_time":"2026-10-02T10:00:00Z","exercises":[{"exercise_template_id":"squat","sets":[{"type":"normal","weight_kg":140,"reps":5}]}]}},
			{"type":"deleted","id":"w3","deleted_at":"2026-10-03T10:00:00Z"}]}`))
	}))
	defer srv.Close()

	ch, err := newTestClient(srv.URL).HistoryChanges(context.Background(), since)
	if err != nil {
		t.Fatal(err)
	}
	if len(ch.Updated) != 1 || ch.Updated[0].WorkoutID != "w9" {
		t.Errorf("updated = %+v", ch.Updated)
	}
	if len(ch.Deleted) != 1 || ch.Deleted[0] != "w3" {
		t.Errorf("deleted = %v", ch.Deleted)
	}
}

func TestToWireFinishedSession(t *testing.T) {
	doc := sampleDoc()
	end := doc.StartTime.Add(time.Hour)
	doc.EndTime = &end
	doc.Description = "Avg HR 120"

	in := ToWire(doc)
	if !in.EndTime.Equal(end) {
		t.Errorf("end = %v, want %v", in.EndTime, end)
	}
	if in.Description != "Avg HR 120" {
		t.Errorf("description = %q", in.Description)
	}
	if in.IsPrivate {
		t.Error("workout marked private")
	}
}
