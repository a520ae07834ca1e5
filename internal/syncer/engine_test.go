package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/goleak"

	"github.com/claude/liftlog/internal/models"
	"github.com/claude/liftlog/internal/platform"
	"github.com/claude/liftlog/internal/session"
	"github.com/claude/liftlog/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testLog = slog.New(slog.NewTextHandler(io.Discard, nil))

type push struct {
	remoteID string
	version  int64
	ended    bool
}

type fakeRemote struct {
	mu       sync.Mutex
	fail     error
	failNext []error
	pingErr  error
	nextID   int
	creates  []push
	updates  []push
}

func (f *fakeRemote) writeErr() error {
	if len(f.failNext) > 0 {
		err := f.failNext[0]
		f.failNext = f.failNext[1:]
		return err
	}
	return f.fail
}

func (f *fakeRemote) CreateWorkout(ctx context.Context, doc models.Session) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writeErr(); err != nil {
		return "", err
	}
	f.nextID++
	id := "w" + strconv.Itoa(f.nextID)
	f.creates = append(f.creates, push{remoteID: id, version: doc.Version, ended: doc.EndTime != nil})
	return id, nil
}

func (f *fakeRemote) UpdateWorkout(ctx context.Context, id string, doc models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writeErr(); err != nil {
		return err
	}
	f.updates = append(f.updates, push{remoteID: id, version: doc.Version, ended: doc.EndTime != nil})
	return nil
}

func (f *fakeRemote) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeRemote) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
	f.pingErr = err
}

func (f *fakeRemote) pushes() (creates, updates []push) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]push(nil), f.creates...), append([]push(nil), f.updates...)
}

// fakeClock hands out timers that only fire when the test says so.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, f: f}
	c.timers = append(c.timers, t)
	return t
}

// fire runs every active timer and returns how many fired.
func (c *fakeClock) fire() int {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
	return len(due)
}

type harness struct {
	engine *Engine
	mgr    *session.Manager
	db     *storage.DB
	clock  *fakeClock
	remote *fakeRemote
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	h := &harness{db: db, clock: &fakeClock{}, remote: &fakeRemote{}}
	h.engine = New(h.remote, db, Options{
		AfterFunc:   h.clock.AfterFunc,
		MaxAttempts: 2,
		NewBackOff:  func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}, testLog)
	t.Cleanup(h.engine.Close)
	h.mgr = session.NewManager(h.engine, testLog)
	return h
}

// settle waits for background pushes started so far.
func (h *harness) settle() {
	h.engine.wg.Wait()
}

func (h *harness) logSet(t *testing.T, reps int) models.Session {
	t.Helper()
	doc, err := h.mgr.LogSet(session.Exercise{ID: "bench", Name: "Bench Press"},
		session.SetInput{WeightKg: models.Ptr(100.0), Reps: models.Ptr(reps)})
	if err != nil {
		t.Fatalf("LogSet: %v", err)
	}
	return doc
}

func (h *harness) start(t *testing.T) models.Session {
	t.Helper()
	doc, err := h.mgr.Start(session.StartOptions{Title: "Push"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.settle()
	return doc
}

func TestStartCreatesImmediately(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	creates, updates := h.remote.pushes()
	if len(creates) != 1 || creates[0].version != 1 {
		t.Fatalf("creates = %+v, want one at version 1", creates)
	}
	if len(updates) != 0 {
		t.Errorf("updates = %+v", updates)
	}
	if len(h.clock.timers) != 0 {
		t.Errorf("start scheduled %d debounce timers", len(h.clock.timers))
	}
}

// TestBurstCoalesces verifies N mutations inside the debounce window produce
// one update carrying the Nth state.
func TestBurstCoalesces(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	var last models.Session
	for i := 0; i < 3; i++ {
		last = h.logSet(t, 8-i)
	}
	h.settle()
	if _, updates := h.remote.pushes(); len(updates) != 0 {
		t.Fatalf("pushed before debounce fired: %+v", updates)
	}

	if n := h.clock.fire(); n != 1 {
		t.Errorf("%d timers fired, want 1 (each mutation resets the debounce)", n)
	}
	h.settle()

	_, updates := h.remote.pushes()
	if len(updates) != 1 || updates[0].version != last.Version || updates[0].remoteID != "w1" {
		t.Fatalf("updates = %+v, want one at version %d", updates, last.Version)
	}

	// A stale timer firing again pushes nothing.
	h.engine.mu.Lock()
	h.engine.goLocked(func(ctx context.Context) { h.engine.push(ctx, last.ID.String()) })
	h.engine.mu.Unlock()
	h.settle()
	if _, updates := h.remote.pushes(); len(updates) != 1 {
		t.Errorf("duplicate push of acknowledged state: %+v", updates)
	}
}

func TestFinishSupersedesDebounce(t *testing.T) {
	h := newHarness(t)
	doc := h.start(t)
	h.logSet(t, 8)
	h.logSet(t, 8)

	final, err := h.mgr.Finish("")
	if err != nil {
		t.Fatal(err)
	}
	h.settle()

	_, updates := h.remote.pushes()
	if len(updates) != 1 || updates[0].version != final.Version || !updates[0].ended {
		t.Fatalf("updates = %+v, want one final push at version %d", updates, final.Version)
	}
	if n := h.clock.fire(); n != 0 {
		t.Errorf("%d debounce timers survived session end", n)
	}

	if _, ok, _ := h.db.LatestOpenSnapshot(context.Background()); ok {
		t.Error("open snapshot remains after final push")
	}
	if id, _ := h.db.RemoteIDFor(context.Background(), doc.ID.String()); id != "" {
		t.Errorf("snapshot of synced session kept with remote id %q", id)
	}
	st, err := h.engine.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.QueueDepth != 0 || len(st.Sessions) != 0 {
		t.Errorf("status = %+v", st)
	}
}

// TestOfflineQueueDrainsOnce verifies pushes made while offline are queued,
// coalesced per session and drained once to the final in-memory state.
func TestOfflineQueueDrainsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.setFail(errors.New("dial tcp: network is unreachable"))

	h.start(t)
	var last models.Session
	for i := 0; i < 3; i++ {
		last = h.logSet(t, 8)
		h.clock.fire()
		h.settle()
	}

	if creates, updates := h.remote.pushes(); len(creates)+len(updates) != 0 {
		t.Fatalf("pushes reached platform while offline: %+v %+v", creates, updates)
	}
	pending, err := h.db.ListPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Document.Version != last.Version {
		t.Fatalf("pending = %+v, want one entry at version %d", pending, last.Version)
	}
	if pending[0].Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (only the create reached the network)", pending[0].Attempts)
	}

	if h.engine.Monitor().Check(ctx) {
		t.Fatal("probe restored connectivity while offline")
	}

	h.remote.setFail(nil)
	if !h.engine.Monitor().Check(ctx) {
		t.Fatal("probe did not report restoration")
	}
	h.settle()
	if h.engine.Monitor().Check(ctx) {
		t.Error("second successful probe reported another restoration")
	}
	h.settle()

	creates, updates := h.remote.pushes()
	if len(creates) != 1 || creates[0].version != last.Version {
		t.Errorf("creates = %+v, want one carrying version %d", creates, last.Version)
	}
	if len(updates) != 0 {
		t.Errorf("updates = %+v, want none", updates)
	}
	if pending, _ := h.db.ListPending(ctx); len(pending) != 0 {
		t.Errorf("queue not drained: %+v", pending)
	}
	if id, _ := h.db.RemoteIDFor(ctx, last.ID.String()); id != "w1" {
		t.Errorf("remote id = %q, want w1", id)
	}
}

func TestStalledAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.setFail(&platform.HTTPError{Method: http.MethodPost, Path: "/v1/workouts", StatusCode: http.StatusBadRequest, Body: "invalid"})

	h.start(t)
	st, err := h.engine.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Stalled || st.QueueDepth != 1 || st.LastError == "" {
		t.Fatalf("after one failure status = %+v", st)
	}
	if online, known := h.engine.Monitor().State(); known && !online {
		t.Error("HTTP rejection marked platform offline")
	}

	h.logSet(t, 5)
	h.clock.fire()
	h.settle()

	st, err = h.engine.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Stalled || st.QueueDepth != 1 {
		t.Errorf("status = %+v, want stalled with one queued push", st)
	}
}

// TestDrainRetriesRetryableStatus verifies a queued update survives one 503
// and is sent exactly once.
func TestDrainRetriesRetryableStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.start(t)

	// Queue an update by failing with a network error.
	h.remote.setFail(errors.New("connection reset"))
	h.logSet(t, 8)
	h.clock.fire()
	h.settle()

	h.remote.setFail(nil)
	h.remote.mu.Lock()
	h.remote.failNext = []error{&platform.HTTPError{Method: http.MethodPut, Path: "/v1/workouts/w1", StatusCode: http.StatusServiceUnavailable}}
	h.remote.mu.Unlock()
	sent, err := h.engine.Drain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sent != 1 {
		t.Errorf("sent = %d, want 1", sent)
	}
	_, updates := h.remote.pushes()
	if len(updates) != 1 || updates[0].version != doc.Version+1 {
		t.Errorf("updates = %+v", updates)
	}

	// Nothing left: draining again sends nothing.
	if sent, err := h.engine.Drain(ctx); err != nil || sent != 0 {
		t.Errorf("second drain sent %d, err %v", sent, err)
	}
}

// TestRejectedFinalPushRetriedWhileOnline verifies a final push rejected with
// a retryable status is replayed on a backoff timer without any
// connectivity edge.
func TestRejectedFinalPushRetriedWhileOnline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if !h.engine.Monitor().Check(ctx) {
		t.Fatal("first probe did not report reachable")
	}
	h.settle()
	h.start(t)
	h.logSet(t, 8)

	unavailable := func() error {
		return &platform.HTTPError{Method: http.MethodPut, Path: "/v1/workouts/w1", StatusCode: http.StatusServiceUnavailable}
	}
	// One failure on the final push, then three more used up by the first
	// replay.
	h.remote.mu.Lock()
	h.remote.failNext = []error{unavailable(), unavailable(), unavailable(), unavailable()}
	h.remote.mu.Unlock()

	final, err := h.mgr.Finish("")
	if err != nil {
		t.Fatal(err)
	}
	h.settle()
	if st, _ := h.engine.Status(ctx); st.QueueDepth != 1 {
		t.Fatalf("queue depth = %d, want 1", st.QueueDepth)
	}

	for i := 0; i < 3; i++ {
		h.engine.Monitor().Check(ctx)
	}
	h.settle()
	if _, updates := h.remote.pushes(); len(updates) != 0 {
		t.Fatalf("healthy probes pushed %+v", updates)
	}

	if n := h.clock.fire(); n != 1 {
		t.Fatalf("%d retry timers fired, want 1", n)
	}
	h.settle()
	if _, updates := h.remote.pushes(); len(updates) != 0 {
		t.Fatalf("updates after failed replay = %+v", updates)
	}

	if n := h.clock.fire(); n != 1 {
		t.Fatalf("%d retry timers fired after failed replay, want 1", n)
	}
	h.settle()

	_, updates := h.remote.pushes()
	if len(updates) != 1 || updates[0].version != final.Version || !updates[0].ended {
		t.Fatalf("updates = %+v, want the final push at version %d", updates, final.Version)
	}
	if st, _ := h.engine.Status(ctx); st.QueueDepth != 0 {
		t.Errorf("queue depth = %d after replay", st.QueueDepth)
	}
	if n := h.clock.fire(); n != 0 {
		t.Errorf("%d timers armed after the queue drained", n)
	}
	if h.engine.Monitor().Restorations() != 1 {
		t.Errorf("restorations = %d, want 1", h.engine.Monitor().Restorations())
	}
}

func TestRecoverRestoresSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.start(t)
	doc := h.logSet(t, 8)
	if err := h.engine.SaveSnapshots(ctx); err != nil {
		t.Fatal(err)
	}

	// A new process over the same database.
	h2 := &harness{db: h.db, clock: &fakeClock{}, remote: &fakeRemote{nextID: 1}}
	h2.engine = New(h2.remote, h.db, Options{AfterFunc: h2.clock.AfterFunc}, testLog)
	defer h2.engine.Close()
	h2.mgr = session.NewManager(h2.engine, testLog)

	got, ok, err := h2.engine.Recover(ctx)
	if err != nil || !ok {
		t.Fatalf("Recover = %v, %v", ok, err)
	}
	if got.Version != doc.Version || got.TotalCompletedSets() != 1 {
		t.Errorf("recovered version %d with %d sets", got.Version, got.TotalCompletedSets())
	}
	if err := h2.mgr.Restore(got); err != nil {
		t.Fatal(err)
	}
	h2.clock.fire()
	h2.engine.wg.Wait()

	creates, updates := h2.remote.pushes()
	if len(creates) != 0 {
		t.Errorf("recovered session created again: %+v", creates)
	}
	if len(updates) != 1 || updates[0].remoteID != "w1" || updates[0].version != doc.Version {
		t.Errorf("updates = %+v", updates)
	}
}

func TestDiscardForgetsSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.remote.setFail(errors.New("offline"))
	doc := h.start(t)
	h.logSet(t, 8)

	if err := h.mgr.Discard(); err != nil {
		t.Fatal(err)
	}
	h.settle()
	if n := h.clock.fire(); n != 0 {
		t.Errorf("%d timers fired after discard", n)
	}
	h.settle()

	if pending, _ := h.db.ListPending(ctx); len(pending) != 0 {
		t.Errorf("pending = %+v", pending)
	}
	if id, _ := h.db.RemoteIDFor(ctx, doc.ID.String()); id != "" {
		t.Errorf("remote id = %q", id)
	}
}

func TestSaveSnapshotsOnlyWhenChanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.start(t)
	doc := h.logSet(t, 8)

	if err := h.engine.SaveSnapshots(ctx); err != nil {
		t.Fatal(err)
	}
	snap, ok, err := h.db.LatestOpenSnapshot(ctx)
	if err != nil || !ok {
		t.Fatalf("snapshot = %v, %v", ok, err)
	}
	if snap.Document.Version != doc.Version || snap.RemoteID != "w1" {
		t.Errorf("snapshot version %d remote %q", snap.Document.Version, snap.RemoteID)
	}

	h.engine.mu.Lock()
	snapshotted := h.engine.sessions[doc.ID.String()].snapshotted
	h.engine.mu.Unlock()
	if snapshotted != doc.Version {
		t.Errorf("snapshotted = %d, want %d", snapshotted, doc.Version)
	}
}

func TestMonitorRestorationEdges(t *testing.T) {
	var (
		mu    sync.Mutex
		err   error
		calls int
	)
	m := NewMonitor(func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		return err
	}, time.Hour, func() { calls++ }, testLog)

	ctx := context.Background()
	m.Check(ctx) // first success counts
	m.Check(ctx)
	mu.Lock()
	err = errors.New("down")
	mu.Unlock()
	m.Check(ctx)
	m.Check(ctx)
	mu.Lock()
	err = nil
	mu.Unlock()
	m.Check(ctx)
	m.MarkOffline(errors.New("push failed"))
	m.Check(ctx)

	if calls != 3 || m.Restorations() != 3 {
		t.Errorf("restorations = %d (callbacks %d), want 3", m.Restorations(), calls)
	}
}
