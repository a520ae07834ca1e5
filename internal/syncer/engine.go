// Package syncer keeps the remote workout platform eventually consistent
// with the local session document.
//
// Every committed mutation schedules a debounced push of the whole document.
// Session start and session end push immediately. Failed pushes go to a
// durable queue that is drained once per connectivity restoration, and the
// in-progress document is snapshotted periodically for crash recovery.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/claude/liftlog/internal/models"
	"github.com/claude/liftlog/internal/platform"
)

// errOffline marks a push that was queued without a network attempt.
var errOffline = errors.New("platform unreachable")

// Remote is the platform write surface.
type Remote interface {
	CreateWorkout(ctx context.Context, doc models.Session) (string, error)
	UpdateWorkout(ctx context.Context, id string, doc models.Session) error
	Ping(ctx context.Context) error
}

// Store persists the retry queue and session snapshots.
type Store interface {
	UpsertPending(ctx context.Context, p models.PendingPush) error
	ListPending(ctx context.Context) ([]models.PendingPush, error)
	DeletePending(ctx context.Context, sessionID string, version int64) error
	DiscardPending(ctx context.Context, sessionID string) error
	SaveSnapshot(ctx context.Context, s models.Snapshot) error
	LatestOpenSnapshot(ctx context.Context) (models.Snapshot, bool, error)
	RemoteIDFor(ctx context.Context, sessionID string) (string, error)
	SetRemoteID(ctx context.Context, sessionID, remoteID string) error
	DeleteSnapshot(ctx context.Context, sessionID string) error
}

// Timer is a pending debounce.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. Tests replace it to fire timers by hand.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Options configures an Engine. Zero values take defaults.
type Options struct {
	Debounce         time.Duration
	SnapshotInterval time.Duration
	ProbeInterval    time.Duration
	// MaxAttempts is the number of consecutive failures after which a queued
	// push is reported as stalled.
	MaxAttempts int
	AfterFunc   AfterFunc
	// NewBackOff paces retries of retryable platform errors while draining.
	NewBackOff func() backoff.BackOff
	RetryTries uint
}

func (o *Options) setDefaults() {
	if o.Debounce <= 0 {
		o.Debounce = 2 * time.Second
	}
	if o.SnapshotInterval <= 0 {
		o.SnapshotInterval = 30 * time.Second
	}
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = 15 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.AfterFunc == nil {
		o.AfterFunc = realAfterFunc
	}
	if o.NewBackOff == nil {
		o.NewBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	if o.RetryTries == 0 {
		o.RetryTries = 3
	}
}

// tracked is the sync state of one session known to this process.
type tracked struct {
	id          string
	remoteID    string
	latest      models.Session
	pushed      int64 // highest version the platform acknowledged
	snapshotted int64
	attempts    int
	timer       Timer
	ended       bool
}

func (t *tracked) dirty() bool {
	return t.latest.Version > t.pushed
}

// Engine implements session.Observer and pushes session state to the
// platform.
type Engine struct {
	remote  Remote
	store   Store
	opts    Options
	log     *slog.Logger
	monitor *Monitor
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// pushMu serializes remote writes so states reach the platform in
	// version order.
	pushMu sync.Mutex

	mu         sync.Mutex
	sessions   map[string]*tracked
	closed     bool
	lastErr    string
	lastErrAt  time.Time
	lastPushAt time.Time

	// retryTimer replays the queue after a retryable rejection while the
	// platform stays reachable, paced by retryBackOff.
	retryTimer   Timer
	retryBackOff backoff.BackOff
}

// New creates an Engine.
func New(remote Remote, store Store, opts Options, log *slog.Logger) *Engine {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		remote:   remote,
		store:    store,
		opts:     opts,
		log:      log,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*tracked),
	}
	e.retryBackOff = opts.NewBackOff()
	e.monitor = NewMonitor(remote.Ping, opts.ProbeInterval, e.connectivityRestored, log)
	return e
}

// Monitor returns the connectivity monitor driving queue drains.
func (e *Engine) Monitor() *Monitor {
	return e.monitor
}

// Run probes connectivity and writes periodic snapshots until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.monitor.Run(gctx) })
	g.Go(func() error { return e.runSnapshots(gctx) })
	return g.Wait()
}

// Close stops debounce timers, waits for in-flight pushes, then pushes
// any state still waiting on a debounce and saves snapshots.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	var dirty []string
	for id, t := range e.sessions {
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
		if t.dirty() {
			dirty = append(dirty, id)
		}
	}
	e.mu.Unlock()

	e.wg.Wait()
	for _, id := range dirty {
		e.push(e.ctx, id)
	}
	if err := e.SaveSnapshots(e.ctx); err != nil {
		e.log.Error("saving snapshots on close", "error", err)
	}
	e.cancel()
}

// SessionStarted creates the remote workout immediately.
func (e *Engine) SessionStarted(doc models.Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := doc.ID.String()
	e.sessions[id] = &tracked{id: id, latest: doc.Clone()}
	e.goLocked(func(ctx context.Context) { e.push(ctx, id) })
}

// SessionChanged schedules a debounced push, resetting any pending one.
func (e *Engine) SessionChanged(doc models.Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.trackLocked(doc)
	t.latest = doc.Clone()
	e.debounceLocked(t)
}

// SessionEnded supersedes any pending debounce with an immediate final push.
func (e *Engine) SessionEnded(doc models.Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.trackLocked(doc)
	t.latest = doc.Clone()
	t.ended = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	id := t.id
	e.goLocked(func(ctx context.Context) {
		if err := e.saveSnapshot(ctx, id); err != nil {
			e.log.Error("saving final snapshot", "session_id", id, "error", err)
		}
		e.push(ctx, id)
	})
}

// SessionDiscarded forgets a session and its queued pushes. A workout already
// created remotely is left in place.
func (e *Engine) SessionDiscarded(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sid := id.String()
	if t, ok := e.sessions[sid]; ok {
		if t.timer != nil {
			t.timer.Stop()
		}
		if t.remoteID != "" {
			e.log.Warn("discarded session remains on platform", "session_id", sid, "remote_id", t.remoteID)
		}
		delete(e.sessions, sid)
	}
	e.goLocked(func(ctx context.Context) {
		e.pushMu.Lock()
		defer e.pushMu.Unlock()
		if err := e.store.DiscardPending(ctx, sid); err != nil {
			e.log.Error("discarding queued push", "session_id", sid, "error", err)
		}
		if err := e.store.DeleteSnapshot(ctx, sid); err != nil {
			e.log.Error("deleting snapshot", "session_id", sid, "error", err)
		}
	})
}

// SessionRestored schedules a push of a session recovered from a snapshot.
func (e *Engine) SessionRestored(doc models.Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.trackLocked(doc)
	t.latest = doc.Clone()
	e.debounceLocked(t)
}

// Recover loads the most recent snapshot of a session that never ended and
// primes its remote identifier. The caller restores the returned document
// into the session manager.
func (e *Engine) Recover(ctx context.Context) (models.Session, bool, error) {
	snap, ok, err := e.store.LatestOpenSnapshot(ctx)
	if err != nil || !ok {
		return models.Session{}, false, err
	}
	id := snap.Document.ID.String()

	e.mu.Lock()
	e.sessions[id] = &tracked{
		id:          id,
		remoteID:    snap.RemoteID,
		latest:      snap.Document.Clone(),
		snapshotted: snap.Document.Version,
	}
	e.mu.Unlock()

	e.log.Info("recovered session snapshot", "session_id", id, "remote_id", snap.RemoteID,
		"version", snap.Document.Version, "saved_at", snap.SavedAt)
	return snap.Document, true, nil
}

func (e *Engine) trackLocked(doc models.Session) *tracked {
	id := doc.ID.String()
	t, ok := e.sessions[id]
	if !ok {
		t = &tracked{id: id}
		e.sessions[id] = t
	}
	return t
}

func (e *Engine) debounceLocked(t *tracked) {
	if e.closed {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	id := t.id
	t.timer = e.opts.AfterFunc(e.opts.Debounce, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.goLocked(func(ctx context.Context) { e.push(ctx, id) })
	})
}

// goLocked runs fn in a tracked goroutine unless the engine is closed.
func (e *Engine) goLocked(fn func(ctx context.Context)) {
	if e.closed {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.ctx)
	}()
}

// push sends the latest state of session id if the platform has not
// acknowledged it yet. Failures are queued.
func (e *Engine) push(ctx context.Context, id string) {
	e.pushMu.Lock()
	defer e.pushMu.Unlock()

	e.mu.Lock()
	t, ok := e.sessions[id]
	if !ok || !t.dirty() {
		e.mu.Unlock()
		return
	}
	p := models.PendingPush{
		SessionID: id,
		RemoteID:  t.remoteID,
		Document:  t.latest.Clone(),
		Final:     t.ended,
	}
	e.mu.Unlock()

	if online, known := e.monitor.State(); known && !online {
		e.enqueue(ctx, p, errOffline)
		return
	}
	if err := e.send(ctx, &p); err != nil {
		e.enqueue(ctx, p, err)
	}
}

// send creates or updates the remote workout and records the result.
// Callers hold pushMu.
func (e *Engine) send(ctx context.Context, p *models.PendingPush) error {
	if p.RemoteID == "" {
		remoteID, err := e.remote.CreateWorkout(ctx, p.Document)
		if err != nil {
			return err
		}
		p.RemoteID = remoteID
		e.mu.Lock()
		if t, ok := e.sessions[p.SessionID]; ok {
			t.remoteID = remoteID
		}
		e.mu.Unlock()
		if err := e.saveSnapshot(ctx, p.SessionID); err != nil {
			e.log.Error("saving snapshot after create", "session_id", p.SessionID, "error", err)
		}
		if err := e.store.SetRemoteID(ctx, p.SessionID, remoteID); err != nil {
			e.log.Error("recording remote id", "session_id", p.SessionID, "error", err)
		}
		e.log.Info("workout created", "session_id", p.SessionID, "remote_id", remoteID, "version", p.Document.Version)
	} else {
		if err := e.remote.UpdateWorkout(ctx, p.RemoteID, p.Document); err != nil {
			return err
		}
		e.log.Debug("workout updated", "session_id", p.SessionID, "remote_id", p.RemoteID, "version", p.Document.Version)
	}
	e.acknowledge(ctx, *p)
	return nil
}

func (e *Engine) acknowledge(ctx context.Context, p models.PendingPush) {
	version := p.Document.Version
	done := p.Final

	e.mu.Lock()
	e.lastPushAt = e.now()
	if t, ok := e.sessions[p.SessionID]; ok {
		if version > t.pushed {
			t.pushed = version
		}
		t.attempts = 0
		done = t.ended && !t.dirty()
		if done {
			delete(e.sessions, p.SessionID)
		}
	}
	e.mu.Unlock()

	if err := e.store.DeletePending(ctx, p.SessionID, version); err != nil {
		e.log.Error("clearing queued push", "session_id", p.SessionID, "error", err)
	}
	if done {
		if err := e.store.DeleteSnapshot(ctx, p.SessionID); err != nil {
			e.log.Error("deleting snapshot", "session_id", p.SessionID, "error", err)
		}
		e.log.Info("session synced", "session_id", p.SessionID, "remote_id", p.RemoteID, "version", version)
	}
}

// enqueue stores p in the durable queue after a failed or skipped push.
func (e *Engine) enqueue(ctx context.Context, p models.PendingPush, cause error) {
	attempted := !errors.Is(cause, errOffline)

	e.mu.Lock()
	if t, ok := e.sessions[p.SessionID]; ok {
		if attempted {
			t.attempts++
		}
		p.Attempts = t.attempts
	} else if attempted {
		p.Attempts++
	}
	e.lastErr = cause.Error()
	e.lastErrAt = e.now()
	e.mu.Unlock()

	p.LastError = cause.Error()
	if err := e.store.UpsertPending(ctx, p); err != nil {
		e.log.Error("queueing push", "session_id", p.SessionID, "error", err)
		return
	}
	if attempted && platform.IsNetworkError(cause) {
		e.monitor.MarkOffline(cause)
	}
	var he *platform.HTTPError
	if errors.As(cause, &he) && he.Retryable() {
		e.mu.Lock()
		e.scheduleRetryLocked()
		e.mu.Unlock()
	}
	e.log.Warn("push queued", "session_id", p.SessionID, "version", p.Document.Version,
		"attempts", p.Attempts, "error", cause)
}
