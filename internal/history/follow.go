package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/claude/liftlog/internal/models"
)

// Syncer is the part of the Cache a Follower drives.
type Syncer interface {
	Sync(ctx context.Context) error
}

// Follower mirrors finished sessions into the cache. When a session ends it
// waits for delay, giving the final push time to land, then runs an
// incremental Sync. A second end inside the delay restarts the wait.
//
// Follower implements session.Observer; its methods never block.
type Follower struct {
	cache Syncer
	delay time.Duration
	log   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

// NewFollower creates a Follower.
func NewFollower(cache Syncer, delay time.Duration, log *slog.Logger) *Follower {
	ctx, cancel := context.WithCancel(context.Background())
	return &Follower{cache: cache, delay: delay, log: log, ctx: ctx, cancel: cancel}
}

func (f *Follower) SessionStarted(models.Session)  {}
func (f *Follower) SessionChanged(models.Session)  {}
func (f *Follower) SessionDiscarded(uuid.UUID)     {}
func (f *Follower) SessionRestored(models.Session) {}

// SessionEnded schedules the post-session sync.
func (f *Follower) SessionEnded(doc models.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	if f.timer != nil {
		f.timer.Stop()
	}
	f.log.Debug("history sync scheduled", "session_id", doc.ID, "delay", f.delay)
	f.timer = time.AfterFunc(f.delay, f.run)
}

func (f *Follower) run() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.timer = nil
	f.wg.Add(1)
	f.mu.Unlock()
	defer f.wg.Done()

	if err := f.cache.Sync(f.ctx); err != nil && f.ctx.Err() == nil {
		f.log.Warn("post-session history sync failed", "error", err)
	}
}

// Close cancels a pending sync and waits for a running one.
func (f *Follower) Close() {
	f.mu.Lock()
	f.closed = true
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.mu.Unlock()
	f.cancel()
	f.wg.Wait()
}
