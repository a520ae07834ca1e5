package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/claude/liftlog/internal/models"
	"github.com/claude/liftlog/internal/platform"
)

// connectivityRestored drains the queue once per restoration event.
func (e *Engine) connectivityRestored() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.goLocked(func(ctx context.Context) {
		if _, err := e.Drain(ctx); err != nil {
			e.log.Warn("draining push queue", "error", err)
		}
	})
}

// Drain replays queued pushes in the order they were first queued and
// returns how many reached the platform. A queued state older than the
// in-memory document of the same session is replaced by the newer one, and
// states the platform already acknowledged are dropped. Draining stops at
// the first network failure.
func (e *Engine) Drain(ctx context.Context) (int, error) {
	e.pushMu.Lock()
	defer e.pushMu.Unlock()

	pending, err := e.store.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing queued pushes: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}
	e.log.Info("draining push queue", "queued", len(pending))

	sent, failed := 0, false
	for _, p := range pending {
		p, skip := e.freshest(p)
		if skip {
			if err := e.store.DeletePending(ctx, p.SessionID, p.Document.Version); err != nil {
				return sent, fmt.Errorf("dropping acknowledged push: %w", err)
			}
			continue
		}
		if p.RemoteID == "" {
			id, err := e.store.RemoteIDFor(ctx, p.SessionID)
			if err != nil {
				return sent, err
			}
			p.RemoteID = id
		}

		err := e.retry(ctx, p.SessionID, func() error { return e.send(ctx, &p) })
		if err != nil {
			failed = true
			e.enqueue(ctx, p, err)
			if platform.IsNetworkError(err) {
				return sent, fmt.Errorf("drain interrupted: %w", err)
			}
			continue
		}
		sent++
	}
	if !failed {
		e.mu.Lock()
		e.retryBackOff.Reset()
		e.mu.Unlock()
	}
	e.log.Info("push queue drained", "sent", sent)
	return sent, nil
}

// scheduleRetryLocked arms one backoff-paced drain unless one is pending.
// It covers retryable rejections, which never produce a restoration edge.
func (e *Engine) scheduleRetryLocked() {
	if e.closed || e.retryTimer != nil {
		return
	}
	wait := e.retryBackOff.NextBackOff()
	if wait == backoff.Stop {
		e.retryBackOff.Reset()
		wait = e.retryBackOff.NextBackOff()
	}
	e.log.Debug("queue retry scheduled", "wait", wait)
	e.retryTimer = e.opts.AfterFunc(wait, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.retryTimer = nil
		e.goLocked(func(ctx context.Context) {
			if _, err := e.Drain(ctx); err != nil {
				e.log.Warn("retrying push queue", "error", err)
			}
		})
	})
}

// freshest substitutes the in-memory state of a tracked session. skip is
// true when the platform already holds this state or a newer one.
func (e *Engine) freshest(p models.PendingPush) (models.PendingPush, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.sessions[p.SessionID]
	if !ok {
		return p, false
	}
	if t.latest.Version >= p.Document.Version {
		p.Document = t.latest.Clone()
		p.Final = p.Final || t.ended
	}
	if t.remoteID != "" {
		p.RemoteID = t.remoteID
	}
	return p, p.Document.Version <= t.pushed
}

// retry repeats op while the platform answers with a retryable status.
// Transport failures are not retried here: a create that timed out may have
// been applied, and the next restoration drains again.
func (e *Engine) retry(ctx context.Context, sessionID string, op func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if err == nil {
			return struct{}{}, nil
		}
		var he *platform.HTTPError
		if errors.As(err, &he) && he.Retryable() {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(e.opts.NewBackOff()),
		backoff.WithMaxTries(e.opts.RetryTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			e.log.Debug("retrying queued push", "session_id", sessionID, "wait", wait, "error", err)
		}),
	)
	return err
}
