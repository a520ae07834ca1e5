package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/claude/liftlog/internal/models"
)

func (e *Engine) runSnapshots(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.SaveSnapshots(ctx); err != nil {
				e.log.Error("periodic snapshot", "error", err)
			}
		}
	}
}

// SaveSnapshots writes a durable copy of every tracked session that changed
// since its last snapshot.
func (e *Engine) SaveSnapshots(ctx context.Context) error {
	e.mu.Lock()
	var ids []string
	for id, t := range e.sessions {
		if t.latest.Version > t.snapshotted {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	for _, id := range ids {
		if err := e.saveSnapshot(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) saveSnapshot(ctx context.Context, id string) error {
	e.mu.Lock()
	t, ok := e.sessions[id]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	snap := models.Snapshot{
		Document: t.latest.Clone(),
		RemoteID: t.remoteID,
		Ended:    t.ended,
		SavedAt:  e.now(),
	}
	e.mu.Unlock()

	if err := e.store.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("snapshot %s: %w", id, err)
	}

	e.mu.Lock()
	if t.latest.Version >= snap.Document.Version && snap.Document.Version > t.snapshotted {
		t.snapshotted = snap.Document.Version
	}
	e.mu.Unlock()
	e.log.Debug("session snapshot saved", "session_id", id, "version", snap.Document.Version)
	return nil
}
