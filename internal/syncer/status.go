package syncer

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// SessionStatus is the sync state of one tracked session.
type SessionStatus struct {
	SessionID     string `json:"session_id"`
	RemoteID      string `json:"remote_id,omitempty"`
	Version       int64  `json:"version"`
	PushedVersion int64  `json:"pushed_version"`
	Ended         bool   `json:"ended"`
	Pending       bool   `json:"debounce_pending"`
}

// Status summarizes sync health. It is the only place push failures are
// surfaced.
type Status struct {
	Online            bool            `json:"online"`
	ConnectivityKnown bool            `json:"connectivity_known"`
	QueueDepth        int             `json:"queue_depth"`
	Stalled           bool            `json:"stalled"`
	LastError         string          `json:"last_error,omitempty"`
	LastErrorAt       *time.Time      `json:"last_error_at,omitempty"`
	LastPushAt        *time.Time      `json:"last_push_at,omitempty"`
	Sessions          []SessionStatus `json:"sessions"`
}

// Status reports queue depth, the last error and whether any queued push
// has failed at least MaxAttempts times in a row.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	pending, err := e.store.ListPending(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("listing queued pushes: %w", err)
	}

	var st Status
	st.Online, st.ConnectivityKnown = e.monitor.State()
	st.QueueDepth = len(pending)
	for _, p := range pending {
		if p.Attempts >= e.opts.MaxAttempts {
			st.Stalled = true
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastErr != "" && st.QueueDepth > 0 {
		st.LastError = e.lastErr
		at := e.lastErrAt
		st.LastErrorAt = &at
	}
	if !e.lastPushAt.IsZero() {
		at := e.lastPushAt
		st.LastPushAt = &at
	}
	st.Sessions = []SessionStatus{}
	for id, t := range e.sessions {
		st.Sessions = append(st.Sessions, SessionStatus{
			SessionID:     id,
			RemoteID:      t.remoteID,
			Version:       t.latest.Version,
			PushedVersion: t.pushed,
			Ended:         t.ended,
			Pending:       t.timer != nil && t.dirty(),
		})
	}
	sort.Slice(st.Sessions, func(i, j int) bool { return st.Sessions[i].SessionID < st.Sessions[j].SessionID })
	return st, nil
}
