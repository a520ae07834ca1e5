package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/claude/liftlog/internal/models"
)

// UpsertPending stores p, replacing any queued push for the same session.
// The original queued_at is kept so drain order follows first failure.
func (d *DB) UpsertPending(ctx context.Context, p models.PendingPush) error {
	doc, err := json.Marshal(p.Document)
	if err != nil {
		return fmt.Errorf("marshaling pending document: %w", err)
	}
	queuedAt := p.QueuedAt
	if queuedAt.IsZero() {
		queuedAt = time.Now()
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO pending_pushes (session_id, remote_id, document, version, final, attempts, last_error, queued_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   remote_id  = CASE WHEN excluded.remote_id != '' THEN excluded.remote_id ELSE pending_pushes.remote_id END,
		   document   = excluded.document,
		   version    = excluded.version,
		   final      = MAX(pending_pushes.final, excluded.final),
		   attempts   = excluded.attempts,
		   last_error = excluded.last_error,
		   updated_at = excluded.updated_at`,
		p.SessionID, p.RemoteID, string(doc), p.Document.Version, p.Final, p.Attempts, p.LastError,
		formatTime(queuedAt), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("queueing push for %s: %w", p.SessionID, err)
	}
	return nil
}

// ListPending returns queued pushes in the order they were first queued.
func (d *DB) ListPending(ctx context.Context) ([]models.PendingPush, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT session_id, remote_id, document, final, attempts, last_error, queued_at
		 FROM pending_pushes ORDER BY queued_at, session_id`)
	if err != nil {
		return nil, fmt.Errorf("querying pending pushes: %w", err)
	}
	defer rows.Close()

	var out []models.PendingPush
	for rows.Next() {
		var (
			p        models.PendingPush
			doc, qat string
		)
		if err := rows.Scan(&p.SessionID, &p.RemoteID, &doc, &p.Final, &p.Attempts, &p.LastError, &qat); err != nil {
			return nil, fmt.Errorf("scanning pending push: %w", err)
		}
		if err := json.Unmarshal([]byte(doc), &p.Document); err != nil {
			return nil, fmt.Errorf("decoding pending document %s: %w", p.SessionID, err)
		}
		if p.QueuedAt, err = parseTime(qat); err != nil {
			return nil, fmt.Errorf("parsing queued_at: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePending removes the queued push for sessionID if its version is at
// most version. A newer queued state stays queued.
func (d *DB) DeletePending(ctx context.Context, sessionID string, version int64) error {
	_, err := d.db.ExecContext(ctx,
		`DELETE FROM pending_pushes WHERE session_id = ? AND version <= ?`, sessionID, version)
	if err != nil {
		return fmt.Errorf("deleting pending push %s: %w", sessionID, err)
	}
	return nil
}

// DiscardPending removes the queued push for sessionID regardless of version.
func (d *DB) DiscardPending(ctx context.Context, sessionID string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM pending_pushes WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("discarding pending push %s: %w", sessionID, err)
	}
	return nil
}
