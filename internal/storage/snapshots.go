package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/claude/liftlog/internal/models"
)

// SaveSnapshot writes the durable copy of an in-progress session.
func (d *DB) SaveSnapshot(ctx context.Context, s models.Snapshot) error {
	doc, err := json.Marshal(s.Document)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO session_snapshots (session_id, remote_id, document, version, ended, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   remote_id = CASE WHEN excluded.remote_id != '' THEN excluded.remote_id ELSE session_snapshots.remote_id END,
		   document  = excluded.document,
		   version   = excluded.version,
		   ended     = excluded.ended,
		   saved_at  = excluded.saved_at`,
		s.Document.ID.String(), s.RemoteID, string(doc), s.Document.Version, s.Ended, formatTime(s.SavedAt))
	if err != nil {
		return fmt.Errorf("saving snapshot %s: %w", s.Document.ID, err)
	}
	return nil
}

// LatestOpenSnapshot returns the most recently saved snapshot of a session
// that never ended. ok is false when there is none.
func (d *DB) LatestOpenSnapshot(ctx context.Context) (snap models.Snapshot, ok bool, err error) {
	var doc, savedAt string
	err = d.db.QueryRowContext(ctx,
		`SELECT remote_id, document, ended, saved_at FROM session_snapshots
		 WHERE ended = 0 ORDER BY saved_at DESC LIMIT 1`).
		Scan(&snap.RemoteID, &doc, &snap.Ended, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Snapshot{}, false, nil
	}
	if err != nil {
		return models.Snapshot{}, false, fmt.Errorf("querying snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(doc), &snap.Document); err != nil {
		return models.Snapshot{}, false, fmt.Errorf("decoding snapshot: %w", err)
	}
	if snap.SavedAt, err = parseTime(savedAt); err != nil {
		return models.Snapshot{}, false, fmt.Errorf("parsing snapshot time: %w", err)
	}
	return snap, true, nil
}

// RemoteIDFor returns the remote identifier recorded for a session, if any.
func (d *DB) RemoteIDFor(ctx context.Context, sessionID string) (string, error) {
	var id string
	err := d.db.QueryRowContext(ctx,
		`SELECT remote_id FROM session_snapshots WHERE session_id = ?`, sessionID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading remote id for %s: %w", sessionID, err)
	}
	return id, nil
}

// SetRemoteID records the remote identifier assigned to a session.
func (d *DB) SetRemoteID(ctx context.Context, sessionID, remoteID string) error {
	if _, err := d.db.ExecContext(ctx,
		`UPDATE session_snapshots SET remote_id = ? WHERE session_id = ?`, remoteID, sessionID); err != nil {
		return fmt.Errorf("recording remote id for %s: %w", sessionID, err)
	}
	if _, err := d.db.ExecContext(ctx,
		`UPDATE pending_pushes SET remote_id = ? WHERE session_id = ?`, remoteID, sessionID); err != nil {
		return fmt.Errorf("recording remote id for %s: %w", sessionID, err)
	}
	return nil
}

// DeleteSnapshot removes the snapshot of a session.
func (d *DB) DeleteSnapshot(ctx context.Context, sessionID string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM session_snapshots WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", sessionID, err)
	}
	return nil
}
