package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Well-known sync_state keys.
const (
	KeyCatalogFetchedAt = "catalog_fetched_at"
	KeyHistorySyncedAt  = "history_synced_at"
)

// GetSyncState returns the value stored under key, or "" if unset.
func (d *DB) GetSyncState(ctx context.Context, key string) (string, error) {
	var v string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading sync state %s: %w", key, err)
	}
	return v, nil
}

// SetSyncState stores value under key.
func (d *DB) SetSyncState(ctx context.Context, key, value string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("writing sync state %s: %w", key, err)
	}
	return nil
}

// GetSyncTime reads a timestamp stored under key. The zero time means unset.
func (d *DB) GetSyncTime(ctx context.Context, key string) (time.Time, error) {
	v, err := d.GetSyncState(ctx, key)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	t, err := parseTime(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing sync state %s: %w", key, err)
	}
	return t, nil
}

// SetSyncTime stores a timestamp under key.
func (d *DB) SetSyncTime(ctx context.Context, key string, t time.Time) error {
	return d.SetSyncState(ctx, key, formatTime(t))
}
