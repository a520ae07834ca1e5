package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/claude/liftlog/internal/models"
)

// ReplaceCatalog swaps the cached exercise catalog for exercises and records
// fetchedAt as the catalog age.
func (d *DB) ReplaceCatalog(ctx context.Context, exercises []models.CatalogExercise, fetchedAt time.Time) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning catalog tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM catalog_exercises`); err != nil {
		return fmt.Errorf("clearing catalog: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO catalog_exercises (id, title, type, primary_muscle_group, is_custom)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing catalog insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range exercises {
		if _, err := stmt.ExecContext(ctx, e.ID, e.Title, e.Type, e.PrimaryMuscleGroup, e.IsCustom); err != nil {
			return fmt.Errorf("inserting catalog exercise %s: %w", e.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		KeyCatalogFetchedAt, formatTime(fetchedAt), formatTime(time.Now())); err != nil {
		return fmt.Errorf("recording catalog age: %w", err)
	}

	return tx.Commit()
}

// LoadCatalog returns the cached catalog and when it was fetched. A zero
// fetchedAt means the catalog was never fetched.
func (d *DB) LoadCatalog(ctx context.Context) ([]models.CatalogExercise, time.Time, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, title, type, primary_muscle_group, is_custom FROM catalog_exercises ORDER BY title`)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("querying catalog: %w", err)
	}
	defer rows.Close()

	var out []models.CatalogExercise
	for rows.Next() {
		var e models.CatalogExercise
		if err := rows.Scan(&e.ID, &e.Title, &e.Type, &e.PrimaryMuscleGroup, &e.IsCustom); err != nil {
			return nil, time.Time{}, fmt.Errorf("scanning catalog exercise: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, err
	}

	fetchedAt, err := d.GetSyncTime(ctx, KeyCatalogFetchedAt)
	if err != nil {
		return nil, time.Time{}, err
	}
	return out, fetchedAt, nil
}
