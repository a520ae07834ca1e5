package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/claude/liftlog/internal/models"
)

// ReplaceHistory drops all cached history and inserts sessions.
func (d *DB) ReplaceHistory(ctx context.Context, sessions []models.HistorySession) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning history tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM history_sets`); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	if err := insertHistory(ctx, tx, sessions); err != nil {
		return err
	}
	return tx.Commit()
}

// UpsertHistoryWorkout replaces every cached row of the workouts present in sessions.
func (d *DB) UpsertHistoryWorkout(ctx context.Context, sessions []models.HistorySession) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning history tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	seen := map[string]bool{}
	for _, s := range sessions {
		if seen[s.WorkoutID] {
			continue
		}
		seen[s.WorkoutID] = true
		if _, err := tx.ExecContext(ctx, `DELETE FROM history_sets WHERE workout_id = ?`, s.WorkoutID); err != nil {
			return fmt.Errorf("clearing workout %s: %w", s.WorkoutID, err)
		}
	}
	if err := insertHistory(ctx, tx, sessions); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteHistoryWorkout removes a workout from the history cache.
func (d *DB) DeleteHistoryWorkout(ctx context.Context, workoutID string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM history_sets WHERE workout_id = ?`, workoutID); err != nil {
		return fmt.Errorf("deleting workout %s: %w", workoutID, err)
	}
	return nil
}

// PruneHistory deletes history older than before.
func (d *DB) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM history_sets WHERE start_time < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	return res.RowsAffected()
}

func insertHistory(ctx context.Context, tx *sql.Tx, sessions []models.HistorySession) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO history_sets (workout_id, exercise_index, exercise_id, title, start_time,
		 set_index, set_type, weight_kg, reps, rpe, duration_seconds)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing history insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range sessions {
		for i, set := range s.Sets {
			if _, err := stmt.ExecContext(ctx, s.WorkoutID, s.ExerciseIndex, s.ExerciseID, s.Title,
				formatTime(s.StartTime), i, string(set.Type),
				set.WeightKg, set.Reps, set.RPE, set.DurationSeconds); err != nil {
				return fmt.Errorf("inserting history set: %w", err)
			}
		}
	}
	return nil
}

// LoadHistory returns all cached sessions that started at or after since,
// newest first. Sets keep their recorded order.
func (d *DB) LoadHistory(ctx context.Context, since time.Time) ([]models.HistorySession, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT workout_id, exercise_index, exercise_id, title, start_time,
		 set_type, weight_kg, reps, rpe, duration_seconds
		 FROM history_sets
		 WHERE start_time >= ?
		 ORDER BY start_time DESC, workout_id, exercise_index, set_index`,
		formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []models.HistorySession
	for rows.Next() {
		var (
			workoutID, exerciseID, title, start, setType string
			exerciseIndex                                int
			weight, rpe                                  sql.NullFloat64
			reps, duration                               sql.NullInt64
		)
		if err := rows.Scan(&workoutID, &exerciseIndex, &exerciseID, &title, &start,
			&setType, &weight, &reps, &rpe, &duration); err != nil {
			return nil, fmt.Errorf("scanning history set: %w", err)
		}
		startTime, err := parseTime(start)
		if err != nil {
			return nil, fmt.Errorf("parsing history start time: %w", err)
		}

		n := len(out)
		if n == 0 || out[n-1].WorkoutID != workoutID || out[n-1].ExerciseIndex != exerciseIndex {
			out = append(out, models.HistorySession{
				WorkoutID:     workoutID,
				ExerciseID:    exerciseID,
				ExerciseIndex: exerciseIndex,
				Title:         title,
				StartTime:     startTime,
			})
			n++
		}

		set := models.CompletedSet{Type: models.SetType(setType), Timestamp: startTime}
		if weight.Valid {
			set.WeightKg = models.Ptr(weight.Float64)
		}
		if reps.Valid {
			set.Reps = models.Ptr(int(reps.Int64))
		}
		if rpe.Valid {
			set.RPE = models.Ptr(rpe.Float64)
		}
		if duration.Valid {
			set.DurationSeconds = models.Ptr(int(duration.Int64))
		}
		out[n-1].Sets = append(out[n-1].Sets, set)
	}
	return out, rows.Err()
}
