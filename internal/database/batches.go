package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"indexator/internal/models"
)

func insertBatchesTx(ctx context.Context, tx *sql.Tx, batches []models.Batch) error {
	if len(batches) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO batches
        (id, site_id, integration_id, total_urls, completed_urls, failed_urls, status, created_at)
        VALUES (?, ?, ?, ?, 0, 0, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for i := range batches {
		if batches[i].CreatedAt.IsZero() {
			batches[i].CreatedAt = now
		}
		if batches[i].Status == "" {
			batches[i].Status = models.BatchQueued
		}
		_, err := stmt.ExecContext(ctx,
			batches[i].ID,
			batches[i].SiteID,
			batches[i].IntegrationID,
			batches[i].TotalURLs,
			batches[i].Status,
			batches[i].CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert batch %s: %w", batches[i].ID, err)
		}
	}
	return nil
}

// GetBatch returns one batch by id.
func (db *DB) GetBatch(ctx context.Context, id string) (*models.Batch, error) {
	var b models.Batch
	err := db.QueryRowContext(ctx, `SELECT id, site_id, integration_id, total_urls, completed_urls, failed_urls, status, started_at, completed_at, created_at
        FROM batches WHERE id = ?`, id).Scan(
		&b.ID,
		&b.SiteID,
		&b.IntegrationID,
		&b.TotalURLs,
		&b.CompletedURLs,
		&b.FailedURLs,
		&b.Status,
		&b.StartedAt,
		&b.CompletedAt,
		&b.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return &b, nil
}

// CancelBatch sets the batch to cancelled and deletes its still-pending
// items in the same transaction. Completed and failed rows stay for history.
// Returns the number of pending items removed.
func (db *DB) CancelBatch(ctx context.Context, id string) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin cancel tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE batches SET status = ?, completed_at = ?
        WHERE id = ? AND status IN (?, ?)`,
		models.BatchCancelled, time.Now(), id, models.BatchQueued, models.BatchProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel batch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var status models.BatchStatus
		err = tx.QueryRowContext(ctx, `SELECT status FROM batches WHERE id = ?`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("batch %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return 0, fmt.Errorf("failed to check batch status: %w", err)
		}
		return 0, fmt.Errorf("batch %s has status %s: %w", id, status, ErrInvalidState)
	}

	res, err = tx.ExecContext(ctx, `DELETE FROM queue_items WHERE batch_id = ? AND status = ?`, id, models.ItemPending)
	if err != nil {
		return 0, fmt.Errorf("failed to delete pending batch items: %w", err)
	}
	removed, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cancel tx: %w", err)
	}
	return removed, nil
}

// IncrementBatchCounters advances progress counters with a single atomic
// UPDATE so that concurrent item completions never lose updates.
func (db *DB) IncrementBatchCounters(ctx context.Context, id string, completedDelta, failedDelta int) error {
	_, err := db.ExecContext(ctx, `UPDATE batches
        SET completed_urls = completed_urls + ?, failed_urls = failed_urls + ?
        WHERE id = ?`, completedDelta, failedDelta, id)
	if err != nil {
		return fmt.Errorf("failed to increment batch counters: %w", err)
	}
	return nil
}

// CloseBatchIfDone marks the batch completed once every member item is
// terminal. The condition lives in the WHERE clause, so racing callers
// cannot close a batch twice or early.
func (db *DB) CloseBatchIfDone(ctx context.Context, id string, now time.Time) error {
	_, err := db.ExecContext(ctx, `UPDATE batches SET status = ?, completed_at = ?
        WHERE id = ? AND status IN (?, ?) AND completed_urls + failed_urls >= total_urls`,
		models.BatchCompleted, now, id, models.BatchQueued, models.BatchProcessing)
	if err != nil {
		return fmt.Errorf("failed to close batch: %w", err)
	}
	return nil
}

func (db *DB) markBatchProcessing(ctx context.Context, id string, now time.Time) error {
	_, err := db.ExecContext(ctx, `UPDATE batches SET status = ?, started_at = ?
        WHERE id = ? AND status = ?`,
		models.BatchProcessing, now, id, models.BatchQueued)
	return err
}

// shrinkBatchTx shrinks total_urls after pending items were deleted outside
// of an explicit cancel, then closes the batch if the remainder is done. A
// batch shrunk to zero closes too; nothing will ever report against it.
func shrinkBatchTx(ctx context.Context, tx *sql.Tx, id string, n int) error {
	_, err := tx.ExecContext(ctx, `UPDATE batches SET total_urls = total_urls - ? WHERE id = ? AND total_urls >= ?`, n, id, n)
	if err != nil {
		return fmt.Errorf("failed to shrink batch %s: %w", id, err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE batches SET status = ?, completed_at = ?
        WHERE id = ? AND status IN (?, ?) AND completed_urls + failed_urls >= total_urls`,
		models.BatchCompleted, time.Now(), id, models.BatchQueued, models.BatchProcessing)
	if err != nil {
		return fmt.Errorf("failed to close shrunk batch %s: %w", id, err)
	}
	return nil
}
