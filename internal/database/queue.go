package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"indexator/internal/models"
)

const queueItemColumns = `id, site_id, integration_id, page_id, url, status, scheduled_for, attempts, error_message, batch_id, created_at, processed_at, next_attempt_at`

func scanQueueItem(row interface{ Scan(...any) error }) (*models.QueueItem, error) {
	var item models.QueueItem
	err := row.Scan(
		&item.ID,
		&item.SiteID,
		&item.IntegrationID,
		&item.PageID,
		&item.URL,
		&item.Status,
		&item.ScheduledFor,
		&item.Attempts,
		&item.ErrorMessage,
		&item.BatchID,
		&item.CreatedAt,
		&item.ProcessedAt,
		&item.NextAttemptAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// EnqueueDistribution persists a computed distribution: batches first, then
// their pending items, all inside one transaction so a partial insert never
// becomes visible.
func (db *DB) EnqueueDistribution(ctx context.Context, batches []models.Batch, items []models.QueueItem) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin enqueue tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertBatchesTx(ctx, tx, batches); err != nil {
		return err
	}
	if err := insertQueueItemsTx(ctx, tx, items); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit enqueue tx: %w", err)
	}
	return nil
}

func insertQueueItemsTx(ctx context.Context, tx *sql.Tx, items []models.QueueItem) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO queue_items
        (site_id, integration_id, page_id, url, status, scheduled_for, attempts, error_message, batch_id, created_at, next_attempt_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare queue item insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for i := range items {
		if items[i].CreatedAt.IsZero() {
			items[i].CreatedAt = now
		}
		if items[i].Status == "" {
			items[i].Status = models.ItemPending
		}
		_, err := stmt.ExecContext(ctx,
			items[i].SiteID,
			items[i].IntegrationID,
			items[i].PageID,
			items[i].URL,
			items[i].Status,
			items[i].ScheduledFor,
			items[i].Attempts,
			items[i].ErrorMessage,
			items[i].BatchID,
			items[i].CreatedAt,
			items[i].NextAttemptAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert queue item %s: %w", items[i].URL, err)
		}
	}
	return nil
}

// GetQueueItem returns one queue item by id.
func (db *DB) GetQueueItem(ctx context.Context, id int64) (*models.QueueItem, error) {
	row := db.QueryRowContext(ctx, `SELECT `+queueItemColumns+` FROM queue_items WHERE id = ?`, id)
	item, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("queue item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	return item, nil
}

// RemoveItem deletes one item, allowed only while it is still pending.
// The owning batch total is decremented in the same transaction.
func (db *DB) RemoveItem(ctx context.Context, id int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin remove tx: %w", err)
	}
	defer tx.Rollback()

	var batchID string
	err = tx.QueryRowContext(ctx, `SELECT batch_id FROM queue_items WHERE id = ? AND status = ?`, id, models.ItemPending).Scan(&batchID)
	if errors.Is(err, sql.ErrNoRows) {
		// distinguish missing row from a row in the wrong state
		var status models.ItemStatus
		err = tx.QueryRowContext(ctx, `SELECT status FROM queue_items WHERE id = ?`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("queue item %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to check queue item status: %w", err)
		}
		return fmt.Errorf("queue item %d has status %s: %w", id, status, ErrInvalidState)
	}
	if err != nil {
		return fmt.Errorf("failed to read queue item: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM queue_items WHERE id = ? AND status = ?`, id, models.ItemPending)
	if err != nil {
		return fmt.Errorf("failed to delete queue item: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// status flipped between the read and the delete
		return fmt.Errorf("queue item %d: %w", id, ErrInvalidState)
	}

	if batchID != "" {
		if err := shrinkBatchTx(ctx, tx, batchID, 1); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit remove tx: %w", err)
	}
	return nil
}

// ClearAllPending bulk-deletes every pending item across all of the site's
// integrations and returns the number removed. Batch totals shrink with the
// deleted rows so finished batches can still close.
func (db *DB) ClearAllPending(ctx context.Context, siteID int64) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin clear tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT batch_id, COUNT(*) FROM queue_items
        WHERE site_id = ? AND status = ? AND batch_id != '' GROUP BY batch_id`, siteID, models.ItemPending)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending per batch: %w", err)
	}
	perBatch := make(map[string]int)
	for rows.Next() {
		var batchID string
		var n int
		if err := rows.Scan(&batchID, &n); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan pending counts: %w", err)
		}
		perBatch[batchID] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM queue_items WHERE site_id = ? AND status = ?`, siteID, models.ItemPending)
	if err != nil {
		return 0, fmt.Errorf("failed to clear pending items: %w", err)
	}
	removed, _ := res.RowsAffected()

	for batchID, n := range perBatch {
		if err := shrinkBatchTx(ctx, tx, batchID, n); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit clear tx: %w", err)
	}
	return removed, nil
}

// GetPendingItems returns every pending item for a site in stable id order.
func (db *DB) GetPendingItems(ctx context.Context, siteID int64) ([]models.QueueItem, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+queueItemColumns+` FROM queue_items
        WHERE site_id = ? AND status = ? ORDER BY id ASC`, siteID, models.ItemPending)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending items: %w", err)
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// ActiveURLSet returns the set of URLs that are already pending,
// processing or rebalancing for a site. Enqueue uses it to skip duplicates.
func (db *DB) ActiveURLSet(ctx context.Context, siteID int64) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT url FROM queue_items
        WHERE site_id = ? AND status IN (?, ?, ?)`,
		siteID, models.ItemPending, models.ItemProcessing, models.ItemRebalancing)
	if err != nil {
		return nil, fmt.Errorf("failed to get active urls: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("failed to scan active url: %w", err)
		}
		out[url] = true
	}
	return out, rows.Err()
}

// QueueStats returns per-status counts plus today/tomorrow pending buckets
// relative to the caller's reference clock.
func (db *DB) QueueStats(ctx context.Context, siteID int64, now time.Time) (*models.QueueStats, error) {
	stats := &models.QueueStats{
		SiteID:   siteID,
		ByStatus: make(map[models.ItemStatus]int),
	}

	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM queue_items WHERE site_id = ? GROUP BY status`, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status models.ItemStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		stats.ByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	today := now.Format(models.DateLayout)
	tomorrow := now.AddDate(0, 0, 1).Format(models.DateLayout)
	err = db.QueryRowContext(ctx, `SELECT
            COUNT(CASE WHEN date(scheduled_for) = ? THEN 1 END),
            COUNT(CASE WHEN date(scheduled_for) = ? THEN 1 END)
        FROM queue_items WHERE site_id = ? AND status = ?`,
		today, tomorrow, siteID, models.ItemPending).
		Scan(&stats.PendingToday, &stats.PendingTomorrow)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending buckets: %w", err)
	}

	return stats, nil
}

// ClaimNextPending hands the oldest due pending item of an integration to a
// processor worker. The transition is a conditional update: it succeeds only
// if the row is still pending, so concurrent claimers never get the same
// item twice. Returns nil when nothing is due.
func (db *DB) ClaimNextPending(ctx context.Context, integrationID int64, now time.Time) (*models.QueueItem, error) {
	today := now.Format(models.DateLayout)

	// Optimistic loop: losing a race just means picking the next candidate.
	for attempt := 0; attempt < 5; attempt++ {
		row := db.QueryRowContext(ctx, `SELECT `+queueItemColumns+` FROM queue_items
            WHERE integration_id = ? AND status = ?
              AND date(scheduled_for) <= ?
              AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
            ORDER BY scheduled_for ASC, id ASC LIMIT 1`,
			integrationID, models.ItemPending, today, now)
		item, err := scanQueueItem(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to select claim candidate: %w", err)
		}

		res, err := db.ExecContext(ctx, `UPDATE queue_items SET status = ? WHERE id = ? AND status = ?`,
			models.ItemProcessing, item.ID, models.ItemPending)
		if err != nil {
			return nil, fmt.Errorf("failed to claim queue item: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue // lost the race, try the next candidate
		}

		item.Status = models.ItemProcessing
		if item.BatchID != "" {
			if err := db.markBatchProcessing(ctx, item.BatchID, now); err != nil {
				db.log.Warn().Err(err).Str("batch_id", item.BatchID).Msg("mark batch processing failed")
			}
		}
		return item, nil
	}

	return nil, nil
}

// CompleteItem resolves a processing item as successfully submitted.
func (db *DB) CompleteItem(ctx context.Context, id int64, now time.Time) error {
	res, err := db.ExecContext(ctx, `UPDATE queue_items
        SET status = ?, processed_at = ?, error_message = '' WHERE id = ? AND status = ?`,
		models.ItemCompleted, now, id, models.ItemProcessing)
	if err != nil {
		return fmt.Errorf("failed to complete queue item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("queue item %d: %w", id, ErrInvalidState)
	}
	return nil
}

// RequeueItemForRetry moves a processing item back to pending with an
// incremented attempt counter and a backoff deadline.
func (db *DB) RequeueItemForRetry(ctx context.Context, id int64, errMsg string, nextAttemptAt time.Time) error {
	res, err := db.ExecContext(ctx, `UPDATE queue_items
        SET status = ?, attempts = attempts + 1, error_message = ?, next_attempt_at = ?
        WHERE id = ? AND status = ?`,
		models.ItemPending, errMsg, nextAttemptAt, id, models.ItemProcessing)
	if err != nil {
		return fmt.Errorf("failed to requeue queue item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("queue item %d: %w", id, ErrInvalidState)
	}
	return nil
}

// MarkItemFailed resolves a processing item as terminally failed after its
// attempts are exhausted.
func (db *DB) MarkItemFailed(ctx context.Context, id int64, errMsg string, now time.Time) error {
	res, err := db.ExecContext(ctx, `UPDATE queue_items
        SET status = ?, attempts = attempts + 1, error_message = ?, processed_at = ?
        WHERE id = ? AND status = ?`,
		models.ItemFailed, errMsg, now, id, models.ItemProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark queue item failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("queue item %d: %w", id, ErrInvalidState)
	}
	return nil
}

// PendingCountsByDay returns pending item counts keyed by integration id
// and scheduled day ("2006-01-02") over a day window. Used by the export.
func (db *DB) PendingCountsByDay(ctx context.Context, siteID int64, start time.Time, days int) (map[int64]map[string]int, error) {
	end := start.AddDate(0, 0, days)
	rows, err := db.QueryContext(ctx, `SELECT integration_id, date(scheduled_for), COUNT(*)
        FROM queue_items
        WHERE site_id = ? AND status = ? AND date(scheduled_for) >= ? AND date(scheduled_for) < ?
        GROUP BY integration_id, date(scheduled_for)`,
		siteID, models.ItemPending, start.Format(models.DateLayout), end.Format(models.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to get pending counts: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]map[string]int)
	for rows.Next() {
		var integrationID int64
		var day string
		var n int
		if err := rows.Scan(&integrationID, &day, &n); err != nil {
			return nil, fmt.Errorf("failed to scan pending counts: %w", err)
		}
		if out[integrationID] == nil {
			out[integrationID] = make(map[string]int)
		}
		out[integrationID][day] = n
	}
	return out, rows.Err()
}
