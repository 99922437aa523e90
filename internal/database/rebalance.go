package database

import (
	"context"
	"fmt"

	"indexator/internal/models"
)

// MarkRebalancing freezes a snapshot of pending items by conditionally
// flipping each of them to rebalancing. Items that raced into another state
// between the snapshot and the mark are simply skipped; the returned slice
// is the set that actually got frozen.
func (db *DB) MarkRebalancing(ctx context.Context, ids []int64) ([]int64, error) {
	marked := make([]int64, 0, len(ids))
	for _, id := range ids {
		res, err := db.ExecContext(ctx, `UPDATE queue_items SET status = ? WHERE id = ? AND status = ?`,
			models.ItemRebalancing, id, models.ItemPending)
		if err != nil {
			return marked, fmt.Errorf("failed to mark item %d rebalancing: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			marked = append(marked, id)
		}
	}
	return marked, nil
}

// RevertRebalancing is the rollback path: every item still frozen goes back
// to pending, restoring the exact pre-rebalance pending set.
func (db *DB) RevertRebalancing(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		_, err := db.ExecContext(ctx, `UPDATE queue_items SET status = ? WHERE id = ? AND status = ?`,
			models.ItemPending, id, models.ItemRebalancing)
		if err != nil {
			return fmt.Errorf("failed to revert item %d: %w", id, err)
		}
	}
	return nil
}

// SwapRebalancing commits a rebalance in one transaction: the replacement
// batches and pending items are inserted, the frozen originals are deleted,
// and the originals' batch totals shrink accordingly. Either everything
// lands or nothing does, so a pending URL can never be lost or doubled.
func (db *DB) SwapRebalancing(ctx context.Context, frozen []models.QueueItem, batches []models.Batch, replacements []models.QueueItem) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rebalance tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertBatchesTx(ctx, tx, batches); err != nil {
		return err
	}
	if err := insertQueueItemsTx(ctx, tx, replacements); err != nil {
		return err
	}

	perBatch := make(map[string]int)
	for _, item := range frozen {
		res, err := tx.ExecContext(ctx, `DELETE FROM queue_items WHERE id = ? AND status = ?`,
			item.ID, models.ItemRebalancing)
		if err != nil {
			return fmt.Errorf("failed to delete superseded item %d: %w", item.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// the frozen set must be intact; anything else means interference
			return fmt.Errorf("superseded item %d no longer rebalancing: %w", item.ID, ErrInvalidState)
		}
		if item.BatchID != "" {
			perBatch[item.BatchID]++
		}
	}

	for batchID, n := range perBatch {
		if err := shrinkBatchTx(ctx, tx, batchID, n); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rebalance tx: %w", err)
	}
	return nil
}
