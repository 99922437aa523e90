package database

import (
	"context"
	"fmt"
	"time"
)

// UsageCounts is the per-integration submission tally since a cutoff.
type UsageCounts struct {
	Succeeded int
	Total     int
}

// RecordSubmission appends one submission outcome to the history. The
// history is the quota aggregator's only read source.
func (db *DB) RecordSubmission(ctx context.Context, siteID, integrationID int64, url string, success bool, errMsg string, at time.Time) error {
	_, err := db.ExecContext(ctx, `INSERT INTO submission_history
        (site_id, integration_id, url, success, error_message, submitted_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		siteID, integrationID, url, success, errMsg, at)
	if err != nil {
		return fmt.Errorf("failed to record submission: %w", err)
	}
	return nil
}

// UsageSince returns per-integration success/total submission counts for a
// site since the cutoff (normally start of day).
func (db *DB) UsageSince(ctx context.Context, siteID int64, since time.Time) (map[int64]UsageCounts, error) {
	rows, err := db.QueryContext(ctx, `SELECT integration_id,
            COUNT(CASE WHEN success THEN 1 END),
            COUNT(*)
        FROM submission_history
        WHERE site_id = ? AND submitted_at >= ?
        GROUP BY integration_id`, siteID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage counts: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]UsageCounts)
	for rows.Next() {
		var id int64
		var c UsageCounts
		if err := rows.Scan(&id, &c.Succeeded, &c.Total); err != nil {
			return nil, fmt.Errorf("failed to scan usage counts: %w", err)
		}
		out[id] = c
	}
	return out, rows.Err()
}

// PruneHistory deletes history older than the cutoff. Quota math only ever
// looks at the current day, so old rows are dead weight.
func (db *DB) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM submission_history WHERE submitted_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
