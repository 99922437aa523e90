package database

import (
	"context"
	"fmt"
	"time"

	"indexator/internal/models"
)

// RecordIntegrationSuccess resets the failure streak and marks the account
// healthy. Degraded accounts recover automatically through this path.
func (db *DB) RecordIntegrationSuccess(ctx context.Context, integrationID int64) error {
	_, err := db.ExecContext(ctx, `INSERT INTO integration_health
        (integration_id, health_status, consecutive_failures, checked_at)
        VALUES (?, ?, 0, ?)
        ON CONFLICT(integration_id) DO UPDATE SET
            health_status = excluded.health_status,
            consecutive_failures = 0,
            checked_at = excluded.checked_at`,
		integrationID, models.HealthHealthy, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record integration success: %w", err)
	}
	return nil
}

// RecordIntegrationFailure bumps the failure streak and flips the account
// to unhealthy once the streak reaches the threshold. The account is never
// deleted; it just stops receiving assignments.
func (db *DB) RecordIntegrationFailure(ctx context.Context, integrationID int64, threshold int) error {
	now := time.Now()
	_, err := db.ExecContext(ctx, `INSERT INTO integration_health
        (integration_id, health_status, consecutive_failures, checked_at)
        VALUES (?, ?, 1, ?)
        ON CONFLICT(integration_id) DO UPDATE SET
            consecutive_failures = consecutive_failures + 1,
            checked_at = excluded.checked_at`,
		integrationID, models.HealthUnknown, now)
	if err != nil {
		return fmt.Errorf("failed to record integration failure: %w", err)
	}

	_, err = db.ExecContext(ctx, `UPDATE integration_health SET health_status = ?
        WHERE integration_id = ? AND consecutive_failures >= ?`,
		models.HealthUnhealthy, integrationID, threshold)
	if err != nil {
		return fmt.Errorf("failed to update integration health: %w", err)
	}
	return nil
}
