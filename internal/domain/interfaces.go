package domain

import (
	"context"

	"indexator/internal/models"
)

// SnapshotRepository caches aggregated quota snapshots between poll cycles.
// A nil snapshot with a nil error means cache miss.
type SnapshotRepository interface {
	GetSnapshot(ctx context.Context, siteID int64) (*models.AggregatedQuota, error)
	SetSnapshot(ctx context.Context, snapshot *models.AggregatedQuota) error
	ClearSnapshot(ctx context.Context, siteID int64) error
}
