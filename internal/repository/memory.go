package repository

import (
	"context"
	"sync"
	"time"

	"indexator/internal/models"
)

type memoryEntry struct {
	snapshot  *models.AggregatedQuota
	expiresAt time.Time
}

type MemorySnapshotRepository struct {
	snapshots sync.Map
	ttl       time.Duration
}

func NewMemorySnapshotRepository(ttl time.Duration) *MemorySnapshotRepository {
	return &MemorySnapshotRepository{
		ttl: ttl,
	}
}

func (r *MemorySnapshotRepository) GetSnapshot(ctx context.Context, siteID int64) (*models.AggregatedQuota, error) {
	val, ok := r.snapshots.Load(siteID)
	if !ok {
		return nil, nil
	}
	entry := val.(*memoryEntry)
	if r.ttl > 0 && time.Now().After(entry.expiresAt) {
		r.snapshots.Delete(siteID)
		return nil, nil
	}
	return entry.snapshot, nil
}

func (r *MemorySnapshotRepository) SetSnapshot(ctx context.Context, snapshot *models.AggregatedQuota) error {
	r.snapshots.Store(snapshot.SiteID, &memoryEntry{
		snapshot:  snapshot,
		expiresAt: time.Now().Add(r.ttl),
	})
	return nil
}

func (r *MemorySnapshotRepository) ClearSnapshot(ctx context.Context, siteID int64) error {
	r.snapshots.Delete(siteID)
	return nil
}
