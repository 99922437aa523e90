package repository

import (
	"context"
	"sync/atomic"
	"time"

	"indexator/internal/domain"
	"indexator/internal/models"

	"github.com/rs/zerolog"
)

// FailoverSnapshotRepository serves from the primary (Redis) until it
// fails, then falls back to memory and probes the primary once a minute.
type FailoverSnapshotRepository struct {
	primary   domain.SnapshotRepository
	fallback  domain.SnapshotRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck time.Time
}

func NewFailoverSnapshotRepository(primary, fallback domain.SnapshotRepository, logger *zerolog.Logger) *FailoverSnapshotRepository {
	return &FailoverSnapshotRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverSnapshotRepository) GetSnapshot(ctx context.Context, siteID int64) (*models.AggregatedQuota, error) {
	if !r.isDown.Load() {
		snap, err := r.primary.GetSnapshot(ctx, siteID)
		if err == nil {
			return snap, nil
		}
		r.logger.Error().Err(err).Msg("Primary snapshot repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	// Try to recover after 1 minute
	if r.isDown.Load() && time.Since(r.lastCheck) > time.Minute {
		snap, err := r.primary.GetSnapshot(ctx, siteID)
		if err == nil {
			r.isDown.Store(false)
			return snap, nil
		}
		r.lastCheck = time.Now()
	}

	return r.fallback.GetSnapshot(ctx, siteID)
}

func (r *FailoverSnapshotRepository) SetSnapshot(ctx context.Context, snapshot *models.AggregatedQuota) error {
	// Keep the fallback warm so a primary outage serves stale-but-present data.
	_ = r.fallback.SetSnapshot(ctx, snapshot)

	if !r.isDown.Load() {
		err := r.primary.SetSnapshot(ctx, snapshot)
		if err == nil {
			return nil
		}
		r.logger.Error().Err(err).Msg("Primary snapshot repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	return nil
}

func (r *FailoverSnapshotRepository) ClearSnapshot(ctx context.Context, siteID int64) error {
	_ = r.fallback.ClearSnapshot(ctx, siteID)

	if !r.isDown.Load() {
		err := r.primary.ClearSnapshot(ctx, siteID)
		if err == nil {
			return nil
		}
		r.logger.Error().Err(err).Msg("Primary snapshot repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	return nil
}
