package worker

import (
	"context"
	"time"

	"indexator/internal/database"
	"indexator/internal/metrics"
	"indexator/internal/models"

	"github.com/rs/zerolog"
)

// StatsRefresher keeps the queue-depth read model fresh. The cadence is
// adaptive: while any pending or processing item exists it polls on the
// fast interval, otherwise it falls back to the slow one.
type StatsRefresher struct {
	db      *database.DB
	siteIDs []int64
	fast    time.Duration
	slow    time.Duration
	log     zerolog.Logger
}

func NewStatsRefresher(db *database.DB, siteIDs []int64, fast, slow time.Duration, logger *zerolog.Logger) *StatsRefresher {
	if fast <= 0 {
		fast = models.DefaultRefreshFastSeconds * time.Second
	}
	if slow <= 0 {
		slow = models.DefaultRefreshSlowSeconds * time.Second
	}
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "stats_refresher").Logger()
	}
	return &StatsRefresher{
		db:      db,
		siteIDs: siteIDs,
		fast:    fast,
		slow:    slow,
		log:     log,
	}
}

// Start runs the refresh loop; stops when ctx is done.
func (r *StatsRefresher) Start(ctx context.Context) {
	r.log.Info().Msg("stats refresher started")
	defer r.log.Info().Msg("stats refresher stopped")

	for {
		busy := r.refreshAll(ctx)

		interval := r.slow
		if busy {
			interval = r.fast
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (r *StatsRefresher) refreshAll(ctx context.Context) bool {
	busy := false
	now := time.Now()
	for _, siteID := range r.siteIDs {
		stats, err := r.db.QueueStats(ctx, siteID, now)
		if err != nil {
			r.log.Error().Err(err).Int64("site_id", siteID).Msg("refresh queue stats")
			continue
		}

		for _, status := range []models.ItemStatus{
			models.ItemPending,
			models.ItemProcessing,
			models.ItemCompleted,
			models.ItemFailed,
			models.ItemCancelled,
			models.ItemRebalancing,
		} {
			metrics.SetQueueDepth(siteID, string(status), stats.ByStatus[status])
		}

		if stats.ByStatus[models.ItemPending] > 0 || stats.ByStatus[models.ItemProcessing] > 0 {
			busy = true
		}
	}
	return busy
}
