package quota

import (
	"context"
	"time"

	"indexator/internal/domain"
	"indexator/internal/metrics"

	"github.com/rs/zerolog"
)

// Poller refreshes the aggregated quota snapshot for every configured site
// on a fixed interval. Polling over push is deliberate: the view may lag up
// to one interval behind the history.
type Poller struct {
	agg      *Aggregator
	cache    domain.SnapshotRepository
	siteIDs  []int64
	interval time.Duration
	log      zerolog.Logger
}

func NewPoller(agg *Aggregator, cache domain.SnapshotRepository, siteIDs []int64, interval time.Duration, logger *zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "quota_poller").Logger()
	}
	return &Poller{
		agg:      agg,
		cache:    cache,
		siteIDs:  siteIDs,
		interval: interval,
		log:      log,
	}
}

// Start runs the poll loop; stops when ctx is done. The first refresh runs
// immediately so the cache is warm before the API starts serving.
func (p *Poller) Start(ctx context.Context) {
	p.log.Info().Dur("interval", p.interval).Msg("quota poller started")
	defer p.log.Info().Msg("quota poller stopped")

	p.refreshAll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refreshAll(ctx)
		}
	}
}

func (p *Poller) refreshAll(ctx context.Context) {
	now := time.Now()
	for _, siteID := range p.siteIDs {
		snap, err := p.agg.Aggregate(ctx, siteID, now)
		if err != nil {
			p.log.Error().Err(err).Int64("site_id", siteID).Msg("aggregate quota")
			continue
		}

		if err := p.cache.SetSnapshot(ctx, snap); err != nil {
			p.log.Error().Err(err).Int64("site_id", siteID).Msg("cache quota snapshot")
		}

		for _, s := range snap.Integrations {
			metrics.SetQuota(s.Name, s.UsedToday, s.RemainingToday)
		}
	}
}
