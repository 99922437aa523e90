// Package quota derives per-integration and aggregate quota views from the
// submission history. Results are recomputed on a fixed poll interval, so
// consumers must tolerate staleness up to one interval; the engine never
// over-corrects for brief overshoot between refreshes.
package quota

import (
	"context"
	"time"

	"indexator/internal/database"
	"indexator/internal/models"

	"github.com/rs/zerolog"
)

type Aggregator struct {
	db  *database.DB
	log zerolog.Logger
}

func NewAggregator(db *database.DB, logger *zerolog.Logger) *Aggregator {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "quota").Logger()
	}
	return &Aggregator{db: db, log: log}
}

// Aggregate computes the site-wide quota view as of now. An empty catalog
// yields a zero-valued result, never an error. Read-only.
func (a *Aggregator) Aggregate(ctx context.Context, siteID int64, now time.Time) (*models.AggregatedQuota, error) {
	out := &models.AggregatedQuota{
		SiteID:       siteID,
		Integrations: []models.QuotaSnapshot{},
		GeneratedAt:  now,
	}

	integrations, err := a.db.GetSiteIntegrations(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if len(integrations) == 0 {
		return out, nil
	}

	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	usage, err := a.db.UsageSince(ctx, siteID, startOfDay)
	if err != nil {
		return nil, err
	}

	healthyRemaining := 0
	for _, in := range integrations {
		counts := usage[in.ID]
		snap := Snapshot(in, counts.Succeeded, counts.Total)
		out.Integrations = append(out.Integrations, snap)

		if !in.IsActive {
			continue
		}
		out.ActiveCount++
		out.TotalDailyLimit += in.DailyLimit
		out.TotalUsedToday += snap.UsedToday
		out.TotalRemaining += snap.RemainingToday

		if in.HealthyEnough() {
			out.HealthyCount++
			healthyRemaining += snap.RemainingToday
		}
	}

	out.EstimatedCapacityToday = healthyRemaining
	out.CanAcceptMore = healthyRemaining > 0
	return out, nil
}

// Snapshot derives the per-integration view from raw usage counts.
// used_today counts only successful submissions against the quota.
func Snapshot(in models.Integration, succeeded, total int) models.QuotaSnapshot {
	remaining := in.DailyLimit - succeeded
	if remaining < 0 {
		remaining = 0
	}

	successRate := 100.0
	if total > 0 {
		successRate = float64(succeeded) / float64(total) * 100
	}

	return models.QuotaSnapshot{
		IntegrationID:  in.ID,
		Name:           in.Name,
		DailyLimit:     in.DailyLimit,
		UsedToday:      succeeded,
		RemainingToday: remaining,
		SuccessRate:    successRate,
	}
}
