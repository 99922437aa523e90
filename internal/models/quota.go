package models

import "time"

// QuotaSnapshot is the derived per-integration quota view. Never persisted.
type QuotaSnapshot struct {
	IntegrationID  int64   `json:"integration_id"`
	Name           string  `json:"name"`
	DailyLimit     int     `json:"daily_limit"`
	UsedToday      int     `json:"used_today"`
	RemainingToday int     `json:"remaining_today"`
	SuccessRate    float64 `json:"success_rate"`
}

// AggregatedQuota is the site-wide quota view. Totals cover active
// integrations; EstimatedCapacityToday and CanAcceptMore cover only the
// healthy-active subset.
type AggregatedQuota struct {
	SiteID                 int64           `json:"site_id"`
	TotalDailyLimit        int             `json:"total_daily_limit"`
	TotalUsedToday         int             `json:"total_used_today"`
	TotalRemaining         int             `json:"total_remaining"`
	EstimatedCapacityToday int             `json:"estimated_capacity_today"`
	ActiveCount            int             `json:"active_count"`
	HealthyCount           int             `json:"healthy_count"`
	CanAcceptMore          bool            `json:"can_accept_more"`
	Integrations           []QuotaSnapshot `json:"integrations"`
	GeneratedAt            time.Time       `json:"generated_at"`
}

// QueueStats is the per-site read model behind the dashboard counters.
type QueueStats struct {
	SiteID          int64              `json:"site_id"`
	ByStatus        map[ItemStatus]int `json:"by_status"`
	PendingToday    int                `json:"pending_today"`
	PendingTomorrow int                `json:"pending_tomorrow"`
}

// Total returns the overall number of queue items in the stats window.
func (s QueueStats) Total() int {
	total := 0
	for _, n := range s.ByStatus {
		total += n
	}
	return total
}
