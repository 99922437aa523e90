package models

// HealthStatus is the externally reported health of an indexing account.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthChecking  HealthStatus = "checking"
	HealthUnknown   HealthStatus = "unknown"
)

// Integration is one indexing-API account with its own daily quota.
// The catalog comes from config; health fields are merged from the store.
type Integration struct {
	ID                  int64        `yaml:"id" json:"id"`
	SiteID              int64        `yaml:"site_id" json:"site_id"`
	Name                string       `yaml:"name" json:"name"`
	Account             string       `yaml:"account" json:"account"`
	DailyLimit          int          `yaml:"daily_limit" json:"daily_limit"`
	Priority            int64        `yaml:"priority" json:"priority"`
	IsActive            bool         `yaml:"is_active" json:"is_active"`
	HealthStatus        HealthStatus `yaml:"-" json:"health_status"`
	ConsecutiveFailures int          `yaml:"-" json:"consecutive_failures"`
}

// HealthyEnough reports whether the account may receive new assignments.
// Unknown counts as healthy; checking means a health probe is in flight
// and the account holds until it resolves.
func (i Integration) HealthyEnough() bool {
	switch i.HealthStatus {
	case HealthHealthy, HealthUnknown, "":
		return true
	default:
		return false
	}
}

// Eligible reports whether the distribution engine may assign work here.
func (i Integration) Eligible(maxConsecutiveFailures int) bool {
	return i.IsActive && i.HealthyEnough() && i.ConsecutiveFailures < maxConsecutiveFailures
}
