package models

import "time"

// QueueItem is one URL awaiting or undergoing submission.
// ScheduledFor has day granularity; the time part is always midnight local.
type QueueItem struct {
	ID            int64      `json:"id"`
	SiteID        int64      `json:"site_id"`
	IntegrationID int64      `json:"integration_id"`
	PageID        *int64     `json:"page_id,omitempty"`
	URL           string     `json:"url"`
	Status        ItemStatus `json:"status"`
	ScheduledFor  time.Time  `json:"scheduled_for"`
	Attempts      int        `json:"attempts"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	BatchID       string     `json:"batch_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
}

// URLCandidate is an un-assigned URL coming from sitemap import or
// manual selection.
type URLCandidate struct {
	URL    string `json:"url"`
	PageID *int64 `json:"page_id,omitempty"`
}
