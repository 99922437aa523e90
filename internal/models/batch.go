package models

import "time"

// Batch groups queue items enqueued together for one integration.
// Counters are advanced with atomic SQL increments, never read-modify-write.
type Batch struct {
	ID            string      `json:"id"`
	SiteID        int64       `json:"site_id"`
	IntegrationID int64       `json:"integration_id"`
	TotalURLs     int         `json:"total_urls"`
	CompletedURLs int         `json:"completed_urls"`
	FailedURLs    int         `json:"failed_urls"`
	Status        BatchStatus `json:"status"`
	StartedAt     *time.Time  `json:"started_at,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Done reports whether every member item reached a terminal status.
func (b Batch) Done() bool {
	return b.CompletedURLs+b.FailedURLs >= b.TotalURLs
}
