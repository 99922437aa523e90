package models

const (
	// DefaultMaxAttempts is the number of processing failures before an
	// item is terminally failed.
	DefaultMaxAttempts = 3

	// DefaultFailureThreshold is the consecutive-failure streak that
	// excludes an integration from new assignments.
	DefaultFailureThreshold = 5

	// DefaultQuotaPollSeconds is the quota aggregation poll interval;
	// consumers tolerate staleness up to one interval.
	DefaultQuotaPollSeconds = 30

	// DefaultSnapshotTTLSeconds is the cached quota snapshot lifetime.
	DefaultSnapshotTTLSeconds = 120

	// DefaultRefreshFastSeconds is the stats refresh interval while
	// pending or processing work exists.
	DefaultRefreshFastSeconds = 5

	// DefaultRefreshSlowSeconds is the stats refresh interval when the
	// queue is idle.
	DefaultRefreshSlowSeconds = 60

	// DefaultExportDays is the number of day columns in the schedule export.
	DefaultExportDays = 14

	// DateLayout is the day-granularity format used for scheduled_for.
	DateLayout = "2006-01-02"
)
