package database

import (
	"context"
	"testing"
	"time"

	"indexator/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmissionHistory(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	require.NoError(t, db.RecordSubmission(ctx, 10, 1, "https://example.com/a", true, "", now))
	require.NoError(t, db.RecordSubmission(ctx, 10, 1, "https://example.com/b", false, "timeout", now))
	require.NoError(t, db.RecordSubmission(ctx, 10, 2, "https://example.com/c", true, "", now))

	// a yesterday row must not count toward today's usage
	require.NoError(t, db.RecordSubmission(ctx, 10, 1, "https://example.com/old", true, "", startOfDay.Add(-time.Hour)))

	usage, err := db.UsageSince(ctx, 10, startOfDay)
	require.NoError(t, err)

	assert.Equal(t, UsageCounts{Succeeded: 1, Total: 2}, usage[1])
	assert.Equal(t, UsageCounts{Succeeded: 1, Total: 1}, usage[2])
}

func TestUsageSinceOtherSite(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()
	require.NoError(t, db.RecordSubmission(ctx, 20, 3, "https://other.com/a", true, "", now))

	usage, err := db.UsageSince(ctx, 10, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, usage)
}

func TestPruneHistory(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()

	require.NoError(t, db.RecordSubmission(ctx, 10, 1, "https://example.com/old", true, "", now.AddDate(0, 0, -10)))
	require.NoError(t, db.RecordSubmission(ctx, 10, 1, "https://example.com/new", true, "", now))

	pruned, err := db.PruneHistory(ctx, now.AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	usage, err := db.UsageSince(ctx, 10, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, UsageCounts{Succeeded: 1, Total: 1}, usage[1])
}

func TestIntegrationHealthLedger(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	db.SetIntegrations([]models.Integration{
		{ID: 1, SiteID: 10, Name: "primary", DailyLimit: 100, IsActive: true},
	})

	// no ledger row yet: health is unknown
	in, err := db.GetIntegration(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.HealthUnknown, in.HealthStatus)
	assert.Equal(t, 0, in.ConsecutiveFailures)

	// failures accumulate and flip the account at the threshold
	for i := 0; i < 3; i++ {
		require.NoError(t, db.RecordIntegrationFailure(ctx, 1, 3))
	}
	in, err = db.GetIntegration(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.HealthUnhealthy, in.HealthStatus)
	assert.Equal(t, 3, in.ConsecutiveFailures)
	assert.False(t, in.Eligible(3))

	// one success resets the streak and recovers the account
	require.NoError(t, db.RecordIntegrationSuccess(ctx, 1))
	in, err = db.GetIntegration(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.HealthHealthy, in.HealthStatus)
	assert.Equal(t, 0, in.ConsecutiveFailures)
	assert.True(t, in.Eligible(3))
}

func TestIntegrationHealthBelowThreshold(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	db.SetIntegrations([]models.Integration{
		{ID: 1, SiteID: 10, Name: "primary", DailyLimit: 100, IsActive: true},
	})

	require.NoError(t, db.RecordIntegrationFailure(ctx, 1, 5))
	require.NoError(t, db.RecordIntegrationFailure(ctx, 1, 5))

	in, err := db.GetIntegration(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, in.ConsecutiveFailures)
	assert.NotEqual(t, models.HealthUnhealthy, in.HealthStatus)
	assert.True(t, in.Eligible(5))
}

func TestGetSiteIntegrationsOrder(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	db.SetIntegrations([]models.Integration{
		{ID: 3, SiteID: 10, Name: "c", DailyLimit: 10, Priority: 2, IsActive: true},
		{ID: 1, SiteID: 10, Name: "a", DailyLimit: 10, Priority: 1, IsActive: true},
		{ID: 2, SiteID: 20, Name: "b", DailyLimit: 10, Priority: 1, IsActive: true},
	})

	integrations, err := db.GetSiteIntegrations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, integrations, 2)
	assert.Equal(t, "a", integrations[0].Name)
	assert.Equal(t, "c", integrations[1].Name)

	missing, err := db.GetSiteIntegrations(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGetIntegrationNotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, err := db.GetIntegration(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}
