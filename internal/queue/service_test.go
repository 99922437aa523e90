package queue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"indexator/internal/database"
	"indexator/internal/distribution"
	"indexator/internal/models"
	"indexator/internal/quota"
	"indexator/internal/repository"
	"indexator/internal/worker"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupService(t *testing.T, maxAttempts int, integrations []models.Integration) (*Service, *database.DB) {
	t.Helper()
	logger := zerolog.New(os.Stdout)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetIntegrations(integrations)

	agg := quota.NewAggregator(db, &logger)
	snapshots := repository.NewMemorySnapshotRepository(time.Hour)
	retry := worker.RetryPolicy{MaxAttempts: maxAttempts, InitialDelay: time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}

	return NewService(db, agg, snapshots, retry, maxAttempts, 5, &logger), db
}

func twoIntegrations() []models.Integration {
	return []models.Integration{
		{ID: 1, SiteID: 10, Name: "primary", DailyLimit: 4, Priority: 1, IsActive: true},
		{ID: 2, SiteID: 10, Name: "secondary", DailyLimit: 4, Priority: 2, IsActive: true},
	}
}

func candidateList(n int) []models.URLCandidate {
	out := make([]models.URLCandidate, n)
	for i := range out {
		out[i] = models.URLCandidate{URL: fmt.Sprintf("https://example.com/page-%d", i)}
	}
	return out
}

func TestEnqueue(t *testing.T) {
	svc, db := setupService(t, 3, twoIntegrations())
	ctx := context.Background()

	result, err := svc.Enqueue(ctx, 10, candidateList(6))
	require.NoError(t, err)

	assert.Equal(t, 6, result.Queued)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 1, result.DaysNeeded)
	assert.Equal(t, 4, result.Distribution["primary"])
	assert.Equal(t, 2, result.Distribution["secondary"])
	require.Len(t, result.BatchIDs, 2)

	pending, err := db.GetPendingItems(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 6)

	// every item belongs to one of the reported batches
	for _, item := range pending {
		assert.Contains(t, result.BatchIDs, item.BatchID)
	}

	for _, id := range result.BatchIDs {
		batch, err := db.GetBatch(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.BatchQueued, batch.Status)
		assert.Positive(t, batch.TotalURLs)
	}
}

func TestEnqueueSkipsDuplicates(t *testing.T) {
	svc, _ := setupService(t, 3, twoIntegrations())
	ctx := context.Background()

	first, err := svc.Enqueue(ctx, 10, candidateList(2))
	require.NoError(t, err)
	assert.Equal(t, 2, first.Queued)

	// same URLs again, plus blanks and an in-call duplicate
	second, err := svc.Enqueue(ctx, 10, []models.URLCandidate{
		{URL: "https://example.com/page-0"},
		{URL: "https://example.com/page-1"},
		{URL: "  https://example.com/fresh  "},
		{URL: "https://example.com/fresh"},
		{URL: "   "},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Queued)
	assert.Equal(t, 4, second.Skipped)
}

func TestEnqueueNothingLeft(t *testing.T) {
	svc, _ := setupService(t, 3, twoIntegrations())
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, 10, candidateList(2))
	require.NoError(t, err)

	// resubmitting only active URLs is a benign no-op, not an error
	result, err := svc.Enqueue(ctx, 10, candidateList(2))
	require.NoError(t, err)
	assert.Zero(t, result.Queued)
	assert.Equal(t, 2, result.Skipped)
	assert.Empty(t, result.BatchIDs)

	// an actually empty submission still fails fast
	_, err = svc.Enqueue(ctx, 10, nil)
	assert.ErrorIs(t, err, distribution.ErrEmptyURLList)
}

func TestEnqueueNoIntegrations(t *testing.T) {
	svc, _ := setupService(t, 3, nil)

	_, err := svc.Enqueue(context.Background(), 10, candidateList(2))
	assert.ErrorIs(t, err, distribution.ErrNoEligibleIntegrations)
}

func TestClaimAndReportSuccess(t *testing.T) {
	svc, db := setupService(t, 3, twoIntegrations())
	ctx := context.Background()

	result, err := svc.Enqueue(ctx, 10, candidateList(1))
	require.NoError(t, err)
	require.Len(t, result.BatchIDs, 1)

	item, err := svc.Claim(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, models.ItemProcessing, item.Status)

	require.NoError(t, svc.ReportResult(ctx, item.ID, true, ""))

	stored, err := db.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemCompleted, stored.Status)

	// the batch closed with its single item
	batch, err := db.GetBatch(ctx, result.BatchIDs[0])
	require.NoError(t, err)
	assert.Equal(t, 1, batch.CompletedURLs)
	assert.Equal(t, models.BatchCompleted, batch.Status)

	// the submission now counts against today's quota
	snap, err := svc.AggregatedQuota(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TotalUsedToday)
}

func TestReportFailureRetriesThenFails(t *testing.T) {
	svc, db := setupService(t, 2, twoIntegrations())
	ctx := context.Background()

	result, err := svc.Enqueue(ctx, 10, candidateList(1))
	require.NoError(t, err)

	item, err := svc.Claim(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, item)

	// first failure requeues with backoff
	require.NoError(t, svc.ReportResult(ctx, item.ID, false, "rate limited"))

	stored, err := db.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemPending, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.NextAttemptAt)

	// second failure exhausts attempts
	time.Sleep(10 * time.Millisecond)
	item, err = svc.Claim(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, item)

	require.NoError(t, svc.ReportResult(ctx, item.ID, false, "rate limited"))

	stored, err = db.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemFailed, stored.Status)
	assert.Equal(t, 2, stored.Attempts)

	batch, err := db.GetBatch(ctx, result.BatchIDs[0])
	require.NoError(t, err)
	assert.Equal(t, 1, batch.FailedURLs)
	assert.Equal(t, models.BatchCompleted, batch.Status)

	// the failure streak reached the ledger
	in, err := db.GetIntegration(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, in.ConsecutiveFailures)
}

func TestConcurrentReportsRecordOneSubmission(t *testing.T) {
	// file-backed db so every goroutine's pooled connection sees one store
	logger := zerolog.New(zerolog.NewConsoleWriter())
	db, err := database.NewDB(filepath.Join(t.TempDir(), "queue.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetIntegrations(twoIntegrations())

	agg := quota.NewAggregator(db, &logger)
	snapshots := repository.NewMemorySnapshotRepository(time.Hour)
	retry := worker.RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}
	svc := NewService(db, agg, snapshots, retry, 3, 5, &logger)

	ctx := context.Background()
	_, err = svc.Enqueue(ctx, 10, candidateList(1))
	require.NoError(t, err)

	item, err := svc.Claim(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, item)

	const reporters = 8
	results := make(chan error, reporters)
	var wg sync.WaitGroup
	for i := 0; i < reporters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- svc.ReportResult(ctx, item.ID, true, "")
		}()
	}
	wg.Wait()
	close(results)

	// exactly one report wins; the rest lose the conditional transition
	won := 0
	for err := range results {
		if err == nil {
			won++
		} else {
			assert.ErrorIs(t, err, database.ErrInvalidState)
		}
	}
	assert.Equal(t, 1, won)

	// the losers left no trace: one history row, one counted completion
	startOfDay := time.Now().Add(-time.Hour)
	usage, err := db.UsageSince(ctx, 10, startOfDay)
	require.NoError(t, err)
	assert.Equal(t, database.UsageCounts{Succeeded: 1, Total: 1}, usage[1])

	stored, err := db.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemCompleted, stored.Status)

	batch, err := db.GetBatch(ctx, item.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.CompletedURLs)
}

func TestReportResultWrongState(t *testing.T) {
	svc, db := setupService(t, 3, twoIntegrations())
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, 10, candidateList(1))
	require.NoError(t, err)

	pending, err := db.GetPendingItems(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	err = svc.ReportResult(ctx, pending[0].ID, true, "")
	assert.ErrorIs(t, err, database.ErrInvalidState)

	err = svc.ReportResult(ctx, 9999, true, "")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestClaimNothingDue(t *testing.T) {
	svc, _ := setupService(t, 3, twoIntegrations())

	item, err := svc.Claim(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestCancelBatchService(t *testing.T) {
	svc, db := setupService(t, 3, twoIntegrations())
	ctx := context.Background()

	result, err := svc.Enqueue(ctx, 10, candidateList(6))
	require.NoError(t, err)
	require.Len(t, result.BatchIDs, 2)

	require.NoError(t, svc.CancelBatch(ctx, result.BatchIDs[0]))

	batch, err := db.GetBatch(ctx, result.BatchIDs[0])
	require.NoError(t, err)
	assert.Equal(t, models.BatchCancelled, batch.Status)

	// the second batch is untouched
	other, err := db.GetBatch(ctx, result.BatchIDs[1])
	require.NoError(t, err)
	assert.Equal(t, models.BatchQueued, other.Status)

	stats, err := svc.Stats(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ByStatus[models.ItemPending])
}

func TestClearAllPendingService(t *testing.T) {
	svc, _ := setupService(t, 3, twoIntegrations())
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, 10, candidateList(5))
	require.NoError(t, err)

	removed, err := svc.ClearAllPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(5), removed)

	stats, err := svc.Stats(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, stats.ByStatus[models.ItemPending])
}

func TestAggregatedQuotaUsesCache(t *testing.T) {
	svc, db := setupService(t, 3, twoIntegrations())
	ctx := context.Background()

	first, err := svc.AggregatedQuota(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, first.TotalUsedToday)

	// new usage lands in the store but the cached view is served until
	// the poller refreshes it
	require.NoError(t, db.RecordSubmission(ctx, 10, 1, "https://example.com/x", true, "", time.Now()))

	cached, err := svc.AggregatedQuota(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, cached.TotalUsedToday)

	require.NoError(t, svc.snapshots.ClearSnapshot(ctx, 10))

	fresh, err := svc.AggregatedQuota(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.TotalUsedToday)
}
