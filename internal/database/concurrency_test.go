package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"indexator/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentClaims(t *testing.T) {
	logger := zerolog.New(zerolog.NewConsoleWriter())
	dbPath := filepath.Join(t.TempDir(), "concurrency.db")
	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	const total = 5
	seedBatch(t, db, "batch-1", 10, 1, total, noonToday())

	const numGoroutines = 10
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	results := make(chan *models.QueueItem, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			item, err := db.ClaimNextPending(ctx, 1, time.Now())
			assert.NoError(t, err)
			results <- item
		}()
	}

	wg.Wait()
	close(results)

	claimed := make(map[int64]bool)
	for item := range results {
		if item == nil {
			continue
		}
		// the same item must never be handed out twice
		assert.False(t, claimed[item.ID], "item %d claimed twice", item.ID)
		claimed[item.ID] = true
		assert.Equal(t, models.ItemProcessing, item.Status)
	}

	assert.NotEmpty(t, claimed)
	assert.LessOrEqual(t, len(claimed), total)

	// everything handed out is actually processing in the store
	stats, err := db.QueueStats(ctx, 10, time.Now())
	require.NoError(t, err)
	assert.Equal(t, len(claimed), stats.ByStatus[models.ItemProcessing])
	assert.Equal(t, total-len(claimed), stats.ByStatus[models.ItemPending])
}

func TestConcurrentBatchCounters(t *testing.T) {
	logger := zerolog.New(zerolog.NewConsoleWriter())
	dbPath := filepath.Join(t.TempDir(), "counters.db")
	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	const total = 20
	seedBatch(t, db, "batch-1", 10, 1, total, noonToday())

	var wg sync.WaitGroup
	wg.Add(total)
	for i := 0; i < total; i++ {
		go func(failed bool) {
			defer wg.Done()
			var err error
			if failed {
				err = db.IncrementBatchCounters(ctx, "batch-1", 0, 1)
			} else {
				err = db.IncrementBatchCounters(ctx, "batch-1", 1, 0)
			}
			assert.NoError(t, err)
		}(i%4 == 0)
	}
	wg.Wait()

	batch, err := db.GetBatch(ctx, "batch-1")
	require.NoError(t, err)
	// atomic increments lose nothing under contention
	assert.Equal(t, total, batch.CompletedURLs+batch.FailedURLs)
	assert.Equal(t, 5, batch.FailedURLs)
}
