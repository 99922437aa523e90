package export

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"indexator/internal/database"
	"indexator/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func setupExportDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.New(os.Stdout)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetIntegrations([]models.Integration{
		{ID: 1, SiteID: 10, Name: "primary", DailyLimit: 100, Priority: 1, IsActive: true},
		{ID: 2, SiteID: 10, Name: "secondary", DailyLimit: 50, Priority: 2, IsActive: true},
	})
	return db
}

func seedSchedule(t *testing.T, db *database.DB, integrationID int64, n int, scheduledFor time.Time) {
	t.Helper()
	batchID := fmt.Sprintf("batch-%d-%d", integrationID, scheduledFor.Unix())
	batch := models.Batch{ID: batchID, SiteID: 10, IntegrationID: integrationID,
		Status: models.BatchQueued, TotalURLs: n}
	items := make([]models.QueueItem, n)
	for i := range items {
		items[i] = models.QueueItem{
			SiteID:        10,
			IntegrationID: integrationID,
			BatchID:       batchID,
			URL:           fmt.Sprintf("https://example.com/%s/%d", batchID, i),
			Status:        models.ItemPending,
			ScheduledFor:  scheduledFor,
		}
	}
	require.NoError(t, db.EnqueueDistribution(context.Background(), []models.Batch{batch}, items))
}

func TestScheduleToExcel(t *testing.T) {
	db := setupExportDB(t)
	exporter := NewExporter(db, t.TempDir())

	now := time.Now()
	noon := time.Date(now.Year(), now.Month(), now.Day(), 12, 0, 0, 0, now.Location())
	seedSchedule(t, db, 1, 3, noon)
	seedSchedule(t, db, 2, 2, noon)
	seedSchedule(t, db, 1, 4, noon.AddDate(0, 0, 1))

	start := time.Date(noon.Year(), noon.Month(), noon.Day(), 0, 0, 0, 0, noon.Location())
	path, err := exporter.ScheduleToExcel(context.Background(), 10, start, 7)
	require.NoError(t, err)
	assert.FileExists(t, path)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	// row 2 holds the dates, rows 3+ one integration each in priority order
	header, err := f.GetCellValue("Schedule", "B2")
	require.NoError(t, err)
	assert.Equal(t, noon.Format(models.DateLayout), header)

	name, err := f.GetCellValue("Schedule", "A3")
	require.NoError(t, err)
	assert.Equal(t, "primary", name)

	today, err := f.GetCellValue("Schedule", "B3")
	require.NoError(t, err)
	assert.Equal(t, "3", today)

	tomorrow, err := f.GetCellValue("Schedule", "C3")
	require.NoError(t, err)
	assert.Equal(t, "4", tomorrow)

	secondary, err := f.GetCellValue("Schedule", "B4")
	require.NoError(t, err)
	assert.Equal(t, "2", secondary)
}

func TestScheduleToExcelEmptySchedule(t *testing.T) {
	db := setupExportDB(t)
	exporter := NewExporter(db, t.TempDir())

	start := time.Now()
	path, err := exporter.ScheduleToExcel(context.Background(), 10, start, 0)
	require.NoError(t, err)
	assert.FileExists(t, path)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	// zero days falls back to the default window
	lastCol, err := excelize.ColumnNumberToName(models.DefaultExportDays + 1)
	require.NoError(t, err)
	v, err := f.GetCellValue("Schedule", lastCol+"2")
	require.NoError(t, err)
	assert.Equal(t, start.AddDate(0, 0, models.DefaultExportDays-1).Format(models.DateLayout), v)
}
