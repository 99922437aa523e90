package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"indexator/internal/database"
	"indexator/internal/models"

	"github.com/xuri/excelize/v2"
)

// Exporter writes the pending-load schedule to an xlsx file: one row per
// integration, one column per day, cell value is the number of URLs
// scheduled for that (integration, day).
type Exporter struct {
	db   *database.DB
	path string
}

func NewExporter(db *database.DB, path string) *Exporter {
	return &Exporter{db: db, path: path}
}

// ScheduleToExcel renders the schedule grid for a site and returns the
// written file path.
func (e *Exporter) ScheduleToExcel(ctx context.Context, siteID int64, start time.Time, days int) (string, error) {
	if days <= 0 {
		days = models.DefaultExportDays
	}

	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	integrations, err := e.db.GetSiteIntegrations(ctx, siteID)
	if err != nil {
		return "", fmt.Errorf("error getting integrations: %v", err)
	}

	counts, err := e.db.PendingCountsByDay(ctx, siteID, start, days)
	if err != nil {
		return "", fmt.Errorf("error getting pending counts: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Schedule"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	end := start.AddDate(0, 0, days-1)
	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Pending schedule: %s - %s",
		start.Format(models.DateLayout), end.Format(models.DateLayout)))

	e.writeDateHeaders(f, sheetName, start, days)
	e.writeIntegrationRows(f, sheetName, integrations, counts, start, days)

	_ = f.SetColWidth(sheetName, "A", "A", 25)
	lastCol, _ := excelize.ColumnNumberToName(days + 1)
	_ = f.SetColWidth(sheetName, "B", lastCol, 12)
	_ = f.MergeCell(sheetName, "A1", lastCol+"1")

	style, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", style)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("schedule_site%d_%s.xlsx", siteID, time.Now().Format("20060102_150405"))
	fullPath := filepath.Join(e.path, fileName)
	if err := f.SaveAs(fullPath); err != nil {
		return "", fmt.Errorf("error saving export: %v", err)
	}

	return fullPath, nil
}

func (e *Exporter) writeDateHeaders(f *excelize.File, sheetName string, start time.Time, days int) {
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})

	for i := 0; i < days; i++ {
		col := i + 2
		cell, _ := excelize.CoordinatesToCellName(col, 2)
		_ = f.SetCellValue(sheetName, cell, start.AddDate(0, 0, i).Format(models.DateLayout))
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}
}

func (e *Exporter) writeIntegrationRows(f *excelize.File, sheetName string,
	integrations []models.Integration, counts map[int64]map[string]int, start time.Time, days int) {
	nameStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E2EFDA"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})

	for i, in := range integrations {
		row := i + 3
		cell, _ := excelize.CoordinatesToCellName(1, row)
		_ = f.SetCellValue(sheetName, cell, in.Name)
		_ = f.SetCellStyle(sheetName, cell, cell, nameStyle)

		for d := 0; d < days; d++ {
			day := start.AddDate(0, 0, d).Format(models.DateLayout)
			n := counts[in.ID][day]
			dataCell, _ := excelize.CoordinatesToCellName(d+2, row)
			_ = f.SetCellValue(sheetName, dataCell, n)
		}
	}
}
