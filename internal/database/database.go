package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"indexator/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB is the SQLite-backed queue store. The integration catalog comes from
// config via SetIntegrations and is merged with the persisted health ledger
// on read. Concurrent-claim safety relies on conditional status updates,
// not in-process locking.
type DB struct {
	*sql.DB
	log zerolog.Logger

	integrations map[int64]models.Integration
	sorted       []models.Integration
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %v", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %v", err)
	}

	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "database").Logger()
	}
	log.Info().Str("path", path).Msg("database initialized")

	return &DB{
		DB:           db,
		log:          log,
		integrations: make(map[int64]models.Integration),
	}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS queue_items (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            site_id INTEGER NOT NULL,
            integration_id INTEGER NOT NULL,
            page_id INTEGER,
            url TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            scheduled_for DATETIME NOT NULL,
            attempts INTEGER NOT NULL DEFAULT 0,
            error_message TEXT NOT NULL DEFAULT '',
            batch_id TEXT NOT NULL DEFAULT '',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            processed_at DATETIME,
            next_attempt_at DATETIME
        )`,

		`CREATE TABLE IF NOT EXISTS batches (
            id TEXT PRIMARY KEY,
            site_id INTEGER NOT NULL,
            integration_id INTEGER NOT NULL,
            total_urls INTEGER NOT NULL DEFAULT 0,
            completed_urls INTEGER NOT NULL DEFAULT 0,
            failed_urls INTEGER NOT NULL DEFAULT 0,
            status TEXT NOT NULL DEFAULT 'queued',
            started_at DATETIME,
            completed_at DATETIME,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS submission_history (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            site_id INTEGER NOT NULL,
            integration_id INTEGER NOT NULL,
            url TEXT NOT NULL,
            success BOOLEAN NOT NULL,
            error_message TEXT NOT NULL DEFAULT '',
            submitted_at DATETIME NOT NULL
        )`,

		`CREATE TABLE IF NOT EXISTS integration_health (
            integration_id INTEGER PRIMARY KEY,
            health_status TEXT NOT NULL DEFAULT 'unknown',
            consecutive_failures INTEGER NOT NULL DEFAULT 0,
            checked_at DATETIME NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_queue_items_status ON queue_items(status)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_items_site ON queue_items(site_id)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_items_integration ON queue_items(integration_id)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_items_batch ON queue_items(batch_id)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_items_scheduled ON queue_items(scheduled_for)`,
		`CREATE INDEX IF NOT EXISTS idx_batches_site ON batches(site_id)`,
		`CREATE INDEX IF NOT EXISTS idx_history_integration ON submission_history(integration_id, submitted_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %v", query, err)
		}
	}
	return nil
}

// SetIntegrations installs the config-fed integration catalog. Called once
// at startup; the catalog itself is owned by config, only health fields
// live in this store.
func (db *DB) SetIntegrations(integrations []models.Integration) {
	db.integrations = make(map[int64]models.Integration, len(integrations))
	for _, in := range integrations {
		db.integrations[in.ID] = in
	}
	sorted := make([]models.Integration, len(integrations))
	copy(sorted, integrations)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Priority == sorted[j].Priority {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Priority < sorted[j].Priority
	})
	db.sorted = sorted
}

// GetIntegration returns one catalog entry with health merged in.
func (db *DB) GetIntegration(ctx context.Context, id int64) (*models.Integration, error) {
	in, ok := db.integrations[id]
	if !ok {
		return nil, fmt.Errorf("integration %d: %w", id, ErrNotFound)
	}
	health, err := db.loadHealth(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	applyHealth(&in, health)
	return &in, nil
}

// GetSiteIntegrations returns the catalog entries for a site, in priority
// order, with persisted health merged in.
func (db *DB) GetSiteIntegrations(ctx context.Context, siteID int64) ([]models.Integration, error) {
	var ids []int64
	var out []models.Integration
	for _, in := range db.sorted {
		if in.SiteID == siteID {
			ids = append(ids, in.ID)
			out = append(out, in)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}

	health, err := db.loadHealth(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		applyHealth(&out[i], health)
	}
	return out, nil
}

type healthRow struct {
	status   models.HealthStatus
	failures int
}

func (db *DB) loadHealth(ctx context.Context, ids []int64) (map[int64]healthRow, error) {
	rows, err := db.QueryContext(ctx, `SELECT integration_id, health_status, consecutive_failures FROM integration_health`)
	if err != nil {
		return nil, fmt.Errorf("failed to load integration health: %w", err)
	}
	defer rows.Close()

	wanted := make(map[int64]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	out := make(map[int64]healthRow)
	for rows.Next() {
		var id int64
		var h healthRow
		if err := rows.Scan(&id, &h.status, &h.failures); err != nil {
			return nil, fmt.Errorf("failed to scan integration health: %w", err)
		}
		if wanted[id] {
			out[id] = h
		}
	}
	return out, rows.Err()
}

func applyHealth(in *models.Integration, health map[int64]healthRow) {
	if h, ok := health[in.ID]; ok {
		in.HealthStatus = h.status
		in.ConsecutiveFailures = h.failures
	} else if in.HealthStatus == "" {
		in.HealthStatus = models.HealthUnknown
	}
}
