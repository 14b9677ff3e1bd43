package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir data dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// One writer keeps batch transactions from tripping SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA synchronous=NORMAL; PRAGMA temp_store=MEMORY;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// rollupColumns is shared by metrics_hourly and metrics_daily.
const rollupColumns = `
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL UNIQUE,
	cpu_percent_avg REAL NOT NULL,
	cpu_percent_max REAL NOT NULL,
	memory_used_avg REAL NOT NULL,
	memory_used_max REAL NOT NULL,
	memory_percent_avg REAL NOT NULL,
	memory_percent_max REAL NOT NULL,
	disk_used_avg REAL NOT NULL,
	disk_used_max REAL NOT NULL,
	disk_percent_avg REAL NOT NULL,
	disk_percent_max REAL NOT NULL,
	network_rx_avg REAL NOT NULL,
	network_rx_max REAL NOT NULL,
	network_tx_avg REAL NOT NULL,
	network_tx_max REAL NOT NULL,
	load_1m_avg REAL NOT NULL,
	load_1m_max REAL NOT NULL,
	network_rx_total REAL NOT NULL,
	network_tx_total REAL NOT NULL,
	sample_count INTEGER NOT NULL`

func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS metrics_live (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			cpu_percent REAL NOT NULL,
			memory_used INTEGER NOT NULL,
			memory_total INTEGER NOT NULL,
			memory_percent REAL NOT NULL,
			disk_used INTEGER NOT NULL,
			disk_total INTEGER NOT NULL,
			disk_percent REAL NOT NULL,
			network_rx REAL NOT NULL,
			network_tx REAL NOT NULL,
			load_1m REAL NOT NULL,
			load_5m REAL NOT NULL,
			load_15m REAL NOT NULL,
			uptime INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS metrics_hourly (` + rollupColumns + `);`,
		`CREATE TABLE IF NOT EXISTS metrics_daily (` + rollupColumns + `);`,
		`CREATE TABLE IF NOT EXISTS container_stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			container_id TEXT NOT NULL,
			container_name TEXT NOT NULL,
			cpu_percent REAL NOT NULL,
			memory_used INTEGER NOT NULL,
			memory_limit INTEGER NOT NULL,
			network_rx INTEGER NOT NULL,
			network_tx INTEGER NOT NULL,
			status TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS service_status (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			service_id TEXT NOT NULL,
			service_name TEXT NOT NULL,
			status TEXT NOT NULL,
			response_time INTEGER,
			uptime_percent REAL
		);`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			service_id TEXT,
			read INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS aggregation_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			aggregation_type TEXT NOT NULL,
			last_run INTEGER NOT NULL,
			records_processed INTEGER NOT NULL,
			records_deleted INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_live_ts ON metrics_live(timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_container_stats_ts ON container_stats(timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_container_stats_container_ts ON container_stats(container_id, timestamp DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_service_status_ts ON service_status(timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_service_status_service_ts ON service_status(service_id, timestamp DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_ts ON notifications(timestamp DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_aggregation_log_type ON aggregation_log(aggregation_type, last_run DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate failed: %w", err)
		}
	}
	return nil
}
