package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteDriverName = "sqlite"

// InitDB opens/creates a SQLite DB file and ensures tables exist.
// Use ":memory:" for a throwaway database.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// One writer; also keeps a :memory: database on a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	// Fail fast if the DB cannot be reached
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return db, nil
}

const schemaTanks = `
CREATE TABLE IF NOT EXISTS tanks (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    device_id TEXT,
    shape TEXT NOT NULL,
    height REAL,
    width REAL,
    length REAL,
    diameter REAL,
    full_depth REAL,
    daily_usage REAL,
    created_at TEXT NOT NULL
);
`

const schemaTankAlerts = `
CREATE TABLE IF NOT EXISTS tank_alerts (
    id TEXT PRIMARY KEY,
    tank_id TEXT NOT NULL REFERENCES tanks(id) ON DELETE CASCADE,
    type TEXT NOT NULL,
    value REAL NOT NULL
);
`

const schemaReadings = `
CREATE TABLE IF NOT EXISTS readings (
    id TEXT PRIMARY KEY,
    tank_id TEXT NOT NULL REFERENCES tanks(id) ON DELETE CASCADE,
    distance_cm REAL NOT NULL,
    volume_l REAL,
    fill_pct REAL,
    days_left REAL,
    received_at TEXT NOT NULL
);
`

const schemaReadingsIndex = `
CREATE INDEX IF NOT EXISTS idx_readings_tank_time ON readings (tank_id, received_at);
`

const schemaAlertEvents = `
CREATE TABLE IF NOT EXISTS alert_events (
    id TEXT PRIMARY KEY,
    tank_id TEXT NOT NULL REFERENCES tanks(id) ON DELETE CASCADE,
    type TEXT NOT NULL,
    value REAL NOT NULL,
    observed REAL NOT NULL,
    message TEXT NOT NULL,
    occurred_at TEXT NOT NULL
);
`

func ensureSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() {
		// No-op after a successful commit
		_ = tx.Rollback()
	}()

	for i, stmt := range []string{
		schemaTanks,
		schemaTankAlerts,
		schemaReadings,
		schemaReadingsIndex,
		schemaAlertEvents,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}
