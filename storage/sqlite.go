package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		node_id VARCHAR(64) NOT NULL,
		temperature_c REAL,
		humidity_pct REAL,
		soil_moisture_pct REAL,
		motion BOOLEAN,
		timestamp BIGINT NOT NULL,
		raw_json TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_node_id ON readings(node_id)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_timestamp ON readings(timestamp)`,
	`CREATE TABLE IF NOT EXISTS rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name VARCHAR(120) NOT NULL UNIQUE,
		enabled BOOLEAN NOT NULL DEFAULT 1,
		metric VARCHAR(64) NOT NULL,
		operator VARCHAR(8) NOT NULL,
		value REAL NOT NULL,
		action VARCHAR(64) NOT NULL,
		action_params TEXT,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rules_enabled ON rules(enabled)`,
	`CREATE TABLE IF NOT EXISTS action_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		rule_id INTEGER REFERENCES rules(id) ON DELETE SET NULL,
		reading_id INTEGER REFERENCES readings(id) ON DELETE SET NULL,
		action VARCHAR(64) NOT NULL,
		payload TEXT,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_action_logs_rule_id ON action_logs(rule_id)`,
	`CREATE INDEX IF NOT EXISTS idx_action_logs_reading_id ON action_logs(reading_id)`,
}

var sqliteDialect = dialect{
	name:   SQLite,
	driver: "sqlite3",
	schema: sqliteSchema,
	isDuplicate: func(err error) bool {
		var se sqlite3.Error
		return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
	},
}

// NewSQLiteStorage opens (creating if needed) a SQLite database file.
// ":memory:" keeps everything in memory for the life of the store.
func NewSQLiteStorage(dsn string) (*SQLStorage, error) {
	if dsn == "" {
		return nil, errNoDatabaseName
	}
	if path := strings.TrimPrefix(strings.SplitN(dsn, "?", 2)[0], "file:"); path != ":memory:" && path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open(sqliteDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open SQLite database: %w", err)
	}
	// one connection: SQLite serializes writers and ":memory:" is per connection
	configurePool(db, 1, 0)

	ctx := context.Background()
	if err := ping(ctx, db, SQLite); err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	storage := newSQLStorage(db, sqliteDialect)
	if err := storage.InitDatabase(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return storage, nil
}
