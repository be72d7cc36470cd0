package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/eddielth/edge-ingest/logger"
)

const pgUniqueViolation = "23505"

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS readings (
		id BIGSERIAL PRIMARY KEY,
		node_id VARCHAR(64) NOT NULL,
		temperature_c DOUBLE PRECISION,
		humidity_pct DOUBLE PRECISION,
		soil_moisture_pct DOUBLE PRECISION,
		motion BOOLEAN,
		timestamp BIGINT NOT NULL,
		raw_json TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_node_id ON readings(node_id)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_timestamp ON readings(timestamp)`,
	`CREATE TABLE IF NOT EXISTS rules (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(120) NOT NULL UNIQUE,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		metric VARCHAR(64) NOT NULL,
		operator VARCHAR(8) NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		action VARCHAR(64) NOT NULL,
		action_params JSONB,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rules_enabled ON rules(enabled)`,
	`CREATE TABLE IF NOT EXISTS action_logs (
		id BIGSERIAL PRIMARY KEY,
		rule_id BIGINT REFERENCES rules(id) ON DELETE SET NULL,
		reading_id BIGINT REFERENCES readings(id) ON DELETE SET NULL,
		action VARCHAR(64) NOT NULL,
		payload JSONB,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_action_logs_rule_id ON action_logs(rule_id)`,
	`CREATE INDEX IF NOT EXISTS idx_action_logs_reading_id ON action_logs(reading_id)`,
}

var postgresDialect = dialect{
	name:      PostgreSQL,
	driver:    "postgres",
	numbered:  true,
	returning: true,
	schema:    postgresSchema,
	isDuplicate: func(err error) bool {
		var pe *pq.Error
		return errors.As(err, &pe) && string(pe.Code) == pgUniqueViolation
	},
}

// NewPostgreSQLStorage connects through lib/pq, creating the database if needed
func NewPostgreSQLStorage(dsn string) (*SQLStorage, error) {
	return openPostgres(postgresDialect, dsn)
}

func openPostgres(d dialect, dsn string) (*SQLStorage, error) {
	database, serverDSN, err := parsePostgreSQLDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse PostgreSQL DSN: %w", err)
	}

	ctx := context.Background()
	if err := ensurePostgresDatabase(ctx, d.driver, serverDSN, database); err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open PostgreSQL database: %w", err)
	}
	configurePool(db, 10, 5*time.Minute)
	if err := ping(ctx, db, d.name); err != nil {
		return nil, err
	}

	storage := newSQLStorage(db, d)
	if err := storage.InitDatabase(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("PostgreSQL storage ready (%s driver): %s", d.driver, database)
	return storage, nil
}

func ensurePostgresDatabase(ctx context.Context, driver, serverDSN, database string) error {
	serverDB, err := sql.Open(driver, serverDSN)
	if err != nil {
		return fmt.Errorf("connect to PostgreSQL server: %w", err)
	}
	defer serverDB.Close()

	var exists bool
	err = serverDB.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", database).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check database %s: %w", database, err)
	}
	if exists {
		return nil
	}

	// CREATE DATABASE cannot take a bind parameter
	if _, err := serverDB.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(database)); err != nil {
		return fmt.Errorf("create database %s: %w", database, err)
	}
	logger.Info("created PostgreSQL database: %s", database)
	return nil
}

// parsePostgreSQLDSN returns the database name and a DSN pointing at the
// maintenance "postgres" database on the same server.
// Both URL (postgres://u:p@host:5432/db?x=y) and key/value forms are accepted.
func parsePostgreSQLDSN(dsn string) (database string, serverDSN string, err error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", err
		}
		database = strings.TrimPrefix(u.Path, "/")
		if database == "" {
			return "", "", errNoDatabaseName
		}
		u.Path = "/postgres"
		return database, u.String(), nil
	}

	fields := strings.Fields(dsn)
	server := make([]string, 0, len(fields)+1)
	for _, kv := range fields {
		if name, ok := strings.CutPrefix(kv, "dbname="); ok {
			database = name
			continue
		}
		server = append(server, kv)
	}
	if database == "" {
		return "", "", errNoDatabaseName
	}
	server = append(server, "dbname=postgres")
	return database, strings.Join(server, " "), nil
}
