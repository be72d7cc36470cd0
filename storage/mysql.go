package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/eddielth/edge-ingest/logger"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS readings (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		node_id VARCHAR(64) NOT NULL,
		temperature_c DOUBLE NULL,
		humidity_pct DOUBLE NULL,
		soil_moisture_pct DOUBLE NULL,
		motion BOOLEAN NULL,
		timestamp BIGINT NOT NULL,
		raw_json TEXT NOT NULL,
		INDEX idx_readings_node_id (node_id),
		INDEX idx_readings_timestamp (timestamp)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS rules (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(120) NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		metric VARCHAR(64) NOT NULL,
		operator VARCHAR(8) NOT NULL,
		value DOUBLE NOT NULL,
		action VARCHAR(64) NOT NULL,
		action_params JSON NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		UNIQUE INDEX idx_rules_name (name),
		INDEX idx_rules_enabled (enabled)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS action_logs (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		rule_id BIGINT NULL,
		reading_id BIGINT NULL,
		action VARCHAR(64) NOT NULL,
		payload JSON NULL,
		created_at BIGINT NOT NULL,
		INDEX idx_action_logs_rule_id (rule_id),
		INDEX idx_action_logs_reading_id (reading_id),
		FOREIGN KEY (rule_id) REFERENCES rules(id) ON DELETE SET NULL,
		FOREIGN KEY (reading_id) REFERENCES readings(id) ON DELETE SET NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

const mysqlDuplicateEntry = 1062

var mysqlDialect = dialect{
	name:   MySQL,
	driver: "mysql",
	schema: mysqlSchema,
	isDuplicate: func(err error) bool {
		var me *mysql.MySQLError
		return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
	},
}

// NewMySQLStorage connects to MySQL, creating the database if it does not exist
func NewMySQLStorage(dsn string) (*SQLStorage, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse MySQL DSN: %w", err)
	}
	if cfg.DBName == "" {
		return nil, errNoDatabaseName
	}

	ctx := context.Background()
	if err := ensureMySQLDatabase(ctx, cfg); err != nil {
		return nil, err
	}

	db, err := sql.Open(mysqlDialect.driver, cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open MySQL database: %w", err)
	}
	configurePool(db, 10, 5*time.Minute)
	if err := ping(ctx, db, MySQL); err != nil {
		return nil, err
	}

	storage := newSQLStorage(db, mysqlDialect)
	if err := storage.InitDatabase(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("MySQL storage ready: %s", cfg.DBName)
	return storage, nil
}

// ensureMySQLDatabase connects without a schema and creates the configured one
func ensureMySQLDatabase(ctx context.Context, cfg *mysql.Config) error {
	server := cfg.Clone()
	server.DBName = ""

	serverDB, err := sql.Open(mysqlDialect.driver, server.FormatDSN())
	if err != nil {
		return fmt.Errorf("connect to MySQL server: %w", err)
	}
	defer serverDB.Close()

	_, err = serverDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", cfg.DBName))
	if err != nil {
		return fmt.Errorf("create MySQL database %s: %w", cfg.DBName, err)
	}
	return nil
}
