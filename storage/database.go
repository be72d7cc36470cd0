package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DatabaseType names a supported primary database
type DatabaseType string

const (
	SQLite     DatabaseType = "sqlite"
	MySQL      DatabaseType = "mysql"
	PostgreSQL DatabaseType = "postgresql"
	// PGX is PostgreSQL (or TimescaleDB) through the pgx driver
	PGX    DatabaseType = "pgx"
	Memory DatabaseType = "memory"
)

// dialect captures what differs between the SQL backends
type dialect struct {
	name        DatabaseType
	driver      string
	numbered    bool // $1 placeholders instead of ?
	returning   bool // INSERT ... RETURNING id instead of LastInsertId
	schema      []string
	isDuplicate func(error) bool
}

// bind rewrites ? placeholders for dialects with numbered parameters
func (d dialect) bind(query string) string {
	if !d.numbered {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NewDatabase opens the primary database of the given type
func NewDatabase(dbType string, dsn string) (Database, error) {
	switch DatabaseType(strings.ToLower(dbType)) {
	case SQLite:
		return NewSQLiteStorage(dsn)
	case MySQL:
		return NewMySQLStorage(dsn)
	case PostgreSQL, "postgres":
		return NewPostgreSQLStorage(dsn)
	case PGX, "timescaledb":
		return NewPGXStorage(dsn)
	case Memory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

func configurePool(db *sql.DB, maxOpen int, lifetime time.Duration) {
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(max(1, maxOpen/2))
	if lifetime > 0 {
		db.SetConnMaxLifetime(lifetime)
	}
}
