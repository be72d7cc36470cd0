package storage

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

var pgxDialect = dialect{
	name:      PGX,
	driver:    "pgx",
	numbered:  true,
	returning: true,
	schema:    postgresSchema,
	isDuplicate: func(err error) bool {
		var pe *pgconn.PgError
		return errors.As(err, &pe) && pe.Code == pgUniqueViolation
	},
}

// NewPGXStorage connects to PostgreSQL or TimescaleDB through pgx's database/sql driver
func NewPGXStorage(dsn string) (*SQLStorage, error) {
	return openPostgres(pgxDialect, dsn)
}
