package database

import (
	"database/sql"

	"github.com/gerhard-ee/sqldeploy/internal/config"
	_ "github.com/lib/pq"
)

// NewPostgres creates an opener for a PostgreSQL connection string
func NewPostgres(cfg config.ConnectionConfig) Opener {
	return &sqlOpener{
		target: config.TargetPostgres,
		open: func() (*sql.DB, error) {
			return sql.Open("postgres", cfg.DSN)
		},
	}
}
