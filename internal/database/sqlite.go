package database

import (
	"database/sql"

	"github.com/gerhard-ee/sqldeploy/internal/config"
	_ "github.com/glebarez/go-sqlite"
)

// NewSQLite creates an opener for a local SQLite file, handy for rehearsing
// scripts without warehouse credentials. ":memory:" gives a throwaway
// database per session.
func NewSQLite(cfg config.ConnectionConfig) Opener {
	return &sqlOpener{
		target: config.TargetSQLite,
		open: func() (*sql.DB, error) {
			return sql.Open("sqlite", cfg.DSN)
		},
	}
}
