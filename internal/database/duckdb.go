//go:build cgo

package database

import (
	"database/sql"

	"github.com/gerhard-ee/sqldeploy/internal/config"
	_ "github.com/marcboeker/go-duckdb"
)

// NewDuckDB creates an opener for a DuckDB database file. The DSN is the
// file path, or ":memory:".
func NewDuckDB(cfg config.ConnectionConfig) (Opener, error) {
	return &sqlOpener{
		target: config.TargetDuckDB,
		open: func() (*sql.DB, error) {
			return sql.Open("duckdb", cfg.DSN)
		},
	}, nil
}
