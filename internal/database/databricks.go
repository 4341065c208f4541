package database

import (
	"database/sql"

	"github.com/gerhard-ee/sqldeploy/internal/config"
	_ "github.com/databricks/databricks-sql-go"
)

// NewDatabricks creates an opener for a Databricks SQL warehouse.
// Connection string format:
// "token:<access_token>@<host>:443/<http_path>?catalog=<catalog>&schema=<schema>"
func NewDatabricks(cfg config.ConnectionConfig) Opener {
	return &sqlOpener{
		target: config.TargetDatabricks,
		open: func() (*sql.DB, error) {
			return sql.Open("databricks", cfg.DSN)
		},
	}
}
