package database

import (
	"context"
	"fmt"

	"github.com/gerhard-ee/sqldeploy/internal/config"
)

// Session is a single warehouse connection. Statements run one at a time.
type Session interface {
	// Exec executes a statement and discards any result
	Exec(ctx context.Context, statement string) error
	// Query executes a statement and returns its full result set
	Query(ctx context.Context, statement string) (*ResultSet, error)
	// Close releases the connection. Calling it more than once is a no-op.
	Close() error
}

// Opener opens sessions against one configured target.
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// ResultSet holds every row returned by one statement
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// New creates an opener for the target named in cfg
func New(cfg config.ConnectionConfig) (Opener, error) {
	switch cfg.Target {
	case config.TargetSnowflake:
		return NewSnowflake(cfg)
	case config.TargetPostgres:
		return NewPostgres(cfg), nil
	case config.TargetMSSQL:
		return NewMSSQL(cfg), nil
	case config.TargetDatabricks:
		return NewDatabricks(cfg), nil
	case config.TargetDuckDB:
		return NewDuckDB(cfg)
	case config.TargetSQLite:
		return NewSQLite(cfg), nil
	case config.TargetBigQuery:
		return NewBigQuery(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Target)
	}
}
