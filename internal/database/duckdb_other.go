//go:build !cgo

package database

import (
	"fmt"

	"github.com/gerhard-ee/sqldeploy/internal/config"
)

func NewDuckDB(cfg config.ConnectionConfig) (Opener, error) {
	return nil, fmt.Errorf("DuckDB support requires a cgo build")
}
