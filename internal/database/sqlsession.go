package database

import (
	"context"
	"database/sql"
	"sync"

	"github.com/pkg/errors"
)

// sqlOpener opens database/sql backed sessions. Each session owns its own
// *sql.DB pinned to a single *sql.Conn, so nothing is pooled across runs.
type sqlOpener struct {
	target string
	open   func() (*sql.DB, error)
}

func (o *sqlOpener) Open(ctx context.Context) (Session, error) {
	db, err := o.open()
	if err != nil {
		return nil, &ConnectionError{Target: o.target, Err: errors.Wrap(err, "failed to open database")}
	}
	db.SetMaxOpenConns(1)

	// Acquiring the conn dials and authenticates
	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, &ConnectionError{Target: o.target, Err: err}
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		db.Close()
		return nil, &ConnectionError{Target: o.target, Err: errors.Wrap(err, "failed to ping database")}
	}

	return &sqlSession{db: db, conn: conn}, nil
}

type sqlSession struct {
	mu     sync.Mutex
	db     *sql.DB
	conn   *sql.Conn
	closed bool
}

func (s *sqlSession) Exec(ctx context.Context, statement string) error {
	conn, err := s.active()
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, statement)
	return err
}

func (s *sqlSession) Query(ctx context.Context, statement string) (*ResultSet, error) {
	conn, err := s.active()
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, statement)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRows(rows)
}

func (s *sqlSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	connErr := s.conn.Close()
	dbErr := s.db.Close()
	if connErr != nil {
		return connErr
	}
	return dbErr
}

func (s *sqlSession) active() (*sql.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.conn, nil
}

func scanRows(rows *sql.Rows) (*ResultSet, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get columns")
	}

	result := &ResultSet{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating rows")
	}
	return result, nil
}
