package database

import (
	"context"
	"sync"

	"cloud.google.com/go/bigquery"
	"github.com/gerhard-ee/sqldeploy/internal/config"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// BigQuery opens sessions backed by a BigQuery client. BigQuery has no
// connection in the database/sql sense; the client plays that role.
type BigQuery struct {
	projectID       string
	credentialsFile string
}

// NewBigQuery creates a new BigQuery opener
func NewBigQuery(cfg config.ConnectionConfig) *BigQuery {
	return &BigQuery{
		projectID:       cfg.ProjectID,
		credentialsFile: cfg.CredentialsFile,
	}
}

func (b *BigQuery) Open(ctx context.Context) (Session, error) {
	var opts []option.ClientOption
	if b.credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(b.credentialsFile))
	}

	client, err := bigquery.NewClient(ctx, b.projectID, opts...)
	if err != nil {
		return nil, &ConnectionError{Target: config.TargetBigQuery, Err: errors.Wrap(err, "failed to create BigQuery client")}
	}
	return &bigQuerySession{client: client}, nil
}

type bigQuerySession struct {
	mu     sync.Mutex
	client *bigquery.Client
	closed bool
}

func (s *bigQuerySession) Exec(ctx context.Context, statement string) error {
	client, err := s.active()
	if err != nil {
		return err
	}

	job, err := client.Query(statement).Run(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to run query")
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to wait for query")
	}
	if err := status.Err(); err != nil {
		return errors.Wrap(err, "query failed")
	}
	return nil
}

func (s *bigQuerySession) Query(ctx context.Context, statement string) (*ResultSet, error) {
	client, err := s.active()
	if err != nil {
		return nil, err
	}

	it, err := client.Query(statement).Read(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute query")
	}

	result := &ResultSet{Rows: [][]any{}}
	for {
		var row []bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to read row")
		}

		values := make([]any, len(row))
		for i, v := range row {
			values[i] = v
		}
		result.Rows = append(result.Rows, values)
	}

	// The schema is only populated once the iterator has been advanced
	for _, field := range it.Schema {
		result.Columns = append(result.Columns, field.Name)
	}
	return result, nil
}

func (s *bigQuerySession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

func (s *bigQuerySession) active() (*bigquery.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.client, nil
}
