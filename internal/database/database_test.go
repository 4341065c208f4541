package database

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/gerhard-ee/sqldeploy/internal/config"
	sf "github.com/snowflakedb/gosnowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

func openSQLite(t *testing.T) Session {
	t.Helper()
	opener, err := New(config.ConnectionConfig{
		Target: config.TargetSQLite,
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)

	session, err := opener.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ConnectionConfig
		wantErr bool
	}{
		{name: "postgres", cfg: config.ConnectionConfig{Target: config.TargetPostgres, DSN: "postgres://localhost/db"}},
		{name: "mssql", cfg: config.ConnectionConfig{Target: config.TargetMSSQL, DSN: "sqlserver://localhost"}},
		{name: "databricks", cfg: config.ConnectionConfig{Target: config.TargetDatabricks, DSN: "token:x@host:443/sql/1.0/warehouses/abc"}},
		{name: "sqlite", cfg: config.ConnectionConfig{Target: config.TargetSQLite, DSN: ":memory:"}},
		{name: "bigquery", cfg: config.ConnectionConfig{Target: config.TargetBigQuery, ProjectID: "p"}},
		{name: "snowflake without key", cfg: config.ConnectionConfig{Target: config.TargetSnowflake}, wantErr: true},
		{name: "unknown", cfg: config.ConnectionConfig{Target: "oracle"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opener, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, opener)
		})
	}
}

func TestSQLSession_ExecAndQuery(t *testing.T) {
	ctx := context.Background()
	session := openSQLite(t)

	require.NoError(t, session.Exec(ctx, "CREATE TABLE customers (id INTEGER, name TEXT)"))
	require.NoError(t, session.Exec(ctx, "INSERT INTO customers VALUES (1, 'alice'), (2, 'bob')"))

	result, err := session.Query(ctx, "SELECT id, name FROM customers ORDER BY id")
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "name"}, result.Columns)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, []any{int64(1), "alice"}, result.Rows[0])
	assert.Equal(t, []any{int64(2), "bob"}, result.Rows[1])
}

func TestSQLSession_EmptyResult(t *testing.T) {
	ctx := context.Background()
	session := openSQLite(t)

	require.NoError(t, session.Exec(ctx, "CREATE TABLE t (id INTEGER)"))
	result, err := session.Query(ctx, "SELECT id FROM t")
	require.NoError(t, err)
	assert.NotNil(t, result.Rows)
	assert.Empty(t, result.Rows)
}

func TestSQLSession_Close(t *testing.T) {
	ctx := context.Background()
	session := openSQLite(t)

	require.NoError(t, session.Close())
	require.NoError(t, session.Close())

	assert.ErrorIs(t, session.Exec(ctx, "SELECT 1"), ErrSessionClosed)
	_, err := session.Query(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSQLSession_StatementError(t *testing.T) {
	session := openSQLite(t)

	err := session.Exec(context.Background(), "SELEKT nonsense")
	assert.Error(t, err)
}

func TestSQLOpener_ConnectionError(t *testing.T) {
	opener, err := New(config.ConnectionConfig{
		Target: config.TargetSQLite,
		DSN:    filepath.Join(t.TempDir(), "missing", "dir", "test.db"),
	})
	require.NoError(t, err)

	_, err = opener.Open(context.Background())

	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, config.TargetSQLite, connErr.Target)
}

func TestSnowflakeConfig(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	cfg := config.NewConnectionConfig("CI_CD_USER", "rw41886.eu-west-1", "SANDBOX_WH", "DEV_DATABASE", "CI_CD_SCHEMA", "DEV_ROLE", der)

	sfConfig, err := snowflakeConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, "rw41886.eu-west-1", sfConfig.Account)
	assert.Equal(t, "CI_CD_USER", sfConfig.User)
	assert.Equal(t, "SANDBOX_WH", sfConfig.Warehouse)
	assert.Equal(t, "DEV_DATABASE", sfConfig.Database)
	assert.Equal(t, "CI_CD_SCHEMA", sfConfig.Schema)
	assert.Equal(t, "DEV_ROLE", sfConfig.Role)
	assert.Equal(t, sf.AuthTypeJwt, sfConfig.Authenticator)
	assert.Equal(t, config.DefaultLoginTimeout, sfConfig.LoginTimeout)
	assert.True(t, key.Equal(sfConfig.PrivateKey))

	opener, err := NewSnowflake(cfg)
	require.NoError(t, err)
	assert.NotNil(t, opener)
}

func TestSnowflakeConfig_RequiresRSA(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	_, err = snowflakeConfig(config.NewConnectionConfig("u", "a", "w", "d", "s", "r", der))
	assert.ErrorContains(t, err, "requires an RSA key")
}

func TestSnowflakeConfig_KeepsParseError(t *testing.T) {
	_, err := snowflakeConfig(config.NewConnectionConfig("u", "a", "w", "d", "s", "r", []byte{1, 2, 3}))
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to parse private key")

	var syntaxErr asn1.SyntaxError
	assert.True(t, errors.As(err, &syntaxErr), "got %T", errors.Unwrap(err))
}

func TestSQLOpener_KeepsContextError(t *testing.T) {
	opener, err := New(config.ConnectionConfig{
		Target: config.TargetSQLite,
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = opener.Open(ctx)
	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBigQuerySession_KeepsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"Syntax error: Unexpected identifier","errors":[{"message":"Syntax error","domain":"global","reason":"invalidQuery"}]}}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	client, err := bigquery.NewClient(ctx, "sandbox",
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)

	session := &bigQuerySession{client: client}
	defer session.Close()

	err = session.Exec(ctx, "SELEKT 1")
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to run query")

	var apiErr *googleapi.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Code)

	require.NoError(t, session.Close())
	assert.ErrorIs(t, session.Exec(ctx, "SELECT 1"), ErrSessionClosed)
}
