package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Environment variables read by Resolve
const (
	EnvUser         = "SNOWFLAKE_USER"
	EnvAccount      = "SNOWFLAKE_ACCOUNT"
	EnvWarehouse    = "SNOWFLAKE_WAREHOUSE"
	EnvDatabase     = "SNOWFLAKE_DATABASE"
	EnvSchema       = "SNOWFLAKE_SCHEMA"
	EnvRole         = "SNOWFLAKE_ROLE"
	EnvPassphrase   = "PRIVATE_KEY_PASSPHRASE"
	EnvKeySource    = "PRIVATE_KEY_SOURCE"
	EnvPrivateKey   = "SNOWFLAKE_PRIVATE_KEY"
	EnvKeyPath      = "PRIVATE_KEY_PATH"
	EnvLoginTimeout = "SNOWFLAKE_LOGIN_TIMEOUT"

	EnvTarget          = "SQLDEPLOY_TARGET"
	EnvDSN             = "SQLDEPLOY_DSN"
	EnvBigQueryProject = "BIGQUERY_PROJECT"
	EnvCredentialsFile = "GOOGLE_APPLICATION_CREDENTIALS"
)

// Development defaults, all overridable through the environment
const (
	DefaultUser         = "CI_CD_USER"
	DefaultAccount      = "rw41886.eu-west-1"
	DefaultWarehouse    = "SANDBOX_WH"
	DefaultDatabase     = "DEV_DATABASE"
	DefaultSchema       = "CI_CD_SCHEMA"
	DefaultRole         = "DEV_ROLE"
	DefaultKeySource    = "LOCAL"
	DefaultKeyPath      = "snowflake_rsa_key.pem"
	DefaultTarget       = TargetSnowflake
	DefaultLoginTimeout = 60 * time.Second
)

// Supported targets
const (
	TargetSnowflake  = "snowflake"
	TargetPostgres   = "postgres"
	TargetMSSQL      = "mssql"
	TargetDatabricks = "databricks"
	TargetDuckDB     = "duckdb"
	TargetBigQuery   = "bigquery"
	TargetSQLite     = "sqlite"
)

// keySourceGitHub selects the environment variable key source.
const keySourceGitHub = "GITHUB"

// ConnectionConfig is the fully resolved connection configuration.
// It is a value: copies share nothing mutable with the original.
type ConnectionConfig struct {
	Target string

	// Snowflake
	User         string
	Account      string
	Warehouse    string
	Database     string
	Schema       string
	Role         string
	LoginTimeout time.Duration

	// Other targets
	DSN             string
	ProjectID       string
	CredentialsFile string

	privateKey []byte
}

// PrivateKey returns a copy of the DER encoded, unencrypted PKCS8 key.
func (c ConnectionConfig) PrivateKey() []byte {
	if c.privateKey == nil {
		return nil
	}
	out := make([]byte, len(c.privateKey))
	copy(out, c.privateKey)
	return out
}

// String never includes key material or the DSN, which may carry a password.
func (c ConnectionConfig) String() string {
	if c.Target != TargetSnowflake {
		return fmt.Sprintf("target=%s project=%s", c.Target, c.ProjectID)
	}
	return fmt.Sprintf("target=%s user=%s account=%s warehouse=%s database=%s schema=%s role=%s key=%d bytes",
		c.Target, c.User, c.Account, c.Warehouse, c.Database, c.Schema, c.Role, len(c.privateKey))
}

// NewConnectionConfig builds a Snowflake config around already converted key material.
func NewConnectionConfig(user, account, warehouse, database, schema, role string, der []byte) ConnectionConfig {
	key := make([]byte, len(der))
	copy(key, der)
	return ConnectionConfig{
		Target:       TargetSnowflake,
		User:         user,
		Account:      account,
		Warehouse:    warehouse,
		Database:     database,
		Schema:       schema,
		Role:         role,
		LoginTimeout: DefaultLoginTimeout,
		privateKey:   key,
	}
}

// NewViper returns a viper instance reading the environment with the
// development defaults applied.
func NewViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault(EnvUser, DefaultUser)
	v.SetDefault(EnvAccount, DefaultAccount)
	v.SetDefault(EnvWarehouse, DefaultWarehouse)
	v.SetDefault(EnvDatabase, DefaultDatabase)
	v.SetDefault(EnvSchema, DefaultSchema)
	v.SetDefault(EnvRole, DefaultRole)
	v.SetDefault(EnvKeySource, DefaultKeySource)
	v.SetDefault(EnvKeyPath, DefaultKeyPath)
	v.SetDefault(EnvLoginTimeout, DefaultLoginTimeout)
	v.SetDefault(EnvTarget, DefaultTarget)

	return v
}

// Resolve builds a ConnectionConfig from v. Values missing from v fall back
// to the development defaults, so a bare viper.New() works too.
func Resolve(v *viper.Viper) (ConnectionConfig, error) {
	target := strings.ToLower(get(v, EnvTarget, DefaultTarget))

	switch target {
	case TargetSnowflake:
		return resolveSnowflake(v)
	case TargetBigQuery:
		project := v.GetString(EnvBigQueryProject)
		if project == "" {
			return ConnectionConfig{}, &ConfigurationError{Variable: EnvBigQueryProject, Reason: "missing BigQuery project"}
		}
		return ConnectionConfig{
			Target:          target,
			ProjectID:       project,
			CredentialsFile: v.GetString(EnvCredentialsFile),
		}, nil
	case TargetPostgres, TargetMSSQL, TargetDatabricks, TargetDuckDB, TargetSQLite:
		dsn := v.GetString(EnvDSN)
		if dsn == "" {
			return ConnectionConfig{}, &ConfigurationError{Variable: EnvDSN, Reason: "missing connection string"}
		}
		return ConnectionConfig{Target: target, DSN: dsn}, nil
	default:
		return ConnectionConfig{}, &ConfigurationError{Variable: EnvTarget, Reason: fmt.Sprintf("unsupported target %q", target)}
	}
}

func resolveSnowflake(v *viper.Viper) (ConnectionConfig, error) {
	material, err := loadKeyMaterial(v)
	if err != nil {
		return ConnectionConfig{}, err
	}

	der, err := material.DER()
	if err != nil {
		return ConnectionConfig{}, err
	}

	cfg := NewConnectionConfig(
		get(v, EnvUser, DefaultUser),
		get(v, EnvAccount, DefaultAccount),
		get(v, EnvWarehouse, DefaultWarehouse),
		get(v, EnvDatabase, DefaultDatabase),
		get(v, EnvSchema, DefaultSchema),
		get(v, EnvRole, DefaultRole),
		der,
	)
	switch timeout := v.GetDuration(EnvLoginTimeout); {
	case timeout < 0:
		return ConnectionConfig{}, &ConfigurationError{Variable: EnvLoginTimeout, Reason: "negative duration"}
	case timeout > 0:
		cfg.LoginTimeout = timeout
	}
	return cfg, nil
}

// loadKeyMaterial reads the PEM text from the source selected by
// PRIVATE_KEY_SOURCE.
func loadKeyMaterial(v *viper.Viper) (*PrivateKeyMaterial, error) {
	passphrase := v.GetString(EnvPassphrase)

	if get(v, EnvKeySource, DefaultKeySource) == keySourceGitHub {
		pemText := v.GetString(EnvPrivateKey)
		if pemText == "" {
			return nil, &ConfigurationError{Variable: EnvPrivateKey, Reason: "missing credential source"}
		}
		return &PrivateKeyMaterial{
			PEM:        []byte(normalizePEM(pemText)),
			Passphrase: passphrase,
			Source:     FromEnvironmentVariable,
		}, nil
	}

	path := get(v, EnvKeyPath, DefaultKeyPath)
	pemBytes, err := readKeyFile(path)
	if err != nil {
		return nil, &ConfigurationError{
			Variable: EnvKeyPath,
			Reason:   fmt.Sprintf("cannot read private key file %s", path),
			Err:      errors.WithStack(err),
		}
	}
	return &PrivateKeyMaterial{
		PEM:        pemBytes,
		Passphrase: passphrase,
		Source:     FromLocalFile,
	}, nil
}

func get(v *viper.Viper, key, def string) string {
	if s := v.GetString(key); s != "" {
		return s
	}
	return def
}
