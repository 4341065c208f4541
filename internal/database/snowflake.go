package database

import (
	"crypto/rsa"
	"crypto/x509"
	"database/sql"

	"github.com/gerhard-ee/sqldeploy/internal/config"
	"github.com/pkg/errors"
	sf "github.com/snowflakedb/gosnowflake"
)

// applicationName is reported to Snowflake in the session's client info
const applicationName = "sqldeploy"

// NewSnowflake creates an opener authenticating with the key pair in cfg
func NewSnowflake(cfg config.ConnectionConfig) (Opener, error) {
	sfConfig, err := snowflakeConfig(cfg)
	if err != nil {
		return nil, err
	}

	dsn, err := sf.DSN(sfConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create DSN")
	}

	return &sqlOpener{
		target: config.TargetSnowflake,
		open: func() (*sql.DB, error) {
			return sql.Open("snowflake", dsn)
		},
	}, nil
}

func snowflakeConfig(cfg config.ConnectionConfig) (*sf.Config, error) {
	der := cfg.PrivateKey()
	if len(der) == 0 {
		return nil, &config.ConfigurationError{Variable: config.EnvPrivateKey, Reason: "no private key resolved"}
	}

	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse private key")
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.Errorf("key-pair authentication requires an RSA key, got %T", key)
	}

	return &sf.Config{
		Account:       cfg.Account,
		User:          cfg.User,
		Warehouse:     cfg.Warehouse,
		Database:      cfg.Database,
		Schema:        cfg.Schema,
		Role:          cfg.Role,
		Authenticator: sf.AuthTypeJwt,
		PrivateKey:    rsaKey,
		Application:   applicationName,
		LoginTimeout:  cfg.LoginTimeout,
	}, nil
}
