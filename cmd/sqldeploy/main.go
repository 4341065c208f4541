package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gerhard-ee/sqldeploy/internal/config"
	"github.com/gerhard-ee/sqldeploy/internal/database"
	"github.com/gerhard-ee/sqldeploy/internal/logging"
	"github.com/gerhard-ee/sqldeploy/internal/script"
	"github.com/gerhard-ee/sqldeploy/internal/state"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version = "dev"
	commit  = "unknown"
)

// app carries what every subcommand shares
type app struct {
	v      *viper.Viper
	stdout io.Writer
	stderr io.Writer
	logger *logging.Logger

	envFile      string
	logLevel     string
	logFile      string
	stateBackend string
	stateDir     string
	namespace    string
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sqldeploy",
		Short: "Deploy and test SQL scripts against a data warehouse",
		Long: `sqldeploy runs SQL script files statement by statement against a warehouse.

Snowflake is the default target and authenticates with an RSA key pair read
either from a local PEM file (PRIVATE_KEY_PATH) or, with
PRIVATE_KEY_SOURCE=GITHUB, from the SNOWFLAKE_PRIVATE_KEY environment variable.
Other targets take a connection string from SQLDEPLOY_DSN.

Statements are split on every ';' in the file, including ones inside string
literals and comments.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	rootCmd.SetOut(a.stdout)
	rootCmd.SetErr(a.stderr)

	flags := rootCmd.PersistentFlags()
	flags.String("target", "", "warehouse target (snowflake, postgres, mssql, databricks, duckdb, sqlite, bigquery)")
	flags.String("dsn", "", "connection string for non-Snowflake targets")
	flags.StringVar(&a.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	flags.StringVar(&a.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&a.logFile, "log-file", "", "write JSON logs to a rotating file instead of stderr")
	flags.StringVar(&a.stateBackend, "state", state.BackendMemory, "run journal backend (memory, file, kubernetes)")
	flags.StringVar(&a.stateDir, "state-dir", ".sqldeploy", "directory for the file journal")
	flags.StringVar(&a.namespace, "namespace", "default", "Kubernetes namespace for the kubernetes journal")

	_ = a.v.BindPFlag(config.EnvTarget, flags.Lookup("target"))
	_ = a.v.BindPFlag(config.EnvDSN, flags.Lookup("dsn"))

	rootCmd.AddCommand(
		newDeployCmd(a),
		newTestCmd(a),
		newCheckCmd(a),
		newStatusCmd(a),
	)
	return rootCmd
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		v:      config.NewViper(),
		stdout: stdout,
		stderr: stderr,
	}
}

// setup loads the dotenv file and creates the logger. A missing dotenv file
// is only an error when it was asked for explicitly.
func (a *app) setup(cmd *cobra.Command) error {
	if err := godotenv.Load(a.envFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) || cmd.Flags().Changed("env-file") {
			return errors.Wrapf(err, "failed to load %s", a.envFile)
		}
	}

	logger, err := logging.New(logging.Options{Level: a.logLevel, File: a.logFile, Stderr: a.stderr})
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

func (a *app) close() {
	if a.logger != nil {
		a.logger.Close()
	}
}

func (a *app) journal() (state.Manager, error) {
	journal, err := state.NewManager(a.stateBackend, a.stateDir, a.namespace)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create run journal")
	}
	return journal, nil
}

// executor resolves the connection configuration and wires an executor
// around it. Nothing touches the network until a run starts.
func (a *app) executor() (*script.Executor, error) {
	cfg, err := config.Resolve(a.v)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("resolved connection", "config", cfg.String())

	opener, err := database.New(cfg)
	if err != nil {
		return nil, err
	}

	journal, err := a.journal()
	if err != nil {
		return nil, err
	}

	return script.New(script.Config{
		Opener:  opener,
		Journal: journal,
		Logger:  a.logger.Logger,
	}), nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := newApp(stdout, stderr)
	defer a.close()

	rootCmd := newRootCmd(a)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
