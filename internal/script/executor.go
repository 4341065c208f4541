package script

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gerhard-ee/sqldeploy/internal/database"
	"github.com/gerhard-ee/sqldeploy/internal/state"
	"github.com/pkg/errors"
)

// checkStatement is run by Check to prove the session works
const checkStatement = "SELECT CURRENT_TIMESTAMP"

// defaultLockTTL bounds how long a crashed run keeps its script locked
const defaultLockTTL = 30 * time.Minute

// ErrLocked is returned when another run holds the journal lock of a script.
var ErrLocked = errors.New("script is locked by another run")

type (
	// Executor runs script files statement by statement over a fresh session
	// per run.
	Executor struct {
		opener  database.Opener
		journal state.Manager
		logger  *slog.Logger
		lockTTL time.Duration
	}

	// Config contains configuration options for creating a new Executor.
	Config struct {
		// Opener provides one session per run
		Opener database.Opener

		// Journal records run progress. Defaults to an in-memory journal.
		Journal state.Manager

		// Logger defaults to slog.Default()
		Logger *slog.Logger

		// LockTTL is how long a run holds the journal lock of its script
		LockTTL time.Duration
	}

	// Report is the ordered outcome of one script run.
	Report struct {
		Path       string
		Statements []StatementResult
	}

	// StatementResult is one executed statement. Result is nil unless rows
	// were captured.
	StatementResult struct {
		Statement string
		Result    *database.ResultSet
	}
)

// New creates a new executor.
func New(config Config) *Executor {
	e := &Executor{
		opener:  config.Opener,
		journal: config.Journal,
		logger:  config.Logger,
		lockTTL: config.LockTTL,
	}
	if e.journal == nil {
		e.journal = state.NewMemoryManager()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.lockTTL <= 0 {
		e.lockTTL = defaultLockTTL
	}
	return e
}

// Run executes the statements of the script at path in file order. With
// capture set the full result set of every statement is kept in the report.
// The cleaned path keys the journal.
//
// The first failing statement aborts the run with an *ExecutionError; the
// returned report then holds the statements that succeeded before it. The
// session is closed on every path out of Run.
func (e *Executor) Run(ctx context.Context, path string, capture bool) (report *Report, err error) {
	path = filepath.Clean(path)
	logger := e.logger.With("script", path)

	owner, locked, err := e.journal.LockState(ctx, path, e.lockTTL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to lock script")
	}
	if !locked {
		return nil, errors.Wrap(ErrLocked, path)
	}
	defer func() {
		if unlockErr := e.journal.UnlockState(context.WithoutCancel(ctx), path, owner); unlockErr != nil {
			logger.Warn("failed to unlock script", "error", unlockErr)
		}
	}()

	session, err := e.opener.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			logger.Warn("failed to close session", "error", closeErr)
		}
	}()

	statements, err := Load(path)
	if err != nil {
		return nil, err
	}

	run := &state.RunState{
		Script:          path,
		Status:          state.StatusRunning,
		TotalStatements: len(statements),
		StartedAt:       time.Now(),
	}
	e.record(ctx, logger, run)

	report = &Report{Path: path, Statements: make([]StatementResult, 0, len(statements))}
	for i, statement := range statements {
		logger.Debug("executing statement", "index", i+1, "total", len(statements))

		result, err := execute(ctx, session, statement, capture)
		if err != nil {
			run.Status = state.StatusFailed
			run.LastStatement = statement
			run.Error = err.Error()
			e.record(ctx, logger, run)

			return report, &ExecutionError{Path: path, Index: i, Statement: statement, Err: err}
		}

		report.Statements = append(report.Statements, StatementResult{Statement: statement, Result: result})
		run.StatementsApplied++
		run.LastStatement = statement
		e.record(ctx, logger, run)
	}

	run.Status = state.StatusCompleted
	e.record(ctx, logger, run)

	logger.Info("executed script", "statements", len(statements))
	return report, nil
}

// Check opens a session and returns the warehouse's current timestamp.
func (e *Executor) Check(ctx context.Context) (any, error) {
	session, err := e.opener.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	result, err := session.Query(ctx, checkStatement)
	if err != nil {
		return nil, errors.Wrap(err, "connection check failed")
	}
	if len(result.Rows) == 0 || len(result.Rows[0]) == 0 {
		return nil, errors.New("connection check returned no rows")
	}
	return result.Rows[0][0], nil
}

func execute(ctx context.Context, session database.Session, statement string, capture bool) (*database.ResultSet, error) {
	if capture {
		return session.Query(ctx, statement)
	}
	return nil, session.Exec(ctx, statement)
}

// record saves run progress. Journal failures are logged and never abort a run.
func (e *Executor) record(ctx context.Context, logger *slog.Logger, run *state.RunState) {
	run.LastUpdated = time.Now()
	if err := e.journal.SaveState(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("failed to record run state", "error", err)
	}
}
