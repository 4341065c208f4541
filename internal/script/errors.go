package script

import "fmt"

// IOError reports a script file that could not be read.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("failed to read script %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ExecutionError reports the statement that aborted a run. Index is the
// zero-based position of the statement among the script's statements.
type ExecutionError struct {
	Path      string
	Index     int
	Statement string
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("statement %d of %s failed: %v\n%s", e.Index+1, e.Path, e.Err, e.Statement)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
