package database

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrSessionClosed is returned by every Session method after Close.
var ErrSessionClosed = errors.New("session is closed")

// ConnectionError reports a failure to open or authenticate a session.
type ConnectionError struct {
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
