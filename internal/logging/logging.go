package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New
type Options struct {
	// Level is one of debug, info, warn or error. Empty means info.
	Level string

	// File, when set, sends JSON logs to a rotating file instead of Stderr
	File string

	// Stderr receives text logs when File is empty
	Stderr io.Writer
}

// Logger is a structured logger together with whatever it writes to
type Logger struct {
	*slog.Logger
	writer *lumberjack.Logger
}

// New creates a logger. Close must be called to release the log file.
func New(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	if opts.File == "" {
		return &Logger{Logger: slog.New(slog.NewTextHandler(opts.Stderr, handlerOpts))}, nil
	}

	writer := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     7, // days
		Compress:   true,
	}
	return &Logger{
		Logger: slog.New(slog.NewJSONHandler(writer, handlerOpts)),
		writer: writer,
	}, nil
}

// Close closes the log file
func (l *Logger) Close() error {
	if l.writer == nil {
		return nil
	}
	return l.writer.Close()
}

// ParseLevel maps a level name to its slog level
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}
