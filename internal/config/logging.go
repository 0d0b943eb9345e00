package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	slogmulti "github.com/samber/slog-multi"
)

func handlerOptions(level slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{Level: level}
}

// SetupLogger builds the process logger: text on console, and JSON appended
// to logFile when one is configured. A nil console discards console output
// so the progress UI owns the terminal. The returned func closes the file.
//
// If the log file cannot be opened the logger still works on the console
// and the failure is logged through it.
func SetupLogger(console io.Writer, logFile string, level slog.Level) (*slog.Logger, func() error) {
	if console == nil {
		console = io.Discard
	}
	consoleHandler := slog.NewTextHandler(console, handlerOptions(level))
	noop := func() error { return nil }

	if logFile == "" {
		return slog.New(consoleHandler), noop
	}

	file, err := openLogFile(logFile)
	if err != nil {
		logger := slog.New(consoleHandler)
		logger.Error("log file unavailable, logging to console only", "file", logFile, "error", err)
		return logger, noop
	}

	fileHandler := slog.NewJSONHandler(file, handlerOptions(level))
	return slog.New(slogmulti.Fanout(consoleHandler, fileHandler)), file.Close
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// SetupLoggerWithWriters creates a logger with custom writers (for testing).
func SetupLoggerWithWriters(console, file io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slogmulti.Fanout(
		slog.NewTextHandler(console, handlerOptions(level)),
		slog.NewJSONHandler(file, handlerOptions(level)),
	))
}
