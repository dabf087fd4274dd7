package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup builds the process logger: JSON to stdout, plus a JSON log file when
// logFile is set. The returned cleanup closes the file.
func Setup(level slog.Level, logFile string) (*slog.Logger, func() error) {
	opts := &slog.HandlerOptions{Level: level}
	stdout := slog.NewJSONHandler(os.Stdout, opts)

	if logFile == "" {
		return slog.New(NewContextHandler(stdout)), func() error { return nil }
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0o750); err != nil {
		slog.Error("failed to create log directory, using stdout only", "error", err, "file", logFile)
		return slog.New(NewContextHandler(stdout)), func() error { return nil }
	}

	f, err := os.OpenFile(filepath.Clean(logFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) // #nosec G304 -- path is from application config
	if err != nil {
		slog.Error("failed to open log file, using stdout only", "error", err, "file", logFile)
		return slog.New(NewContextHandler(stdout)), func() error { return nil }
	}

	fileHandler := slog.NewJSONHandler(f, opts)
	return slog.New(NewContextHandler(slogmulti.Fanout(stdout, fileHandler))), f.Close
}

// SetupWithWriters is Setup with explicit sinks, for tests.
func SetupWithWriters(primary, file io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	return slog.New(NewContextHandler(slogmulti.Fanout(
		slog.NewJSONHandler(primary, opts),
		slog.NewJSONHandler(file, opts),
	)))
}
