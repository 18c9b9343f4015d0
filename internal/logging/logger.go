// Package logging provides structured logging for servod.
//
// It wraps log/slog so every component logs with the same handler, level
// filtering and default fields (service, version).
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("found port", "port", "/dev/ttyUSB0")
package logging

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"servo-dispatcher/internal/config"
)

// Logger wraps slog.Logger. Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New creates a Logger from the logging section of the config.
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}
	return newWithWriter(cfg, version, output)
}

func newWithWriter(cfg config.LoggingConfig, version string, output io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}
	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "servod"),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(handler)}
}

// parseLevel maps debug, info, warn (or warning) and error; anything else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// With returns a Logger carrying additional attributes.
//
//	portLogger := logger.With("component", "pool")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// StdLogger adapts the Logger to a *log.Logger writing at debug level, for
// libraries that only accept the standard logger (Modbus frame tracing).
func (l *Logger) StdLogger(prefix string) *log.Logger {
	return log.New(&debugWriter{l: l.Logger}, prefix, 0)
}

type debugWriter struct {
	l *slog.Logger
}

func (w *debugWriter) Write(p []byte) (int, error) {
	w.l.Log(context.Background(), slog.LevelDebug, strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// Default creates a JSON info logger for use before configuration is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
