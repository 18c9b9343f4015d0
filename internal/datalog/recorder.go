package datalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"servo-dispatcher/internal/config"
)

// Logger is the logging surface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder fans rows out to its sinks, skipping rows unchanged since the
// last one recorded for the same servo.
type Recorder struct {
	sinks []Sink
	cache *ValueCache
	log   Logger
}

// NewRecorder wraps the given sinks. A nil cache records every row.
func NewRecorder(sinks []Sink, cache *ValueCache, log Logger) *Recorder {
	if log == nil {
		log = noopLogger{}
	}
	return &Recorder{sinks: sinks, cache: cache, log: log}
}

// Open builds the sinks enabled in cfg. Sinks already opened are closed if a
// later one fails.
func Open(ctx context.Context, cfg config.DatalogConfig, log Logger) (*Recorder, error) {
	if log == nil {
		log = noopLogger{}
	}
	var sinks []Sink
	fail := func(err error) (*Recorder, error) {
		for _, s := range sinks {
			s.Close()
		}
		return nil, err
	}

	if cfg.FileType != "none" {
		fs, err := NewFileSink(cfg.Dir, cfg.FileType, cfg.QueueSize, log)
		if err != nil {
			return fail(fmt.Errorf("file sink: %w", err))
		}
		sinks = append(sinks, fs)
	}
	if cfg.SQLite.Enabled {
		ss, err := NewSQLiteSink(ctx, cfg.SQLite.Path)
		if err != nil {
			return fail(fmt.Errorf("sqlite sink: %w", err))
		}
		sinks = append(sinks, ss)
	}
	if cfg.MQTT.Enabled {
		ms, err := NewMQTTSink(cfg.MQTT)
		if err != nil {
			return fail(fmt.Errorf("mqtt sink: %w", err))
		}
		sinks = append(sinks, ms)
	}
	if cfg.InfluxDB.Enabled {
		is, err := NewInfluxSink(ctx, cfg.InfluxDB, log)
		if err != nil {
			return fail(fmt.Errorf("influxdb sink: %w", err))
		}
		sinks = append(sinks, is)
	}

	for _, s := range sinks {
		log.Info("register log sink ready", "sink", s.Name())
	}
	return NewRecorder(sinks, NewValueCache(cfg.CacheTTL), log), nil
}

// NewBatch returns a fresh identifier shared by the rows of one logging run.
func NewBatch() string { return uuid.New().String() }

// Record writes every changed row to every sink and returns how many rows at
// least one sink accepted. Failures are logged per sink and returned joined;
// a row no sink accepted is retried on the next run.
func (r *Recorder) Record(ctx context.Context, rows []Row) (int, error) {
	var errs []error
	written := 0
	for _, row := range rows {
		if r.cache != nil && !r.cache.Changed(row) {
			r.log.Debug("register values unchanged, skipping", "servo", row.Servo)
			continue
		}
		accepted := 0
		for _, s := range r.sinks {
			if err := s.Write(ctx, row); err != nil {
				r.log.Error("recording registers failed", "sink", s.Name(), "servo", row.Servo, "error", err)
				errs = append(errs, fmt.Errorf("%s: servo %d: %w", s.Name(), row.Servo, err))
				continue
			}
			accepted++
		}
		if accepted == 0 && len(r.sinks) > 0 {
			if r.cache != nil {
				r.cache.Forget(row.Servo)
			}
			continue
		}
		written++
	}
	return written, errors.Join(errs...)
}

// Sinks returns the names of the configured sinks.
func (r *Recorder) Sinks() []string {
	out := make([]string, 0, len(r.sinks))
	for _, s := range r.sinks {
		out = append(out, s.Name())
	}
	return out
}

// Close closes every sink.
func (r *Recorder) Close() error {
	var errs []error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
