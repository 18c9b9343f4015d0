package datalog

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"servo-dispatcher/internal/config"
)

const (
	measurement        = "servo_registers"
	defaultPingTimeout = 5 * time.Second
)

// pointWriter is the part of the non-blocking write API the sink needs.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// InfluxSink writes one servo_registers point per row, tagged by servo, port
// and batch with one integer field per register. Writes are batched by the
// client; asynchronous failures are logged.
type InfluxSink struct {
	client influxdb2.Client
	writer pointWriter
	bucket string
}

// NewInfluxSink connects and pings the server named in cfg.
func NewInfluxSink(ctx context.Context, cfg config.InfluxDBConfig, log Logger) (*InfluxSink, error) {
	if log == nil {
		log = noopLogger{}
	}
	opts := influxdb2.DefaultOptions()
	if cfg.BatchSize > 0 {
		opts.SetBatchSize(uint(cfg.BatchSize))
	}
	if cfg.FlushInterval > 0 {
		opts.SetFlushInterval(uint(cfg.FlushInterval.Milliseconds()))
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging influxdb %s: %w", cfg.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("influxdb %s is not healthy", cfg.URL)
	}

	api := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range api.Errors() {
			log.Error("influxdb write failed", "bucket", cfg.Bucket, "error", err)
		}
	}()
	return &InfluxSink{client: client, writer: api, bucket: cfg.Bucket}, nil
}

func (s *InfluxSink) Name() string { return "influxdb:" + s.bucket }

func (s *InfluxSink) Write(_ context.Context, r Row) error {
	s.writer.WritePoint(toPoint(r))
	return nil
}

func toPoint(r Row) *write.Point {
	fields := make(map[string]interface{}, len(r.Registers))
	for k, v := range r.Registers {
		fields[string(k)] = v
	}
	return write.NewPoint(measurement,
		map[string]string{
			"servo": strconv.Itoa(r.Servo),
			"port":  r.Port,
			"batch": r.Batch,
		},
		fields,
		r.Timestamp,
	)
}

func (s *InfluxSink) Close() error {
	s.writer.Flush()
	if s.client != nil {
		s.client.Close()
	}
	return nil
}
