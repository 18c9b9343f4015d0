// Package datalog records register snapshots of the servos in the pool.
//
// A Recorder fans rows out to any number of sinks (JSONL/CSV files, SQLite,
// MQTT, InfluxDB) and drops rows whose registers have not changed since the
// last one recorded for the same servo.
package datalog

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"servo-dispatcher/internal/servo"
)

// Row is one servo's register snapshot. Rows of one logging run share Batch.
type Row struct {
	Batch     string                       `json:"batch"`
	Servo     int                          `json:"servo"`
	Port      string                       `json:"port"`
	Registers map[servo.RegisterType]int64 `json:"registers"`
	Timestamp time.Time                    `json:"timestamp"`
}

// Sink stores rows.
type Sink interface {
	Name() string
	Write(ctx context.Context, r Row) error
	Close() error
}

// sortedRegisters returns the row's register names in lexical order.
func (r Row) sortedRegisters() []servo.RegisterType {
	out := make([]servo.RegisterType, 0, len(r.Registers))
	for k := range r.Registers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// fingerprint identifies the register values independent of map order.
func (r Row) fingerprint() string {
	var b strings.Builder
	for _, k := range r.sortedRegisters() {
		b.WriteString(string(k))
		b.WriteByte('=')
		b.WriteString(strconv.FormatInt(r.Registers[k], 10))
		b.WriteByte(';')
	}
	return b.String()
}
