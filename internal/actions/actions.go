// Package actions defines the built-in operations reachable by name through
// the dispatcher: pool maintenance, register logging and scheduler control.
package actions

import (
	"context"
	"fmt"
	"time"

	"servo-dispatcher/internal/datalog"
	"servo-dispatcher/internal/dispatch"
	"servo-dispatcher/internal/pool"
	"servo-dispatcher/internal/scheduler"
	"servo-dispatcher/internal/servo"
)

// Action names.
const (
	Refresh          = "refresh"
	Initialise       = "initialise"
	Shutdown         = "shutdown"
	LogRegisters     = "log_registers"
	Ports            = "ports"
	Servos           = "servos"
	SchedulerEnable  = "scheduler/enable"
	SchedulerDisable = "scheduler/disable"
	SchedulerStatus  = "scheduler/status"
)

// Pool is the device pool surface the actions drive.
type Pool interface {
	Refresh(ctx context.Context)
	InitialiseAll(ctx context.Context)
	ShutdownAll(ctx context.Context)
	Count() int
	Servos() []*servo.Servo
	Ports() []pool.PortInfo
	Conflicts() []pool.Conflict
}

// Scheduler is the scheduler surface the actions drive.
type Scheduler interface {
	SetEnabled(enabled bool)
	Enabled() bool
	State() scheduler.State
	Schedules() []scheduler.Schedule
}

// Recorder stores register snapshots.
type Recorder interface {
	Record(ctx context.Context, rows []datalog.Row) (int, error)
}

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

// Deps are the components the actions operate on. A nil Scheduler leaves out
// the scheduler actions; a nil Recorder makes log_registers read only.
type Deps struct {
	Pool      Pool
	Scheduler Scheduler
	Recorder  Recorder
	Logger    Logger
	// Now overrides the clock; tests only.
	Now func() time.Time
}

// PoolSummary is the result of the pool maintenance actions.
type PoolSummary struct {
	Ports     int             `json:"ports"`
	Servos    []int           `json:"servos"`
	Conflicts []pool.Conflict `json:"conflicts,omitempty"`
}

// LogSummary is the result of log_registers.
type LogSummary struct {
	Batch    string `json:"batch"`
	Servos   int    `json:"servos"`
	Recorded int    `json:"recorded"`
	Failed   []int  `json:"failed,omitempty"`
}

// ServoInfo is one entry of the servos action.
type ServoInfo struct {
	ID        int                          `json:"id"`
	Port      string                       `json:"port"`
	Registers map[servo.RegisterType]int64 `json:"registers"`
	ReadAt    time.Time                    `json:"read_at,omitempty"`
}

// SchedulerStatusResult describes the scheduler.
type SchedulerStatusResult struct {
	State     string               `json:"state"`
	Enabled   bool                 `json:"enabled"`
	Schedules []scheduler.Schedule `json:"schedules,omitempty"`
}

type handlers struct {
	Deps
}

// Register adds the built-in actions to reg.
func Register(reg *dispatch.Registry, d Deps) error {
	if d.Pool == nil {
		return fmt.Errorf("actions: pool is required")
	}
	if d.Logger == nil {
		d.Logger = noopLogger{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	h := handlers{Deps: d}

	table := map[string]dispatch.Action{
		Refresh:      h.refresh,
		Initialise:   h.initialise,
		Shutdown:     h.shutdown,
		LogRegisters: h.logRegisters,
		Ports:        h.ports,
		Servos:       h.servos,
	}
	if d.Scheduler != nil {
		table[SchedulerEnable] = h.setEnabled(true)
		table[SchedulerDisable] = h.setEnabled(false)
		table[SchedulerStatus] = h.schedulerStatus
	}
	for name, a := range table {
		if err := reg.Register(name, a); err != nil {
			return err
		}
	}
	return nil
}

func (h handlers) summary() PoolSummary {
	servos := h.Pool.Servos()
	ids := make([]int, 0, len(servos))
	for _, s := range servos {
		ids = append(ids, s.ID)
	}
	return PoolSummary{Ports: h.Pool.Count(), Servos: ids, Conflicts: h.Pool.Conflicts()}
}

func (h handlers) refresh(ctx context.Context) (any, error) {
	h.Pool.Refresh(ctx)
	return h.summary(), nil
}

func (h handlers) initialise(ctx context.Context) (any, error) {
	h.Pool.InitialiseAll(ctx)
	return h.summary(), nil
}

func (h handlers) shutdown(ctx context.Context) (any, error) {
	h.Pool.ShutdownAll(ctx)
	return h.summary(), nil
}

func (h handlers) ports(context.Context) (any, error) {
	return h.Pool.Ports(), nil
}

func (h handlers) servos(context.Context) (any, error) {
	servos := h.Pool.Servos()
	out := make([]ServoInfo, 0, len(servos))
	for _, s := range servos {
		out = append(out, ServoInfo{ID: s.ID, Port: s.Port, Registers: s.Registers(), ReadAt: s.ReadAt()})
	}
	return out, nil
}

// logRegisters reads every register of every indexed servo and records one
// row per servo holding only the values read in this run. Partial read
// failures are logged; a servo with no register read at all is reported as
// failed and gets no row.
func (h handlers) logRegisters(ctx context.Context) (any, error) {
	servos := h.Pool.Servos()
	result := LogSummary{Batch: datalog.NewBatch(), Servos: len(servos)}
	rows := make([]datalog.Row, 0, len(servos))
	for _, s := range servos {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		regs, err := s.ReadAll(ctx)
		if err != nil {
			h.Logger.Warn("reading servo registers failed", "servo", s.ID, "port", s.Port, "error", err)
		}
		if len(regs) == 0 {
			result.Failed = append(result.Failed, s.ID)
			continue
		}
		rows = append(rows, datalog.Row{
			Batch:     result.Batch,
			Servo:     s.ID,
			Port:      s.Port,
			Registers: regs,
			Timestamp: h.Now(),
		})
	}
	if h.Recorder == nil {
		result.Recorded = len(rows)
		return result, nil
	}
	n, err := h.Recorder.Record(ctx, rows)
	result.Recorded = n
	if err != nil {
		return result, fmt.Errorf("recording batch %s: %w", result.Batch, err)
	}
	h.Logger.Debug("logged servo registers", "batch", result.Batch, "servos", len(servos), "recorded", n)
	return result, nil
}

func (h handlers) setEnabled(enabled bool) dispatch.Action {
	return func(context.Context) (any, error) {
		h.Scheduler.SetEnabled(enabled)
		return map[string]bool{"enabled": h.Scheduler.Enabled()}, nil
	}
}

func (h handlers) schedulerStatus(context.Context) (any, error) {
	return SchedulerStatusResult{
		State:     h.Scheduler.State().String(),
		Enabled:   h.Scheduler.Enabled(),
		Schedules: h.Scheduler.Schedules(),
	}, nil
}
