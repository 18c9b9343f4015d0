// Package scheduler runs named actions periodically.
//
// A single background goroutine wakes every sleep interval and, while
// enabled, invokes every due schedule through a Dispatcher in list order.
// Schedules flagged on_start are invoked once when the loop starts.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Invocations happen only
// on the loop goroutine, one at a time.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultActionTimeout bounds a single invocation when Options leaves it unset.
const DefaultActionTimeout = 30 * time.Second

// Dispatcher performs a named action and returns when it has completed.
type Dispatcher interface {
	Invoke(ctx context.Context, action string) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, action string) error

func (f DispatcherFunc) Invoke(ctx context.Context, action string) error { return f(ctx, action) }

// Logger is the logging surface used by the scheduler.
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

// State is the lifecycle position of the loop.
type State int32

const (
	Stopped State = iota
	Running
	Joining
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Joining:
		return "joining"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options configures a Scheduler.
type Options struct {
	// Path of the schedule document, read on every Start.
	Path          string
	ActionTimeout time.Duration
	Logger        Logger
	// Now overrides the clock; tests only.
	Now func() time.Time
}

// Scheduler owns the schedule list and the loop goroutine.
type Scheduler struct {
	path       string
	dispatcher Dispatcher
	timeout    time.Duration
	logger     Logger
	now        func() time.Time

	enabled atomic.Bool

	mu        sync.Mutex
	state     State
	schedules []Schedule
	sleep     time.Duration
	stop      chan struct{}
	done      chan struct{}
}

// New creates a stopped, enabled scheduler.
func New(d Dispatcher, opts Options) *Scheduler {
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = DefaultActionTimeout
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Scheduler{
		path:       opts.Path,
		dispatcher: d,
		timeout:    opts.ActionTimeout,
		logger:     opts.Logger,
		now:        opts.Now,
		sleep:      DefaultSleep,
	}
	s.enabled.Store(true)
	return s
}

// Start loads the schedule document and launches the loop. On a load failure
// the error (wrapping ErrConfigLoad) is logged and returned, and the
// scheduler stays stopped. Cancelling ctx stops the loop like Stop does.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Stopped {
		return ErrRunning
	}
	if err := s.load(); err != nil {
		s.logger.Error("loading schedule failed", "path", s.path, "error", err)
		return err
	}
	s.state = Running
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.logger.Info("scheduler started", "schedules", len(s.schedules), "sleep", s.sleep)
	go s.run(ctx, s.stop, s.done)
	return nil
}

// load replaces the schedule list. Callers hold s.mu.
func (s *Scheduler) load() error {
	doc, err := Load(s.path)
	if err != nil {
		return err
	}
	now := s.now()
	for i := range doc.Schedules {
		doc.Schedules[i].LastPerformed = now
	}
	s.schedules = doc.Schedules
	s.sleep = doc.SleepDuration()
	return nil
}

func (s *Scheduler) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer func() {
		s.mu.Lock()
		s.state = Stopped
		s.mu.Unlock()
		close(done)
		s.logger.Info("scheduler stopped")
	}()

	s.runOnStart(ctx)

	timer := time.NewTimer(s.sleepDuration())
	defer timer.Stop()
	for {
		s.tick(ctx)

		timer.Reset(s.sleepDuration())
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// runOnStart invokes every on_start schedule once, in list order, before the
// first tick. A successful run counts as the schedule's last performance, so
// the periodic cadence starts from it; with a period of zero or less the
// schedule is already due again on the first tick.
func (s *Scheduler) runOnStart(ctx context.Context) {
	for i, sch := range s.Schedules() {
		if sch.OnStart {
			s.perform(ctx, i, sch.Action)
		}
	}
}

// tick invokes every due schedule once, in list order, when enabled.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.enabled.Load() {
		return
	}
	now := s.now()
	for i, sch := range s.Schedules() {
		if ctx.Err() != nil {
			return
		}
		if sch.Due(now) {
			s.perform(ctx, i, sch.Action)
		}
	}
}

func (s *Scheduler) perform(ctx context.Context, i int, action string) {
	if err := s.invoke(ctx, action); err != nil {
		s.logger.Error("action invocation failed", "action", action,
			"error", fmt.Errorf("%w: %s: %w", ErrActionFailed, action, err))
		return
	}
	completed := s.now()
	s.mu.Lock()
	if i < len(s.schedules) {
		s.schedules[i].LastPerformed = completed
	}
	s.mu.Unlock()
	s.logger.Debug("performed action", "action", action)
}

// invoke runs the dispatcher bounded by the action timeout. A dispatcher that
// ignores its context is abandoned when the timeout expires.
func (s *Scheduler) invoke(ctx context.Context, action string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("panic: %v", r)
			}
		}()
		result <- s.dispatcher.Invoke(ctx, action)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop requests the loop to exit and waits for it. A tick in progress is
// finished first. Stop on a stopped scheduler does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state != Running {
		done := s.done
		s.mu.Unlock()
		if done != nil {
			<-done
		}
		return
	}
	s.state = Joining
	close(s.stop)
	done := s.done
	s.mu.Unlock()
	<-done
}

// SetEnabled pauses or resumes periodic invocations from the next tick on.
func (s *Scheduler) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
	s.logger.Info("scheduler enabled changed", "enabled", enabled)
}

// Enabled reports whether periodic invocations are active.
func (s *Scheduler) Enabled() bool { return s.enabled.Load() }

// State returns the lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Schedules returns a copy of the loaded schedules.
func (s *Scheduler) Schedules() []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Schedule(nil), s.schedules...)
}

func (s *Scheduler) sleepDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sleep
}
