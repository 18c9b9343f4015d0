package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// recorder is a Dispatcher that remembers every invocation.
type recorder struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (r *recorder) Invoke(_ context.Context, action string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, action)
	return r.fail[action]
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) count(action string) int {
	n := 0
	for _, c := range r.Calls() {
		if c == action {
			n++
		}
	}
	return n
}

// clock is a manually advanced time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// captureLogger records error messages.
type captureLogger struct {
	noopLogger
	mu     sync.Mutex
	errors []any
}

func (l *captureLogger) Error(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i+1 < len(args); i += 2 {
		if args[i] == "error" {
			l.errors = append(l.errors, args[i+1])
		}
	}
}

func (l *captureLogger) Errors() []any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]any(nil), l.errors...)
}

func writeSchedule(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Schedule.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing schedule: %v", err)
	}
	return path
}

func newLoaded(t *testing.T, content string, d Dispatcher, opts Options) (*Scheduler, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	opts.Path = writeSchedule(t, content)
	opts.Now = clk.Now
	s := New(d, opts)
	s.mu.Lock()
	err := s.load()
	s.mu.Unlock()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return s, clk
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDue(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		sch  Schedule
		want bool
	}{
		{name: "elapsed beyond period", sch: Schedule{Period: 2, LastPerformed: now.Add(-3 * time.Second)}, want: true},
		{name: "elapsed within period", sch: Schedule{Period: 2, LastPerformed: now.Add(-1 * time.Second)}, want: false},
		{name: "exactly the period", sch: Schedule{Period: 2, LastPerformed: now.Add(-2 * time.Second)}, want: false},
		{name: "zero period", sch: Schedule{Period: 0, LastPerformed: now.Add(-time.Millisecond)}, want: true},
		{name: "negative period", sch: Schedule{Period: -1, LastPerformed: now}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sch.Due(now); got != tt.want {
				t.Errorf("Due() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("yaml with defaults", func(t *testing.T) {
		doc, err := Load(writeSchedule(t, "schedules:\n  - action: refresh\n    period: 5\n"))
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if doc.SleepDuration() != DefaultSleep {
			t.Errorf("sleep = %v, want %v", doc.SleepDuration(), DefaultSleep)
		}
		if len(doc.Schedules) != 1 || doc.Schedules[0].Action != "refresh" || doc.Schedules[0].Period != 5 {
			t.Errorf("unexpected schedules %+v", doc.Schedules)
		}
	})

	t.Run("json", func(t *testing.T) {
		doc, err := Load(writeSchedule(t, `{"sleep": 250, "schedules": [{"action": "initialise", "on_start": true}]}`))
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if doc.SleepDuration() != 250*time.Millisecond {
			t.Errorf("sleep = %v", doc.SleepDuration())
		}
		if !doc.Schedules[0].OnStart {
			t.Error("on_start not parsed")
		}
	})

	t.Run("nested settings sleep", func(t *testing.T) {
		doc, err := Load(writeSchedule(t, "settings:\n  sleep: 40\n"))
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if doc.SleepDuration() != 40*time.Millisecond {
			t.Errorf("sleep = %v", doc.SleepDuration())
		}
	})

	for name, content := range map[string]string{
		"malformed":      "schedules: [",
		"missing action": "schedules:\n  - period: 1\n",
		"negative sleep": "sleep: -5\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeSchedule(t, content))
			if !errors.Is(err, ErrConfigLoad) {
				t.Fatalf("err = %v, want ErrConfigLoad", err)
			}
		})
	}
}

func TestStartFailsSoftOnMissingDocument(t *testing.T) {
	log := &captureLogger{}
	s := New(&recorder{}, Options{Path: filepath.Join(t.TempDir(), "missing.yaml"), Logger: log})

	err := s.Start(context.Background())
	if !errors.Is(err, ErrConfigLoad) {
		t.Fatalf("Start() = %v, want ErrConfigLoad", err)
	}
	if s.State() != Stopped {
		t.Errorf("state = %v, want stopped", s.State())
	}
	if len(log.Errors()) != 1 {
		t.Errorf("expected the load failure to be logged, got %v", log.Errors())
	}
}

func TestLastPerformedStartsAtLoadTime(t *testing.T) {
	d := &recorder{}
	s, clk := newLoaded(t, "schedules:\n  - action: a\n    period: 2\n", d, Options{})

	if got := s.Schedules()[0].LastPerformed; !got.Equal(clk.Now()) {
		t.Fatalf("LastPerformed = %v, want load time %v", got, clk.Now())
	}

	s.tick(context.Background())
	if len(d.Calls()) != 0 {
		t.Fatalf("schedule fired before its period elapsed: %v", d.Calls())
	}

	clk.Advance(3 * time.Second)
	s.tick(context.Background())
	if got := d.Calls(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("calls = %v, want [a]", got)
	}
	if got := s.Schedules()[0].LastPerformed; !got.Equal(clk.Now()) {
		t.Errorf("LastPerformed = %v, want %v", got, clk.Now())
	}
}

func TestTickInvokesInListOrder(t *testing.T) {
	d := &recorder{}
	s, clk := newLoaded(t, `
schedules:
  - action: first
    period: 1
  - action: second
    period: 1
  - action: later
    period: 60
`, d, Options{})

	clk.Advance(2 * time.Second)
	s.tick(context.Background())

	got := d.Calls()
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("calls = %v, want [first second]", got)
	}
}

func TestRunOnStartOnce(t *testing.T) {
	d := &recorder{}
	path := writeSchedule(t, `
sleep: 5
schedules:
  - action: boot
    on_start: true
    period: 3600
  - action: idle
    period: 3600
`)
	s := New(d, Options{Path: path})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return d.count("boot") == 1 })
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	if n := d.count("boot"); n != 1 {
		t.Errorf("boot invoked %d times, want 1", n)
	}
	if n := d.count("idle"); n != 0 {
		t.Errorf("idle invoked %d times, want 0", n)
	}
	if s.State() != Stopped {
		t.Errorf("state = %v, want stopped", s.State())
	}
}

func TestOnStartWithZeroPeriodAlsoRunsOnFirstTick(t *testing.T) {
	d := &recorder{}
	s, clk := newLoaded(t, "schedules:\n  - action: boot\n    on_start: true\n    period: 0\n", d, Options{})
	ctx := context.Background()

	s.runOnStart(ctx)
	if n := d.count("boot"); n != 1 {
		t.Fatalf("boot invoked %d times on start, want 1", n)
	}
	clk.Advance(time.Millisecond)
	s.tick(ctx)
	if n := d.count("boot"); n != 2 {
		t.Fatalf("boot invoked %d times after first tick, want 2", n)
	}
}

func TestEnableDisable(t *testing.T) {
	d := &recorder{}
	s, clk := newLoaded(t, "schedules:\n  - action: a\n    period: 0\n", d, Options{})

	s.SetEnabled(false)
	clk.Advance(time.Second)
	s.tick(context.Background())
	if len(d.Calls()) != 0 {
		t.Fatalf("disabled scheduler invoked %v", d.Calls())
	}
	if s.Enabled() {
		t.Fatal("Enabled() = true after SetEnabled(false)")
	}

	s.SetEnabled(true)
	s.tick(context.Background())
	if len(d.Calls()) != 1 {
		t.Fatalf("calls = %v, want one after re-enabling", d.Calls())
	}
}

func TestZeroPeriodFiresWithinTwoTicks(t *testing.T) {
	d := &recorder{}
	s, clk := newLoaded(t, "schedules:\n  - action: a\n    period: 0\n", d, Options{})

	s.tick(context.Background())
	clk.Advance(100 * time.Millisecond)
	s.tick(context.Background())

	if len(d.Calls()) == 0 {
		t.Fatal("zero period schedule did not fire within two ticks")
	}
}

func TestFailureKeepsLastPerformed(t *testing.T) {
	d := &recorder{fail: map[string]error{"broken": errors.New("boom")}}
	log := &captureLogger{}
	s, clk := newLoaded(t, `
schedules:
  - action: broken
    period: 1
  - action: fine
    period: 1
`, d, Options{Logger: log})
	loaded := clk.Now()

	clk.Advance(2 * time.Second)
	s.tick(context.Background())

	sch := s.Schedules()
	if !sch[0].LastPerformed.Equal(loaded) {
		t.Errorf("failed schedule advanced LastPerformed to %v", sch[0].LastPerformed)
	}
	if !sch[1].LastPerformed.Equal(clk.Now()) {
		t.Errorf("later schedule did not run after a failure")
	}

	errs := log.Errors()
	if len(errs) != 1 {
		t.Fatalf("logged errors = %v, want 1", errs)
	}
	if err, ok := errs[0].(error); !ok || !errors.Is(err, ErrActionFailed) {
		t.Errorf("logged error %v does not wrap ErrActionFailed", errs[0])
	}

	// Still due on the next tick.
	s.tick(context.Background())
	if n := d.count("broken"); n != 2 {
		t.Errorf("broken invoked %d times, want 2", n)
	}
}

func TestPanicIsContained(t *testing.T) {
	d := DispatcherFunc(func(context.Context, string) error { panic("bad action") })
	log := &captureLogger{}
	s, clk := newLoaded(t, "schedules:\n  - action: a\n    period: 0\n", d, Options{Logger: log})

	clk.Advance(time.Second)
	s.tick(context.Background())

	if len(log.Errors()) != 1 {
		t.Fatalf("panic not logged: %v", log.Errors())
	}
}

func TestInvocationTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	d := DispatcherFunc(func(context.Context, string) error {
		<-release
		return nil
	})
	log := &captureLogger{}
	s, clk := newLoaded(t, "schedules:\n  - action: slow\n    period: 0\n", d,
		Options{ActionTimeout: 20 * time.Millisecond, Logger: log})
	loaded := clk.Now()

	clk.Advance(time.Second)
	start := time.Now()
	s.tick(context.Background())

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("tick blocked for %v", elapsed)
	}
	errs := log.Errors()
	if len(errs) != 1 {
		t.Fatalf("timeout not logged: %v", errs)
	}
	if err := errs[0].(error); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("logged %v, want deadline exceeded", err)
	}
	if !s.Schedules()[0].LastPerformed.Equal(loaded) {
		t.Error("timed out schedule advanced LastPerformed")
	}
}

func TestLoopAndStop(t *testing.T) {
	d := &recorder{}
	path := writeSchedule(t, "sleep: 5\nschedules:\n  - action: a\n    period: 0\n")
	s := New(d, Options{Path: path})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrRunning) {
		t.Errorf("second Start() = %v, want ErrRunning", err)
	}
	if s.State() != Running {
		t.Errorf("state = %v, want running", s.State())
	}

	waitFor(t, func() bool { return d.count("a") >= 2 })
	s.Stop()
	if s.State() != Stopped {
		t.Fatalf("state = %v after Stop", s.State())
	}

	n := d.count("a")
	time.Sleep(30 * time.Millisecond)
	if d.count("a") != n {
		t.Error("invocations continued after Stop")
	}

	s.Stop()
}

func TestContextCancelStopsLoop(t *testing.T) {
	path := writeSchedule(t, "sleep: 5\nschedules: []\n")
	s := New(&recorder{}, Options{Path: path})
	ctx, cancel := context.WithCancel(context.Background())

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
	waitFor(t, func() bool { return s.State() == Stopped })
}

func TestStopWakesLongSleep(t *testing.T) {
	path := writeSchedule(t, "sleep: 60000\nschedules: []\n")
	s := New(&recorder{}, Options{Path: path})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not interrupt the sleep")
	}
}

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{Stopped: "stopped", Running: "running", Joining: "joining"} {
		if state.String() != want {
			t.Errorf("%d.String() = %q, want %q", state, state.String(), want)
		}
	}
}
