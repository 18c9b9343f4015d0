package pool

import (
	"context"
	"errors"
	"sort"
	"sync"

	"servo-dispatcher/internal/servo"
)

// Enumerator lists the channel names currently present on the host.
type Enumerator interface {
	Ports() ([]string, error)
}

// Port is one tracked communication channel.
type Port interface {
	Name() string
	BaudRate() int
	IsOpen() bool
	// Servos returns the devices currently reachable through the port.
	Servos(ctx context.Context) []*servo.Servo
	Close() error
}

// Opener opens a channel. It must return a non-nil Port even when the open
// fails; the error then describes the failed attempt and the port is closed.
type Opener interface {
	Open(name string, baud int) (Port, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(name string, baud int) (Port, error)

func (f OpenerFunc) Open(name string, baud int) (Port, error) { return f(name, baud) }

// InitialisationSource yields the register values applied to every servo
// after a refresh. It is consulted on every InitialiseAll.
type InitialisationSource interface {
	Registers() ([]servo.RegisterValue, error)
}

// StaticInitialisation is a fixed initialisation list.
type StaticInitialisation []servo.RegisterValue

func (s StaticInitialisation) Registers() ([]servo.RegisterValue, error) { return s, nil }

// Logger is the logging surface used by the pool.
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

// Conflict records two ports reporting the same device id.
type Conflict struct {
	ID      int    `json:"id"`
	Kept    string `json:"kept"`
	Dropped string `json:"dropped"`
}

// PortInfo is a snapshot of one tracked port.
type PortInfo struct {
	Name     string `json:"name"`
	BaudRate int    `json:"baud_rate"`
	Open     bool   `json:"open"`
	Servos   []int  `json:"servos"`
}

// Options configures a Manager.
type Options struct {
	BaudRate       int
	Initialisation InitialisationSource
	Logger         Logger
}

// Manager tracks the serial ports on the host and indexes the servos they
// reach by device id.
//
// Thread Safety: every public method holds one mutex for its whole duration,
// so all callers observe a single consistent view of ports and servos.
type Manager struct {
	enum   Enumerator
	opener Opener
	baud   int
	init   InitialisationSource
	logger Logger

	mu        sync.Mutex
	ports     map[string]Port
	order     []string
	servos    map[int]*servo.Servo
	conflicts []Conflict
}

// New creates an empty pool. Nothing is opened until the first Refresh.
func New(enum Enumerator, opener Opener, opts Options) *Manager {
	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	if opts.Initialisation == nil {
		opts.Initialisation = StaticInitialisation(nil)
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Manager{
		enum:   enum,
		opener: opener,
		baud:   opts.BaudRate,
		init:   opts.Initialisation,
		logger: opts.Logger,
		ports:  make(map[string]Port),
		servos: make(map[int]*servo.Servo),
	}
}

// Refresh reconciles the tracked ports with the host, rebuilds the servo
// index and initialises every indexed servo.
func (m *Manager) Refresh(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh(ctx)
}

func (m *Manager) refresh(ctx context.Context) {
	names, err := m.enum.Ports()
	if err != nil {
		m.logger.Error("enumerating serial ports failed, keeping tracked ports", "error", err)
	} else {
		m.discover(names)
		m.prune(names)
	}
	m.rebuild(ctx)
	m.initialise(ctx)
}

func (m *Manager) discover(names []string) {
	for _, name := range names {
		if _, ok := m.ports[name]; ok {
			continue
		}
		m.logger.Info("found port", "port", name)
		p, err := m.opener.Open(name, m.baud)
		if p == nil {
			m.logger.Error("opener returned no port", "port", name, "error", err)
			continue
		}
		if err != nil {
			m.logger.Warn("channel open failed", "port", name, "error", err)
		}
		m.logger.Info("connected to port", "port", name, "open", p.IsOpen(), "baud_rate", m.baud)
		m.ports[name] = p
		m.order = append(m.order, name)
	}
}

func (m *Manager) prune(names []string) {
	present := make(map[string]struct{}, len(names))
	for _, n := range names {
		present[n] = struct{}{}
	}
	kept := m.order[:0]
	for _, name := range m.order {
		p := m.ports[name]
		_, listed := present[name]
		open := p.IsOpen()
		if open && listed {
			kept = append(kept, name)
			continue
		}
		delete(m.ports, name)
		if err := p.Close(); err != nil {
			m.logger.Warn("closing port failed", "port", name, "error", err)
		}
		m.logger.Info("removed port", "port", name, "open", open, "listed", listed)
	}
	m.order = kept
}

func (m *Manager) rebuild(ctx context.Context) {
	servos := make(map[int]*servo.Servo)
	var conflicts []Conflict
	for _, name := range m.order {
		p := m.ports[name]
		m.logger.Debug("searching for servos", "port", name)
		var found []int
		for _, s := range p.Servos(ctx) {
			if prev, ok := servos[s.ID]; ok {
				m.logger.Warn("two servos found with the same id",
					"id", s.ID, "kept_port", prev.Port, "dropped_port", name)
				conflicts = append(conflicts, Conflict{ID: s.ID, Kept: prev.Port, Dropped: name})
				continue
			}
			servos[s.ID] = s
			found = append(found, s.ID)
		}
		m.logger.Info("found servos", "port", name, "ids", found)
	}
	// A scan cut short by cancellation under-reports; keep the last full index.
	if err := ctx.Err(); err != nil {
		m.logger.Warn("servo scan interrupted, keeping previous index", "servos", len(m.servos), "error", err)
		return
	}
	m.servos = servos
	m.conflicts = conflicts
}

// InitialiseAll writes the initialisation list to every indexed servo.
func (m *Manager) InitialiseAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialise(ctx)
}

func (m *Manager) initialise(ctx context.Context) {
	if len(m.servos) == 0 {
		return
	}
	regs, err := m.init.Registers()
	if err != nil {
		m.logger.Error("loading initialisation registers failed", "error", err)
		return
	}
	for _, s := range m.sorted() {
		for _, rv := range regs {
			if ctx.Err() != nil {
				return
			}
			if err := s.Write(ctx, rv); err != nil {
				m.logger.Error("initialising register failed",
					"servo", s.ID, "port", s.Port, "register", rv.Register, "error", err)
			}
		}
	}
}

// FindServo returns the servo with the given id. A miss triggers one full
// refresh before giving up with ErrDeviceNotFound.
func (m *Manager) FindServo(ctx context.Context, id int) (*servo.Servo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.servos[id]; ok {
		return s, nil
	}
	m.refresh(ctx)
	if s, ok := m.servos[id]; ok {
		return s, nil
	}
	return nil, &NotFoundError{ID: id}
}

// ShutdownAll disables torque on every indexed servo without refreshing.
func (m *Manager) ShutdownAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sorted() {
		if err := s.WriteValue(ctx, servo.TorqueEnable, 0); err != nil {
			m.logger.Error("disabling torque failed", "servo", s.ID, "port", s.Port, "error", err)
		}
	}
}

// Count returns the number of tracked ports.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ports)
}

// Servos returns the indexed servos ordered by id.
func (m *Manager) Servos() []*servo.Servo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted()
}

// Ports returns a snapshot of the tracked ports in tracking order.
func (m *Manager) Ports() []PortInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPort := make(map[string][]int)
	for _, s := range m.sorted() {
		byPort[s.Port] = append(byPort[s.Port], s.ID)
	}
	out := make([]PortInfo, 0, len(m.order))
	for _, name := range m.order {
		p := m.ports[name]
		out = append(out, PortInfo{
			Name:     name,
			BaudRate: p.BaudRate(),
			Open:     p.IsOpen(),
			Servos:   byPort[name],
		})
	}
	return out
}

// Conflicts returns the id collisions seen by the last index rebuild.
func (m *Manager) Conflicts() []Conflict {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Conflict(nil), m.conflicts...)
}

// Close closes every tracked port and empties the pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, name := range m.order {
		if err := m.ports[name].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.ports = make(map[string]Port)
	m.order = nil
	m.servos = make(map[int]*servo.Servo)
	m.conflicts = nil
	return errors.Join(errs...)
}

func (m *Manager) sorted() []*servo.Servo {
	out := make([]*servo.Servo, 0, len(m.servos))
	for _, s := range m.servos {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
