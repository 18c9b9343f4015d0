package servo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Bus carries register traffic for the servos reachable through one port.
type Bus interface {
	ReadHolding(ctx context.Context, id int, address, quantity uint16) ([]byte, error)
	WriteHolding(ctx context.Context, id int, address uint16, words []uint16) error
}

// Servo is one addressable device. Port holds the owning port's name and is
// only a lookup key: servos are rebuilt on every pool refresh.
type Servo struct {
	ID   int
	Port string

	bus   Bus
	table Table

	mu        sync.Mutex
	registers map[RegisterType]int64
	readAt    time.Time
}

// New creates a servo handle. table defaults to DefaultTable when nil.
func New(id int, port string, bus Bus, table Table) *Servo {
	if table == nil {
		table = DefaultTable()
	}
	return &Servo{
		ID:        id,
		Port:      port,
		bus:       bus,
		table:     table,
		registers: make(map[RegisterType]int64, len(table)),
	}
}

func (s *Servo) String() string { return fmt.Sprintf("servo #%d@%s", s.ID, s.Port) }

// ReadAll reads every register of the control table and returns the values
// read by this call. A failing register does not stop the others; all
// failures are returned joined. Values cached by earlier reads or writes are
// not part of the result.
func (s *Servo) ReadAll(ctx context.Context) (map[RegisterType]int64, error) {
	read := make(map[RegisterType]int64, len(s.table))
	var errs []error
	for _, rt := range s.table.Types() {
		if err := ctx.Err(); err != nil {
			return read, err
		}
		v, err := s.Read(ctx, rt)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		read[rt] = v
	}
	if len(read) > 0 {
		s.mu.Lock()
		s.readAt = time.Now()
		s.mu.Unlock()
	}
	return read, errors.Join(errs...)
}

// Read fetches one register from the device and caches its value.
func (s *Servo) Read(ctx context.Context, rt RegisterType) (int64, error) {
	r, err := s.table.Lookup(rt)
	if err != nil {
		return 0, err
	}
	data, err := s.bus.ReadHolding(ctx, s.ID, r.Address, max(r.Words, 1))
	if err != nil {
		return 0, fmt.Errorf("%s read %s: %w", s, rt, err)
	}
	v, err := decode(r, data)
	if err != nil {
		return 0, fmt.Errorf("%s read %s: %w", s, rt, err)
	}
	s.mu.Lock()
	s.registers[rt] = v
	s.mu.Unlock()
	return v, nil
}

// Write applies one register value.
func (s *Servo) Write(ctx context.Context, rv RegisterValue) error {
	return s.WriteValue(ctx, rv.Register, rv.Value)
}

// WriteValue applies a scalar to the named register.
func (s *Servo) WriteValue(ctx context.Context, rt RegisterType, value int64) error {
	r, err := s.table.Lookup(rt)
	if err != nil {
		return err
	}
	if r.ReadOnly {
		return fmt.Errorf("%w: %s", ErrReadOnly, rt)
	}
	words, err := encode(r, value)
	if err != nil {
		return fmt.Errorf("%s write %s: %w", s, rt, err)
	}
	if err := s.bus.WriteHolding(ctx, s.ID, r.Address, words); err != nil {
		return fmt.Errorf("%s write %s: %w", s, rt, err)
	}
	s.mu.Lock()
	s.registers[rt] = value
	s.mu.Unlock()
	return nil
}

// Registers returns a copy of the last known register values.
func (s *Servo) Registers() map[RegisterType]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[RegisterType]int64, len(s.registers))
	for k, v := range s.registers {
		out[k] = v
	}
	return out
}

// ReadAt reports when ReadAll last read at least one register; zero if never.
func (s *Servo) ReadAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAt
}
