package port

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"syscall"

	mb "github.com/goburrow/modbus"

	"servo-dispatcher/internal/serialport"
	"servo-dispatcher/internal/servo"
)

// Options configures how a port is opened and scanned.
type Options struct {
	// Serial holds line settings; Address and BaudRate are set by Open.
	Serial serialport.Params

	// MinID and MaxID bound the device ids probed during discovery.
	MinID int
	MaxID int

	// Table is the control table handed to discovered servos.
	Table servo.Table

	// Trace receives raw frame dumps from the Modbus handler when non-nil.
	Trace *log.Logger
}

// Port owns one serial channel and the servos reachable through it.
// Bus traffic is serialised: the Modbus handler addresses one slave at a time.
type Port struct {
	name string
	baud int
	opts Options

	mu      sync.Mutex
	handler *mb.RTUClientHandler
	client  mb.Client
	open    bool
}

// Open creates the port and attempts to open the channel. The returned Port
// is never nil; on failure it is closed and the error describes the attempt.
func Open(name string, baud int, opts Options) (*Port, error) {
	if opts.MinID <= 0 {
		opts.MinID = 1
	}
	if opts.MaxID < opts.MinID {
		opts.MaxID = opts.MinID
	}
	if opts.Table == nil {
		opts.Table = servo.DefaultTable()
	}

	sp := opts.Serial
	sp.Address = name
	sp.BaudRate = baud
	serialport.EnsureDefaults(&sp)

	h := mb.NewRTUClientHandler(name)
	h.Config = sp.Config()
	h.SlaveId = byte(opts.MinID)
	h.Logger = opts.Trace

	p := &Port{
		name:    name,
		baud:    sp.BaudRate,
		opts:    opts,
		handler: h,
		client:  mb.NewClient(h),
	}
	if err := h.Connect(); err != nil {
		return p, fmt.Errorf("open %s: %w", name, err)
	}
	p.open = true
	return p, nil
}

func (p *Port) Name() string  { return p.name }
func (p *Port) BaudRate() int { return p.baud }

func (p *Port) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Close releases the channel. Closing a closed port is a no-op.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return nil
	}
	p.open = false
	return p.handler.Close()
}

// Servos probes every id in the configured range and returns a fresh servo
// for each device that answers, ordered by id. A closed port reports none.
func (p *Port) Servos(ctx context.Context) []*servo.Servo {
	model, err := p.opts.Table.Lookup(servo.ModelNumber)
	if err != nil {
		return nil
	}
	var found []*servo.Servo
	for id := p.opts.MinID; id <= p.opts.MaxID; id++ {
		if ctx.Err() != nil {
			return found
		}
		_, err := p.ReadHolding(ctx, id, model.Address, 1)
		var mbErr *mb.ModbusError
		switch {
		case err == nil, errors.As(err, &mbErr):
			// an exception response still proves the device is there
			found = append(found, servo.New(id, p.name, p, p.opts.Table))
		case errors.Is(err, ErrPortClosed):
			return nil
		}
	}
	return found
}

// ReadHolding implements servo.Bus.
func (p *Port) ReadHolding(ctx context.Context, id int, address, quantity uint16) ([]byte, error) {
	var out []byte
	err := p.transact(ctx, id, func() error {
		data, err := p.client.ReadHoldingRegisters(address, quantity)
		out = data
		return err
	})
	return out, err
}

// WriteHolding implements servo.Bus.
func (p *Port) WriteHolding(ctx context.Context, id int, address uint16, words []uint16) error {
	return p.transact(ctx, id, func() error {
		if len(words) == 1 {
			_, err := p.client.WriteSingleRegister(address, words[0])
			return err
		}
		buf := make([]byte, 2*len(words))
		for i, w := range words {
			binary.BigEndian.PutUint16(buf[2*i:], w)
		}
		_, err := p.client.WriteMultipleRegisters(address, uint16(len(words)), buf)
		return err
	})
}

func (p *Port) transact(ctx context.Context, id int, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id < 1 || id > 247 {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return fmt.Errorf("%s: %w", p.name, ErrPortClosed)
	}
	p.handler.SlaveId = byte(id)
	err := fn()
	if err != nil && isDisconnect(err) {
		p.open = false
		_ = p.handler.Close()
		return fmt.Errorf("%s: %w: %w", p.name, ErrPortClosed, err)
	}
	return err
}

// isDisconnect reports errors meaning the device node went away, as opposed
// to a silent or misbehaving slave.
func isDisconnect(err error) bool {
	return errors.Is(err, os.ErrClosed) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.EIO) ||
		errors.Is(err, syscall.ENXIO) ||
		errors.Is(err, syscall.ENODEV)
}
