package port

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"

	mb "github.com/goburrow/modbus"

	"servo-dispatcher/internal/servo"
	"servo-dispatcher/internal/servosim"
)

const simName = "/dev/ttySIM0"

// simLine carries RTU frames to a simulated bus instead of a serial device.
type simLine struct {
	bank *servosim.Bank
	err  error
	sent int
}

func (l *simLine) Send(adu []byte) ([]byte, error) {
	l.sent++
	if l.err != nil {
		return nil, l.err
	}
	id := adu[0]
	resp, ok := l.bank.Handle(id, adu[1:len(adu)-2])
	if !ok {
		return nil, errors.New("serial: timeout")
	}
	return servosim.Frame(id, resp), nil
}

// openSim returns an open port whose frames are encoded by the real RTU
// handler and answered by line.
func openSim(t *testing.T, line *simLine, opts Options) *Port {
	t.Helper()
	if opts.MinID == 0 {
		opts.MinID = 1
	}
	if opts.MaxID == 0 {
		opts.MaxID = 8
	}
	if opts.Table == nil {
		opts.Table = servo.DefaultTable()
	}
	h := mb.NewRTUClientHandler(simName)
	return &Port{
		name:    simName,
		baud:    115200,
		opts:    opts,
		handler: h,
		client:  mb.NewClient2(h, line),
		open:    true,
	}
}

func newSimLine(specs ...servosim.ServoSpec) *simLine {
	return &simLine{bank: servosim.NewBank(servo.DefaultTable(), specs)}
}

func TestServosDiscoversSimulatedBus(t *testing.T) {
	line := newSimLine(servosim.ServoSpec{ID: 2}, servosim.ServoSpec{ID: 5, ModelNumber: 1200})
	p := openSim(t, line, Options{})
	ctx := context.Background()

	found := p.Servos(ctx)
	if len(found) != 2 || found[0].ID != 2 || found[1].ID != 5 {
		t.Fatalf("discovered %v, want servos 2 and 5", found)
	}
	if line.sent != 8 {
		t.Fatalf("probed %d ids, want 8", line.sent)
	}
	for _, s := range found {
		if s.Port != simName {
			t.Fatalf("servo %d port = %q", s.ID, s.Port)
		}
	}
	model, err := found[1].Read(ctx, servo.ModelNumber)
	if err != nil {
		t.Fatalf("Read model_number: %v", err)
	}
	if model != 1200 {
		t.Fatalf("model_number = %d, want 1200", model)
	}
	if !p.IsOpen() {
		t.Fatal("silent ids must not close the port")
	}
}

func TestServosCountsExceptionAsPresent(t *testing.T) {
	line := newSimLine(servosim.ServoSpec{ID: 3})
	table := servo.DefaultTable()
	// Outside the simulated register space, so the device answers with an
	// illegal address exception.
	table[servo.ModelNumber] = servo.Register{Address: 300, Words: 1, ReadOnly: true}
	p := openSim(t, line, Options{MinID: 1, MaxID: 4, Table: table})

	_, err := p.ReadHolding(context.Background(), 3, 300, 1)
	var mbErr *mb.ModbusError
	if !errors.As(err, &mbErr) || mbErr.ExceptionCode != 0x02 {
		t.Fatalf("expected illegal address exception, got %v", err)
	}

	found := p.Servos(context.Background())
	if len(found) != 1 || found[0].ID != 3 {
		t.Fatalf("discovered %v, want servo 3", found)
	}
}

func TestWriteHoldingSingleAndMultipleWords(t *testing.T) {
	line := newSimLine(servosim.ServoSpec{ID: 1})
	p := openSim(t, line, Options{})
	ctx := context.Background()
	s := servo.New(1, simName, p, nil)

	if err := s.WriteValue(ctx, servo.TorqueEnable, 1); err != nil {
		t.Fatalf("write torque_enable: %v", err)
	}
	if err := s.WriteValue(ctx, servo.GoalPosition, -300); err != nil {
		t.Fatalf("write goal_position: %v", err)
	}

	if v, _ := line.bank.Value(1, servo.TorqueEnable); v != 1 {
		t.Fatalf("device torque_enable = %d, want 1", v)
	}
	if v, _ := line.bank.Value(1, servo.GoalPosition); v != -300 {
		t.Fatalf("device goal_position = %d, want -300", v)
	}
	got, err := s.Read(ctx, servo.GoalPosition)
	if err != nil {
		t.Fatalf("read goal_position: %v", err)
	}
	if got != -300 {
		t.Fatalf("read back %d, want -300", got)
	}
}

func TestDisconnectClosesPort(t *testing.T) {
	line := newSimLine(servosim.ServoSpec{ID: 1})
	p := openSim(t, line, Options{})
	ctx := context.Background()

	line.err = errors.New("serial: timeout")
	if _, err := p.ReadHolding(ctx, 1, 0, 1); err == nil || errors.Is(err, ErrPortClosed) {
		t.Fatalf("timeout should fail without closing, got %v", err)
	}
	if !p.IsOpen() {
		t.Fatal("timeout closed the port")
	}

	line.err = &os.PathError{Op: "read", Path: simName, Err: syscall.EIO}
	_, err := p.ReadHolding(ctx, 1, 0, 1)
	if !errors.Is(err, ErrPortClosed) || !errors.Is(err, syscall.EIO) {
		t.Fatalf("expected ErrPortClosed wrapping EIO, got %v", err)
	}
	if p.IsOpen() {
		t.Fatal("port still open after disconnect")
	}

	sent := line.sent
	if err := p.WriteHolding(ctx, 1, 116, []uint16{0, 1}); !errors.Is(err, ErrPortClosed) {
		t.Fatalf("expected ErrPortClosed, got %v", err)
	}
	if line.sent != sent {
		t.Fatal("traffic sent on a closed port")
	}
	if got := p.Servos(ctx); len(got) != 0 {
		t.Fatalf("closed port reported %v", got)
	}
}
