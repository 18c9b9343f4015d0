package port

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"servo-dispatcher/internal/serialport"
)

func openMissing(t *testing.T) *Port {
	t.Helper()
	name := filepath.Join(t.TempDir(), "ttyUSB9")
	p, err := Open(name, 0, Options{Serial: serialport.Params{Timeout: 10 * time.Millisecond}})
	if err == nil {
		t.Fatalf("expected open error for %s", name)
	}
	if p == nil {
		t.Fatal("Open must return a port even when the open fails")
	}
	return p
}

func TestOpenFailureLeavesClosedPort(t *testing.T) {
	p := openMissing(t)
	if p.IsOpen() {
		t.Fatal("port should report closed")
	}
	if p.BaudRate() != 115200 {
		t.Fatalf("baud = %d, want default 115200", p.BaudRate())
	}
	if p.Name() == "" {
		t.Fatal("name not recorded")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close on closed port: %v", err)
	}
}

func TestClosedPortHasNoServos(t *testing.T) {
	p := openMissing(t)
	if got := p.Servos(context.Background()); len(got) != 0 {
		t.Fatalf("closed port reported %d servos", len(got))
	}
}

func TestTrafficOnClosedPort(t *testing.T) {
	p := openMissing(t)
	ctx := context.Background()
	if _, err := p.ReadHolding(ctx, 1, 0, 1); !errors.Is(err, ErrPortClosed) {
		t.Fatalf("ReadHolding: expected ErrPortClosed, got %v", err)
	}
	if err := p.WriteHolding(ctx, 1, 64, []uint16{0}); !errors.Is(err, ErrPortClosed) {
		t.Fatalf("WriteHolding: expected ErrPortClosed, got %v", err)
	}
	if _, err := p.ReadHolding(ctx, 0, 0, 1); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := p.ReadHolding(cancelled, 1, 0, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestIsDisconnect(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&os.PathError{Op: "read", Path: "/dev/ttyUSB0", Err: syscall.EIO}, true},
		{fmt.Errorf("wrapped: %w", syscall.ENXIO), true},
		{os.ErrClosed, true},
		{&os.PathError{Op: "open", Path: "/dev/ttyUSB0", Err: syscall.ENOENT}, true},
		{errors.New("serial: timeout"), false},
		{errors.New("modbus: response crc mismatch"), false},
	}
	for _, tt := range tests {
		if got := isDisconnect(tt.err); got != tt.want {
			t.Errorf("isDisconnect(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
