package serialport

import (
	"context"
	"io"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/goburrow/serial"
)

// DefaultPatterns are the device globs polled when none are configured.
var DefaultPatterns = []string{"/dev/ttyUSB*", "/dev/ttyACM*"}

type Params struct {
	Address  string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
	Timeout  time.Duration
}

func EnsureDefaults(sp *Params) {
	if sp.BaudRate == 0 {
		sp.BaudRate = 115200
	}
	if sp.DataBits == 0 {
		sp.DataBits = 8
	}
	if sp.StopBits == 0 {
		sp.StopBits = 1
	}
	if sp.Parity == "" {
		sp.Parity = "N"
	}
	if sp.Timeout <= 0 {
		sp.Timeout = 100 * time.Millisecond
	}
}

// Config converts the parameters to the serial driver's configuration.
func (sp Params) Config() serial.Config {
	EnsureDefaults(&sp)
	return serial.Config{
		Address:  sp.Address,
		BaudRate: sp.BaudRate,
		DataBits: sp.DataBits,
		StopBits: sp.StopBits,
		Parity:   sp.Parity,
		Timeout:  sp.Timeout,
	}
}

// Open opens the raw serial device.
func Open(sp Params) (io.ReadWriteCloser, error) {
	sc := sp.Config()
	return serial.Open(&sc)
}

// Enumerator lists the serial channels currently present on the host.
type Enumerator struct {
	Patterns []string
}

// Ports returns the sorted, de-duplicated channel names matching the patterns.
func (e Enumerator) Ports() ([]string, error) {
	patterns := e.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	seen := make(map[string]struct{})
	var out []string
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

type SocatPair struct {
	Link string
	Peer string
}

// BuildSocatPairCmd prepares a socat process linking two pseudo terminals.
func BuildSocatPairCmd(ctx context.Context, pair SocatPair) *exec.Cmd {
	return exec.CommandContext(ctx, "socat",
		"-d", "-d",
		"pty,raw,echo=0,link="+pair.Link,
		"pty,raw,echo=0,link="+pair.Peer,
	)
}
