package servosim

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"servo-dispatcher/internal/serialport"
)

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

// socatSettle is how long to wait for socat to create its pty links.
const socatSettle = 400 * time.Millisecond

// serialReadTimeout bounds a single serial read so shutdown is noticed.
const serialReadTimeout = time.Second

// Run serves every endpoint in cfg and steps the simulation until ctx is
// cancelled or an endpoint fails.
func Run(ctx context.Context, cfg *Config, log Logger) error {
	if log == nil {
		log = noopLogger{}
	}
	g, ctx := errgroup.WithContext(ctx)
	banks := make([]*Bank, len(cfg.Endpoints))
	for i, ep := range cfg.Endpoints {
		ep := ep
		bank := NewBank(cfg.Registers, ep.Servos)
		banks[i] = bank
		g.Go(func() error {
			var err error
			if ep.Mode == ModeTCP {
				err = RunTCP(ctx, ep, bank, log)
			} else {
				err = RunSerial(ctx, ep, bank, log)
			}
			if err != nil {
				return fmt.Errorf("%s: %w", ep.Name, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		t := time.NewTicker(cfg.Tick)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				for _, b := range banks {
					b.Step()
				}
			}
		}
	})
	return g.Wait()
}

// RunTCP accepts RTU-over-TCP connections on ep.Listen.
func RunTCP(ctx context.Context, ep Endpoint, bank *Bank, log Logger) error {
	ln, err := net.Listen("tcp", ep.Listen)
	if err != nil {
		return err
	}
	log.Info("simulated bus listening", "endpoint", ep.Name, "mode", ModeTCP, "address", ln.Addr().String(), "servos", bank.IDs())
	return ServeListener(ctx, ln, bank, log)
}

// ServeListener answers RTU frames on every connection accepted from ln until
// ctx is cancelled. ln is closed on return.
func ServeListener(ctx context.Context, ln net.Listener, bank *Bank, log Logger) error {
	if log == nil {
		log = noopLogger{}
	}
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	g := new(errgroup.Group)
	defer g.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		g.Go(func() error {
			defer conn.Close()
			unwatch := context.AfterFunc(ctx, func() { conn.Close() })
			defer unwatch()
			var st Stats
			err := bank.Serve(conn, &st)
			log.Debug("simulator connection closed", "remote", conn.RemoteAddr().String(),
				"answered", st.Answered, "ignored", st.Ignored, "bad_crc", st.BadCRC, "error", err)
			return nil
		})
	}
}

// RunSerial serves a serial device, spawning a socat pty pair first when
// ep.SpawnSocat is set.
func RunSerial(ctx context.Context, ep Endpoint, bank *Bank, log Logger) error {
	if ep.SpawnSocat {
		cmd := serialport.BuildSocatPairCmd(ctx, serialport.SocatPair{Link: ep.SocatLink, Peer: ep.SocatPeer})
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start socat: %w", err)
		}
		defer stopSocat(cmd)
		log.Info("spawned socat pair", "link", ep.SocatLink, "peer", ep.SocatPeer, "pid", cmd.Process.Pid)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(socatSettle):
		}
	}

	rw, err := serialport.Open(serialport.Params{
		Address:  ep.SerialPort,
		BaudRate: ep.BaudRate,
		DataBits: ep.DataBits,
		StopBits: ep.StopBits,
		Parity:   ep.Parity,
		Timeout:  serialReadTimeout,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", ep.SerialPort, err)
	}
	stop := context.AfterFunc(ctx, func() { rw.Close() })
	defer stop()
	defer rw.Close()

	log.Info("simulated bus listening", "endpoint", ep.Name, "mode", ModeSerial, "port", ep.SerialPort, "servos", bank.IDs())
	var st Stats
	for {
		err := bank.Serve(rw, &st)
		if ctx.Err() != nil {
			return nil
		}
		if closed(err) || errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EIO) {
			return fmt.Errorf("serial %s: %w", ep.SerialPort, err)
		}
		// Read timeouts on an idle line are routine.
		log.Debug("serial read interrupted", "port", ep.SerialPort, "error", err)
	}
}

func stopSocat(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	done := make(chan struct{})
	go func() { _ = cmd.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		_ = cmd.Process.Kill()
		<-done
	}
}
