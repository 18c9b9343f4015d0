package commands

import (
	"net"

	"servo-dispatcher/internal/config"
	"servo-dispatcher/internal/logging"
	"servo-dispatcher/internal/pool"
	"servo-dispatcher/internal/port"
	"servo-dispatcher/internal/serialport"
)

// newPool wires the device pool to the host's serial ports.
func newPool(cfg *config.Config, log *logging.Logger) *pool.Manager {
	opts := port.Options{
		Serial: cfg.SerialParams(),
		MinID:  cfg.Serial.Scan.MinID,
		MaxID:  cfg.Serial.Scan.MaxID,
		Table:  cfg.Table(),
	}
	if cfg.Serial.Trace {
		opts.Trace = log.With("component", "modbus").StdLogger("")
	}
	opener := pool.OpenerFunc(func(name string, baud int) (pool.Port, error) {
		return port.Open(name, baud, opts)
	})
	return pool.New(serialport.Enumerator{Patterns: cfg.Serial.Patterns}, opener, pool.Options{
		BaudRate:       cfg.Serial.BaudRate,
		Initialisation: config.InitialisationFile(cfg.InitialiseFile),
		Logger:         log.With("component", "pool"),
	})
}

// loopbackAddress turns a listen address into one a local client can dial.
func loopbackAddress(listen string) string {
	host, p, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, p)
}
