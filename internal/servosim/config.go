package servosim

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"servo-dispatcher/internal/servo"
)

// Endpoint modes.
const (
	ModeSerial = "serial"
	ModeTCP    = "tcp"
)

// Config describes the simulated buses.
type Config struct {
	// Tick is the interval between simulation steps.
	Tick      time.Duration `yaml:"tick"`
	Registers servo.Table   `yaml:"registers"`
	Endpoints []Endpoint    `yaml:"endpoints"`
}

// Endpoint is one simulated bus: a serial device (optionally a socat pty
// pair) or an RTU-over-TCP listener.
type Endpoint struct {
	Name       string      `yaml:"name"`
	Mode       string      `yaml:"mode"`
	Listen     string      `yaml:"listen"`
	SerialPort string      `yaml:"serial_port"`
	BaudRate   int         `yaml:"baud_rate"`
	DataBits   int         `yaml:"data_bits"`
	StopBits   int         `yaml:"stop_bits"`
	Parity     string      `yaml:"parity"`
	SpawnSocat bool        `yaml:"spawn_socat"`
	SocatLink  string      `yaml:"socat_link"`
	SocatPeer  string      `yaml:"socat_peer"`
	Servos     []ServoSpec `yaml:"servos"`
}

// LoadConfig reads and validates a simulator configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Tick <= 0 {
		c.Tick = 100 * time.Millisecond
	}
	c.Registers = servo.DefaultTable().Merge(c.Registers)
	for i := range c.Endpoints {
		ep := &c.Endpoints[i]
		if ep.Mode == "" {
			ep.Mode = ModeSerial
		}
		if ep.Name == "" {
			ep.Name = fmt.Sprintf("bus%d", i)
		}
		if ep.SerialPort == "" && ep.SpawnSocat {
			ep.SerialPort = ep.SocatLink
		}
	}
}

// Validate checks every endpoint and joins the problems found.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Endpoints) == 0 {
		errs = append(errs, errors.New("no endpoints configured"))
	}
	for _, ep := range c.Endpoints {
		switch ep.Mode {
		case ModeTCP:
			if ep.Listen == "" {
				errs = append(errs, fmt.Errorf("%s: tcp endpoint needs listen", ep.Name))
			}
		case ModeSerial:
			if ep.SerialPort == "" {
				errs = append(errs, fmt.Errorf("%s: serial endpoint needs serial_port or socat_link", ep.Name))
			}
			if ep.SpawnSocat && ep.SocatPeer == "" {
				errs = append(errs, fmt.Errorf("%s: spawn_socat needs socat_peer", ep.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("%s: unknown mode %q", ep.Name, ep.Mode))
		}
		seen := make(map[uint8]bool, len(ep.Servos))
		for _, s := range ep.Servos {
			if s.ID == 0 || s.ID > 247 {
				errs = append(errs, fmt.Errorf("%s: servo id %d out of range 1..247", ep.Name, s.ID))
			}
			if seen[s.ID] {
				errs = append(errs, fmt.Errorf("%s: duplicate servo id %d", ep.Name, s.ID))
			}
			seen[s.ID] = true
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid simulator config: %w", err)
	}
	return nil
}
