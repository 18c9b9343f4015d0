package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"servo-dispatcher/internal/serialport"
	"servo-dispatcher/internal/servo"
)

// Config is the root configuration of servod.
// It is loaded from YAML and can be overridden by SERVOD_* environment variables.
type Config struct {
	Serial         SerialConfig    `yaml:"serial"`
	Registers      servo.Table     `yaml:"registers"`
	InitialiseFile string          `yaml:"initialise_file"`
	ScheduleFile   string          `yaml:"schedule_file"`
	Scheduler      SchedulerConfig `yaml:"scheduler"`
	HTTP           HTTPConfig      `yaml:"http"`
	Logging        LoggingConfig   `yaml:"logging"`
	Datalog        DatalogConfig   `yaml:"datalog"`
}

// SerialConfig contains the line settings shared by every port.
type SerialConfig struct {
	Patterns []string      `yaml:"patterns"`
	BaudRate int           `yaml:"baud_rate"`
	DataBits int           `yaml:"data_bits"`
	StopBits int           `yaml:"stop_bits"`
	Parity   string        `yaml:"parity"`
	Timeout  time.Duration `yaml:"timeout"`
	Scan     ScanConfig    `yaml:"scan"`
	// Trace logs every Modbus frame at debug level.
	Trace bool `yaml:"trace"`
}

// ScanConfig bounds the device ids probed on each port.
type ScanConfig struct {
	MinID int `yaml:"min_id"`
	MaxID int `yaml:"max_id"`
}

// SchedulerConfig controls the periodic action loop.
type SchedulerConfig struct {
	ActionTimeout time.Duration `yaml:"action_timeout"`
	Enabled       bool          `yaml:"enabled"`
}

// HTTPConfig contains the action server settings.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	Output string `yaml:"output"` // stdout, stderr
}

// DatalogConfig selects where register snapshots are recorded.
type DatalogConfig struct {
	Dir       string         `yaml:"dir"`
	FileType  string         `yaml:"file_type"` // jsonl, csv, both, none
	QueueSize int            `yaml:"queue_size"`
	CacheTTL  time.Duration  `yaml:"cache_ttl"`
	SQLite    SQLiteConfig   `yaml:"sqlite"`
	MQTT      MQTTConfig     `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig `yaml:"influxdb"`
}

// SQLiteConfig enables the register_log table.
type SQLiteConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MQTTConfig contains broker settings for publishing register rows.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      int    `yaml:"qos"`
}

// InfluxDBConfig contains time-series settings.
type InfluxDBConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	Org           string        `yaml:"org"`
	Bucket        string        `yaml:"bucket"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// Load reads configuration from a YAML file and applies environment overrides.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Serial: SerialConfig{
			Patterns: append([]string(nil), serialport.DefaultPatterns...),
			BaudRate: 115200,
			DataBits: 8,
			StopBits: 1,
			Parity:   "N",
			Timeout:  100 * time.Millisecond,
			Scan:     ScanConfig{MinID: 1, MaxID: 32},
		},
		InitialiseFile: "InitialiseRegisters.yaml",
		ScheduleFile:   "Schedule.yaml",
		Scheduler: SchedulerConfig{
			ActionTimeout: 30 * time.Second,
			Enabled:       true,
		},
		HTTP: HTTPConfig{Listen: "127.0.0.1:8421"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Datalog: DatalogConfig{
			Dir:       "data",
			FileType:  "jsonl",
			QueueSize: 1024,
			CacheTTL:  time.Minute,
			SQLite:    SQLiteConfig{Path: "data/registers.db"},
			MQTT: MQTTConfig{
				Broker:   "tcp://localhost:1883",
				ClientID: "servod",
				Topic:    "servod/registers",
				QoS:      1,
			},
			InfluxDB: InfluxDBConfig{
				URL:           "http://localhost:8086",
				Org:           "servod",
				Bucket:        "servos",
				BatchSize:     100,
				FlushInterval: 10 * time.Second,
			},
		},
	}
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("SERVOD_SERIAL_PATTERNS"); v != "" {
		cfg.Serial.Patterns = strings.Split(v, ",")
	}
	if v := os.Getenv("SERVOD_SERIAL_BAUD_RATE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SERVOD_SERIAL_BAUD_RATE: %w", err)
		}
		cfg.Serial.BaudRate = n
	}
	if v := os.Getenv("SERVOD_INITIALISE_FILE"); v != "" {
		cfg.InitialiseFile = v
	}
	if v := os.Getenv("SERVOD_SCHEDULE_FILE"); v != "" {
		cfg.ScheduleFile = v
	}
	if v := os.Getenv("SERVOD_HTTP_LISTEN"); v != "" {
		cfg.HTTP.Listen = v
	}
	if v := os.Getenv("SERVOD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SERVOD_MQTT_PASSWORD"); v != "" {
		cfg.Datalog.MQTT.Password = v
	}
	if v := os.Getenv("SERVOD_INFLUXDB_TOKEN"); v != "" {
		cfg.Datalog.InfluxDB.Token = v
	}
	return nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if len(c.Serial.Patterns) == 0 {
		add("serial.patterns must not be empty")
	}
	if c.Serial.BaudRate <= 0 {
		add("serial.baud_rate must be positive")
	}
	if c.Serial.DataBits < 5 || c.Serial.DataBits > 8 {
		add("serial.data_bits must be between 5 and 8")
	}
	if c.Serial.StopBits != 1 && c.Serial.StopBits != 2 {
		add("serial.stop_bits must be 1 or 2")
	}
	switch c.Serial.Parity {
	case "N", "E", "O":
	default:
		add("serial.parity must be N, E or O")
	}
	if c.Serial.Timeout <= 0 {
		add("serial.timeout must be positive")
	}
	if c.Serial.Scan.MinID < 1 || c.Serial.Scan.MaxID > 247 || c.Serial.Scan.MinID > c.Serial.Scan.MaxID {
		add("serial.scan must satisfy 1 <= min_id <= max_id <= 247")
	}

	for name, r := range c.Registers {
		if r.Words > 2 {
			add("registers.%s.words must be 1 or 2", name)
		}
	}

	if c.Scheduler.ActionTimeout <= 0 {
		add("scheduler.action_timeout must be positive")
	}
	if c.HTTP.Listen == "" {
		add("http.listen is required")
	}

	switch c.Datalog.FileType {
	case "jsonl", "csv", "both", "none":
	default:
		add("datalog.file_type must be jsonl, csv, both or none")
	}
	if c.Datalog.FileType != "none" && c.Datalog.Dir == "" {
		add("datalog.dir is required for file logging")
	}
	if c.Datalog.SQLite.Enabled && c.Datalog.SQLite.Path == "" {
		add("datalog.sqlite.path is required when sqlite is enabled")
	}
	if c.Datalog.MQTT.Enabled {
		if c.Datalog.MQTT.Broker == "" {
			add("datalog.mqtt.broker is required when mqtt is enabled")
		}
		if c.Datalog.MQTT.QoS < 0 || c.Datalog.MQTT.QoS > 2 {
			add("datalog.mqtt.qos must be 0, 1, or 2")
		}
	}
	if c.Datalog.InfluxDB.Enabled && (c.Datalog.InfluxDB.URL == "" || c.Datalog.InfluxDB.Bucket == "") {
		add("datalog.influxdb.url and bucket are required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// SerialParams converts the serial section to driver parameters.
func (c *Config) SerialParams() serialport.Params {
	return serialport.Params{
		BaudRate: c.Serial.BaudRate,
		DataBits: c.Serial.DataBits,
		StopBits: c.Serial.StopBits,
		Parity:   c.Serial.Parity,
		Timeout:  c.Serial.Timeout,
	}
}

// Table returns the default register table with the configured overrides applied.
func (c *Config) Table() servo.Table {
	return servo.DefaultTable().Merge(c.Registers)
}
