package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"servo-dispatcher/internal/servo"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeFile(t, "servod.yaml", `
serial:
  patterns: ["/dev/ttyS*"]
  baud_rate: 57600
  timeout: 250ms
  scan:
    min_id: 1
    max_id: 8
  trace: true
registers:
  goal_position:
    address: 30
    words: 2
scheduler:
  action_timeout: 5s
http:
  listen: "127.0.0.1:9000"
datalog:
  file_type: csv
  sqlite:
    enabled: true
    path: /tmp/servod.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"/dev/ttyS*"}, cfg.Serial.Patterns)
	assert.Equal(t, 57600, cfg.Serial.BaudRate)
	assert.Equal(t, 250*time.Millisecond, cfg.Serial.Timeout)
	assert.Equal(t, 8, cfg.Serial.Scan.MaxID)
	assert.True(t, cfg.Serial.Trace)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.ActionTimeout)
	assert.True(t, cfg.Scheduler.Enabled, "unset keys keep their defaults")
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Listen)
	assert.Equal(t, "csv", cfg.Datalog.FileType)
	assert.True(t, cfg.Datalog.SQLite.Enabled)

	table := cfg.Table()
	assert.Equal(t, servo.Register{Address: 30, Words: 2}, table[servo.GoalPosition])
	assert.Equal(t, servo.DefaultTable()[servo.LED], table[servo.LED])
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, "N", cfg.Serial.Parity)
	assert.Equal(t, 100*time.Millisecond, cfg.Serial.Timeout)
	assert.Equal(t, ScanConfig{MinID: 1, MaxID: 32}, cfg.Serial.Scan)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.ActionTimeout)
	assert.Equal(t, "127.0.0.1:8421", cfg.HTTP.Listen)
	assert.Equal(t, "Schedule.yaml", cfg.ScheduleFile)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeFile(t, "servod.yaml", "serial: [yaml: content")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVOD_SERIAL_BAUD_RATE", "1000000")
	t.Setenv("SERVOD_SERIAL_PATTERNS", "/dev/a*,/dev/b*")
	t.Setenv("SERVOD_HTTP_LISTEN", ":9999")
	t.Setenv("SERVOD_INFLUXDB_TOKEN", "secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 1000000, cfg.Serial.BaudRate)
	assert.Equal(t, []string{"/dev/a*", "/dev/b*"}, cfg.Serial.Patterns)
	assert.Equal(t, ":9999", cfg.HTTP.Listen)
	assert.Equal(t, "secret", cfg.Datalog.InfluxDB.Token)
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("SERVOD_SERIAL_BAUD_RATE", "fast")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero baud rate", mutate: func(c *Config) { c.Serial.BaudRate = 0 }},
		{name: "bad parity", mutate: func(c *Config) { c.Serial.Parity = "X" }},
		{name: "bad stop bits", mutate: func(c *Config) { c.Serial.StopBits = 3 }},
		{name: "inverted scan range", mutate: func(c *Config) { c.Serial.Scan = ScanConfig{MinID: 10, MaxID: 2} }},
		{name: "scan beyond modbus range", mutate: func(c *Config) { c.Serial.Scan.MaxID = 248 }},
		{name: "three word register", mutate: func(c *Config) {
			c.Registers = servo.Table{"custom": {Address: 1, Words: 3}}
		}},
		{name: "zero action timeout", mutate: func(c *Config) { c.Scheduler.ActionTimeout = 0 }},
		{name: "empty listen", mutate: func(c *Config) { c.HTTP.Listen = "" }},
		{name: "unknown file type", mutate: func(c *Config) { c.Datalog.FileType = "xml" }},
		{name: "sqlite without path", mutate: func(c *Config) {
			c.Datalog.SQLite = SQLiteConfig{Enabled: true}
		}},
		{name: "mqtt qos", mutate: func(c *Config) {
			c.Datalog.MQTT.Enabled = true
			c.Datalog.MQTT.QoS = 3
		}},
		{name: "influx without bucket", mutate: func(c *Config) {
			c.Datalog.InfluxDB.Enabled = true
			c.Datalog.InfluxDB.Bucket = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := defaultConfig()
	cfg.Serial.BaudRate = 0
	cfg.HTTP.Listen = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serial.baud_rate")
	assert.Contains(t, err.Error(), "http.listen")
}

func TestSerialParams(t *testing.T) {
	cfg := defaultConfig()
	p := cfg.SerialParams()
	assert.Equal(t, 115200, p.BaudRate)
	assert.Equal(t, 8, p.DataBits)
	assert.Empty(t, p.Address)
}

func TestLoadInitialisation(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		path := writeFile(t, "init.yaml", `
registers:
  - register: return_delay_time
    value: 0
  - register: led
    value: 1
`)
		regs, err := LoadInitialisation(path)
		require.NoError(t, err)
		assert.Equal(t, []servo.RegisterValue{
			{Register: servo.ReturnDelayTime, Value: 0},
			{Register: servo.LED, Value: 1},
		}, regs)
	})

	t.Run("json", func(t *testing.T) {
		path := writeFile(t, "init.json", `{"registers": [{"register": "torque_enable", "value": 1}]}`)
		regs, err := LoadInitialisation(path)
		require.NoError(t, err)
		assert.Equal(t, []servo.RegisterValue{{Register: servo.TorqueEnable, Value: 1}}, regs)
	})

	t.Run("missing register name", func(t *testing.T) {
		path := writeFile(t, "init.yaml", "registers:\n  - value: 3\n")
		_, err := LoadInitialisation(path)
		assert.Error(t, err)
	})
}

func TestInitialisationFileRereads(t *testing.T) {
	path := writeFile(t, "init.yaml", "registers:\n  - register: led\n    value: 1\n")
	src := InitialisationFile(path)

	regs, err := src.Registers()
	require.NoError(t, err)
	assert.Len(t, regs, 1)

	require.NoError(t, os.WriteFile(path, []byte("registers: []\n"), 0o600))
	regs, err = src.Registers()
	require.NoError(t, err)
	assert.Empty(t, regs)

	require.NoError(t, os.Remove(path))
	_, err = src.Registers()
	assert.Error(t, err)
}
