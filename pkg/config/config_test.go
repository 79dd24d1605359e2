package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleanalyzer/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bleanalyzer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, time.Duration(0), cfg.ScanTimeout)
	assert.Equal(t, 30*time.Second, cfg.ScanPeriod)
	assert.Equal(t, 2*time.Second, cfg.OpTimeout)
	assert.Equal(t, time.Second, cfg.TeardownDelay)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, uint32(1024), cfg.EventBuffer)
	assert.Equal(t, "RFdroid", cfg.TrackedName)
	assert.Equal(t, "RFdroid", cfg.Marker)
	assert.Equal(t, FormatTable, cfg.OutputFormat)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected logrus.Level
	}{
		{name: "debug level", level: "debug", expected: logrus.DebugLevel},
		{name: "info level", level: "info", expected: logrus.InfoLevel},
		{name: "warn level", level: "warn", expected: logrus.WarnLevel},
		{name: "error level", level: "error", expected: logrus.ErrorLevel},
		{name: "unknown level falls back to info", level: "chatty", expected: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.expected, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
scan_period: 45s
op_timeout: 500ms
tracked_name: RFbeacon
output_format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 45*time.Second, cfg.ScanPeriod)
	assert.Equal(t, 500*time.Millisecond, cfg.OpTimeout)
	assert.Equal(t, "RFbeacon", cfg.TrackedName)
	assert.Equal(t, FormatJSON, cfg.OutputFormat)

	// untouched keys keep their defaults
	assert.Equal(t, time.Second, cfg.TeardownDelay)
	assert.Equal(t, "RFdroid", cfg.Marker)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeConfig(t, "scan_period: [1, 2]\n"))
	assert.ErrorContains(t, err, "parse config")

	_, err = Load(writeConfig(t, "op_timeout: -1s\n"))
	assert.ErrorIs(t, err, device.ErrInvalidArgument)
	assert.ErrorContains(t, err, "op_timeout")
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "json output", mutate: func(c *Config) { c.OutputFormat = "JSON" }},
		{name: "unknown output", mutate: func(c *Config) { c.OutputFormat = "xml" }, wantErr: "output_format"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: "log_level"},
		{name: "negative teardown", mutate: func(c *Config) { c.TeardownDelay = -time.Second }, wantErr: "teardown_delay"},
		{name: "oversized buffer", mutate: func(c *Config) { c.EventBuffer = 1 << 30 }, wantErr: "event_buffer"},
		{name: "seven byte marker", mutate: func(c *Config) { c.Marker = "BEACON1" }},
		{name: "marker longer than block", mutate: func(c *Config) { c.Marker = "RFdroid-xyz" }, wantErr: "marker"},
		{name: "marker filling the block", mutate: func(c *Config) { c.Marker = "RFdroid01" }, wantErr: "marker"},
		{name: "eight byte marker", mutate: func(c *Config) { c.Marker = "RFdroid1" }, wantErr: "marker"},
		{name: "short marker", mutate: func(c *Config) { c.Marker = "RF" }, wantErr: "marker"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, device.ErrInvalidArgument)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfig_SessionOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ScanPeriod = 5 * time.Second

	opts := cfg.SessionOptions()
	assert.Equal(t, 5*time.Second, opts.ScanPeriod)
	assert.Equal(t, cfg.OpTimeout, opts.OpTimeout)
	assert.Equal(t, cfg.TeardownDelay, opts.TeardownDelay)
	assert.Equal(t, cfg.EventBuffer, opts.EventBuffer)
	assert.Equal(t, cfg.TrackedName, opts.TrackedName)
	assert.Equal(t, cfg.Marker, opts.Marker)

	assert.Equal(t, cfg.ConnectTimeout, cfg.ConnectorOptions().ConnectTimeout)
}
