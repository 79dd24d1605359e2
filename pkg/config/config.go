package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleanalyzer/internal/advert"
	"github.com/srg/bleanalyzer/internal/device"
	goble "github.com/srg/bleanalyzer/internal/device/go-ble"
	"github.com/srg/bleanalyzer/internal/events"
	"github.com/srg/bleanalyzer/internal/session"
	"gopkg.in/yaml.v3"
)

// Output formats understood by the CLI.
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" json:"log_level" default:"warn"`

	// ScanTimeout bounds a CLI scan. Zero scans until interrupted.
	ScanTimeout time.Duration `yaml:"scan_timeout" json:"scan_timeout" default:"0s"`

	// ScanPeriod ends a scan pass automatically. Zero disables it.
	ScanPeriod time.Duration `yaml:"scan_period" json:"scan_period" default:"30s"`

	OpTimeout      time.Duration `yaml:"op_timeout" json:"op_timeout" default:"2s"`
	TeardownDelay  time.Duration `yaml:"teardown_delay" json:"teardown_delay" default:"1s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout" default:"10s"`

	EventBuffer uint32 `yaml:"event_buffer" json:"event_buffer" default:"1024"`

	TrackedName string `yaml:"tracked_name" json:"tracked_name" default:"RFdroid"`
	Marker      string `yaml:"marker" json:"marker" default:"RFdroid"`

	OutputFormat string `yaml:"output_format" json:"output_format" default:"table"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file on top of the defaults. Keys missing from the file keep their default.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values the session layer cannot default on its own.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	for _, f := range []struct {
		name string
		d    time.Duration
	}{
		{"scan_timeout", c.ScanTimeout},
		{"scan_period", c.ScanPeriod},
		{"op_timeout", c.OpTimeout},
		{"teardown_delay", c.TeardownDelay},
		{"connect_timeout", c.ConnectTimeout},
	} {
		if f.d < 0 {
			errs = append(errs, fmt.Errorf("%s: must not be negative, got %s", f.name, f.d))
		}
	}
	if c.EventBuffer > events.MaxBufferSize {
		errs = append(errs, fmt.Errorf("event_buffer: %d exceeds maximum %d", c.EventBuffer, events.MaxBufferSize))
	}
	if len(c.Marker) != advert.BlockLength-2 {
		errs = append(errs, fmt.Errorf("marker: %q must be exactly %d bytes", c.Marker, advert.BlockLength-2))
	}
	switch strings.ToLower(c.OutputFormat) {
	case FormatTable, FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("output_format: unknown format %q", c.OutputFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", device.ErrInvalidArgument, errors.Join(errs...))
	}
	return nil
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// SessionOptions converts the configuration into session.Options.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		ScanPeriod:    c.ScanPeriod,
		OpTimeout:     c.OpTimeout,
		TeardownDelay: c.TeardownDelay,
		EventBuffer:   c.EventBuffer,
		TrackedName:   c.TrackedName,
		Marker:        c.Marker,
	}
}

// ConnectorOptions converts the configuration into go-ble connector options.
func (c *Config) ConnectorOptions() goble.ConnectorOptions {
	return goble.ConnectorOptions{ConnectTimeout: c.ConnectTimeout}
}
