// Package config loads the sniffer configuration from an optional YAML file
// and SNIFFER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// CaptureConfig selects and tunes the capture source.
type CaptureConfig struct {
	Device string `yaml:"device"`
	// DeviceIndex picks the n-th enumerated interface instead of a name.
	DeviceIndex *int   `yaml:"device_index"`
	File        string `yaml:"file"`
	Promiscuous bool   `yaml:"promiscuous"`
	SnapLen     int    `yaml:"snaplen"`
	PollTimeout string `yaml:"poll_timeout"`
	Filter      string `yaml:"filter"`
}

// SessionConfig holds the countdown settings.
type SessionConfig struct {
	DurationSeconds int    `yaml:"duration_seconds"`
	PausePolicy     string `yaml:"pause_policy"`
}

// OutputConfig selects the reporters.
type OutputConfig struct {
	Path          string `yaml:"path"`
	Format        string `yaml:"format"`
	DisplayFilter string `yaml:"display_filter"`
	SaveFrames    string `yaml:"save_frames"`
	SQLite        string `yaml:"sqlite"`
	Services      bool   `yaml:"services"`
	HTTPListen    string `yaml:"http_listen"`
	// Color is auto, always or never.
	Color string `yaml:"color"`
}

// NATSConfig enables publishing snapshots to NATS.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Capture CaptureConfig `yaml:"capture"`
	Session SessionConfig `yaml:"session"`
	Output  OutputConfig  `yaml:"output"`
	NATS    NATSConfig    `yaml:"nats"`
	Logging LoggingConfig `yaml:"logging"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Promiscuous: true,
			SnapLen:     65536,
			PollTimeout: "500ms",
		},
		Session: SessionConfig{
			DurationSeconds: 10,
			PausePolicy:     "keep",
		},
		Output: OutputConfig{
			Path:   "-",
			Format: FormatText,
			Color:  "auto",
		},
		NATS: NATSConfig{
			Subject: "sniffer.snapshots",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
	}
}

// LoadConfig reads the configuration from a YAML file on top of the
// defaults. An empty path returns the defaults.
func LoadConfig(filePath string) (*Config, error) {
	cfg := Default()
	if filePath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from path into the environment. A
// missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides settings from SNIFFER_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	flag := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str("SNIFFER_DEVICE", &c.Capture.Device)
	str("SNIFFER_FILTER", &c.Capture.Filter)
	str("SNIFFER_POLL_TIMEOUT", &c.Capture.PollTimeout)
	str("SNIFFER_PAUSE_POLICY", &c.Session.PausePolicy)
	str("SNIFFER_OUTPUT", &c.Output.Path)
	str("SNIFFER_FORMAT", &c.Output.Format)
	str("SNIFFER_DISPLAY_FILTER", &c.Output.DisplayFilter)
	str("SNIFFER_SQLITE", &c.Output.SQLite)
	str("SNIFFER_HTTP_LISTEN", &c.Output.HTTPListen)
	str("SNIFFER_NATS_URL", &c.NATS.URL)
	str("SNIFFER_NATS_SUBJECT", &c.NATS.Subject)
	str("SNIFFER_LOG_LEVEL", &c.Logging.Level)
	str("SNIFFER_LOG_FILE", &c.Logging.File)

	if v, ok := lookup("SNIFFER_DEVICE_INDEX"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("SNIFFER_DEVICE_INDEX: %w", err)
		}
		c.Capture.DeviceIndex = &n
	}
	if err := num("SNIFFER_DURATION", &c.Session.DurationSeconds); err != nil {
		return err
	}
	if err := num("SNIFFER_SNAPLEN", &c.Capture.SnapLen); err != nil {
		return err
	}
	if err := flag("SNIFFER_PROMISCUOUS", &c.Capture.Promiscuous); err != nil {
		return err
	}
	return nil
}

// Validate rejects settings that cannot start a session.
func (c *Config) Validate() error {
	if c.Session.DurationSeconds <= 0 {
		return fmt.Errorf("session duration must be positive, got %d seconds", c.Session.DurationSeconds)
	}
	switch c.Session.PausePolicy {
	case "", "keep", "drop":
	default:
		return fmt.Errorf("unknown pause policy %q (want keep or drop)", c.Session.PausePolicy)
	}
	switch c.Output.Format {
	case FormatText, FormatJSON:
	default:
		return fmt.Errorf("unknown output format %q (want text or json)", c.Output.Format)
	}
	switch c.Output.Color {
	case "", "auto", "always", "never":
	default:
		return fmt.Errorf("unknown color mode %q (want auto, always or never)", c.Output.Color)
	}
	if _, err := c.PollTimeout(); err != nil {
		return err
	}
	if c.Capture.Device != "" && c.Capture.DeviceIndex != nil {
		return errors.New("set either a device name or a device index, not both")
	}
	if c.Capture.DeviceIndex != nil && *c.Capture.DeviceIndex < 0 {
		return fmt.Errorf("device index must not be negative, got %d", *c.Capture.DeviceIndex)
	}
	if c.Capture.SnapLen < 0 {
		return fmt.Errorf("snaplen must not be negative, got %d", c.Capture.SnapLen)
	}
	return nil
}

// Duration returns the session countdown.
func (c *Config) Duration() time.Duration {
	return time.Duration(c.Session.DurationSeconds) * time.Second
}

// PollTimeout parses the capture poll timeout.
func (c *Config) PollTimeout() (time.Duration, error) {
	if c.Capture.PollTimeout == "" {
		return 500 * time.Millisecond, nil
	}
	d, err := time.ParseDuration(c.Capture.PollTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid poll timeout %q: %w", c.Capture.PollTimeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("poll timeout must be positive, got %s", d)
	}
	return d, nil
}
