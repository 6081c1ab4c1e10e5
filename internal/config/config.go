// Package config loads the JSON service configuration. Every field is a
// pointer so a partial file only overrides what it names; the Get*
// methods supply defaults for the rest.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/sensorview/internal/units"
	"github.com/banshee-data/sensorview/internal/window"
)

// Defaults for unset fields.
const (
	DefaultListen           = ":8080"
	DefaultDBPath           = "sensor_data.db"
	DefaultDrainInterval    = 250 * time.Millisecond
	DefaultRefreshRateHz    = 60.0
	DefaultAckWait          = 500 * time.Millisecond
	DefaultHandshakeRetries = 3
	DefaultDisplayCeiling   = window.DefaultMaxDisplaySize
)

// Config is the root service configuration.
type Config struct {
	// Port is the serial endpoint to connect to at startup; empty means
	// wait for an explicit connect.
	Port   *string `json:"port,omitempty"`
	Listen *string `json:"listen,omitempty"`
	DBPath *string `json:"db_path,omitempty"`

	DrainInterval *string  `json:"drain_interval,omitempty"` // duration string like "250ms"
	RefreshRateHz *float64 `json:"refresh_rate_hz,omitempty"`

	AckWait          *string `json:"ack_wait,omitempty"` // duration string like "500ms"
	HandshakeRetries *int    `json:"handshake_retries,omitempty"`

	DisplayCeiling *int    `json:"display_ceiling,omitempty"` // 100 or 250
	Unit           *string `json:"unit,omitempty"`            // celsius or fahrenheit
}

// Helper functions to create pointers
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrFloat64(v float64) *float64 { return &v }

// DefaultConfig returns a Config with every field set to its default.
func DefaultConfig() *Config {
	return &Config{
		Port:             ptrString(""),
		Listen:           ptrString(DefaultListen),
		DBPath:           ptrString(DefaultDBPath),
		DrainInterval:    ptrString(DefaultDrainInterval.String()),
		RefreshRateHz:    ptrFloat64(DefaultRefreshRateHz),
		AckWait:          ptrString(DefaultAckWait.String()),
		HandshakeRetries: ptrInt(DefaultHandshakeRetries),
		DisplayCeiling:   ptrInt(DefaultDisplayCeiling),
		Unit:             ptrString(units.Celsius.String()),
	}
}

// LoadConfig loads a Config from a JSON file.
// The file must have a .json extension and be under the max file size.
// Fields omitted from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.DrainInterval != nil && *c.DrainInterval != "" {
		d, err := time.ParseDuration(*c.DrainInterval)
		if err != nil {
			return fmt.Errorf("invalid drain_interval '%s': %w", *c.DrainInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("drain_interval must be positive, got %s", d)
		}
	}

	if c.AckWait != nil && *c.AckWait != "" {
		d, err := time.ParseDuration(*c.AckWait)
		if err != nil {
			return fmt.Errorf("invalid ack_wait '%s': %w", *c.AckWait, err)
		}
		if d <= 0 {
			return fmt.Errorf("ack_wait must be positive, got %s", d)
		}
	}

	if c.RefreshRateHz != nil && (*c.RefreshRateHz <= 0 || *c.RefreshRateHz > 1000) {
		return fmt.Errorf("refresh_rate_hz must be in (0, 1000], got %g", *c.RefreshRateHz)
	}

	if c.HandshakeRetries != nil && *c.HandshakeRetries < 1 {
		return fmt.Errorf("handshake_retries must be at least 1, got %d", *c.HandshakeRetries)
	}

	if c.DisplayCeiling != nil {
		switch *c.DisplayCeiling {
		case window.DefaultMaxDisplaySize, window.ExtendedMaxDisplaySize:
		default:
			return fmt.Errorf("display_ceiling must be %d or %d, got %d",
				window.DefaultMaxDisplaySize, window.ExtendedMaxDisplaySize, *c.DisplayCeiling)
		}
	}

	if c.Unit != nil && *c.Unit != "" {
		if _, err := units.Parse(*c.Unit); err != nil {
			return fmt.Errorf("invalid unit: %w", err)
		}
	}

	return nil
}

// GetPort returns the startup port, or "" when none is configured.
func (c *Config) GetPort() string {
	if c.Port == nil {
		return ""
	}
	return *c.Port
}

// GetListen returns the HTTP listen address or the default.
func (c *Config) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return DefaultListen
	}
	return *c.Listen
}

// GetDBPath returns the sqlite path or the default.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return DefaultDBPath
	}
	return *c.DBPath
}

// GetDrainInterval parses and returns the DrainInterval as a time.Duration.
func (c *Config) GetDrainInterval() time.Duration {
	return parseDuration(c.DrainInterval, DefaultDrainInterval)
}

// GetAckWait parses and returns the AckWait as a time.Duration.
func (c *Config) GetAckWait() time.Duration {
	return parseDuration(c.AckWait, DefaultAckWait)
}

func parseDuration(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetRefreshRateHz returns the display refresh rate or the default.
func (c *Config) GetRefreshRateHz() float64 {
	if c.RefreshRateHz == nil || *c.RefreshRateHz <= 0 {
		return DefaultRefreshRateHz
	}
	return *c.RefreshRateHz
}

// GetHandshakeRetries returns the ACK attempt budget or the default.
func (c *Config) GetHandshakeRetries() int {
	if c.HandshakeRetries == nil || *c.HandshakeRetries < 1 {
		return DefaultHandshakeRetries
	}
	return *c.HandshakeRetries
}

// GetDisplayCeiling returns the display ceiling or the default.
func (c *Config) GetDisplayCeiling() int {
	if c.DisplayCeiling == nil {
		return DefaultDisplayCeiling
	}
	return *c.DisplayCeiling
}

// GetUnit returns the initial display unit. Unknown names fall back to
// Celsius.
func (c *Config) GetUnit() units.Temperature {
	if c.Unit == nil {
		return units.Celsius
	}
	u, err := units.Parse(*c.Unit)
	if err != nil {
		return units.Celsius
	}
	return u
}

// WindowConfig returns the display scale for the configured ceiling and
// unit.
func (c *Config) WindowConfig() window.Config {
	wc := window.ConfigForCeiling(c.GetDisplayCeiling())
	wc.Unit = c.GetUnit()
	return wc
}
