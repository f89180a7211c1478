// Package config loads monitor tuning from a JSON file. Every field is a
// pointer so a partial file overrides only what it names; the Get* methods
// supply the defaults for everything else.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MonitorConfig is the root tuning document. The schema doubles as the
// payload for runtime parameter updates, so field names are stable.
type MonitorConfig struct {
	// Detector params
	ZoneRadius     *float64 `json:"zone_radius,omitempty"`      // metres
	JunctionWindow *string  `json:"junction_window,omitempty"`  // duration string like "5s"
	SpeedFloor     *float64 `json:"speed_floor,omitempty"`      // m/s
	TickInterval   *string  `json:"tick_interval,omitempty"`    // duration string like "100ms"
	EventBuffer    *int     `json:"event_buffer,omitempty"`     // sensor channel capacity

	// Persistence params
	OutputDir     *string `json:"output_dir,omitempty"`
	LedgerBackend *string `json:"ledger_backend,omitempty"` // "csv" or "sqlite"
	SQLitePath    *string `json:"sqlite_path,omitempty"`
}

// EmptyMonitorConfig returns a config with every field unset.
func EmptyMonitorConfig() *MonitorConfig {
	return &MonitorConfig{}
}

// LoadMonitorConfig reads and validates a JSON tuning file. Omitted fields
// keep their defaults, so partial configs are safe.
func LoadMonitorConfig(path string) (*MonitorConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyMonitorConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *MonitorConfig) Validate() error {
	if c.ZoneRadius != nil && *c.ZoneRadius <= 0 {
		return fmt.Errorf("zone_radius must be positive, got %f", *c.ZoneRadius)
	}
	if c.SpeedFloor != nil && *c.SpeedFloor < 0 {
		return fmt.Errorf("speed_floor must be non-negative, got %f", *c.SpeedFloor)
	}
	if c.EventBuffer != nil && *c.EventBuffer < 1 {
		return fmt.Errorf("event_buffer must be at least 1, got %d", *c.EventBuffer)
	}
	if c.JunctionWindow != nil && *c.JunctionWindow != "" {
		if _, err := time.ParseDuration(*c.JunctionWindow); err != nil {
			return fmt.Errorf("invalid junction_window '%s': %w", *c.JunctionWindow, err)
		}
	}
	if c.TickInterval != nil && *c.TickInterval != "" {
		if _, err := time.ParseDuration(*c.TickInterval); err != nil {
			return fmt.Errorf("invalid tick_interval '%s': %w", *c.TickInterval, err)
		}
	}
	if c.LedgerBackend != nil {
		switch *c.LedgerBackend {
		case "csv", "sqlite":
		default:
			return fmt.Errorf("ledger_backend must be \"csv\" or \"sqlite\", got %q", *c.LedgerBackend)
		}
	}
	return nil
}

// GetZoneRadius returns the zone_radius value or the default.
func (c *MonitorConfig) GetZoneRadius() float64 {
	if c.ZoneRadius == nil {
		return 2.0 // default
	}
	return *c.ZoneRadius
}

// GetJunctionWindow parses and returns the junction_window as a time.Duration.
func (c *MonitorConfig) GetJunctionWindow() time.Duration {
	if c.JunctionWindow == nil || *c.JunctionWindow == "" {
		return 5 * time.Second // default
	}
	d, err := time.ParseDuration(*c.JunctionWindow)
	if err != nil {
		return 5 * time.Second // default on parse error
	}
	return d
}

// GetSpeedFloor returns the speed_floor value or the default.
func (c *MonitorConfig) GetSpeedFloor() float64 {
	if c.SpeedFloor == nil {
		return 1.0 // default
	}
	return *c.SpeedFloor
}

// GetTickInterval parses and returns the tick_interval as a time.Duration.
func (c *MonitorConfig) GetTickInterval() time.Duration {
	if c.TickInterval == nil || *c.TickInterval == "" {
		return 100 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.TickInterval)
	if err != nil {
		return 100 * time.Millisecond // default on parse error
	}
	return d
}

// GetEventBuffer returns the event_buffer value or the default.
func (c *MonitorConfig) GetEventBuffer() int {
	if c.EventBuffer == nil {
		return 64 // default
	}
	return *c.EventBuffer
}

// GetOutputDir returns the output_dir value or the default.
func (c *MonitorConfig) GetOutputDir() string {
	if c.OutputDir == nil || *c.OutputDir == "" {
		return "results"
	}
	return *c.OutputDir
}

// GetLedgerBackend returns the ledger_backend value or the default.
func (c *MonitorConfig) GetLedgerBackend() string {
	if c.LedgerBackend == nil || *c.LedgerBackend == "" {
		return "csv"
	}
	return *c.LedgerBackend
}

// GetSQLitePath returns the sqlite_path value or the default.
func (c *MonitorConfig) GetSQLitePath() string {
	if c.SQLitePath == nil || *c.SQLitePath == "" {
		return filepath.Join(c.GetOutputDir(), "roadwatch.db")
	}
	return *c.SQLitePath
}
