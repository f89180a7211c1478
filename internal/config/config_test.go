package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "monitor.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := EmptyMonitorConfig()

	if got := cfg.GetZoneRadius(); got != 2.0 {
		t.Errorf("GetZoneRadius() = %v, want 2.0", got)
	}
	if got := cfg.GetJunctionWindow(); got != 5*time.Second {
		t.Errorf("GetJunctionWindow() = %v, want 5s", got)
	}
	if got := cfg.GetSpeedFloor(); got != 1.0 {
		t.Errorf("GetSpeedFloor() = %v, want 1.0", got)
	}
	if got := cfg.GetTickInterval(); got != 100*time.Millisecond {
		t.Errorf("GetTickInterval() = %v, want 100ms", got)
	}
	if got := cfg.GetEventBuffer(); got != 64 {
		t.Errorf("GetEventBuffer() = %v, want 64", got)
	}
	if got := cfg.GetLedgerBackend(); got != "csv" {
		t.Errorf("GetLedgerBackend() = %q, want csv", got)
	}
	if got := cfg.GetOutputDir(); got != "results" {
		t.Errorf("GetOutputDir() = %q, want results", got)
	}
	if got := cfg.GetSQLitePath(); got != filepath.Join("results", "roadwatch.db") {
		t.Errorf("GetSQLitePath() = %q", got)
	}
}

func TestLoadPartialConfig(t *testing.T) {
	path := writeConfig(t, `{"zone_radius": 3.5, "junction_window": "10s"}`)

	cfg, err := LoadMonitorConfig(path)
	if err != nil {
		t.Fatalf("LoadMonitorConfig: %v", err)
	}
	if got := cfg.GetZoneRadius(); got != 3.5 {
		t.Errorf("GetZoneRadius() = %v, want 3.5", got)
	}
	if got := cfg.GetJunctionWindow(); got != 10*time.Second {
		t.Errorf("GetJunctionWindow() = %v, want 10s", got)
	}
	// Fields the file omits keep their defaults.
	if got := cfg.GetSpeedFloor(); got != 1.0 {
		t.Errorf("GetSpeedFloor() = %v, want default 1.0", got)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `{
		"zone_radius": 2.5,
		"junction_window": "3s",
		"speed_floor": 0.5,
		"tick_interval": "50ms",
		"event_buffer": 128,
		"output_dir": "/var/lib/roadwatch",
		"ledger_backend": "sqlite",
		"sqlite_path": "/var/lib/roadwatch/ledger.db"
	}`)

	cfg, err := LoadMonitorConfig(path)
	if err != nil {
		t.Fatalf("LoadMonitorConfig: %v", err)
	}
	if got := cfg.GetTickInterval(); got != 50*time.Millisecond {
		t.Errorf("GetTickInterval() = %v, want 50ms", got)
	}
	if got := cfg.GetEventBuffer(); got != 128 {
		t.Errorf("GetEventBuffer() = %v, want 128", got)
	}
	if got := cfg.GetLedgerBackend(); got != "sqlite" {
		t.Errorf("GetLedgerBackend() = %q, want sqlite", got)
	}
	if got := cfg.GetSQLitePath(); got != "/var/lib/roadwatch/ledger.db" {
		t.Errorf("GetSQLitePath() = %q", got)
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"negative zone radius", `{"zone_radius": -1}`},
		{"negative speed floor", `{"speed_floor": -0.5}`},
		{"zero event buffer", `{"event_buffer": 0}`},
		{"bad junction window", `{"junction_window": "five seconds"}`},
		{"bad tick interval", `{"tick_interval": "fast"}`},
		{"unknown backend", `{"ledger_backend": "postgres"}`},
		{"malformed json", `{"zone_radius": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.body)
			if _, err := LoadMonitorConfig(path); err == nil {
				t.Errorf("LoadMonitorConfig accepted %s", tt.body)
			}
		})
	}
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadMonitorConfig(path); err == nil {
		t.Error("LoadMonitorConfig accepted a .yaml file")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadMonitorConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("LoadMonitorConfig succeeded on a missing file")
	}
}
