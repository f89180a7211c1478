package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/roadwatch/internal/ledger"
	"github.com/banshee-data/roadwatch/internal/violations"
)

func TestRunRejectsBadFlags(t *testing.T) {
	tests := []struct {
		name string
		call func() error
	}{
		{"missing team", func() error { return run("", "trace.jsonl", "", "", "", "", "mps") }},
		{"missing trace", func() error { return run("alpha", "", "", "", "", "", "mps") }},
		{"bad units", func() error { return run("alpha", "trace.jsonl", "", "", "", "", "furlongs") }},
		{"missing trace file", func() error {
			return run("alpha", filepath.Join(t.TempDir(), "nope.jsonl"), "", "", "", "", "mps")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); err == nil {
				t.Error("run succeeded with invalid arguments")
			}
		})
	}
}

func TestFlushCSV(t *testing.T) {
	dir := t.TempDir()
	summary := violations.Summary{
		Team:      "alpha",
		SessionID: "s-1",
		Lane:      violations.LaneCounts{Solid: 2},
		Collision: violations.CollisionCounts{Dynamic: 1},
		Time:      time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
	if err := flush(summary, "alpha", "csv", dir, ""); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "leaderboard.csv")); err != nil {
		t.Errorf("leaderboard not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "violation_detection", "alpha.csv")); err != nil {
		t.Errorf("history not written: %v", err)
	}

	board := ledger.NewCSVLedger(filepath.Join(dir, "leaderboard.csv"))
	entry, ok, err := board.Get("alpha")
	if err != nil || !ok {
		t.Fatalf("Get after flush: ok=%v err=%v", ok, err)
	}
	if entry.LowestTotal != 3 {
		t.Errorf("lowest total = %d, want 3", entry.LowestTotal)
	}
}

func TestFlushSQLite(t *testing.T) {
	dir := t.TempDir()
	summary := violations.Summary{
		Team:      "alpha",
		SessionID: "s-1",
		RedLight:  violations.RedLightCounts{StopWaypointPassed: 1},
		Time:      time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
	dbPath := filepath.Join(dir, "roadwatch.db")
	if err := flush(summary, "alpha", "sqlite", dir, dbPath); err != nil {
		t.Fatalf("flush: %v", err)
	}

	l, err := ledger.NewSQLiteLedger(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	rows, err := l.Sessions("alpha")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].RedLight.StopWaypointPassed != 1 {
		t.Errorf("sessions after flush = %+v", rows)
	}
}

func TestFlushUnknownBackend(t *testing.T) {
	summary := violations.Summary{Team: "alpha", SessionID: "s-1"}
	if err := flush(summary, "alpha", "postgres", t.TempDir(), ""); err == nil {
		t.Error("flush accepted an unknown backend")
	}
}

func TestFlushSkipsSummaryWithoutSession(t *testing.T) {
	dir := t.TempDir()
	real := violations.Summary{
		Team:      "alpha",
		SessionID: "s-1",
		Lane:      violations.LaneCounts{Solid: 3},
		Collision: violations.CollisionCounts{Static: 1},
		RedLight:  violations.RedLightCounts{TriggerVolume: 2},
		Time:      time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
	if err := flush(real, "alpha", "csv", dir, ""); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// An interrupt before the ego ever appears leaves the zero summary;
	// flushing it must not touch the leaderboard or the history.
	if err := flush(violations.Summary{}, "alpha", "csv", dir, ""); err != nil {
		t.Fatalf("flush of empty summary: %v", err)
	}

	board := ledger.NewCSVLedger(filepath.Join(dir, "leaderboard.csv"))
	entry, ok, err := board.Get("alpha")
	if err != nil || !ok {
		t.Fatalf("Get after flush: ok=%v err=%v", ok, err)
	}
	if entry.LowestTotal != 6 {
		t.Errorf("lowest total = %d, want 6 (empty summary must not lower it)", entry.LowestTotal)
	}
	if entry.Lowest.Lane != 3 || entry.Lowest.Collisions != 1 || entry.Lowest.RedLight != 2 {
		t.Errorf("lowest = %+v, want 3/1/2", entry.Lowest)
	}
	if _, err := os.Stat(filepath.Join(dir, "violation_detection", ".csv")); !os.IsNotExist(err) {
		t.Errorf("history file written for empty team key")
	}
}
