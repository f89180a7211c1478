package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/roadwatch/internal/violations"
)

// historyHeader is the per-team session history schema. Column order is
// contract for downstream consumers.
var historyHeader = []string{
	"illegal_double_solid_cross", "illegal_solid_cross", "unjustified_dashed_cross",
	"total_lane_violations",
	"static_collisions", "dynamic_collisions", "total_collisions",
	"redlight_StopWaypointPassed", "redlight_TriggerVolume", "total_redlight_violations",
	"timestamp",
}

// HistoryRow is one parsed session row from a team's history file.
type HistoryRow struct {
	Lane      violations.LaneCounts
	Collision violations.CollisionCounts
	RedLight  violations.RedLightCounts
	Time      time.Time
}

// Totals returns the row's per-category totals.
func (r HistoryRow) Totals() Totals {
	return Totals{
		Lane:       r.Lane.Total(),
		Collisions: r.Collision.Total(),
		RedLight:   r.RedLight.Total(),
	}
}

// HistoryWriter appends session summaries to per-team CSV files under a
// directory. Files are append-only; a team's file is a time series of every
// session it ever ran.
type HistoryWriter struct {
	dir string
}

// NewHistoryWriter returns a writer rooted at dir; the directory is created
// on first append.
func NewHistoryWriter(dir string) *HistoryWriter {
	return &HistoryWriter{dir: dir}
}

// Path returns the history file path for a team.
func (w *HistoryWriter) Path(team string) string {
	return filepath.Join(w.dir, FileKey(team)+".csv")
}

// Append writes one immutable session row, creating the file with its
// header on first write. An existing file with a foreign header is refused.
func (w *HistoryWriter) Append(s violations.Summary) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create history directory: %w", err)
	}
	path := w.Path(s.Team)

	if err := w.ensureHeader(path); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(summaryToRecord(s)); err != nil {
		return fmt.Errorf("write history row: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush history row: %w", err)
	}
	return nil
}

// ensureHeader creates the file with the schema header when missing and
// verifies the header of an existing file.
func (w *HistoryWriter) ensureHeader(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		nf, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("create history file: %w", err)
		}
		defer nf.Close()
		cw := csv.NewWriter(nf)
		if err := cw.Write(historyHeader); err != nil {
			return fmt.Errorf("write history header: %w", err)
		}
		cw.Flush()
		return cw.Error()
	}
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	header, err := csv.NewReader(f).Read()
	if err != nil {
		return fmt.Errorf("read history header: %w", err)
	}
	if !equalHeader(header, historyHeader) {
		return fmt.Errorf("%w: got %v", ErrSchemaMismatch, header)
	}
	return nil
}

// Teams lists the teams that have history files under the directory.
func (w *HistoryWriter) Teams() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list history directory: %w", err)
	}
	var teams []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		teams = append(teams, strings.TrimSuffix(e.Name(), ".csv"))
	}
	return teams, nil
}

// Sessions reads every row of a team's history in append order.
func (w *HistoryWriter) Sessions(team string) ([]HistoryRow, error) {
	f, err := os.Open(w.Path(team))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history header: %w", err)
	}
	if !equalHeader(header, historyHeader) {
		return nil, fmt.Errorf("%w: got %v", ErrSchemaMismatch, header)
	}

	var rows []HistoryRow
	line := 1
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read history row %d: %w", line, err)
		}
		row, err := recordToHistoryRow(rec)
		if err != nil {
			return nil, fmt.Errorf("history row %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func summaryToRecord(s violations.Summary) []string {
	return []string{
		strconv.Itoa(s.Lane.DoubleSolid), strconv.Itoa(s.Lane.Solid), strconv.Itoa(s.Lane.Dashed),
		strconv.Itoa(s.Lane.Total()),
		strconv.Itoa(s.Collision.Static), strconv.Itoa(s.Collision.Dynamic),
		strconv.Itoa(s.Collision.Total()),
		strconv.Itoa(s.RedLight.StopWaypointPassed), strconv.Itoa(s.RedLight.TriggerVolume),
		strconv.Itoa(s.RedLight.Total()),
		s.Time.Format(TimeFormat),
	}
}

func recordToHistoryRow(rec []string) (HistoryRow, error) {
	if len(rec) != len(historyHeader) {
		return HistoryRow{}, fmt.Errorf("expected %d columns, got %d", len(historyHeader), len(rec))
	}
	nums := make([]int, 10)
	for i := 0; i < 10; i++ {
		n, err := strconv.Atoi(rec[i])
		if err != nil {
			return HistoryRow{}, fmt.Errorf("parse %s: %w", historyHeader[i], err)
		}
		nums[i] = n
	}
	ts, err := time.Parse(TimeFormat, rec[10])
	if err != nil {
		return HistoryRow{}, fmt.Errorf("parse timestamp: %w", err)
	}
	return HistoryRow{
		Lane:      violations.LaneCounts{DoubleSolid: nums[0], Solid: nums[1], Dashed: nums[2]},
		Collision: violations.CollisionCounts{Static: nums[4], Dynamic: nums[5]},
		RedLight:  violations.RedLightCounts{StopWaypointPassed: nums[7], TriggerVolume: nums[8]},
		Time:      ts,
	}, nil
}
