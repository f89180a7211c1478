package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// masterHeader is the leaderboard table schema. Column order is contract:
// downstream viewers index by position.
var masterHeader = []string{
	"team name", "date/time",
	"current_lane", "lowest_lane",
	"current_collision", "lowest_collision",
	"current_redlight", "lowest_redlight",
	"current_total", "lowest_total",
}

// ErrSchemaMismatch is returned when a persisted table's header does not
// match the expected schema. The table is never silently reset: a mismatch
// means operator intervention (migration), not data loss.
var ErrSchemaMismatch = errors.New("ledger: table header does not match expected schema")

// ErrLockTimeout is returned when the table lock cannot be acquired.
var ErrLockTimeout = errors.New("ledger: timed out waiting for table lock")

const (
	lockRetryInterval  = 25 * time.Millisecond
	defaultLockTimeout = 5 * time.Second
)

// CSVLedger is the flat-file leaderboard backend. Every merge takes a
// sidecar lockfile, reads the whole table, applies the merge, and rewrites
// the table atomically, so independent session processes for different
// teams interleave safely.
type CSVLedger struct {
	path        string
	lockTimeout time.Duration
}

// NewCSVLedger returns a ledger stored at path. The file is created on
// first merge.
func NewCSVLedger(path string) *CSVLedger {
	return &CSVLedger{path: path, lockTimeout: defaultLockTimeout}
}

// Get returns the entry for a team. Reads need no lock: writes replace the
// file atomically.
func (l *CSVLedger) Get(team string) (Entry, bool, error) {
	entries, err := l.load()
	if err != nil {
		return Entry{}, false, err
	}
	key := NormalizeTeam(team)
	for _, e := range entries {
		if e.Team == key {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// Merge folds totals into the team's row under an exclusive table lock.
func (l *CSVLedger) Merge(team string, t Totals, now time.Time) (Entry, error) {
	unlock, err := l.acquireLock()
	if err != nil {
		return Entry{}, err
	}
	defer unlock()

	entries, err := l.load()
	if err != nil {
		return Entry{}, err
	}

	key := NormalizeTeam(team)
	var merged Entry
	found := false
	for i := range entries {
		if entries[i].Team == key {
			mergeEntry(&entries[i], t, now)
			merged = entries[i]
			found = true
			break
		}
	}
	if !found {
		merged = newEntry(team, t, now)
		entries = append(entries, merged)
	}

	if err := l.writeAll(entries); err != nil {
		return Entry{}, err
	}
	return merged, nil
}

// Entries returns every row sorted by team key.
func (l *CSVLedger) Entries() ([]Entry, error) {
	entries, err := l.load()
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Team < entries[j].Team })
	return entries, nil
}

// Close is a no-op for the flat-file backend.
func (l *CSVLedger) Close() error { return nil }

func (l *CSVLedger) acquireLock() (func(), error) {
	lockPath := l.path + ".lock"
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	deadline := time.Now().Add(l.lockTimeout)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("acquire table lock: %w", err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s held by another session", ErrLockTimeout, lockPath)
		}
		time.Sleep(lockRetryInterval)
	}
}

func (l *CSVLedger) load() ([]Entry, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open leaderboard: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read leaderboard header: %w", err)
	}
	if !equalHeader(header, masterHeader) {
		return nil, fmt.Errorf("%w: got %v", ErrSchemaMismatch, header)
	}

	var entries []Entry
	line := 1
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read leaderboard row %d: %w", line, err)
		}
		e, err := recordToEntry(rec)
		if err != nil {
			return nil, fmt.Errorf("leaderboard row %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// writeAll rewrites the whole table via temp file + rename so readers never
// observe a partial table.
func (l *CSVLedger) writeAll(entries []Entry) error {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Team < entries[j].Team })

	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".leaderboard-*.csv")
	if err != nil {
		return fmt.Errorf("create temp leaderboard: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(masterHeader); err != nil {
		tmp.Close()
		return fmt.Errorf("write leaderboard header: %w", err)
	}
	for _, e := range entries {
		if err := w.Write(entryToRecord(e)); err != nil {
			tmp.Close()
			return fmt.Errorf("write leaderboard row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush leaderboard: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp leaderboard: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("replace leaderboard: %w", err)
	}
	return nil
}

func entryToRecord(e Entry) []string {
	return []string{
		e.Team,
		e.UpdatedAt.Format(TimeFormat),
		strconv.Itoa(e.Current.Lane), strconv.Itoa(e.Lowest.Lane),
		strconv.Itoa(e.Current.Collisions), strconv.Itoa(e.Lowest.Collisions),
		strconv.Itoa(e.Current.RedLight), strconv.Itoa(e.Lowest.RedLight),
		strconv.Itoa(e.Current.Total()), strconv.Itoa(e.LowestTotal),
	}
}

func recordToEntry(rec []string) (Entry, error) {
	if len(rec) != len(masterHeader) {
		return Entry{}, fmt.Errorf("expected %d columns, got %d", len(masterHeader), len(rec))
	}
	ts, err := time.Parse(TimeFormat, rec[1])
	if err != nil {
		return Entry{}, fmt.Errorf("parse date/time: %w", err)
	}
	nums := make([]int, 8)
	for i := 0; i < 8; i++ {
		n, err := strconv.Atoi(rec[i+2])
		if err != nil {
			return Entry{}, fmt.Errorf("parse %s: %w", masterHeader[i+2], err)
		}
		nums[i] = n
	}
	return Entry{
		Team:        rec[0],
		UpdatedAt:   ts,
		Current:     Totals{Lane: nums[0], Collisions: nums[2], RedLight: nums[4]},
		Lowest:      Totals{Lane: nums[1], Collisions: nums[3], RedLight: nums[5]},
		LowestTotal: nums[7],
	}, nil
}

func equalHeader(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
