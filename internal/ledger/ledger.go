// Package ledger persists monitoring results: per-team append-only session
// history and the master leaderboard tracking current and best-ever totals
// per team across every session ever run.
//
// Two interchangeable backends exist: flat CSV files (the exchange format
// downstream dashboards consume) and an embedded sqlite database.
package ledger

import (
	"strings"
	"time"

	"github.com/banshee-data/roadwatch/internal/violations"
)

// TimeFormat is the timestamp layout used in the persisted artifacts.
const TimeFormat = "2006-01-02 15:04:05"

// Totals is one session's violation totals by category.
type Totals struct {
	Lane       int
	Collisions int
	RedLight   int
}

// Total returns the grand total across categories.
func (t Totals) Total() int {
	return t.Lane + t.Collisions + t.RedLight
}

// TotalsOf extracts the per-category totals from a session summary.
func TotalsOf(s violations.Summary) Totals {
	return Totals{
		Lane:       s.Lane.Total(),
		Collisions: s.Collision.Total(),
		RedLight:   s.RedLight.Total(),
	}
}

// Entry is one team's leaderboard row. Lowest tracks the best (minimum)
// value ever seen per category independently, and LowestTotal the best
// grand total of any single session; the session with the best lane score
// is not necessarily the session with the best total, so LowestTotal is
// its own minimum, not the sum of the per-category minimums.
type Entry struct {
	Team        string
	UpdatedAt   time.Time
	Current     Totals
	Lowest      Totals
	LowestTotal int
}

// Ledger is the master leaderboard: a shared table keyed by normalized
// team name. Merge is an exclusive read-modify-write over the whole table,
// so concurrent sessions for different teams cannot clobber each other's
// rows.
type Ledger interface {
	// Get returns the entry for a team, if present.
	Get(team string) (Entry, bool, error)

	// Merge folds a finished session's totals into the team's entry,
	// creating it on first contact, and returns the updated entry.
	Merge(team string, t Totals, now time.Time) (Entry, error)

	// Entries returns every row, sorted by team key.
	Entries() ([]Entry, error)

	// Close releases the backing store.
	Close() error
}

// HistoryStore is a team's append-only session time series.
type HistoryStore interface {
	// Append records one finished session. The row is immutable once
	// written.
	Append(s violations.Summary) error
}

// NormalizeTeam produces the leaderboard key for a team name:
// case-insensitive and whitespace-trimmed.
func NormalizeTeam(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// FileKey produces a filesystem-safe key for per-team artifacts.
func FileKey(name string) string {
	return strings.ReplaceAll(NormalizeTeam(name), " ", "_")
}

// newEntry builds a first-session entry: current and lowest coincide.
func newEntry(team string, t Totals, now time.Time) Entry {
	return Entry{
		Team:        NormalizeTeam(team),
		UpdatedAt:   now,
		Current:     t,
		Lowest:      t,
		LowestTotal: t.Total(),
	}
}

// mergeEntry folds a new session's totals into an existing entry. Lowest
// values only ever decrease.
func mergeEntry(e *Entry, t Totals, now time.Time) {
	e.UpdatedAt = now
	e.Current = t
	e.Lowest.Lane = min(e.Lowest.Lane, t.Lane)
	e.Lowest.Collisions = min(e.Lowest.Collisions, t.Collisions)
	e.Lowest.RedLight = min(e.Lowest.RedLight, t.RedLight)
	e.LowestTotal = min(e.LowestTotal, t.Total())
}
