package ledger

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/roadwatch/internal/violations"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteLedger is the embedded-database backend. It implements both Ledger
// and HistoryStore: the leaderboard table plus an append-only sessions
// table.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens (creating if needed) the database at path and runs
// any pending schema migrations.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	// Immediate transactions take the write lock up front, so a merge
	// cannot deadlock against another writer mid-transaction. The busy
	// timeout makes writers queue rather than fail fast; both are DSN
	// parameters so every pooled connection gets them.
	db, err := sql.Open("sqlite", "file:"+path+"?_txlock=immediate&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}

	l := &SQLiteLedger{db: db}
	if err := l.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLedger) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	driver, err := sqlitemigrate.WithInstance(l.db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	// Not closing m: that would close the shared DB connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Get returns the entry for a team, if present.
func (l *SQLiteLedger) Get(team string) (Entry, bool, error) {
	row := l.db.QueryRow(`
		SELECT team, updated_at,
		       current_lane, lowest_lane,
		       current_collision, lowest_collision,
		       current_redlight, lowest_redlight,
		       lowest_total
		FROM leaderboard WHERE team = ?`, NormalizeTeam(team))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// Merge folds totals into the team's row inside one transaction.
func (l *SQLiteLedger) Merge(team string, t Totals, now time.Time) (Entry, error) {
	tx, err := l.db.Begin()
	if err != nil {
		return Entry{}, fmt.Errorf("begin merge: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	key := NormalizeTeam(team)
	row := tx.QueryRow(`
		SELECT team, updated_at,
		       current_lane, lowest_lane,
		       current_collision, lowest_collision,
		       current_redlight, lowest_redlight,
		       lowest_total
		FROM leaderboard WHERE team = ?`, key)

	e, err := scanEntry(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		e = newEntry(team, t, now)
	case err != nil:
		return Entry{}, err
	default:
		mergeEntry(&e, t, now)
	}

	_, err = tx.Exec(`
		INSERT INTO leaderboard (
			team, updated_at,
			current_lane, lowest_lane,
			current_collision, lowest_collision,
			current_redlight, lowest_redlight,
			current_total, lowest_total
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(team) DO UPDATE SET
			updated_at = excluded.updated_at,
			current_lane = excluded.current_lane,
			lowest_lane = excluded.lowest_lane,
			current_collision = excluded.current_collision,
			lowest_collision = excluded.lowest_collision,
			current_redlight = excluded.current_redlight,
			lowest_redlight = excluded.lowest_redlight,
			current_total = excluded.current_total,
			lowest_total = excluded.lowest_total`,
		e.Team, e.UpdatedAt.Format(TimeFormat),
		e.Current.Lane, e.Lowest.Lane,
		e.Current.Collisions, e.Lowest.Collisions,
		e.Current.RedLight, e.Lowest.RedLight,
		e.Current.Total(), e.LowestTotal,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("upsert leaderboard row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("commit merge: %w", err)
	}
	return e, nil
}

// Entries returns every leaderboard row sorted by team key.
func (l *SQLiteLedger) Entries() ([]Entry, error) {
	rows, err := l.db.Query(`
		SELECT team, updated_at,
		       current_lane, lowest_lane,
		       current_collision, lowest_collision,
		       current_redlight, lowest_redlight,
		       lowest_total
		FROM leaderboard`)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan leaderboard: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Team < entries[j].Team })
	return entries, nil
}

// Append records a finished session in the sessions table.
func (l *SQLiteLedger) Append(s violations.Summary) error {
	_, err := l.db.Exec(`
		INSERT INTO sessions (
			session_id, team, recorded_at,
			lane_double_solid, lane_solid, lane_dashed, lane_total,
			collision_static, collision_dynamic, collision_total,
			redlight_stop_waypoint, redlight_trigger_volume, redlight_total
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.SessionID, NormalizeTeam(s.Team), s.Time.Format(TimeFormat),
		s.Lane.DoubleSolid, s.Lane.Solid, s.Lane.Dashed, s.Lane.Total(),
		s.Collision.Static, s.Collision.Dynamic, s.Collision.Total(),
		s.RedLight.StopWaypointPassed, s.RedLight.TriggerVolume, s.RedLight.Total(),
	)
	if err != nil {
		return fmt.Errorf("insert session row: %w", err)
	}
	return nil
}

// Sessions reads a team's session rows in insertion order.
func (l *SQLiteLedger) Sessions(team string) ([]HistoryRow, error) {
	rows, err := l.db.Query(`
		SELECT lane_double_solid, lane_solid, lane_dashed,
		       collision_static, collision_dynamic,
		       redlight_stop_waypoint, redlight_trigger_volume,
		       recorded_at
		FROM sessions WHERE team = ? ORDER BY rowid`, NormalizeTeam(team))
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var r HistoryRow
		var ts string
		if err := rows.Scan(
			&r.Lane.DoubleSolid, &r.Lane.Solid, &r.Lane.Dashed,
			&r.Collision.Static, &r.Collision.Dynamic,
			&r.RedLight.StopWaypointPassed, &r.RedLight.TriggerVolume,
			&ts,
		); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		if r.Time, err = time.Parse(TimeFormat, ts); err != nil {
			return nil, fmt.Errorf("parse recorded_at: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}
	return out, nil
}

// Close releases the database.
func (l *SQLiteLedger) Close() error { return l.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (Entry, error) {
	var e Entry
	var ts string
	err := r.Scan(
		&e.Team, &ts,
		&e.Current.Lane, &e.Lowest.Lane,
		&e.Current.Collisions, &e.Lowest.Collisions,
		&e.Current.RedLight, &e.Lowest.RedLight,
		&e.LowestTotal,
	)
	if err != nil {
		return Entry{}, err
	}
	if e.UpdatedAt, err = time.Parse(TimeFormat, ts); err != nil {
		return Entry{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return e, nil
}
