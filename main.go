// Command roadwatch runs one monitoring session over a vehicle trace,
// prints the violation summary, and folds it into the persisted history
// and leaderboard.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/roadwatch/internal/config"
	"github.com/banshee-data/roadwatch/internal/ledger"
	"github.com/banshee-data/roadwatch/internal/monitoring"
	"github.com/banshee-data/roadwatch/internal/sim"
	"github.com/banshee-data/roadwatch/internal/timeutil"
	"github.com/banshee-data/roadwatch/internal/units"
	"github.com/banshee-data/roadwatch/internal/version"
	"github.com/banshee-data/roadwatch/internal/violations"
)

func main() {
	team := flag.String("team", "", "team name (required)")
	trace := flag.String("trace", "", "JSONL session trace to replay (required)")
	configPath := flag.String("config", "", "tuning file (JSON), partial configs inherit defaults")
	output := flag.String("output", "", "artifact directory (overrides config)")
	backend := flag.String("ledger", "", "leaderboard backend: csv or sqlite (overrides config)")
	dbPath := flag.String("db", "", "sqlite database path (overrides config)")
	unit := flag.String("units", units.MPS, "speed units for operator output (mps, mph, kmph, kph)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("roadwatch %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if err := run(*team, *trace, *configPath, *output, *backend, *dbPath, *unit); err != nil {
		monitoring.Logf("roadwatch: %v", err)
		os.Exit(1)
	}
}

func run(team, trace, configPath, output, backend, dbPath, unit string) error {
	if team == "" {
		return errors.New("-team is required")
	}
	if trace == "" {
		return errors.New("-trace is required (a live bridge would inject its own world)")
	}
	if !units.IsValid(unit) {
		return fmt.Errorf("invalid -units %q, valid: %v", unit, units.ValidUnits)
	}

	cfg := config.EmptyMonitorConfig()
	if configPath != "" {
		loaded, err := config.LoadMonitorConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	outputDir := cfg.GetOutputDir()
	if output != "" {
		outputDir = output
	}
	ledgerBackend := cfg.GetLedgerBackend()
	if backend != "" {
		ledgerBackend = backend
	}
	sqlitePath := cfg.GetSQLitePath()
	if dbPath != "" {
		sqlitePath = dbPath
	}

	f, err := os.Open(trace)
	if err != nil {
		return fmt.Errorf("open trace: %w", err)
	}
	world, err := sim.NewReplayWorld(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("load trace: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := timeutil.RealClock{}
	tick := cfg.GetTickInterval()

	// Snapshot before the feeder starts so the replayed ego registers as a
	// newly spawned actor.
	watcher := sim.NewVehicleWatcher(world)

	var summary violations.Summary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return world.Play(gctx, clock, tick)
	})
	g.Go(func() error {
		vehicle, err := watcher.Wait(gctx, clock, tick/2)
		if err != nil {
			return fmt.Errorf("wait for vehicle: %w", err)
		}
		monitoring.Logf("monitoring vehicle %d (%s) for team %s", vehicle.ID(), vehicle.TypeID(), team)

		session := violations.NewSession(world, vehicle, clock, violations.SessionConfig{
			Team:           team,
			ZoneRadius:     cfg.GetZoneRadius(),
			JunctionWindow: cfg.GetJunctionWindow(),
			SpeedFloor:     cfg.GetSpeedFloor(),
			TickInterval:   tick,
			EventBuffer:    cfg.GetEventBuffer(),
		})
		var runErr error
		summary, runErr = session.Run(gctx)
		return runErr
	})

	runErr := g.Wait()
	// Operator interrupt still gets a summary and a flush; only a real
	// failure aborts the run.
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	if summary.SessionID == "" {
		monitoring.Logf("interrupted before a vehicle appeared, nothing to record")
		return nil
	}
	if summary.Time.IsZero() {
		summary.Time = clock.Now()
	}

	printSummary(summary, cfg.GetSpeedFloor(), unit)
	return flush(summary, team, ledgerBackend, outputDir, sqlitePath)
}

func printSummary(s violations.Summary, speedFloorMPS float64, unit string) {
	fmt.Printf("\nSession %s  team=%s  %s\n", s.SessionID, s.Team, s.Time.Format(ledger.TimeFormat))
	fmt.Printf("  lane crossings:   double-solid=%d solid=%d dashed=%d  total=%d\n",
		s.Lane.DoubleSolid, s.Lane.Solid, s.Lane.Dashed, s.Lane.Total())
	fmt.Printf("  collisions:       static=%d dynamic=%d  total=%d\n",
		s.Collision.Static, s.Collision.Dynamic, s.Collision.Total())
	fmt.Printf("  red lights:       stop-waypoint=%d trigger-volume=%d  total=%d\n",
		s.RedLight.StopWaypointPassed, s.RedLight.TriggerVolume, s.RedLight.Total())
	fmt.Printf("  total violations: %d\n", s.TotalViolations())
	fmt.Printf("  (moving threshold %.2f %s)\n", units.ConvertSpeed(speedFloorMPS, unit), unit)
}

// flush appends the session to the team history and merges it into the
// leaderboard. Any failure stops the flush; the printed summary above is
// the operator's fallback record.
func flush(summary violations.Summary, team, backend, outputDir, sqlitePath string) error {
	// No session id means no session ran; merging a zero summary would
	// overwrite the team's lowest scores with zeros.
	if summary.SessionID == "" {
		return nil
	}
	var (
		board   ledger.Ledger
		history ledger.HistoryStore
	)
	switch backend {
	case "csv":
		board = ledger.NewCSVLedger(filepath.Join(outputDir, "leaderboard.csv"))
		history = ledger.NewHistoryWriter(filepath.Join(outputDir, "violation_detection"))
	case "sqlite":
		l, err := ledger.NewSQLiteLedger(sqlitePath)
		if err != nil {
			return err
		}
		board, history = l, l
	default:
		return fmt.Errorf("unknown ledger backend %q", backend)
	}
	defer board.Close()

	if err := history.Append(summary); err != nil {
		return fmt.Errorf("append session history: %w", err)
	}
	entry, err := board.Merge(team, ledger.TotalsOf(summary), summary.Time)
	if err != nil {
		return fmt.Errorf("merge leaderboard: %w", err)
	}

	fmt.Printf("\nLeaderboard for %s (updated %s):\n", entry.Team, entry.UpdatedAt.Format(ledger.TimeFormat))
	fmt.Printf("  current: lane=%d collision=%d redlight=%d total=%d\n",
		entry.Current.Lane, entry.Current.Collisions, entry.Current.RedLight, entry.Current.Total())
	fmt.Printf("  lowest:  lane=%d collision=%d redlight=%d total=%d\n",
		entry.Lowest.Lane, entry.Lowest.Collisions, entry.Lowest.RedLight, entry.LowestTotal)
	return nil
}
