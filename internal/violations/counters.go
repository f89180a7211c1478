// Package violations contains the detection engine for a monitored
// vehicle: collision deduplication, lane-crossing classification, red-light
// violation detection, and the session loop that drives them and produces
// the end-of-run summary.
package violations

import "time"

// LaneCounts holds per-category lane violation counts for one session.
type LaneCounts struct {
	DoubleSolid int // illegal_double_solid_cross
	Solid       int // illegal_solid_cross
	Dashed      int // unjustified_dashed_cross
}

// Total returns the summed lane violations.
func (c LaneCounts) Total() int {
	return c.DoubleSolid + c.Solid + c.Dashed
}

// CollisionCounts holds per-category collision counts for one session.
type CollisionCounts struct {
	Static  int
	Dynamic int
}

// Total returns the summed collisions.
func (c CollisionCounts) Total() int {
	return c.Static + c.Dynamic
}

// RedLightCounts holds per-category red-light violation counts for one
// session.
type RedLightCounts struct {
	StopWaypointPassed int
	TriggerVolume      int
}

// Total returns the summed red-light violations.
func (c RedLightCounts) Total() int {
	return c.StopWaypointPassed + c.TriggerVolume
}

// Summary is the immutable result of a finished session. It is computed
// once at session end from the detectors' final counters and then appended
// to the team's history and merged into the master leaderboard.
type Summary struct {
	Team      string
	SessionID string
	Lane      LaneCounts
	Collision CollisionCounts
	RedLight  RedLightCounts
	Time      time.Time
}

// TotalViolations returns the session grand total across all categories.
func (s Summary) TotalViolations() int {
	return s.Lane.Total() + s.Collision.Total() + s.RedLight.Total()
}
