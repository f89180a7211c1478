package violations

import (
	"math"
	"testing"

	"github.com/banshee-data/roadwatch/internal/geom"
	"github.com/banshee-data/roadwatch/internal/sim"
)

// pastStopLine is an observation of a vehicle moving at speed, d metres
// past a red light's stop line.
func pastStopLine(d, speed float64) LightObservation {
	return LightObservation{
		Present: true,
		State:   sim.LightRed,
		StopLine: &sim.StopLine{
			Location: geom.Location{X: 10},
			Forward:  geom.Vector{X: 1},
		},
		VehicleLocation: geom.Location{X: 10 + d},
		Speed:           speed,
	}
}

func TestRedLightStopWaypointViolation(t *testing.T) {
	d := NewRedLightDetector(1.0)

	v, counted := d.Tick(pastStopLine(2.5, 4.0))
	if !counted {
		t.Fatal("breach past stop line not counted")
	}
	if v.Kind != RedLightStopWaypoint {
		t.Errorf("kind = %v, want StopWaypointPassed", v.Kind)
	}
	if math.Abs(v.DistancePast-2.5) > 1e-9 {
		t.Errorf("DistancePast = %v, want 2.5", v.DistancePast)
	}
	if got := d.Counts(); got.StopWaypointPassed != 1 {
		t.Errorf("counts = %+v, want one stop-waypoint violation", got)
	}
}

func TestRedLightBehindLineIsLegal(t *testing.T) {
	d := NewRedLightDetector(1.0)
	if _, counted := d.Tick(pastStopLine(-1.0, 4.0)); counted {
		t.Error("vehicle behind the stop line was counted")
	}
}

func TestRedLightSlowCreepIsLegal(t *testing.T) {
	d := NewRedLightDetector(1.0)
	// Past the line but below the speed floor: treated as stopped.
	if _, counted := d.Tick(pastStopLine(0.5, 0.8)); counted {
		t.Error("vehicle below speed floor was counted")
	}
	// Exactly at the floor does not count; the comparison is strict.
	if _, counted := d.Tick(pastStopLine(0.5, 1.0)); counted {
		t.Error("vehicle at exactly the speed floor was counted")
	}
}

// A dwell many ticks long counts once, regardless of tick rate.
func TestRedLightDwellCountsOnce(t *testing.T) {
	d := NewRedLightDetector(1.0)
	for i := 0; i < 30; i++ {
		d.Tick(pastStopLine(3.0, 5.0))
	}
	if got := d.Counts().Total(); got != 1 {
		t.Errorf("total after 30 violating ticks = %d, want 1", got)
	}
}

// Light cycles to green and back to red: the second dwell counts again.
func TestRedLightSeparateDwellsCountSeparately(t *testing.T) {
	d := NewRedLightDetector(1.0)

	d.Tick(pastStopLine(3.0, 5.0))

	green := pastStopLine(3.0, 5.0)
	green.State = sim.LightGreen
	d.Tick(green)

	d.Tick(pastStopLine(3.0, 5.0))

	if got := d.Counts().Total(); got != 2 {
		t.Errorf("total across two dwells = %d, want 2", got)
	}
}

// Braking back behind the line re-arms the detector even while the light
// stays red.
func TestRedLightRearmsOnNonViolatingTick(t *testing.T) {
	d := NewRedLightDetector(1.0)

	d.Tick(pastStopLine(2.0, 5.0))
	d.Tick(pastStopLine(-0.5, 5.0)) // reversed behind the line
	d.Tick(pastStopLine(2.0, 5.0))  // crossed again

	if got := d.Counts().Total(); got != 2 {
		t.Errorf("total = %d, want 2", got)
	}
}

func TestRedLightNoLightResets(t *testing.T) {
	d := NewRedLightDetector(1.0)
	d.Tick(pastStopLine(2.0, 5.0))
	d.Tick(LightObservation{}) // no influencing light
	d.Tick(pastStopLine(2.0, 5.0))
	if got := d.Counts().Total(); got != 2 {
		t.Errorf("total = %d, want 2", got)
	}
}

func TestRedLightTriggerVolumeFallback(t *testing.T) {
	d := NewRedLightDetector(1.0)

	lightLoc := geom.Location{X: 20, Y: 5, Z: 3}
	obs := LightObservation{
		Present:         true,
		State:           sim.LightRed,
		VehicleLocation: geom.Location{X: 20, Y: 4},
		Speed:           3.0,
		TriggerBox:      geom.Box{Extent: geom.Vector{X: 4, Y: 4, Z: 2}},
		TriggerOwner:    geom.Transform{Location: geom.Location{X: 20, Y: 5}},
		LightLocation:   lightLoc,
	}

	v, counted := d.Tick(obs)
	if !counted {
		t.Fatal("vehicle inside trigger volume not counted")
	}
	if v.Kind != RedLightTriggerVolume {
		t.Errorf("kind = %v, want TriggerVolume", v.Kind)
	}
	wantDist := geom.Distance(obs.VehicleLocation, lightLoc)
	if math.Abs(v.DistancePast-wantDist) > 1e-9 {
		t.Errorf("DistancePast = %v, want %v", v.DistancePast, wantDist)
	}
}

func TestRedLightTriggerVolumeOutside(t *testing.T) {
	d := NewRedLightDetector(1.0)
	obs := LightObservation{
		Present:         true,
		State:           sim.LightRed,
		VehicleLocation: geom.Location{X: 100},
		Speed:           3.0,
		TriggerBox:      geom.Box{Extent: geom.Vector{X: 4, Y: 4, Z: 2}},
		TriggerOwner:    geom.Transform{Location: geom.Location{X: 20, Y: 5}},
	}
	if _, counted := d.Tick(obs); counted {
		t.Error("vehicle outside trigger volume was counted")
	}
}

// The trigger test is a fallback, not a second chance: when a stop line
// exists, a failed dot test ends the evaluation.
func TestRedLightStopLineTakesPrecedence(t *testing.T) {
	d := NewRedLightDetector(1.0)
	obs := pastStopLine(-1.0, 5.0) // behind the line
	// Vehicle would be inside this box if the fallback ran.
	obs.TriggerBox = geom.Box{Extent: geom.Vector{X: 100, Y: 100, Z: 100}}
	if _, counted := d.Tick(obs); counted {
		t.Error("trigger fallback ran despite a stop line being available")
	}
}
