package violations

import (
	"sync"

	"github.com/banshee-data/roadwatch/internal/geom"
	"github.com/banshee-data/roadwatch/internal/monitoring"
	"github.com/banshee-data/roadwatch/internal/sim"
)

// DefaultSpeedFloor is the minimum speed in m/s for a red-light breach to
// count as a violation; below it the vehicle is treated as stopped.
const DefaultSpeedFloor = 1.0

// RedLightKind identifies which geometric test caught a red-light
// violation.
type RedLightKind int

const (
	// RedLightStopWaypoint means the vehicle projected past the stop line.
	RedLightStopWaypoint RedLightKind = iota
	// RedLightTriggerVolume means the vehicle was inside the light's
	// trigger box, used when the map provides no stop waypoint.
	RedLightTriggerVolume
)

func (k RedLightKind) String() string {
	if k == RedLightTriggerVolume {
		return "TriggerVolume"
	}
	return "StopWaypointPassed"
}

// RedLightViolation describes a counted red-light violation.
type RedLightViolation struct {
	Kind RedLightKind
	// DistancePast is the severity metric: metres past the stop line for
	// the waypoint test, or distance to the light for the trigger test.
	DistancePast float64
}

// LightObservation is one control-loop sample of the vehicle's relation to
// the traffic light influencing it, assembled by the session so the
// detector itself never talks to the simulator.
type LightObservation struct {
	// Present is false when no traffic light influences the vehicle.
	Present bool
	State   sim.TrafficLightState

	VehicleLocation geom.Location
	Speed           float64 // m/s, |velocity|

	// StopLine is nil when the map exposes no stop waypoint for the light.
	StopLine *sim.StopLine

	TriggerBox    geom.Box
	TriggerOwner  geom.Transform
	LightLocation geom.Location
}

type redLightState int

const (
	redIdle redLightState = iota
	redLogged
)

// RedLightDetector is a two-state machine counting red-light violations
// once per continuous red-light dwell. A violating sample in Idle counts
// and moves to Logged; further violating samples are absorbed until a
// non-violating sample re-arms the detector.
type RedLightDetector struct {
	mu         sync.Mutex
	speedFloor float64
	state      redLightState
	counts     RedLightCounts
}

// NewRedLightDetector returns a detector with the given speed floor;
// floor <= 0 falls back to DefaultSpeedFloor.
func NewRedLightDetector(speedFloor float64) *RedLightDetector {
	if speedFloor <= 0 {
		speedFloor = DefaultSpeedFloor
	}
	return &RedLightDetector{speedFloor: speedFloor}
}

// Tick evaluates one observation. It returns the violation and true exactly
// when a new violation is counted on this sample.
func (d *RedLightDetector) Tick(obs LightObservation) (RedLightViolation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !obs.Present || obs.State != sim.LightRed {
		d.state = redIdle
		return RedLightViolation{}, false
	}

	v, violating := evaluate(obs, d.speedFloor)
	if !violating {
		// Rearm. A driver who brakes back behind the line gets a clean
		// slate for the next breach.
		d.state = redIdle
		return RedLightViolation{}, false
	}

	if d.state == redLogged {
		return RedLightViolation{}, false
	}

	d.state = redLogged
	if v.Kind == RedLightTriggerVolume {
		d.counts.TriggerVolume++
	} else {
		d.counts.StopWaypointPassed++
	}
	monitoring.Logf("red light: %s, distance past %.2fm", v.Kind, v.DistancePast)
	return v, true
}

func evaluate(obs LightObservation, speedFloor float64) (RedLightViolation, bool) {
	if obs.StopLine != nil {
		rel := obs.VehicleLocation.Sub(obs.StopLine.Location)
		dot := rel.Dot(obs.StopLine.Forward)
		if dot > 0 && obs.Speed > speedFloor {
			return RedLightViolation{Kind: RedLightStopWaypoint, DistancePast: dot}, true
		}
		return RedLightViolation{}, false
	}

	// No stop waypoint on this light: fall back to the trigger volume.
	if obs.TriggerBox.ContainsWorld(obs.TriggerOwner, obs.VehicleLocation) && obs.Speed > speedFloor {
		return RedLightViolation{
			Kind:         RedLightTriggerVolume,
			DistancePast: geom.Distance(obs.VehicleLocation, obs.LightLocation),
		}, true
	}
	return RedLightViolation{}, false
}

// Counts returns a snapshot of the per-category red-light counters.
func (d *RedLightDetector) Counts() RedLightCounts {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts
}
