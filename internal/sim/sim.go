// Package sim defines the capability set the monitors require from a
// driving simulator: pollable vehicle and traffic-light state, junction
// queries, and push subscriptions for collision and lane-invasion sensors.
//
// A live simulator bridge implements World; MockWorld drives unit tests and
// ReplayWorld plays recorded traces through the same interfaces.
package sim

import (
	"context"
	"time"

	"github.com/banshee-data/roadwatch/internal/geom"
	"github.com/banshee-data/roadwatch/internal/timeutil"
)

// TrafficLightState is the colour state of a traffic light.
type TrafficLightState int

const (
	LightUnknown TrafficLightState = iota
	LightRed
	LightYellow
	LightGreen
	LightOff
)

func (s TrafficLightState) String() string {
	switch s {
	case LightRed:
		return "red"
	case LightYellow:
		return "yellow"
	case LightGreen:
		return "green"
	case LightOff:
		return "off"
	default:
		return "unknown"
	}
}

// LaneMarkingType identifies the kind of lane marking a vehicle crossed.
type LaneMarkingType int

const (
	MarkingOther LaneMarkingType = iota
	MarkingBroken
	MarkingSolid
	MarkingSolidSolid
	MarkingBrokenBroken
	MarkingCurb
)

func (m LaneMarkingType) String() string {
	switch m {
	case MarkingBroken:
		return "broken"
	case MarkingSolid:
		return "solid"
	case MarkingSolidSolid:
		return "solid_solid"
	case MarkingBrokenBroken:
		return "broken_broken"
	case MarkingCurb:
		return "curb"
	default:
		return "other"
	}
}

// CollisionEvent is delivered once per physical contact reported by the
// collision sensor.
type CollisionEvent struct {
	// OtherTypeID is the simulator type tag of the actor hit, e.g.
	// "vehicle.tesla.model3" or "static.prop.streetbarrier".
	OtherTypeID string
	Time        time.Time
}

// LaneInvasionEvent is delivered once per lane-marking crossing, carrying
// every marking type crossed in that single event.
type LaneInvasionEvent struct {
	Markings []LaneMarkingType
	Time     time.Time
}

// StopLine is a traffic light's stop waypoint: the line location and the
// direction of legal travel across it.
type StopLine struct {
	Location geom.Location
	Forward  geom.Vector
}

// TrafficLight exposes the state and geometry of a traffic light currently
// influencing a vehicle.
type TrafficLight interface {
	// State returns the light's colour state.
	State() TrafficLightState

	// StopLine returns the light's stop waypoint, if the map provides one.
	StopLine() (StopLine, bool)

	// TriggerVolume returns the light's local-space trigger box and the
	// transform that carries it into world space.
	TriggerVolume() (geom.Box, geom.Transform)

	// Location returns the light's world location.
	Location() geom.Location
}

// Vehicle is an actor under observation.
type Vehicle interface {
	// ID is the simulator actor id, unique within a session.
	ID() int

	// TypeID is the simulator type tag, e.g. "vehicle.tesla.model3".
	TypeID() string

	// Location returns the vehicle's current world location.
	Location() (geom.Location, error)

	// Velocity returns the vehicle's current velocity vector.
	Velocity() (geom.Vector, error)

	// TrafficLight returns the light currently influencing the vehicle, or
	// nil when none does.
	TrafficLight() (TrafficLight, error)
}

// Subscription is a live sensor stream that must be stopped when the
// session ends.
type Subscription interface {
	Stop() error
}

// World is the simulator capability set consumed by a monitoring session.
// Sensor callbacks are invoked in delivery order, one per physical event,
// and must not be retained after Subscription.Stop returns.
type World interface {
	// ActiveVehicles enumerates the vehicle actors currently alive.
	ActiveVehicles() ([]Vehicle, error)

	// IsJunction reports whether the nearest road position to loc lies
	// inside a junction footprint.
	IsJunction(loc geom.Location) (bool, error)

	// SubscribeCollisions attaches a collision sensor to v.
	SubscribeCollisions(v Vehicle, fn func(CollisionEvent)) (Subscription, error)

	// SubscribeLaneInvasions attaches a lane-invasion sensor to v.
	SubscribeLaneInvasions(v Vehicle, fn func(LaneInvasionEvent)) (Subscription, error)
}

// VehicleWatcher detects the ego vehicle: whatever spawns after the
// watcher is created. The snapshot of pre-existing actors is taken at
// construction, so create the watcher before anything that may spawn the
// ego.
type VehicleWatcher struct {
	world World
	known map[int]bool
	err   error
}

// NewVehicleWatcher snapshots the vehicles currently alive in w. A
// snapshot failure is deferred to Wait.
func NewVehicleWatcher(w World) *VehicleWatcher {
	existing, err := w.ActiveVehicles()
	vw := &VehicleWatcher{world: w, known: make(map[int]bool, len(existing)), err: err}
	for _, v := range existing {
		vw.known[v.ID()] = true
	}
	return vw
}

// Wait polls until an actor not in the snapshot appears and returns it.
func (vw *VehicleWatcher) Wait(ctx context.Context, clock timeutil.Clock, poll time.Duration) (Vehicle, error) {
	if vw.err != nil {
		return nil, vw.err
	}
	ticker := clock.NewTicker(poll)
	defer ticker.Stop()
	for {
		vehicles, err := vw.world.ActiveVehicles()
		if err != nil {
			return nil, err
		}
		for _, v := range vehicles {
			if !vw.known[v.ID()] {
				return v, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C():
		}
	}
}

// WaitForNewVehicle snapshots the vehicles alive in w, then polls until an
// actor not in the snapshot appears and returns it.
func WaitForNewVehicle(ctx context.Context, w World, clock timeutil.Clock, poll time.Duration) (Vehicle, error) {
	return NewVehicleWatcher(w).Wait(ctx, clock, poll)
}
