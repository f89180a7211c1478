package violations

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/roadwatch/internal/geom"
	"github.com/banshee-data/roadwatch/internal/monitoring"
	"github.com/banshee-data/roadwatch/internal/sim"
	"github.com/banshee-data/roadwatch/internal/timeutil"
)

// DefaultTickInterval is the control-loop cadence: pruning zones, sampling
// junction membership and traffic-light state, and checking for session
// end.
const DefaultTickInterval = 100 * time.Millisecond

// DefaultEventBuffer is the bounded capacity of the sensor event channel.
const DefaultEventBuffer = 64

// SessionConfig carries the per-run tuning of a monitoring session. Zero
// values fall back to the package defaults.
type SessionConfig struct {
	Team           string
	ZoneRadius     float64
	JunctionWindow time.Duration
	SpeedFloor     float64
	TickInterval   time.Duration
	EventBuffer    int
}

// sensorEvent is the union of the two push streams. A single channel keeps
// collision and lane events in delivery order relative to each other; the
// zone and debounce logic is order-sensitive.
type sensorEvent struct {
	collision *sim.CollisionEvent
	lane      *sim.LaneInvasionEvent
}

// Session owns the three detectors for one monitored vehicle and runs the
// control loop that drives them. Detector state is only mutated from the
// session's consumer goroutine; sensor callbacks merely enqueue.
type Session struct {
	id      string
	cfg     SessionConfig
	world   sim.World
	vehicle sim.Vehicle
	clock   timeutil.Clock

	zones  *ZoneTracker
	lanes  *LaneClassifier
	lights *RedLightDetector

	events   chan sensorEvent
	stop     chan struct{}
	stopOnce sync.Once
}

// NewSession builds a session for the given vehicle. Detectors are
// constructed fresh per session; nothing is shared across sessions.
func NewSession(world sim.World, vehicle sim.Vehicle, clock timeutil.Clock, cfg SessionConfig) *Session {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	return &Session{
		id:      uuid.NewString(),
		cfg:     cfg,
		world:   world,
		vehicle: vehicle,
		clock:   clock,
		zones:   NewZoneTracker(cfg.ZoneRadius),
		lanes:   NewLaneClassifier(cfg.JunctionWindow),
		lights:  NewRedLightDetector(cfg.SpeedFloor),
		events:  make(chan sensorEvent, cfg.EventBuffer),
		stop:    make(chan struct{}),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Stop requests the session to end. Safe to call more than once and from
// any goroutine.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Counts returns live snapshots of the three detectors' counters.
func (s *Session) Counts() (LaneCounts, CollisionCounts, RedLightCounts) {
	return s.lanes.Counts(), s.zones.Counts(), s.lights.Counts()
}

// Run subscribes the sensors and drives the control loop until the context
// is cancelled, Stop is called, or the vehicle disappears from the active
// set. It always returns a Summary built from whatever the detectors
// accumulated, alongside any fatal error; the caller decides whether to
// flush it.
func (s *Session) Run(ctx context.Context) (Summary, error) {
	done := make(chan struct{})
	defer close(done)

	// Sensor callbacks run on the simulator's delivery context. They block
	// on a full buffer rather than dropping, with the session end as an
	// escape so teardown can never deadlock a callback.
	collSub, err := s.world.SubscribeCollisions(s.vehicle, func(ev sim.CollisionEvent) {
		select {
		case s.events <- sensorEvent{collision: &ev}:
		case <-done:
		}
	})
	if err != nil {
		return s.summary(), fmt.Errorf("subscribe collisions: %w", err)
	}
	defer func() {
		if err := collSub.Stop(); err != nil {
			monitoring.Logf("session %s: stop collision sensor: %v", s.id, err)
		}
	}()

	laneSub, err := s.world.SubscribeLaneInvasions(s.vehicle, func(ev sim.LaneInvasionEvent) {
		select {
		case s.events <- sensorEvent{lane: &ev}:
		case <-done:
		}
	})
	if err != nil {
		return s.summary(), fmt.Errorf("subscribe lane invasions: %w", err)
	}
	defer func() {
		if err := laneSub.Stop(); err != nil {
			monitoring.Logf("session %s: stop lane sensor: %v", s.id, err)
		}
	}()

	monitoring.Logf("session %s: monitoring %s (actor %d) for team %q",
		s.id, s.vehicle.TypeID(), s.vehicle.ID(), s.cfg.Team)

	ticker := s.clock.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.summary(), ctx.Err()
		case <-s.stop:
			return s.summary(), nil
		case ev := <-s.events:
			if err := s.handleEvent(ev); err != nil {
				return s.summary(), err
			}
		case <-ticker.C():
			alive, err := s.tick()
			if err != nil {
				return s.summary(), err
			}
			if !alive {
				monitoring.Logf("session %s: vehicle removed, ending session", s.id)
				return s.summary(), nil
			}
		}
	}
}

func (s *Session) handleEvent(ev sensorEvent) error {
	switch {
	case ev.collision != nil:
		loc, err := s.vehicle.Location()
		if err != nil {
			return fmt.Errorf("vehicle location: %w", err)
		}
		s.zones.OnCollision(ev.collision.OtherTypeID, loc, s.clock.Now())
	case ev.lane != nil:
		s.lanes.OnCrossing(ev.lane.Markings, s.clock.Now())
	}
	return nil
}

// tick performs one control-loop sample. It returns alive=false when the
// vehicle is no longer among the world's active actors.
func (s *Session) tick() (alive bool, err error) {
	loc, err := s.vehicle.Location()
	if err != nil {
		return false, fmt.Errorf("vehicle location: %w", err)
	}

	s.zones.Prune(loc)

	junction, err := s.world.IsJunction(loc)
	if err != nil {
		return false, fmt.Errorf("junction query: %w", err)
	}
	if junction {
		s.lanes.ObserveJunction(s.clock.Now())
	}

	obs, err := s.observeLight(loc)
	if err != nil {
		return false, err
	}
	s.lights.Tick(obs)

	vehicles, err := s.world.ActiveVehicles()
	if err != nil {
		return false, fmt.Errorf("active vehicles: %w", err)
	}
	for _, v := range vehicles {
		if v.ID() == s.vehicle.ID() {
			return true, nil
		}
	}
	return false, nil
}

func (s *Session) observeLight(loc geom.Location) (LightObservation, error) {
	tl, err := s.vehicle.TrafficLight()
	if err != nil {
		return LightObservation{}, fmt.Errorf("traffic light query: %w", err)
	}
	if tl == nil {
		return LightObservation{}, nil
	}

	vel, err := s.vehicle.Velocity()
	if err != nil {
		return LightObservation{}, fmt.Errorf("vehicle velocity: %w", err)
	}

	obs := LightObservation{
		Present:         true,
		State:           tl.State(),
		VehicleLocation: loc,
		Speed:           vel.Length(),
		LightLocation:   tl.Location(),
	}
	if line, ok := tl.StopLine(); ok {
		obs.StopLine = &line
	}
	obs.TriggerBox, obs.TriggerOwner = tl.TriggerVolume()
	return obs, nil
}

// summary snapshots the detectors into an immutable Summary.
func (s *Session) summary() Summary {
	return Summary{
		Team:      s.cfg.Team,
		SessionID: s.id,
		Lane:      s.lanes.Counts(),
		Collision: s.zones.Counts(),
		RedLight:  s.lights.Counts(),
		Time:      s.clock.Now(),
	}
}
