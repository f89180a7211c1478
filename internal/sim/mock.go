package sim

import (
	"slices"
	"sync"

	"github.com/banshee-data/roadwatch/internal/geom"
)

// MockTrafficLight implements TrafficLight for testing.
type MockTrafficLight struct {
	LightState   TrafficLightState
	Stop         *StopLine
	Trigger      geom.Box
	TriggerOwner geom.Transform
	Loc          geom.Location
}

func (m *MockTrafficLight) State() TrafficLightState { return m.LightState }

func (m *MockTrafficLight) StopLine() (StopLine, bool) {
	if m.Stop == nil {
		return StopLine{}, false
	}
	return *m.Stop, true
}

func (m *MockTrafficLight) TriggerVolume() (geom.Box, geom.Transform) {
	return m.Trigger, m.TriggerOwner
}

func (m *MockTrafficLight) Location() geom.Location { return m.Loc }

// MockVehicle implements Vehicle for testing. State fields may be updated
// between polls; access is serialized by the owning MockWorld's mutex when
// used through it.
type MockVehicle struct {
	mu sync.Mutex

	ActorID   int
	ActorType string

	Loc   geom.Location
	Vel   geom.Vector
	Light TrafficLight

	LocationErr error
	VelocityErr error
}

func (m *MockVehicle) ID() int        { return m.ActorID }
func (m *MockVehicle) TypeID() string { return m.ActorType }

func (m *MockVehicle) Location() (geom.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Loc, m.LocationErr
}

func (m *MockVehicle) Velocity() (geom.Vector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Vel, m.VelocityErr
}

func (m *MockVehicle) TrafficLight() (TrafficLight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Light, nil
}

// MoveTo updates the vehicle's location.
func (m *MockVehicle) MoveTo(loc geom.Location) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Loc = loc
}

// SetVelocity updates the vehicle's velocity.
func (m *MockVehicle) SetVelocity(v geom.Vector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Vel = v
}

// SetLocationErr makes subsequent Location polls fail, simulating a lost
// simulator connection.
func (m *MockVehicle) SetLocationErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LocationErr = err
}

// SetTrafficLight updates the light influencing the vehicle; nil means no
// influence.
func (m *MockVehicle) SetTrafficLight(tl TrafficLight) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Light = tl
}

// MockWorld implements World for testing. Events are delivered
// synchronously to subscribers from Emit calls, mirroring the simulator's
// callback semantics.
type MockWorld struct {
	mu sync.Mutex

	vehicles  []Vehicle
	junctions []geom.Location
	// JunctionRadius is the footprint radius used by IsJunction.
	JunctionRadius float64

	VehiclesErr  error
	SubscribeErr error

	collisionSubs map[int][]func(CollisionEvent)
	laneSubs      map[int][]func(LaneInvasionEvent)
	stopped       int
}

// NewMockWorld returns an empty MockWorld with a 5m junction footprint.
func NewMockWorld(vehicles ...Vehicle) *MockWorld {
	return &MockWorld{
		vehicles:       vehicles,
		JunctionRadius: 5.0,
		collisionSubs:  make(map[int][]func(CollisionEvent)),
		laneSubs:       make(map[int][]func(LaneInvasionEvent)),
	}
}

func (w *MockWorld) ActiveVehicles() ([]Vehicle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.VehiclesErr != nil {
		return nil, w.VehiclesErr
	}
	return slices.Clone(w.vehicles), nil
}

// AddVehicle makes v visible to ActiveVehicles.
func (w *MockWorld) AddVehicle(v Vehicle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.vehicles = append(w.vehicles, v)
}

// RemoveVehicle drops the vehicle with the given actor id, simulating actor
// destruction.
func (w *MockWorld) RemoveVehicle(id int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	kept := w.vehicles[:0]
	for _, v := range w.vehicles {
		if v.ID() != id {
			kept = append(kept, v)
		}
	}
	w.vehicles = kept
}

// AddJunction marks a junction footprint centred at loc.
func (w *MockWorld) AddJunction(loc geom.Location) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.junctions = append(w.junctions, loc)
}

func (w *MockWorld) IsJunction(loc geom.Location) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, j := range w.junctions {
		if geom.GroundDistance(j, loc) <= w.JunctionRadius {
			return true, nil
		}
	}
	return false, nil
}

func (w *MockWorld) SubscribeCollisions(v Vehicle, fn func(CollisionEvent)) (Subscription, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.SubscribeErr != nil {
		return nil, w.SubscribeErr
	}
	w.collisionSubs[v.ID()] = append(w.collisionSubs[v.ID()], fn)
	return &mockSubscription{world: w}, nil
}

func (w *MockWorld) SubscribeLaneInvasions(v Vehicle, fn func(LaneInvasionEvent)) (Subscription, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.SubscribeErr != nil {
		return nil, w.SubscribeErr
	}
	w.laneSubs[v.ID()] = append(w.laneSubs[v.ID()], fn)
	return &mockSubscription{world: w}, nil
}

// EmitCollision delivers a collision event to every collision subscriber of
// the vehicle with the given actor id.
func (w *MockWorld) EmitCollision(id int, ev CollisionEvent) {
	w.mu.Lock()
	subs := slices.Clone(w.collisionSubs[id])
	w.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// EmitLaneInvasion delivers a lane-invasion event to every lane subscriber
// of the vehicle with the given actor id.
func (w *MockWorld) EmitLaneInvasion(id int, ev LaneInvasionEvent) {
	w.mu.Lock()
	subs := slices.Clone(w.laneSubs[id])
	w.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// StoppedSubscriptions reports how many subscriptions have been stopped,
// for teardown assertions.
func (w *MockWorld) StoppedSubscriptions() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

type mockSubscription struct {
	world *MockWorld
	once  sync.Once
}

func (s *mockSubscription) Stop() error {
	s.once.Do(func() {
		s.world.mu.Lock()
		s.world.stopped++
		s.world.mu.Unlock()
	})
	return nil
}
