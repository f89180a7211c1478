package sim

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/banshee-data/roadwatch/internal/geom"
	"github.com/banshee-data/roadwatch/internal/monitoring"
	"github.com/banshee-data/roadwatch/internal/timeutil"
)

// ReplayWorld plays a recorded simulator trace through the World interface.
// The trace is JSONL, one frame per line:
//
//	{"type":"tick","location":{...},"velocity":{...},"junction":false,"light":{...}}
//	{"type":"collision","other":"static.prop.streetbarrier"}
//	{"type":"lane","markings":["solid","broken"]}
//
// Tick frames advance the vehicle's pollable state at the configured
// interval; collision and lane frames fire the sensor callbacks in trace
// order. Sensor frames that play before any subscriber has attached are
// held and delivered to the first subscriber, so events at the head of a
// trace are not lost while a session is still wiring its sensors. When
// the trace is exhausted the ego vehicle is removed, which a session
// observes as its end condition.
type ReplayWorld struct {
	mu sync.Mutex

	frames []replayFrame
	ego    *MockVehicle
	active bool

	inJunction    bool
	collisionSubs []func(CollisionEvent)
	laneSubs      []func(LaneInvasionEvent)

	heldCollisions []CollisionEvent
	heldInvasions  []LaneInvasionEvent
}

type replayFrame struct {
	Type     string         `json:"type"`
	Location *geom.Location `json:"location,omitempty"`
	Velocity *geom.Vector   `json:"velocity,omitempty"`
	Junction bool           `json:"junction,omitempty"`
	Light    *replayLight   `json:"light,omitempty"`
	Other    string         `json:"other,omitempty"`
	Markings []string       `json:"markings,omitempty"`
}

type replayLight struct {
	State     string          `json:"state"`
	StopLine  *replayStopLine `json:"stop_line,omitempty"`
	Trigger   *geom.Box       `json:"trigger,omitempty"`
	Transform geom.Transform  `json:"transform"`
	Location  geom.Location   `json:"location"`
}

type replayStopLine struct {
	Location geom.Location `json:"location"`
	Forward  geom.Vector   `json:"forward"`
}

// NewReplayWorld parses a JSONL trace from r. The ego vehicle is not
// visible until Play starts.
func NewReplayWorld(r io.Reader) (*ReplayWorld, error) {
	var frames []replayFrame
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var f replayFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("trace line %d: %w", line, err)
		}
		switch f.Type {
		case "tick", "collision", "lane":
		default:
			return nil, fmt.Errorf("trace line %d: unknown frame type %q", line, f.Type)
		}
		frames = append(frames, f)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("trace is empty")
	}
	return &ReplayWorld{
		frames: frames,
		ego:    &MockVehicle{ActorID: 1, ActorType: "vehicle.replay.ego"},
	}, nil
}

// Play feeds the trace. Tick frames are spaced by interval on the given
// clock; sensor frames fire immediately after the preceding tick. Play
// returns when the trace ends or ctx is cancelled; either way the ego
// vehicle is removed.
func (w *ReplayWorld) Play(ctx context.Context, clock timeutil.Clock, interval time.Duration) error {
	w.mu.Lock()
	w.active = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.active = false
		w.mu.Unlock()
	}()

	monitoring.Logf("replay: starting trace with %d frames", len(w.frames))
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for _, f := range w.frames {
		switch f.Type {
		case "tick":
			w.applyTick(f)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C():
			}
		case "collision":
			w.emitCollision(CollisionEvent{OtherTypeID: f.Other, Time: clock.Now()})
		case "lane":
			markings := make([]LaneMarkingType, 0, len(f.Markings))
			for _, m := range f.Markings {
				markings = append(markings, ParseLaneMarking(m))
			}
			w.emitLaneInvasion(LaneInvasionEvent{Markings: markings, Time: clock.Now()})
		}
	}
	monitoring.Logf("replay: trace exhausted, removing ego vehicle")
	return nil
}

func (w *ReplayWorld) applyTick(f replayFrame) {
	if f.Location != nil {
		w.ego.MoveTo(*f.Location)
	}
	if f.Velocity != nil {
		w.ego.SetVelocity(*f.Velocity)
	}
	var light TrafficLight
	if f.Light != nil {
		mt := &MockTrafficLight{
			LightState:   ParseTrafficLightState(f.Light.State),
			TriggerOwner: f.Light.Transform,
			Loc:          f.Light.Location,
		}
		if f.Light.Trigger != nil {
			mt.Trigger = *f.Light.Trigger
		}
		if f.Light.StopLine != nil {
			mt.Stop = &StopLine{
				Location: f.Light.StopLine.Location,
				Forward:  f.Light.StopLine.Forward,
			}
		}
		light = mt
	}
	w.ego.SetTrafficLight(light)

	w.mu.Lock()
	w.inJunction = f.Junction
	w.mu.Unlock()
}

func (w *ReplayWorld) emitCollision(ev CollisionEvent) {
	w.mu.Lock()
	if len(w.collisionSubs) == 0 {
		w.heldCollisions = append(w.heldCollisions, ev)
		w.mu.Unlock()
		return
	}
	subs := slices.Clone(w.collisionSubs)
	w.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (w *ReplayWorld) emitLaneInvasion(ev LaneInvasionEvent) {
	w.mu.Lock()
	if len(w.laneSubs) == 0 {
		w.heldInvasions = append(w.heldInvasions, ev)
		w.mu.Unlock()
		return
	}
	subs := slices.Clone(w.laneSubs)
	w.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// ActiveVehicles returns the ego vehicle while the trace is playing.
func (w *ReplayWorld) ActiveVehicles() ([]Vehicle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.active {
		return nil, nil
	}
	return []Vehicle{w.ego}, nil
}

// IsJunction reports the junction flag of the most recent tick frame. A
// trace records the ego vehicle's own road position, so the queried
// location is not re-projected.
func (w *ReplayWorld) IsJunction(geom.Location) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inJunction, nil
}

func (w *ReplayWorld) SubscribeCollisions(_ Vehicle, fn func(CollisionEvent)) (Subscription, error) {
	w.mu.Lock()
	w.collisionSubs = append(w.collisionSubs, fn)
	held := w.heldCollisions
	w.heldCollisions = nil
	w.mu.Unlock()
	for _, ev := range held {
		fn(ev)
	}
	return nopSubscription{}, nil
}

func (w *ReplayWorld) SubscribeLaneInvasions(_ Vehicle, fn func(LaneInvasionEvent)) (Subscription, error) {
	w.mu.Lock()
	w.laneSubs = append(w.laneSubs, fn)
	held := w.heldInvasions
	w.heldInvasions = nil
	w.mu.Unlock()
	for _, ev := range held {
		fn(ev)
	}
	return nopSubscription{}, nil
}

type nopSubscription struct{}

func (nopSubscription) Stop() error { return nil }

// ParseLaneMarking maps a trace marking string to its LaneMarkingType.
func ParseLaneMarking(s string) LaneMarkingType {
	switch s {
	case "broken":
		return MarkingBroken
	case "solid":
		return MarkingSolid
	case "solid_solid":
		return MarkingSolidSolid
	case "broken_broken":
		return MarkingBrokenBroken
	case "curb":
		return MarkingCurb
	default:
		return MarkingOther
	}
}

// ParseTrafficLightState maps a trace light state string to its
// TrafficLightState.
func ParseTrafficLightState(s string) TrafficLightState {
	switch s {
	case "red":
		return LightRed
	case "yellow":
		return LightYellow
	case "green":
		return LightGreen
	case "off":
		return LightOff
	default:
		return LightUnknown
	}
}
