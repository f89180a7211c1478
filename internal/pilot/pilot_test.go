package pilot

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r2"
)

func TestPlanRouteStraightLine(t *testing.T) {
	path, err := PlanRoute(r2.Vec{}, r2.Vec{X: 20}, nil)
	if err != nil {
		t.Fatalf("PlanRoute: %v", err)
	}
	if len(path) < 2 {
		t.Fatalf("path too short: %v", path)
	}
	if path[0] != (r2.Vec{}) {
		t.Errorf("path starts at %v, want origin", path[0])
	}
	if last := path[len(path)-1]; last != (r2.Vec{X: 20}) {
		t.Errorf("path ends at %v, want exact goal", last)
	}
	// Every hop stays within one diagonal grid step.
	maxHop := GridStep*math.Sqrt2 + 1e-9
	for i := 1; i < len(path); i++ {
		if d := dist(path[i-1], path[i]); d > maxHop {
			t.Errorf("hop %d has length %.2f, want <= %.2f", i, d, maxHop)
		}
	}
}

func TestPlanRouteAroundWall(t *testing.T) {
	// A wall on x=10 with a gap near y=20 forces a detour.
	passable := func(p r2.Vec) bool {
		if math.Abs(p.X-10) < 1 && p.Y < 20 {
			return false
		}
		return true
	}
	path, err := PlanRoute(r2.Vec{}, r2.Vec{X: 20}, passable)
	if err != nil {
		t.Fatalf("PlanRoute: %v", err)
	}
	for i, p := range path[:len(path)-1] {
		if !passable(p) {
			t.Errorf("waypoint %d at %v is inside the wall", i, p)
		}
	}
	// The detour must be longer than the straight shot.
	var total float64
	for i := 1; i < len(path); i++ {
		total += dist(path[i-1], path[i])
	}
	if total <= 20 {
		t.Errorf("detour length %.1f, want > 20", total)
	}
}

func TestPlanRouteBlockedStart(t *testing.T) {
	passable := func(r2.Vec) bool { return false }
	if _, err := PlanRoute(r2.Vec{}, r2.Vec{X: 20}, passable); !errors.Is(err, ErrNoRoute) {
		t.Errorf("PlanRoute error = %v, want ErrNoRoute", err)
	}
}

func TestSmoothPathSpacing(t *testing.T) {
	path := []r2.Vec{{}, {X: 10}, {X: 10, Y: 10}}
	out := SmoothPath(path, 2.0)

	if out[0] != path[0] || out[len(out)-1] != path[len(path)-1] {
		t.Error("smoothing moved the endpoints")
	}
	for i := 1; i < len(out); i++ {
		if d := dist(out[i-1], out[i]); d > 2.0+1e-9 {
			t.Errorf("gap %d has length %.2f, want <= 2.0", i, d)
		}
	}
	if len(out) <= len(path) {
		t.Errorf("smoothing added no points: %d <= %d", len(out), len(path))
	}
}

func TestSmoothPathDegenerate(t *testing.T) {
	single := []r2.Vec{{X: 1}}
	if out := SmoothPath(single, 2.0); len(out) != 1 {
		t.Errorf("single-point path changed: %v", out)
	}
}

func TestSteer(t *testing.T) {
	tests := []struct {
		name   string
		yaw    float64
		target r2.Vec
		check  func(t *testing.T, steer float64)
	}{
		{
			name:   "straight ahead",
			target: r2.Vec{X: 10},
			check: func(t *testing.T, s float64) {
				if s != 0 {
					t.Errorf("steer = %v, want 0", s)
				}
			},
		},
		{
			name:   "target left turns left",
			target: r2.Vec{X: 5, Y: 5},
			check: func(t *testing.T, s float64) {
				if s <= 0 {
					t.Errorf("steer = %v, want > 0", s)
				}
			},
		},
		{
			name:   "target right turns right",
			target: r2.Vec{X: 5, Y: -5},
			check: func(t *testing.T, s float64) {
				if s >= 0 {
					t.Errorf("steer = %v, want < 0", s)
				}
			},
		},
		{
			name:   "target behind gives zero",
			target: r2.Vec{X: -5},
			check: func(t *testing.T, s float64) {
				if s != 0 {
					t.Errorf("steer = %v, want 0 for target behind", s)
				}
			},
		},
		{
			name:   "hard turn clamps",
			target: r2.Vec{X: 0.2, Y: 0.2},
			check: func(t *testing.T, s float64) {
				if s != 1 {
					t.Errorf("steer = %v, want clamped to 1", s)
				}
			},
		},
		{
			name:   "heading rotates the frame",
			yaw:    90,
			target: r2.Vec{Y: 10}, // dead ahead for a 90-degree heading
			check: func(t *testing.T, s float64) {
				if math.Abs(s) > 1e-9 {
					t.Errorf("steer = %v, want ~0", s)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, Steer(r2.Vec{}, tt.yaw, tt.target))
		})
	}
}

func TestSteerSymmetry(t *testing.T) {
	left := Steer(r2.Vec{}, 0, r2.Vec{X: 6, Y: 3})
	right := Steer(r2.Vec{}, 0, r2.Vec{X: 6, Y: -3})
	if math.Abs(left+right) > 1e-12 {
		t.Errorf("mirrored targets not symmetric: %v vs %v", left, right)
	}
}

func TestTrackerAdvancesAndLooksAhead(t *testing.T) {
	// 20 waypoints 1m apart along the x axis.
	var path []r2.Vec
	for i := 0; i < 20; i++ {
		path = append(path, r2.Vec{X: float64(i)})
	}
	tr := NewTracker(path)

	// From the origin, waypoints within the arrival radius are consumed and
	// the controller aims LookaheadOffset past the first live one.
	target, ok := tr.NextTarget(r2.Vec{})
	if !ok {
		t.Fatal("tracker exhausted immediately")
	}
	want := path[2+LookaheadOffset]
	if target != want {
		t.Errorf("target = %v, want %v", target, want)
	}

	// Drive down the path; near the end the lookahead saturates at the
	// final waypoint.
	for x := 1.0; x <= 17; x++ {
		target, ok = tr.NextTarget(r2.Vec{X: x})
		if !ok {
			t.Fatalf("tracker exhausted at x=%v", x)
		}
	}
	if target != path[len(path)-1] {
		t.Errorf("target near the end = %v, want final waypoint", target)
	}

	// Reaching the last waypoint consumes the path.
	if _, ok := tr.NextTarget(r2.Vec{X: 18}); ok {
		t.Error("tracker not exhausted at the goal")
	}
	if !tr.Done() {
		t.Error("Done() = false after exhaustion")
	}
}
