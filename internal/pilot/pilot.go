// Package pilot plans routes over the driving surface and tracks them with
// a pure-pursuit steering controller. It exists so a monitored vehicle can
// be driven deterministically during replay and bench runs; the violation
// detectors treat it as just another driver.
package pilot

import (
	"container/heap"
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/roadwatch/internal/geom"
)

const (
	// GridStep is the planner's neighbor expansion distance in metres.
	GridStep = 2.0

	// ArrivalRadius is how close a pose must be to a waypoint before the
	// tracker advances past it, and how close the planner must get to the
	// goal before it stops expanding.
	ArrivalRadius = 2.0

	// SteerGain scales pure-pursuit curvature into a steering command.
	SteerGain = 0.9

	// LookaheadOffset is how many waypoints past the nearest unvisited one
	// the controller aims at. Aiming ahead keeps the steering smooth
	// through closely spaced waypoints.
	LookaheadOffset = 5
)

// ErrNoRoute is returned when the planner exhausts the search space
// without reaching the goal.
var ErrNoRoute = errors.New("pilot: no route to goal")

// Passable reports whether the surface at p is drivable. The planner never
// expands nodes where this returns false.
type Passable func(p r2.Vec) bool

// node is one A* search state on the implicit grid.
type node struct {
	pos    r2.Vec
	cost   float64 // g: cost from start
	rank   float64 // f: g + heuristic
	parent *node
	index  int // heap bookkeeping
}

type nodeHeap []*node

func (h nodeHeap) Len() int           { return len(h) }
func (h nodeHeap) Less(i, j int) bool { return h[i].rank < h[j].rank }
func (h nodeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *nodeHeap) Push(x any)        { n := x.(*node); n.index = len(*h); *h = append(*h, n) }
func (h *nodeHeap) Pop() any {
	old := *h
	n := old[len(old)-1]
	old[len(old)-1] = nil
	*h = old[:len(old)-1]
	return n
}

// cellKey quantizes a position to the grid so revisits are detected.
func cellKey(p r2.Vec) [2]int {
	return [2]int{int(math.Round(p.X / GridStep)), int(math.Round(p.Y / GridStep))}
}

var neighborDirs = [8]r2.Vec{
	{X: 1}, {X: -1}, {Y: 1}, {Y: -1},
	{X: 1, Y: 1}, {X: 1, Y: -1}, {X: -1, Y: 1}, {X: -1, Y: -1},
}

// PlanRoute runs A* from start toward goal on an implicit grid with
// GridStep spacing, expanding only passable cells. The search stops once a
// node is within ArrivalRadius of the goal; the returned path runs from
// start to that node, with the exact goal appended.
func PlanRoute(start, goal r2.Vec, passable Passable) ([]r2.Vec, error) {
	if passable == nil {
		passable = func(r2.Vec) bool { return true }
	}
	if !passable(start) {
		return nil, ErrNoRoute
	}

	open := &nodeHeap{}
	heap.Init(open)
	startNode := &node{pos: start, rank: dist(start, goal)}
	heap.Push(open, startNode)

	visited := map[[2]int]bool{cellKey(start): true}

	// The search space is unbounded, so cap expansions rather than spin
	// forever on an unreachable goal.
	maxExpansions := 250000

	for open.Len() > 0 {
		cur := heap.Pop(open).(*node)

		if dist(cur.pos, goal) < ArrivalRadius {
			path := rebuild(cur)
			return append(path, goal), nil
		}

		maxExpansions--
		if maxExpansions <= 0 {
			break
		}

		for _, d := range neighborDirs {
			next := r2.Add(cur.pos, r2.Scale(GridStep, d))
			key := cellKey(next)
			if visited[key] || !passable(next) {
				continue
			}
			visited[key] = true
			g := cur.cost + dist(cur.pos, next)
			heap.Push(open, &node{
				pos:    next,
				cost:   g,
				rank:   g + dist(next, goal),
				parent: cur,
			})
		}
	}
	return nil, ErrNoRoute
}

func rebuild(n *node) []r2.Vec {
	var rev []r2.Vec
	for ; n != nil; n = n.parent {
		rev = append(rev, n.pos)
	}
	path := make([]r2.Vec, len(rev))
	for i := range rev {
		path[i] = rev[len(rev)-1-i]
	}
	return path
}

// SmoothPath resamples a path at a fixed step by linear interpolation,
// keeping the original endpoints. Planner output has GridStep spacing with
// diagonal jumps; resampling evens it out for the tracker.
func SmoothPath(path []r2.Vec, step float64) []r2.Vec {
	if len(path) < 2 || step <= 0 {
		return path
	}
	out := []r2.Vec{path[0]}
	for i := 1; i < len(path); i++ {
		seg := r2.Sub(path[i], path[i-1])
		length := r2.Norm(seg)
		for t := step; t < length; t += step {
			out = append(out, r2.Add(path[i-1], r2.Scale(t/length, seg)))
		}
		out = append(out, path[i])
	}
	return out
}

// Tracker follows a planned path with pure-pursuit steering.
type Tracker struct {
	path []r2.Vec
	next int
}

// NewTracker returns a tracker over the given waypoints.
func NewTracker(path []r2.Vec) *Tracker {
	return &Tracker{path: path}
}

// Done reports whether every waypoint has been consumed.
func (t *Tracker) Done() bool { return t.next >= len(t.path) }

// NextTarget advances past any waypoints within ArrivalRadius of pos and
// returns the lookahead waypoint to aim at. ok is false once the path is
// exhausted.
func (t *Tracker) NextTarget(pos r2.Vec) (target r2.Vec, ok bool) {
	for t.next < len(t.path) && dist(pos, t.path[t.next]) < ArrivalRadius {
		t.next++
	}
	if t.next >= len(t.path) {
		return r2.Vec{}, false
	}
	i := t.next + LookaheadOffset
	if i >= len(t.path) {
		i = len(t.path) - 1
	}
	return t.path[i], true
}

// Steer computes a pure-pursuit steering command in [-1, 1] for a vehicle
// at pos with heading yaw (degrees), aiming at target. A target at or
// behind the rear axle produces zero steer rather than a spin in place.
func Steer(pos r2.Vec, yawDegrees float64, target r2.Vec) float64 {
	yaw := yawDegrees * math.Pi / 180
	rel := r2.Sub(target, pos)

	// Rotate into the vehicle frame: x forward, y left.
	tx := rel.X*math.Cos(yaw) + rel.Y*math.Sin(yaw)
	ty := -rel.X*math.Sin(yaw) + rel.Y*math.Cos(yaw)

	if tx <= 0.1 {
		return 0
	}
	curvature := 2 * ty / (tx*tx + ty*ty)
	return clamp(SteerGain*curvature, -1, 1)
}

func dist(a, b r2.Vec) float64 { return r2.Norm(r2.Sub(b, a)) }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// FlattenLocation projects a world location onto the planning plane.
func FlattenLocation(l geom.Location) r2.Vec { return r2.Vec{X: l.X, Y: l.Y} }
