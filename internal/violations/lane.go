package violations

import (
	"sync"
	"time"

	"github.com/banshee-data/roadwatch/internal/monitoring"
	"github.com/banshee-data/roadwatch/internal/sim"
)

// DefaultJunctionWindow is how long after junction transit a lane crossing
// is still treated as a legitimate turn rather than a violation.
const DefaultJunctionWindow = 5 * time.Second

// LaneCategory identifies which lane violation counter an event hits.
type LaneCategory int

const (
	LaneDoubleSolid LaneCategory = iota
	LaneSolid
	LaneDashed
)

func (c LaneCategory) String() string {
	switch c {
	case LaneDoubleSolid:
		return "illegal_double_solid_cross"
	case LaneSolid:
		return "illegal_solid_cross"
	default:
		return "unjustified_dashed_cross"
	}
}

// LaneClassifier turns lane-invasion events into per-category violation
// counts, suppressing crossings that happen within the junction window of a
// junction transit. The suppression is a two-state debounce: re-armed
// continuously while the vehicle sits inside a junction footprint, expiring
// DefaultJunctionWindow after it leaves.
type LaneClassifier struct {
	mu           sync.Mutex
	window       time.Duration
	lastJunction time.Time
	counts       LaneCounts
}

// NewLaneClassifier returns a classifier with the given suppression window;
// window <= 0 falls back to DefaultJunctionWindow.
func NewLaneClassifier(window time.Duration) *LaneClassifier {
	if window <= 0 {
		window = DefaultJunctionWindow
	}
	return &LaneClassifier{window: window}
}

// ObserveJunction records that the vehicle was inside a junction footprint
// at now. Called from the control loop on every tick where the map flags
// the vehicle's road position as a junction.
func (c *LaneClassifier) ObserveJunction(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastJunction = now
}

// OnCrossing classifies a lane-invasion event delivered at now. It returns
// the counted category and true, or false when the event was suppressed by
// the junction window or carried no rateable marking. Only the
// highest-severity marking present is counted: double solid over solid over
// broken.
func (c *LaneClassifier) OnCrossing(markings []sim.LaneMarkingType, now time.Time) (LaneCategory, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastJunction.IsZero() && now.Sub(c.lastJunction) < c.window {
		return 0, false
	}

	var hasDouble, hasSolid, hasBroken bool
	for _, m := range markings {
		switch m {
		case sim.MarkingSolidSolid:
			hasDouble = true
		case sim.MarkingSolid:
			hasSolid = true
		case sim.MarkingBroken:
			hasBroken = true
		}
	}

	var cat LaneCategory
	switch {
	case hasDouble:
		c.counts.DoubleSolid++
		cat = LaneDoubleSolid
	case hasSolid:
		c.counts.Solid++
		cat = LaneSolid
	case hasBroken:
		c.counts.Dashed++
		cat = LaneDashed
	default:
		return 0, false
	}
	monitoring.Logf("lane: %s", cat)
	return cat, true
}

// Counts returns a snapshot of the per-category lane counters.
func (c *LaneClassifier) Counts() LaneCounts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts
}
