package violations

import (
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/roadwatch/internal/geom"
	"github.com/banshee-data/roadwatch/internal/monitoring"
)

// DefaultZoneRadius is the radius in metres of the spatial neighborhood
// recorded around a counted collision.
const DefaultZoneRadius = 2.0

// CollisionKind classifies the other actor in a collision.
type CollisionKind int

const (
	// CollisionStatic is contact with scenery: props, barriers, poles.
	CollisionStatic CollisionKind = iota
	// CollisionDynamic is contact with another vehicle or a walker.
	CollisionDynamic
)

func (k CollisionKind) String() string {
	if k == CollisionDynamic {
		return "dynamic"
	}
	return "static"
}

type zone struct {
	center    geom.Location
	createdAt time.Time
}

// ZoneTracker deduplicates bursty collision contacts into discrete
// incidents. Each counted incident records a zone around the vehicle's
// location; further contacts while the vehicle remains inside any zone are
// absorbed as duplicates of the same physical incident. Zones are pruned as
// the vehicle departs, so a later return to the same spot counts as a new
// incident.
type ZoneTracker struct {
	mu     sync.Mutex
	radius float64
	zones  []zone
	counts CollisionCounts
}

// NewZoneTracker returns a tracker with the given zone radius; radius <= 0
// falls back to DefaultZoneRadius.
func NewZoneTracker(radius float64) *ZoneTracker {
	if radius <= 0 {
		radius = DefaultZoneRadius
	}
	return &ZoneTracker{radius: radius}
}

// OnCollision registers a contact with another actor while the vehicle is
// at vehicleLoc. It returns the classification and true when a new incident
// was counted, or false when the contact was absorbed by an existing zone.
func (t *ZoneTracker) OnCollision(otherTypeID string, vehicleLoc geom.Location, now time.Time) (CollisionKind, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Drop stale zones first so a contact at a revisited spot is judged
	// against live zones only.
	t.pruneLocked(vehicleLoc)

	for _, z := range t.zones {
		if geom.GroundDistance(vehicleLoc, z.center) < t.radius {
			return 0, false
		}
	}

	kind := classifyActor(otherTypeID)
	if kind == CollisionDynamic {
		t.counts.Dynamic++
	} else {
		t.counts.Static++
	}
	t.zones = append(t.zones, zone{center: vehicleLoc, createdAt: now})
	monitoring.Logf("collision: %s contact with %s at (%.1f, %.1f)", kind, otherTypeID, vehicleLoc.X, vehicleLoc.Y)
	return kind, true
}

// Prune drops every zone whose ground distance to the vehicle's current
// location is at least the zone radius. Called every control-loop tick, not
// only on collision, so departing the scene of an incident re-arms it.
func (t *ZoneTracker) Prune(current geom.Location) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(current)
}

func (t *ZoneTracker) pruneLocked(current geom.Location) {
	kept := t.zones[:0]
	for _, z := range t.zones {
		if geom.GroundDistance(current, z.center) < t.radius {
			kept = append(kept, z)
		}
	}
	t.zones = kept
}

// Counts returns a snapshot of the per-category collision counters.
func (t *ZoneTracker) Counts() CollisionCounts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts
}

// ActiveZones reports how many zones are currently live.
func (t *ZoneTracker) ActiveZones() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.zones)
}

func classifyActor(typeID string) CollisionKind {
	tag := strings.ToLower(typeID)
	if strings.Contains(tag, "vehicle") || strings.Contains(tag, "walker") {
		return CollisionDynamic
	}
	return CollisionStatic
}
