// Package geom provides the geometry primitives exchanged with the
// simulator: locations, vectors, degree-based rotations, transforms and
// axis-aligned trigger boxes.
package geom

import "math"

// Location is a point in world space, metres.
type Location struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Vector is a direction or velocity in world space.
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Length returns the Euclidean magnitude of v.
func (v Vector) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Dot returns the dot product of v and o.
func (v Vector) Dot(o Vector) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

// Sub returns the vector from o to l.
func (l Location) Sub(o Location) Vector {
	return Vector{X: l.X - o.X, Y: l.Y - o.Y, Z: l.Z - o.Z}
}

// Distance returns the 3-D Euclidean distance between a and b.
func Distance(a, b Location) float64 {
	return a.Sub(b).Length()
}

// GroundDistance returns the 2-D (x,y) Euclidean distance between a and b.
// Height is ignored: collision zones describe the ground footprint of an
// incident, not its elevation.
func GroundDistance(a, b Location) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Rotation is an orientation in degrees, simulator convention
// (pitch about Y, yaw about Z, roll about X).
type Rotation struct {
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
	Roll  float64 `json:"roll"`
}

// Forward returns the unit vector the rotation faces.
func (r Rotation) Forward() Vector {
	cp := math.Cos(rad(r.Pitch))
	sp := math.Sin(rad(r.Pitch))
	cy := math.Cos(rad(r.Yaw))
	sy := math.Sin(rad(r.Yaw))
	return Vector{X: cp * cy, Y: cp * sy, Z: sp}
}

// Transform is a pose: a location plus an orientation.
type Transform struct {
	Location Location `json:"location"`
	Rotation Rotation `json:"rotation"`
}

// Apply transforms a local-space point into world space by rotating it
// (yaw, then pitch, then roll) and translating by the transform location.
func (t Transform) Apply(p Location) Location {
	cy, sy := math.Cos(rad(t.Rotation.Yaw)), math.Sin(rad(t.Rotation.Yaw))
	cp, sp := math.Cos(rad(t.Rotation.Pitch)), math.Sin(rad(t.Rotation.Pitch))
	cr, sr := math.Cos(rad(t.Rotation.Roll)), math.Sin(rad(t.Rotation.Roll))

	// Rz(yaw) * Ry(pitch) * Rx(roll)
	x := p.X*(cp*cy) + p.Y*(cy*sp*sr-sy*cr) + p.Z*(-cy*sp*cr-sy*sr)
	y := p.X*(cp*sy) + p.Y*(sy*sp*sr+cy*cr) + p.Z*(-sy*sp*cr+cy*sr)
	z := p.X*sp + p.Y*(-cp*sr) + p.Z*(cp*cr)

	return Location{
		X: x + t.Location.X,
		Y: y + t.Location.Y,
		Z: z + t.Location.Z,
	}
}

// Box is an axis-aligned bounding box in the owner's local space: a centre
// offset plus half-extents along each axis.
type Box struct {
	Center Location `json:"center"`
	Extent Vector   `json:"extent"`
}

// ContainsWorld reports whether the world-space point p lies inside the box
// once the box centre is carried into world space by owner. The containment
// test stays axis-aligned after the transform, matching the simulator's
// trigger-volume semantics.
func (b Box) ContainsWorld(owner Transform, p Location) bool {
	c := owner.Apply(b.Center)
	return math.Abs(c.X-p.X) <= b.Extent.X &&
		math.Abs(c.Y-p.Y) <= b.Extent.Y &&
		math.Abs(c.Z-p.Z) <= b.Extent.Z
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }
