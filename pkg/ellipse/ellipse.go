// Package ellipse fits rotated ellipses to 2D point sets and provides the
// geometry helpers used to turn a fit into a measurement.
//
// Coordinates follow image conventions: X is the column, Y is the row and
// (0,0) is the center of the top-left pixel, so Y grows downwards.
//
// Angles follow one convention throughout the package. An angle θ in degrees
// names the direction (cos θ, −sin θ) in pixel coordinates, which is the
// direction the keypoint rotation matrix [[cos θ, sin θ], [−sin θ, cos θ]]
// maps the +X axis to.
package ellipse

import (
	"fmt"
	"math"
)

// Point is a 2D coordinate in pixel space.
type Point struct {
	X float64
	Y float64
}

// Box is the native output of a fit: a rotated bounding box of the ellipse.
//
// Width and Height are full axis lengths. The width axis points along
// AngleDeg, the height axis is perpendicular to it. Width is not guaranteed
// to be the longer axis; use Ellipse to get a normalised view.
type Box struct {
	Center   Point
	Width    float64
	Height   float64
	AngleDeg float64
}

// Ellipse is a fitted ellipse with its axes ordered by magnitude.
type Ellipse struct {
	// Center in pixel coordinates.
	Center Point

	// SemiMajor is always >= SemiMinor.
	SemiMajor float64
	SemiMinor float64

	// AngleRawDeg is the direction of the major axis in the fitter's
	// convention, wrapped to [0, 180).
	AngleRawDeg float64
}

// Ellipse normalises the box so that the major axis comes first. When the
// height axis is the longer one the axes are swapped and the angle is turned
// by 90 degrees, which describes the same ellipse.
func (b Box) Ellipse() Ellipse {
	major, minor := b.Width/2, b.Height/2
	angle := b.AngleDeg
	if major < minor {
		major, minor = minor, major
		angle += 90
	}

	return Ellipse{
		Center:      b.Center,
		SemiMajor:   major,
		SemiMinor:   minor,
		AngleRawDeg: wrapDegrees(angle),
	}
}

// Box returns the ellipse as a box with the major axis as width.
func (e Ellipse) Box() Box {
	return Box{
		Center:   e.Center,
		Width:    2 * e.SemiMajor,
		Height:   2 * e.SemiMinor,
		AngleDeg: e.AngleRawDeg,
	}
}

// AngleRad is the canonical angle of the major axis in [0, π).
func (e Ellipse) AngleRad() float64 {
	return CanonicalAngle(e.AngleRawDeg)
}

// Circumference of the ellipse in pixels.
func (e Ellipse) Circumference() float64 {
	return Circumference(e.SemiMajor, e.SemiMinor)
}

// Axes returns the unit directions of the major and minor axes.
func (e Ellipse) Axes() (major, minor Point) {
	rad := e.AngleRawDeg * math.Pi / 180
	sin, cos := math.Sincos(rad)
	return Point{X: cos, Y: -sin}, Point{X: sin, Y: cos}
}

// PointAt returns the point of the ellipse at parameter t (radians). t = 0
// is the positive end of the major axis.
func (e Ellipse) PointAt(t float64) Point {
	u, v := e.Axes()
	sin, cos := math.Sincos(t)
	return Point{
		X: e.Center.X + e.SemiMajor*cos*u.X + e.SemiMinor*sin*v.X,
		Y: e.Center.Y + e.SemiMajor*cos*u.Y + e.SemiMinor*sin*v.Y,
	}
}

// Sample returns n points evenly spaced in parameter around the ellipse.
func (e Ellipse) Sample(n int) []Point {
	points := make([]Point, n)
	for i := range points {
		points[i] = e.PointAt(2 * math.Pi * float64(i) / float64(n))
	}
	return points
}

// Contains reports whether p lies inside or on the ellipse.
func (e Ellipse) Contains(p Point) bool {
	if e.SemiMajor <= 0 || e.SemiMinor <= 0 {
		return false
	}
	u, v := e.Axes()
	dx, dy := p.X-e.Center.X, p.Y-e.Center.Y
	s := (dx*u.X + dy*u.Y) / e.SemiMajor
	r := (dx*v.X + dy*v.Y) / e.SemiMinor
	return s*s+r*r <= 1
}

func (e Ellipse) String() string {
	return fmt.Sprintf("ellipse(center=(%.2f, %.2f) axes=(%.2f, %.2f) angle=%.2f°)",
		e.Center.X, e.Center.Y, e.SemiMajor, e.SemiMinor, e.AngleRawDeg)
}

// CanonicalAngle folds a raw angle in degrees into [0, π) radians:
// (−deg·π/180) mod π.
func CanonicalAngle(deg float64) float64 {
	rad := math.Mod(-deg*math.Pi/180, math.Pi)
	if rad < 0 {
		rad += math.Pi
	}
	// math.Mod can land exactly on π after the shift for tiny negatives.
	if rad >= math.Pi {
		rad -= math.Pi
	}
	return rad
}

// Circumference approximates the perimeter of an ellipse with semi-axes a and
// b using Ramanujan's second formula:
//
//	h = (a−b)² / (a+b)²
//	C ≈ π(a+b)(1 + 3h / (10 + √(4−3h)))
func Circumference(a, b float64) float64 {
	sum := a + b
	if sum == 0 {
		return 0
	}
	h := (a - b) * (a - b) / (sum * sum)
	return math.Pi * sum * (1 + 3*h/(10+math.Sqrt(4-3*h)))
}

func wrapDegrees(deg float64) float64 {
	deg = math.Mod(deg, 180)
	if deg < 0 {
		deg += 180
	}
	if deg >= 180 {
		deg -= 180
	}
	return deg
}
