// Package keypoints derives the five ellipse landmarks used as an
// alternative training target to full masks.
package keypoints

import (
	"math"
	"strconv"

	"fetalhc/internal/models"
	"fetalhc/pkg/ellipse"
)

// Count is the number of keypoints per ellipse.
const Count = len(models.KeypointSet{})

// Rotate turns p about center by deg degrees with the matrix
// [[cos θ, sin θ], [−sin θ, cos θ]].
func Rotate(p, center ellipse.Point, deg float64) ellipse.Point {
	sin, cos := math.Sincos(deg * math.Pi / 180)
	dx, dy := p.X-center.X, p.Y-center.Y
	return ellipse.Point{
		X: center.X + cos*dx + sin*dy,
		Y: center.Y - sin*dx + cos*dy,
	}
}

// Points returns the unrounded landmarks of e: the center, then the
// positive major end, positive minor end, negative major end and negative
// minor end, each rotated about the center by the raw fitter angle.
func Points(e ellipse.Ellipse) [5]ellipse.Point {
	c := e.Center
	offsets := [4]ellipse.Point{
		{X: e.SemiMajor},
		{Y: e.SemiMinor},
		{X: -e.SemiMajor},
		{Y: -e.SemiMinor},
	}

	points := [5]ellipse.Point{c}
	for i, o := range offsets {
		points[i+1] = Rotate(ellipse.Point{X: c.X + o.X, Y: c.Y + o.Y}, c, e.AngleRawDeg)
	}
	return points
}

// Derive returns the landmarks of e rounded to whole pixels. Rounding is
// half away from zero on the absolute coordinate.
func Derive(e ellipse.Ellipse) models.KeypointSet {
	var set models.KeypointSet
	for i, p := range Points(e) {
		set[i] = models.Keypoint{X: int(math.Round(p.X)), Y: int(math.Round(p.Y))}
	}
	return set
}

// Columns lists the keypoint table columns x0, y0 … x4, y4.
func Columns() []string {
	cols := make([]string, 0, 2*Count)
	for i := 0; i < Count; i++ {
		n := strconv.Itoa(i)
		cols = append(cols, "x"+n, "y"+n)
	}
	return cols
}
