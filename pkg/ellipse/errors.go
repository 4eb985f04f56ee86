package ellipse

import "fmt"

// InsufficientPointsError is returned when a point set is too small for a
// determinate fit.
type InsufficientPointsError struct {
	Got  int
	Need int
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("ellipse fit needs at least %d points, got %d", e.Need, e.Got)
}

// DegenerateGeometryError is returned when the points do not determine an
// ellipse: collinear or coincident points, a rank-deficient system, or a
// conic that is not an ellipse.
type DegenerateGeometryError struct {
	Method Method
	Reason string
}

func (e *DegenerateGeometryError) Error() string {
	return fmt.Sprintf("degenerate geometry for %s fit: %s", e.Method, e.Reason)
}
