// Package calibration converts pixel-space ellipses into physical
// measurements and checks them against reference circumferences.
package calibration

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"fetalhc/internal/models"
	"fetalhc/pkg/ellipse"
)

// DefaultTolerance is the largest accepted circumference difference in mm.
const DefaultTolerance = 0.1

// ErrInvalidFactor is returned for a calibration factor that is not a
// positive finite number.
var ErrInvalidFactor = errors.New("calibration factor must be positive and finite")

// Factor is a pixel size in millimeters per pixel.
type Factor float64

// Validate reports ErrInvalidFactor for non-positive or non-finite factors.
func (f Factor) Validate() error {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return errors.Wrapf(ErrInvalidFactor, "got %g", v)
	}
	return nil
}

// Scaled returns the factor for a mask resized from referenceHeight rows to
// height rows.
func (f Factor) Scaled(referenceHeight, height int) Factor {
	return f * Factor(referenceHeight) / Factor(height)
}

// ToPhysical scales the center and both semi-axes of e by f. The angle is
// not scaled but folded into its canonical form.
func ToPhysical(e ellipse.Ellipse, f Factor) (models.Measurement, error) {
	if err := f.Validate(); err != nil {
		return models.Measurement{}, err
	}
	return measure(e, float64(f)), nil
}

// ToPixel returns the measurement of e in pixel units.
func ToPixel(e ellipse.Ellipse) models.Measurement {
	return measure(e, 1)
}

func measure(e ellipse.Ellipse, f float64) models.Measurement {
	a, b := f*e.SemiMajor, f*e.SemiMinor
	return models.Measurement{
		CenterX:       f * e.Center.X,
		CenterY:       f * e.Center.Y,
		SemiAxisA:     a,
		SemiAxisB:     b,
		AngleRad:      CanonicalAngle(e.AngleRawDeg),
		Circumference: ellipse.Circumference(a, b),
	}
}

// CanonicalAngle maps a raw fitter angle in degrees to [0, π) radians.
func CanonicalAngle(deg float64) float64 {
	return ellipse.CanonicalAngle(deg)
}

// ConsistencyCheckFailedError reports a fitted circumference that disagrees
// with the reference value of a record.
type ConsistencyCheckFailedError struct {
	Filename  string
	Measured  float64
	Reference float64
	Tolerance float64
}

func (e *ConsistencyCheckFailedError) Error() string {
	return fmt.Sprintf("%s: circumference %.4f mm differs from reference %.4f mm by %.4f mm (tolerance %.4f mm)",
		e.Filename, e.Measured, e.Reference, math.Abs(e.Measured-e.Reference), e.Tolerance)
}

// CheckConsistency fails unless |measured − reference| < tolerance.
// NaN on either side always fails.
func CheckConsistency(filename string, measured, reference, tolerance float64) error {
	if !(math.Abs(measured-reference) < tolerance) {
		return &ConsistencyCheckFailedError{
			Filename:  filename,
			Measured:  measured,
			Reference: reference,
			Tolerance: tolerance,
		}
	}
	return nil
}
