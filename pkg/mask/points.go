package mask

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"fetalhc/pkg/config"
	"fetalhc/pkg/ellipse"
)

const (
	// MaskThreshold separates foreground in a normalized prediction.
	MaskThreshold = 0.5

	// AnnotationThreshold separates foreground in an 8-bit annotation.
	AnnotationThreshold = 127
)

// Extraction selects how a mask is turned into points.
type Extraction int

const (
	// Boundary emits the sub-pixel crossings between foreground and
	// background along rows and columns. Works for outlines and filled
	// regions alike.
	Boundary Extraction = iota

	// Foreground emits the center of every pixel above the threshold.
	Foreground
)

func (e Extraction) String() string {
	switch e {
	case Boundary:
		return "boundary"
	case Foreground:
		return "foreground"
	default:
		return fmt.Sprintf("Extraction(%d)", int(e))
	}
}

// ParseExtraction parses an extraction name, ignoring case.
func ParseExtraction(name string) (Extraction, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "boundary", "":
		return Boundary, nil
	case "foreground":
		return Foreground, nil
	default:
		return Boundary, fmt.Errorf("unknown point extraction %q", name)
	}
}

// ForegroundPoints returns the center of each pixel whose value exceeds
// threshold, in row-major order.
func ForegroundPoints(m *Mask, threshold float64) []ellipse.Point {
	var points []ellipse.Point
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if m.Pix[y*m.Width+x] > threshold {
				points = append(points, ellipse.Point{X: float64(x), Y: float64(y)})
			}
		}
	}
	return points
}

// BoundaryPoints returns the points where the mask crosses threshold between
// horizontally or vertically adjacent pixels. The crossing is placed by
// linear interpolation between the two pixel centers, so a binary mask gives
// the midpoints of the pixel edges separating foreground from background.
// Pixels outside the mask count as background.
func BoundaryPoints(m *Mask, threshold float64) []ellipse.Point {
	var points []ellipse.Point
	for y := 0; y < m.Height; y++ {
		for x := -1; x < m.Width; x++ {
			a, b := m.At(x, y), m.At(x+1, y)
			if (a > threshold) != (b > threshold) {
				points = append(points, ellipse.Point{X: float64(x) + crossing(a, b, threshold), Y: float64(y)})
			}
		}
	}
	for x := 0; x < m.Width; x++ {
		for y := -1; y < m.Height; y++ {
			a, b := m.At(x, y), m.At(x, y+1)
			if (a > threshold) != (b > threshold) {
				points = append(points, ellipse.Point{X: float64(x), Y: float64(y) + crossing(a, b, threshold)})
			}
		}
	}
	return points
}

func crossing(a, b, threshold float64) float64 {
	if a == b {
		return 0.5
	}
	t := (threshold - a) / (b - a)
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

// Options configures how masks are fitted.
type Options struct {
	Method              ellipse.Method
	Extraction          Extraction
	MaskThreshold       float64
	AnnotationThreshold float64
}

// DefaultOptions fits with the Direct method on boundary points.
func DefaultOptions() Options {
	return Options{
		Method:              ellipse.Direct,
		Extraction:          Boundary,
		MaskThreshold:       MaskThreshold,
		AnnotationThreshold: AnnotationThreshold,
	}
}

// NewOptions builds fitting options from configuration.
func NewOptions(cfg config.EllipseConfig) (Options, error) {
	method, err := ellipse.ParseMethod(cfg.Method)
	if err != nil {
		return Options{}, err
	}
	extraction, err := ParseExtraction(cfg.Points)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Method:              method,
		Extraction:          extraction,
		MaskThreshold:       cfg.MaskThreshold,
		AnnotationThreshold: cfg.AnnotationThreshold,
	}, nil
}

// Points extracts the point set of m at threshold.
func (o Options) Points(m *Mask, threshold float64) []ellipse.Point {
	if o.Extraction == Foreground {
		return ForegroundPoints(m, threshold)
	}
	return BoundaryPoints(m, threshold)
}

// FitMask fits a prediction mask. The mask must be normalized to [0,1].
func (o Options) FitMask(m *Mask) (ellipse.Box, error) {
	if !m.IsNormalized() {
		min, max := m.Bounds()
		return ellipse.Box{}, errors.Wrapf(ErrNotNormalized, "range [%g, %g]", min, max)
	}
	return ellipse.Fit(o.Points(m, o.MaskThreshold), o.Method)
}

// FitAnnotation fits an 8-bit annotation image.
func (o Options) FitAnnotation(m *Mask) (ellipse.Box, error) {
	return ellipse.Fit(o.Points(m, o.AnnotationThreshold), o.Method)
}
