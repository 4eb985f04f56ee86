// Package visualization draws fitted ellipses and keypoints over ultrasound
// images for visual inspection of annotations and predictions.
package visualization

import (
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"fetalhc/internal/models"
	"fetalhc/pkg/ellipse"
	"fetalhc/pkg/mask"
)

var (
	// EllipseColor is the outline color of fitted ellipses.
	EllipseColor = color.NRGBA{R: 251, G: 189, B: 5, A: 255}

	// KeypointColor marks the five landmarks.
	KeypointColor = color.NRGBA{R: 220, G: 20, B: 60, A: 255}
)

// Viewer draws on a private copy of an image.
type Viewer struct {
	canvas *image.NRGBA

	// Thickness is the outline width in pixels.
	Thickness int
}

// NewViewer creates a viewer over a copy of img. The source image is never
// modified.
func NewViewer(img image.Image) *Viewer {
	return &Viewer{
		canvas:    imaging.Clone(img),
		Thickness: 2,
	}
}

// Image returns the canvas.
func (v *Viewer) Image() *image.NRGBA {
	return v.canvas
}

// DrawEllipse draws the outline of e.
func (v *Viewer) DrawEllipse(e ellipse.Ellipse) {
	// Two samples per pixel of circumference keep the outline closed.
	n := int(math.Ceil(2*e.Circumference())) + 8
	for _, p := range e.Sample(n) {
		v.dot(p.X, p.Y, v.Thickness, EllipseColor)
	}
}

// DrawKeypoints marks each landmark with a square.
func (v *Viewer) DrawKeypoints(kp models.KeypointSet) {
	for _, p := range kp {
		v.dot(float64(p.X), float64(p.Y), 2*v.Thickness+1, KeypointColor)
	}
}

// DrawPrediction fits a normalized prediction mask and draws the result.
func (v *Viewer) DrawPrediction(m *mask.Mask, opts mask.Options) (ellipse.Ellipse, error) {
	box, err := opts.FitMask(m)
	if err != nil {
		return ellipse.Ellipse{}, err
	}
	e := box.Ellipse()
	v.DrawEllipse(e)
	return e, nil
}

// Save writes the canvas; the format follows the file extension.
func (v *Viewer) Save(filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	return imaging.Save(v.canvas, filename)
}

// SaveSequence renders the ellipse and keypoints of every record over its
// image from imageDir and writes <base>_Overlay.png files to outputDir.
func SaveSequence(records []models.MeasurementRecord, imageDir, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for _, rec := range records {
		img, err := imaging.Open(filepath.Join(imageDir, rec.Filename))
		if err != nil {
			return errors.Wrapf(err, "failed to open image %s", rec.Filename)
		}

		v := NewViewer(img)
		v.DrawEllipse(rec.Ellipse)
		if rec.Keypoints != nil {
			v.DrawKeypoints(*rec.Keypoints)
		}
		if err := v.Save(OverlayPath(outputDir, rec.Filename)); err != nil {
			return errors.Wrapf(err, "failed to save overlay for %s", rec.Filename)
		}
	}
	return nil
}

// OverlayPath maps an image name to its overlay file.
func OverlayPath(dir, filename string) string {
	ext := filepath.Ext(filename)
	return filepath.Join(dir, strings.TrimSuffix(filename, ext)+"_Overlay.png")
}

// dot fills a size×size square centered on (x, y), clipped to the canvas.
func (v *Viewer) dot(x, y float64, size int, c color.NRGBA) {
	if size < 1 {
		size = 1
	}
	b := v.canvas.Bounds()
	x0 := int(math.Round(x)) - (size-1)/2
	y0 := int(math.Round(y)) - (size-1)/2
	for py := y0; py < y0+size; py++ {
		for px := x0; px < x0+size; px++ {
			if image.Pt(px, py).In(b) {
				v.canvas.SetNRGBA(px, py, c)
			}
		}
	}
}
