// Package mask holds segmentation masks and annotation images and turns them
// into point sets for ellipse fitting.
package mask

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"fetalhc/pkg/ellipse"
)

// ErrNotNormalized is returned when a prediction mask has values outside [0,1].
var ErrNotNormalized = errors.New("mask values must lie in [0,1]")

// Mask is a 2D grid of intensities stored row-major. Predicted masks hold
// probabilities in [0,1], annotation images keep their raw 8-bit values.
type Mask struct {
	Width  int
	Height int
	Pix    []float64
}

// New creates a zero mask of the given size.
func New(width, height int) *Mask {
	return &Mask{
		Width:  width,
		Height: height,
		Pix:    make([]float64, width*height),
	}
}

// At returns the value at column x, row y. Pixels outside the mask read as 0.
func (m *Mask) At(x, y int) float64 {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return 0
	}
	return m.Pix[y*m.Width+x]
}

// Set stores v at column x, row y.
func (m *Mask) Set(x, y int, v float64) {
	m.Pix[y*m.Width+x] = v
}

// Bounds returns the min and max value of the mask.
func (m *Mask) Bounds() (min, max float64) {
	if len(m.Pix) == 0 {
		return 0, 0
	}
	min, max = m.Pix[0], m.Pix[0]
	for _, v := range m.Pix[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// IsNormalized reports whether every value lies in [0,1].
func (m *Mask) IsNormalized() bool {
	min, max := m.Bounds()
	return min >= 0 && max <= 1
}

// Normalized returns a copy with values divided by 255.
func (m *Mask) Normalized() *Mask {
	out := New(m.Width, m.Height)
	for i, v := range m.Pix {
		out.Pix[i] = v / 255
	}
	return out
}

// FromImage converts an image to a mask of 8-bit gray levels (0..255).
func FromImage(img image.Image) *Mask {
	gray := imaging.Grayscale(img)
	b := gray.Bounds()
	m := New(b.Dx(), b.Dy())
	for y := 0; y < m.Height; y++ {
		row := gray.Pix[y*gray.Stride:]
		for x := 0; x < m.Width; x++ {
			m.Pix[y*m.Width+x] = float64(row[x*4])
		}
	}
	return m
}

// Load reads an image file as an 8-bit mask.
func Load(path string) (*Mask, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load mask %s", path)
	}
	return FromImage(img), nil
}

// LoadNormalized reads an image file and scales it to [0,1].
func LoadNormalized(path string) (*Mask, error) {
	m, err := Load(path)
	if err != nil {
		return nil, err
	}
	return m.Normalized(), nil
}

// Image renders the mask as an 8-bit gray image. Normalized masks are
// scaled by 255, others are clamped to 0..255.
func (m *Mask) Image() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	scale := 1.0
	if _, max := m.Bounds(); max <= 1 {
		scale = 255
	}
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			v := math.Round(m.Pix[y*m.Width+x] * scale)
			v = math.Max(0, math.Min(255, v))
			img.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	return img
}

// Save writes the mask as an image; the format follows the file extension.
// Missing parent directories are created.
func (m *Mask) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", path)
	}
	if err := imaging.Save(m.Image(), path); err != nil {
		return errors.Wrapf(err, "failed to save mask %s", path)
	}
	return nil
}

// Rasterize renders a filled ellipse: pixels whose center lies inside the
// ellipse are set to 1.
func Rasterize(e ellipse.Ellipse, width, height int) *Mask {
	m := New(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if e.Contains(ellipse.Point{X: float64(x), Y: float64(y)}) {
				m.Pix[y*width+x] = 1
			}
		}
	}
	return m
}

func (m *Mask) String() string {
	return fmt.Sprintf("mask(%dx%d)", m.Width, m.Height)
}
