package mask

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fetalhc/pkg/config"
	"fetalhc/pkg/ellipse"
)

var testEllipse = ellipse.Ellipse{
	Center:      ellipse.Point{X: 40, Y: 30},
	SemiMajor:   20,
	SemiMinor:   10,
	AngleRawDeg: 30,
}

func TestBoundaryPointsSinglePixel(t *testing.T) {
	m := New(3, 3)
	m.Set(1, 1, 1)

	points := BoundaryPoints(m, MaskThreshold)
	assert.ElementsMatch(t, []ellipse.Point{
		{X: 0.5, Y: 1}, {X: 1.5, Y: 1},
		{X: 1, Y: 0.5}, {X: 1, Y: 1.5},
	}, points)
}

func TestBoundaryPointsAtImageEdge(t *testing.T) {
	m := New(1, 1)
	m.Set(0, 0, 1)

	points := BoundaryPoints(m, MaskThreshold)
	assert.ElementsMatch(t, []ellipse.Point{
		{X: -0.5, Y: 0}, {X: 0.5, Y: 0},
		{X: 0, Y: -0.5}, {X: 0, Y: 0.5},
	}, points)
}

func TestBoundaryPointsInterpolate(t *testing.T) {
	m := New(2, 1)
	m.Set(0, 0, 1)
	m.Set(1, 0, 0.25)

	// 1 -> 0.25 crosses 0.5 two thirds of the way.
	points := BoundaryPoints(m, MaskThreshold)
	require.Len(t, points, 4)
	assert.InDelta(t, -0.5, points[0].X, 1e-12)
	assert.InDelta(t, 2.0/3.0, points[1].X, 1e-12)
}

func TestForegroundPoints(t *testing.T) {
	m := New(4, 2)
	m.Set(1, 0, 0.9)
	m.Set(3, 1, 0.6)
	m.Set(2, 1, 0.5)

	assert.Equal(t, []ellipse.Point{{X: 1, Y: 0}, {X: 3, Y: 1}}, ForegroundPoints(m, MaskThreshold))
}

func TestFitAnnotationRecoversEllipse(t *testing.T) {
	anno := Rasterize(testEllipse, 80, 60)
	for i := range anno.Pix {
		anno.Pix[i] *= 255
	}

	for _, extraction := range []Extraction{Boundary, Foreground} {
		opts := DefaultOptions()
		opts.Extraction = extraction

		box, err := opts.FitAnnotation(anno)
		require.NoError(t, err)
		e := box.Ellipse()

		assert.InDelta(t, 40, e.Center.X, 0.3, extraction.String())
		assert.InDelta(t, 30, e.Center.Y, 0.3, extraction.String())
		assert.InDelta(t, 30, e.AngleRawDeg, 3, extraction.String())
	}

	box, err := DefaultOptions().FitAnnotation(anno)
	require.NoError(t, err)
	e := box.Ellipse()
	assert.InDelta(t, 20, e.SemiMajor, 0.5)
	assert.InDelta(t, 10, e.SemiMinor, 0.5)
}

func TestFitMaskRequiresNormalizedValues(t *testing.T) {
	m := Rasterize(testEllipse, 80, 60)

	box, err := DefaultOptions().FitMask(m)
	require.NoError(t, err)
	assert.InDelta(t, 20, box.Ellipse().SemiMajor, 0.5)

	m.Set(0, 0, 255)
	_, err = DefaultOptions().FitMask(m)
	assert.True(t, errors.Is(err, ErrNotNormalized))
}

func TestFitEmptyMask(t *testing.T) {
	_, err := DefaultOptions().FitMask(New(10, 10))

	var ierr *ellipse.InsufficientPointsError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, 0, ierr.Got)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000_HC_Annotation.png")

	m := Rasterize(testEllipse, 80, 60)
	require.NoError(t, m.Save(path))

	raw, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 80, raw.Width)
	assert.Equal(t, 60, raw.Height)
	min, max := raw.Bounds()
	assert.Equal(t, 0.0, min)
	assert.Equal(t, 255.0, max)

	norm, err := LoadNormalized(path)
	require.NoError(t, err)
	assert.Equal(t, m.Pix, norm.Pix)

	_, err = Load(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func TestFromImageOffsetBounds(t *testing.T) {
	img := image.NewGray(image.Rect(5, 5, 8, 7))
	img.SetGray(6, 6, color.Gray{Y: 200})

	m := FromImage(img)
	assert.Equal(t, 3, m.Width)
	assert.Equal(t, 2, m.Height)
	assert.Equal(t, 200.0, m.At(1, 1))
	assert.Equal(t, 0.0, m.At(0, 0))
	assert.Equal(t, 0.0, m.At(-1, 0))
}

func TestNewOptions(t *testing.T) {
	opts, err := NewOptions(config.EllipseConfig{Method: "ams", Points: "Foreground", MaskThreshold: 0.4, AnnotationThreshold: 100})
	require.NoError(t, err)
	assert.Equal(t, ellipse.AMS, opts.Method)
	assert.Equal(t, Foreground, opts.Extraction)
	assert.Equal(t, 0.4, opts.MaskThreshold)

	_, err = NewOptions(config.EllipseConfig{Method: "hough"})
	assert.Error(t, err)
	_, err = NewOptions(config.EllipseConfig{Points: "skeleton"})
	assert.Error(t, err)
}
