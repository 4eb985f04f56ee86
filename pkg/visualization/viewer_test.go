package visualization

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"fetalhc/internal/models"
	"fetalhc/pkg/ellipse"
	"fetalhc/pkg/keypoints"
	"fetalhc/pkg/mask"
)

// createTestImage creates a uniform gray test image
func createTestImage(width, height int) image.Image {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetGray(x, y, color.Gray{Y: 40})
		}
	}
	return img
}

var testEllipse = ellipse.Ellipse{
	Center:      ellipse.Point{X: 50, Y: 40},
	SemiMajor:   30,
	SemiMinor:   20,
	AngleRawDeg: 30,
}

// TestNewViewerCopiesImage verifies that drawing never touches the source
func TestNewViewerCopiesImage(t *testing.T) {
	src := createTestImage(100, 80)
	viewer := NewViewer(src)
	viewer.DrawEllipse(testEllipse)

	if got := src.At(80, 40); got != (color.Gray{Y: 40}) {
		t.Errorf("Source image was modified: %v", got)
	}

	bounds := viewer.Image().Bounds()
	if bounds.Dx() != 100 || bounds.Dy() != 80 {
		t.Errorf("Expected canvas 100x80, got %dx%d", bounds.Dx(), bounds.Dy())
	}
}

// TestDrawEllipse verifies that the outline lies on the ellipse
func TestDrawEllipse(t *testing.T) {
	viewer := NewViewer(createTestImage(100, 80))
	viewer.DrawEllipse(testEllipse)
	canvas := viewer.Image()

	for _, p := range testEllipse.Sample(24) {
		x, y := int(p.X+0.5), int(p.Y+0.5)
		found := false
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if canvas.NRGBAAt(x+dx, y+dy) == EllipseColor {
					found = true
				}
			}
		}
		if !found {
			t.Errorf("Expected outline color near (%d,%d)", x, y)
		}
	}

	c := testEllipse.Center
	if got := canvas.NRGBAAt(int(c.X), int(c.Y)); got == EllipseColor {
		t.Errorf("Center should not be part of the outline")
	}
}

// TestDrawKeypoints verifies that every landmark is marked
func TestDrawKeypoints(t *testing.T) {
	viewer := NewViewer(createTestImage(100, 80))
	kp := keypoints.Derive(testEllipse)
	viewer.DrawKeypoints(kp)

	for i, p := range kp {
		if got := viewer.Image().NRGBAAt(p.X, p.Y); got != KeypointColor {
			t.Errorf("Keypoint %d at (%d,%d) not marked: %v", i, p.X, p.Y, got)
		}
	}
}

// TestDrawClipsToCanvas verifies that ellipses outside the image are safe
func TestDrawClipsToCanvas(t *testing.T) {
	viewer := NewViewer(createTestImage(20, 20))
	viewer.DrawEllipse(ellipse.Ellipse{Center: ellipse.Point{X: 10, Y: 10}, SemiMajor: 50, SemiMinor: 40})
	viewer.DrawKeypoints(models.KeypointSet{{X: -5, Y: -5}, {X: 100, Y: 100}})
}

// TestDrawPrediction verifies that a prediction is fitted before drawing
func TestDrawPrediction(t *testing.T) {
	viewer := NewViewer(createTestImage(100, 80))

	e, err := viewer.DrawPrediction(mask.Rasterize(testEllipse, 100, 80), mask.DefaultOptions())
	if err != nil {
		t.Fatalf("DrawPrediction failed: %v", err)
	}
	if e.SemiMajor < 29 || e.SemiMajor > 31 {
		t.Errorf("Expected semi-major ~30, got %f", e.SemiMajor)
	}

	if _, err := viewer.DrawPrediction(mask.New(100, 80), mask.DefaultOptions()); err == nil {
		t.Error("Expected error for empty prediction, got nil")
	}
}

// TestSaveSequence verifies that overlays are written for every record
func TestSaveSequence(t *testing.T) {
	// Skip this test in short mode
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	tempDir := t.TempDir()
	imageDir := filepath.Join(tempDir, "images")
	outputDir := filepath.Join(tempDir, "overlays")

	names := []string{"000_HC.png", "001_HC.png"}
	var records []models.MeasurementRecord
	for i, name := range names {
		if err := NewViewer(createTestImage(100, 80)).Save(filepath.Join(imageDir, name)); err != nil {
			t.Fatalf("Failed to write image: %v", err)
		}
		kp := keypoints.Derive(testEllipse)
		records = append(records, models.MeasurementRecord{Index: i, Filename: name, Ellipse: testEllipse, Keypoints: &kp})
	}

	if err := SaveSequence(records, imageDir, outputDir); err != nil {
		t.Fatalf("Failed to save sequence: %v", err)
	}

	for _, name := range names {
		filename := OverlayPath(outputDir, name)
		if _, err := os.Stat(filename); os.IsNotExist(err) {
			t.Errorf("Expected overlay file does not exist: %s", filename)
		}
	}

	records[0].Filename = "missing.png"
	if err := SaveSequence(records, imageDir, outputDir); err == nil {
		t.Error("Expected error for missing image, got nil")
	}
}
