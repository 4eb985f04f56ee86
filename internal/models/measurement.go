package models

import (
	"fetalhc/pkg/ellipse"
)

// Measurement holds the ellipse parameters of one image in a single unit,
// either pixels or millimeters.
type Measurement struct {
	// CenterX is the column of the center, CenterY its row
	CenterX float64
	CenterY float64

	// SemiAxisA is the semi-major axis, SemiAxisB the semi-minor axis
	SemiAxisA float64
	SemiAxisB float64

	// AngleRad is the canonical major axis angle in [0, π)
	AngleRad float64

	// Circumference uses the same unit as the axes
	Circumference float64
}

// MeasurementRecord is one row of a ground truth or submission table
type MeasurementRecord struct {
	// Index is the row position in the metadata table
	Index int

	// Filename is the image the record belongs to
	Filename string

	// PixelSize is the calibration factor in mm per pixel
	PixelSize float64

	// Width and Height are the size of the fitted image in pixels
	Width  int
	Height int

	// Ellipse is the normalised fit in pixel space
	Ellipse ellipse.Ellipse

	Pixel    Measurement
	Physical Measurement

	// Keypoints is nil for submission records
	Keypoints *KeypointSet
}

// Keypoint is a landmark in integer pixel coordinates
type Keypoint struct {
	X int
	Y int
}

// KeypointSet holds the center followed by the four axis extremities
type KeypointSet [5]Keypoint

// Partition splits the record indices of a dataset into training and
// validation subsets
type Partition struct {
	// Seed that produced the split
	Seed int64 `yaml:"seed"`

	// Total is the number of records the split covers
	Total int `yaml:"total"`

	Train []int `yaml:"train"`
	Valid []int `yaml:"valid"`
}
