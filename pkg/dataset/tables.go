package dataset

import (
	"github.com/pkg/errors"

	"fetalhc/internal/models"
	"fetalhc/pkg/keypoints"
	"fetalhc/pkg/table"
)

// BuildTables copies meta three times and appends the pixel, millimeter and
// keypoint columns of records, which must be index-aligned with meta.
func BuildTables(meta *table.Table, records []models.MeasurementRecord) (pixel, physical, kp *table.Table, err error) {
	if len(records) != meta.Len() {
		return nil, nil, nil, errors.Errorf("%d records for %d metadata rows", len(records), meta.Len())
	}

	pixelValues := make([][]float64, len(table.PixelColumns))
	physicalValues := make([][]float64, len(table.MillimeterColumns))
	kpValues := make([][]int, 2*keypoints.Count)

	for _, rec := range records {
		for i, v := range measurementValues(rec.Pixel) {
			pixelValues[i] = append(pixelValues[i], v)
		}
		for i, v := range measurementValues(rec.Physical) {
			physicalValues[i] = append(physicalValues[i], v)
		}
		if rec.Keypoints == nil {
			return nil, nil, nil, errors.Errorf("record %d (%s) has no keypoints", rec.Index, rec.Filename)
		}
		for i, p := range rec.Keypoints {
			kpValues[2*i] = append(kpValues[2*i], p.X)
			kpValues[2*i+1] = append(kpValues[2*i+1], p.Y)
		}
	}

	pixel, physical, kp = meta.Clone(), meta.Clone(), meta.Clone()
	if err := addFloatColumns(pixel, table.PixelColumns, pixelValues); err != nil {
		return nil, nil, nil, err
	}
	if err := addFloatColumns(physical, table.MillimeterColumns, physicalValues); err != nil {
		return nil, nil, nil, err
	}
	for i, name := range keypoints.Columns() {
		if err := kp.AddIntColumn(name, kpValues[i]); err != nil {
			return nil, nil, nil, err
		}
	}
	return pixel, physical, kp, nil
}

func measurementValues(m models.Measurement) [5]float64 {
	return [5]float64{m.CenterX, m.CenterY, m.SemiAxisA, m.SemiAxisB, m.AngleRad}
}

func addFloatColumns(t *table.Table, names []string, values [][]float64) error {
	for i, name := range names {
		if err := t.AddFloatColumn(name, values[i]); err != nil {
			return err
		}
	}
	return nil
}
