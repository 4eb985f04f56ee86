// Package evaluation compares predicted head circumferences with ground
// truth.
package evaluation

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"fetalhc/pkg/ellipse"
	"fetalhc/pkg/table"
)

// Comparison is the result for one image.
type Comparison struct {
	Filename  string
	Truth     float64
	Predicted float64
}

// Diff is the signed error in mm.
func (c Comparison) Diff() float64 {
	return c.Predicted - c.Truth
}

// Report summarises the circumference errors of a prediction table.
type Report struct {
	Rows []Comparison

	// MeanAbsDiff is the mean absolute difference in mm
	MeanAbsDiff float64
	MeanDiff    float64
	StdDiff     float64
	MaxAbsDiff  float64
}

func (r Report) String() string {
	return fmt.Sprintf("n=%d mean |diff|=%.3f mm mean diff=%.3f mm std=%.3f mm max |diff|=%.3f mm",
		len(r.Rows), r.MeanAbsDiff, r.MeanDiff, r.StdDiff, r.MaxAbsDiff)
}

// Compare joins predicted onto truth by filename. Circumferences come from
// the head circumference column when a table has one, otherwise from its
// millimeter semi-axes. Every truth row needs exactly one prediction.
func Compare(truth, predicted *table.Table) (Report, error) {
	truthHC, err := circumferences(truth)
	if err != nil {
		return Report{}, errors.Wrap(err, "truth table")
	}
	predHC, err := circumferences(predicted)
	if err != nil {
		return Report{}, errors.Wrap(err, "prediction table")
	}

	byName := make(map[string]float64, predicted.Len())
	for i := range predicted.Rows {
		name, err := predicted.String(i, table.ColFilename)
		if err != nil {
			return Report{}, err
		}
		if _, dup := byName[name]; dup {
			return Report{}, errors.Errorf("duplicate prediction for %s", name)
		}
		byName[name] = predHC[i]
	}

	var report Report
	diffs := make([]float64, 0, truth.Len())
	absDiffs := make([]float64, 0, truth.Len())
	for i := range truth.Rows {
		name, err := truth.String(i, table.ColFilename)
		if err != nil {
			return Report{}, err
		}
		p, ok := byName[name]
		if !ok {
			return Report{}, errors.Errorf("no prediction for %s", name)
		}

		c := Comparison{Filename: name, Truth: truthHC[i], Predicted: p}
		report.Rows = append(report.Rows, c)
		diffs = append(diffs, c.Diff())
		absDiffs = append(absDiffs, math.Abs(c.Diff()))
		report.MaxAbsDiff = math.Max(report.MaxAbsDiff, math.Abs(c.Diff()))
	}

	if len(diffs) == 0 {
		return report, nil
	}
	report.MeanAbsDiff = stat.Mean(absDiffs, nil)
	if len(diffs) > 1 {
		report.MeanDiff, report.StdDiff = stat.MeanStdDev(diffs, nil)
	} else {
		report.MeanDiff = diffs[0]
	}
	return report, nil
}

func circumferences(t *table.Table) ([]float64, error) {
	if err := t.Require(table.ColFilename); err != nil {
		return nil, err
	}
	if t.Has(table.ColCircumference) {
		return t.Floats(table.ColCircumference)
	}
	if err := t.Require("semi_axes_a_mm", "semi_axes_b_mm"); err != nil {
		return nil, err
	}

	a, err := t.Floats("semi_axes_a_mm")
	if err != nil {
		return nil, err
	}
	b, err := t.Floats("semi_axes_b_mm")
	if err != nil {
		return nil, err
	}
	hc := make([]float64, len(a))
	for i := range a {
		hc[i] = ellipse.Circumference(a[i], b[i])
	}
	return hc, nil
}
