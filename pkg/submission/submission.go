// Package submission turns predicted segmentation masks into the
// millimeter-space ellipse table used for scoring.
package submission

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"fetalhc/internal/logger"
	"fetalhc/internal/models"
	"fetalhc/pkg/calibration"
	"fetalhc/pkg/config"
	"fetalhc/pkg/mask"
	"fetalhc/pkg/table"
)

// Reference resolution the test set pixel sizes were recorded at.
const (
	DefaultReferenceHeight = 540
	DefaultReferenceWidth  = 800
)

// ShapeMismatchError reports a mask whose aspect ratio differs from the
// reference resolution.
type ShapeMismatchError struct {
	Filename        string
	Height, Width   int
	ReferenceHeight int
	ReferenceWidth  int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("%s: mask shape %dx%d does not match reference aspect ratio %dx%d",
		e.Filename, e.Height, e.Width, e.ReferenceHeight, e.ReferenceWidth)
}

// CheckShape fails unless height:width equals refHeight:refWidth exactly.
func CheckShape(filename string, height, width, refHeight, refWidth int) error {
	if height <= 0 || width <= 0 || refHeight*width != refWidth*height {
		return &ShapeMismatchError{
			Filename:        filename,
			Height:          height,
			Width:           width,
			ReferenceHeight: refHeight,
			ReferenceWidth:  refWidth,
		}
	}
	return nil
}

// Params holds the submission parameters.
type Params struct {
	// MetadataFile is the test table with filename and pixel size.
	MetadataFile string

	// MaskDir holds one <base><MaskSuffix>.png per metadata row.
	MaskDir    string
	MaskSuffix string

	// OutputFile receives the submission table.
	OutputFile string

	ReferenceHeight int
	ReferenceWidth  int

	Fit    mask.Options
	Logger zerolog.Logger
}

// ParamsFromConfig maps the configuration onto generator parameters. The
// output file is named after the mask directory.
func ParamsFromConfig(cfg *config.Config, log zerolog.Logger) (*Params, error) {
	fit, err := mask.NewOptions(cfg.Ellipse)
	if err != nil {
		return nil, err
	}

	s := cfg.Submission
	return &Params{
		MetadataFile:    s.MetadataFile,
		MaskDir:         s.MaskDir,
		MaskSuffix:      s.MaskSuffix,
		OutputFile:      filepath.Join(s.OutputDir, filepath.Base(filepath.Clean(s.MaskDir))+".csv"),
		ReferenceHeight: s.ReferenceHeight,
		ReferenceWidth:  s.ReferenceWidth,
		Fit:             fit,
		Logger:          log,
	}, nil
}

// Generator builds submission tables.
type Generator struct {
	params *Params
	log    zerolog.Logger
}

// NewGenerator creates a generator, filling in the reference resolution
// and fitting options when they are unset.
func NewGenerator(params *Params) *Generator {
	p := *params
	if p.ReferenceHeight <= 0 || p.ReferenceWidth <= 0 {
		p.ReferenceHeight, p.ReferenceWidth = DefaultReferenceHeight, DefaultReferenceWidth
	}
	if p.Fit == (mask.Options{}) {
		p.Fit = mask.DefaultOptions()
	}
	return &Generator{
		params: &p,
		log:    logger.Component(p.Logger, "submission"),
	}
}

// Process loads the metadata and masks from disk and writes the table.
func (g *Generator) Process(ctx context.Context) error {
	start := time.Now()

	meta, err := table.Read(g.params.MetadataFile)
	if err != nil {
		return err
	}
	if err := meta.Require(table.ColFilename, table.ColPixelSize); err != nil {
		return errors.Wrapf(err, "metadata %s", g.params.MetadataFile)
	}

	masks := make([]*mask.Mask, meta.Len())
	for i := range masks {
		if err := ctx.Err(); err != nil {
			return err
		}
		filename, err := meta.String(i, table.ColFilename)
		if err != nil {
			return err
		}
		if masks[i], err = mask.LoadNormalized(MaskPath(g.params.MaskDir, filename, g.params.MaskSuffix)); err != nil {
			return errors.Wrapf(err, "row %d", i)
		}
	}
	g.log.Info().Int("masks", len(masks)).Str("dir", g.params.MaskDir).Msg("Loaded predicted masks")

	out, _, err := g.Generate(meta, masks)
	if err != nil {
		return err
	}
	if err := out.Write(g.params.OutputFile); err != nil {
		return err
	}

	g.log.Info().
		Str("output", g.params.OutputFile).
		Int("rows", out.Len()).
		Dur("elapsed", time.Since(start)).
		Msg("Submission written")
	return nil
}

// Generate fits masks, which must be index-aligned with meta and normalized
// to [0,1], and returns the submission table with its records. The pixel
// size column is replaced by the millimeter ellipse columns.
func (g *Generator) Generate(meta *table.Table, masks []*mask.Mask) (*table.Table, []models.MeasurementRecord, error) {
	if len(masks) != meta.Len() {
		return nil, nil, errors.Errorf("%d masks for %d metadata rows", len(masks), meta.Len())
	}

	records := make([]models.MeasurementRecord, len(masks))
	for i, m := range masks {
		rec, err := g.measure(meta, i, m)
		if err != nil {
			return nil, nil, err
		}
		records[i] = rec
		g.log.Debug().
			Str("filename", rec.Filename).
			Float64("hc_mm", rec.Physical.Circumference).
			Msg("Fitted prediction")
	}

	out := meta.Clone()
	if err := out.DropColumn(table.ColPixelSize); err != nil {
		return nil, nil, err
	}
	columns := make([][]float64, len(table.MillimeterColumns))
	for _, rec := range records {
		m := rec.Physical
		for i, v := range []float64{m.CenterX, m.CenterY, m.SemiAxisA, m.SemiAxisB, m.AngleRad} {
			columns[i] = append(columns[i], v)
		}
	}
	for i, name := range table.MillimeterColumns {
		if err := out.AddFloatColumn(name, columns[i]); err != nil {
			return nil, nil, err
		}
	}
	return out, records, nil
}

func (g *Generator) measure(meta *table.Table, i int, m *mask.Mask) (models.MeasurementRecord, error) {
	filename, err := meta.String(i, table.ColFilename)
	if err != nil {
		return models.MeasurementRecord{}, err
	}
	pixelSize, err := meta.Float(i, table.ColPixelSize)
	if err != nil {
		return models.MeasurementRecord{}, errors.Wrap(err, filename)
	}

	if err := CheckShape(filename, m.Height, m.Width, g.params.ReferenceHeight, g.params.ReferenceWidth); err != nil {
		return models.MeasurementRecord{}, errors.Wrapf(err, "row %d", i)
	}

	box, err := g.params.Fit.FitMask(m)
	if err != nil {
		return models.MeasurementRecord{}, errors.Wrapf(err, "row %d %s", i, filename)
	}
	e := box.Ellipse()

	factor := ScaledFactor(pixelSize, g.params.ReferenceHeight, m.Height)
	physical, err := calibration.ToPhysical(e, factor)
	if err != nil {
		return models.MeasurementRecord{}, errors.Wrapf(err, "row %d %s", i, filename)
	}

	return models.MeasurementRecord{
		Index:     i,
		Filename:  filename,
		PixelSize: pixelSize,
		Width:     m.Width,
		Height:    m.Height,
		Ellipse:   e,
		Pixel:     calibration.ToPixel(e),
		Physical:  physical,
	}, nil
}

// ScaledFactor compensates a pixel size recorded at refHeight rows for a
// mask with height rows.
func ScaledFactor(pixelSize float64, refHeight, height int) calibration.Factor {
	return calibration.Factor(pixelSize).Scaled(refHeight, height)
}

// MaskPath maps an image name like 000_HC.png to its predicted mask.
func MaskPath(dir, filename, suffix string) string {
	ext := filepath.Ext(filename)
	return filepath.Join(dir, strings.TrimSuffix(filename, ext)+suffix+".png")
}
