// Package dataset builds the ground truth tables used for training from a
// metadata table and a directory of annotation images.
//
// For every image the assembler fits an ellipse to the annotation, converts
// it to millimeters, checks the result against the reference circumference
// and derives the five keypoints. It then writes three tables (pixel space,
// millimeter space and keypoints), a persisted train/valid split and the
// per-subset copies of each table.
package dataset

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"fetalhc/internal/logger"
	"fetalhc/internal/models"
	"fetalhc/pkg/calibration"
	"fetalhc/pkg/config"
	"fetalhc/pkg/keypoints"
	"fetalhc/pkg/mask"
	"fetalhc/pkg/partition"
	"fetalhc/pkg/table"
)

// Params holds the dataset generation parameters.
type Params struct {
	// MetadataFile is the training table with filename, pixel size and the
	// reference head circumference of each image.
	MetadataFile string

	// AnnotationDir holds one <base>_Annotation.png per metadata row.
	AnnotationDir string

	// OutputDir receives every generated file. Table and index file names
	// below are relative to it.
	OutputDir string

	PixelTable    string
	PhysicalTable string
	KeypointTable string
	TrainIndices  string
	ValidIndices  string

	// ValidFraction and Seed drive a new split. An existing split is reused.
	ValidFraction float64
	Seed          int64

	// Tolerance is the largest accepted circumference difference in mm.
	Tolerance float64

	// NumWorkers bounds how many annotations are fitted concurrently.
	NumWorkers int

	// Fit selects the fitting method and thresholds.
	Fit mask.Options

	// WriteFilledMasks renders each fitted ellipse to FilledDir.
	WriteFilledMasks bool
	FilledDir        string

	// Force regenerates the tables even when all three already exist.
	Force bool

	// Logger receives progress events. The zero value discards them.
	Logger zerolog.Logger
}

// ParamsFromConfig maps the configuration onto assembler parameters.
func ParamsFromConfig(cfg *config.Config, log zerolog.Logger) (*Params, error) {
	fit, err := mask.NewOptions(cfg.Ellipse)
	if err != nil {
		return nil, err
	}

	d := cfg.Dataset
	return &Params{
		MetadataFile:     d.MetadataFile,
		AnnotationDir:    d.AnnotationDir,
		OutputDir:        d.OutputDir,
		PixelTable:       d.PixelTable,
		PhysicalTable:    d.PhysicalTable,
		KeypointTable:    d.KeypointTable,
		TrainIndices:     d.TrainIndices,
		ValidIndices:     d.ValidIndices,
		ValidFraction:    d.ValidFraction,
		Seed:             d.Seed,
		Tolerance:        d.CircumferenceTolerance,
		NumWorkers:       cfg.Processing.Workers,
		Fit:              fit,
		WriteFilledMasks: d.WriteFilledMasks,
		FilledDir:        filepath.Join(d.OutputDir, "filled"),
		Logger:           log,
	}, nil
}

// Subset output names derived from each table, in the order
// physical, pixel, keypoints.
var subsetFiles = [3][2]string{
	{"train.csv", "valid.csv"},
	{"train_in_pixel.csv", "valid_in_pixel.csv"},
	{"train_keypoints.csv", "valid_keypoints.csv"},
}

// Assembler generates the ground truth dataset.
type Assembler struct {
	params *Params
	log    zerolog.Logger

	records   []models.MeasurementRecord
	partition models.Partition
}

// NewAssembler creates an assembler. Zero-valued numeric parameters fall
// back to the package defaults.
func NewAssembler(params *Params) *Assembler {
	p := *params
	if p.NumWorkers < 1 {
		p.NumWorkers = runtime.NumCPU()
	}
	if p.Tolerance <= 0 {
		p.Tolerance = calibration.DefaultTolerance
	}
	if p.ValidFraction <= 0 {
		p.ValidFraction = partition.DefaultValidFraction
	}
	if p.Fit == (mask.Options{}) {
		p.Fit = mask.DefaultOptions()
	}
	if p.FilledDir == "" {
		p.FilledDir = filepath.Join(p.OutputDir, "filled")
	}

	return &Assembler{
		params: &p,
		log:    logger.Component(p.Logger, "dataset"),
	}
}

// Process runs the complete dataset pipeline.
func (a *Assembler) Process(ctx context.Context) error {
	start := time.Now()

	meta, err := table.Read(a.params.MetadataFile)
	if err != nil {
		return err
	}
	if err := meta.Require(table.ColFilename, table.ColPixelSize, table.ColCircumference); err != nil {
		return errors.Wrapf(err, "metadata %s", a.params.MetadataFile)
	}

	a.log.Info().
		Int("records", meta.Len()).
		Str("method", a.params.Fit.Method.String()).
		Int("workers", a.params.NumWorkers).
		Msg("Loaded metadata")

	tables, err := a.ellipseTables(ctx, meta)
	if err != nil {
		return err
	}

	p, created, err := partition.LoadOrCreate(
		a.output(a.params.TrainIndices), a.output(a.params.ValidIndices),
		meta.Len(), a.params.ValidFraction, a.params.Seed)
	if err != nil {
		return err
	}
	a.partition = p
	a.log.Info().
		Bool("created", created).
		Int64("seed", p.Seed).
		Int("train", len(p.Train)).
		Int("valid", len(p.Valid)).
		Msg("Train/valid split ready")

	for i, t := range tables {
		train, valid, err := partition.Subsets(t, p)
		if err != nil {
			return err
		}
		if err := train.Write(a.output(subsetFiles[i][0])); err != nil {
			return err
		}
		if err := valid.Write(a.output(subsetFiles[i][1])); err != nil {
			return err
		}
	}

	a.log.Info().Dur("elapsed", time.Since(start)).Str("output", a.params.OutputDir).Msg("Dataset ready")
	return nil
}

// ellipseTables returns the physical, pixel and keypoint tables, fitting
// the annotations only when one of the tables is missing.
func (a *Assembler) ellipseTables(ctx context.Context, meta *table.Table) ([3]*table.Table, error) {
	var tables [3]*table.Table
	paths := [3]string{
		a.output(a.params.PhysicalTable),
		a.output(a.params.PixelTable),
		a.output(a.params.KeypointTable),
	}

	if !a.params.Force && allExist(paths[:]) {
		a.log.Info().Msg("Ellipse tables exist, skipping fitting")
		for i, path := range paths {
			t, err := table.Read(path)
			if err != nil {
				return tables, err
			}
			tables[i] = t
		}
		return tables, nil
	}

	records, err := a.Measure(ctx, meta)
	if err != nil {
		return tables, err
	}
	a.records = records

	if a.params.WriteFilledMasks {
		if err := WriteFilledMasks(records, a.params.FilledDir); err != nil {
			return tables, err
		}
	}

	pixel, physical, kp, err := BuildTables(meta, records)
	if err != nil {
		return tables, err
	}
	tables = [3]*table.Table{physical, pixel, kp}
	for i, t := range tables {
		if err := t.Write(paths[i]); err != nil {
			return tables, err
		}
	}
	return tables, nil
}

// Measure fits every row of meta in parallel. Any failure stops the batch;
// the returned error belongs to the lowest row index among the failures
// seen before the workers stopped.
func (a *Assembler) Measure(ctx context.Context, meta *table.Table) ([]models.MeasurementRecord, error) {
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	total := meta.Len()
	records := make([]models.MeasurementRecord, total)

	type measureResult struct {
		index  int
		record models.MeasurementRecord
		err    error
	}
	jobs := make(chan int)
	resultChan := make(chan measureResult)

	go func() {
		defer close(jobs)
		for i := 0; i < total; i++ {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < a.params.NumWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				rec, err := a.MeasureRow(meta, i)
				select {
				case resultChan <- measureResult{index: i, record: rec, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	var firstErr error
	firstIdx := total
	completed := 0
	for res := range resultChan {
		if res.err != nil {
			if res.index < firstIdx {
				firstIdx, firstErr = res.index, res.err
			}
			cancel()
			continue
		}
		records[res.index] = res.record
		completed++
		a.log.Debug().
			Str("filename", res.record.Filename).
			Float64("hc_mm", res.record.Physical.Circumference).
			Int("completed", completed).
			Int("total", total).
			Msg("Fitted annotation")
	}

	if firstErr != nil {
		return nil, firstErr
	}
	if err := parent.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// MeasureRow fits the annotation of row i and builds its record.
func (a *Assembler) MeasureRow(meta *table.Table, i int) (models.MeasurementRecord, error) {
	filename, err := meta.String(i, table.ColFilename)
	if err != nil {
		return models.MeasurementRecord{}, err
	}
	pixelSize, err := meta.Float(i, table.ColPixelSize)
	if err != nil {
		return models.MeasurementRecord{}, errors.Wrap(err, filename)
	}
	reference, err := meta.Float(i, table.ColCircumference)
	if err != nil {
		return models.MeasurementRecord{}, errors.Wrap(err, filename)
	}

	anno, err := mask.Load(AnnotationPath(a.params.AnnotationDir, filename))
	if err != nil {
		return models.MeasurementRecord{}, errors.Wrapf(err, "row %d", i)
	}

	box, err := a.params.Fit.FitAnnotation(anno)
	if err != nil {
		return models.MeasurementRecord{}, errors.Wrapf(err, "row %d %s", i, filename)
	}
	e := box.Ellipse()

	physical, err := calibration.ToPhysical(e, calibration.Factor(pixelSize))
	if err != nil {
		return models.MeasurementRecord{}, errors.Wrapf(err, "row %d %s", i, filename)
	}

	if err := calibration.CheckConsistency(filename, physical.Circumference, reference, a.params.Tolerance); err != nil {
		return models.MeasurementRecord{}, errors.Wrapf(err, "row %d", i)
	}

	kp := keypoints.Derive(e)

	return models.MeasurementRecord{
		Index:     i,
		Filename:  filename,
		PixelSize: pixelSize,
		Width:     anno.Width,
		Height:    anno.Height,
		Ellipse:   e,
		Pixel:     calibration.ToPixel(e),
		Physical:  physical,
		Keypoints: &kp,
	}, nil
}

// WriteFilledMasks renders one filled mask per record. It runs only after
// the whole batch has been measured, so a failed batch leaves no masks.
func WriteFilledMasks(records []models.MeasurementRecord, dir string) error {
	for _, r := range records {
		filled := mask.Rasterize(r.Ellipse, r.Width, r.Height)
		if err := filled.Save(FilledPath(dir, r.Filename)); err != nil {
			return errors.Wrapf(err, "row %d", r.Index)
		}
	}
	return nil
}

// Records returns the records of the last fitting run.
func (a *Assembler) Records() []models.MeasurementRecord {
	return a.records
}

// Partition returns the split used by the last run.
func (a *Assembler) Partition() models.Partition {
	return a.partition
}

func (a *Assembler) output(name string) string {
	return filepath.Join(a.params.OutputDir, name)
}

// AnnotationPath maps an image name like 000_HC.png to its annotation file.
func AnnotationPath(dir, filename string) string {
	return filepath.Join(dir, withSuffix(filename, "_Annotation"))
}

// FilledPath maps an image name to its rendered filled mask.
func FilledPath(dir, filename string) string {
	return filepath.Join(dir, withSuffix(filename, "_Filled"))
}

func withSuffix(filename, suffix string) string {
	ext := filepath.Ext(filename)
	return strings.TrimSuffix(filename, ext) + suffix + ".png"
}

func allExist(paths []string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
