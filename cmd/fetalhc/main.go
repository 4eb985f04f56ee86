package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"fetalhc/internal/logger"
	"fetalhc/pkg/config"
	"fetalhc/pkg/dataset"
	"fetalhc/pkg/evaluation"
	"fetalhc/pkg/mask"
	"fetalhc/pkg/submission"
	"fetalhc/pkg/table"
	"fetalhc/pkg/visualization"
)

const usage = `Usage: fetalhc <command> [flags]

Commands:
  prepare      fit annotation ellipses and build the training tables
  submit       fit predicted masks and write the submission table
  evaluate     compare a submission table with ground truth
  overlay      draw the ellipse fitted to a predicted mask over its image
  init-config  write the default configuration file

Run 'fetalhc <command> -h' for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch os.Args[1] {
	case "prepare":
		err = runPrepare(ctx, os.Args[2:])
	case "submit":
		err = runSubmit(ctx, os.Args[2:])
	case "evaluate":
		err = runEvaluate(os.Args[2:])
	case "overlay":
		err = runOverlay(os.Args[2:])
	case "init-config":
		err = runInitConfig(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(1)
	}

	if err != nil {
		stop()
		log := logger.NewConsole(zerolog.InfoLevel)
		log.Error().Err(err).Str("command", os.Args[1]).Msg("Command failed")
		os.Exit(1)
	}
}

// loadConfig reads the configuration and builds the logger it describes.
func loadConfig(path string) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log, err := logger.FromConfig(cfg.Logging.Level, cfg.Logging.Console)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, log, nil
}

func runPrepare(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("prepare", flag.ExitOnError)
	configPath := fs.String("config", "fetalhc.yaml", "Configuration file (defaults are used when missing)")
	metadata := fs.String("metadata", "", "Training metadata CSV (overrides config)")
	annotations := fs.String("annotations", "", "Directory with <base>_Annotation.png files (overrides config)")
	output := fs.String("output", "", "Output directory (overrides config)")
	method := fs.String("method", "", "Fitting method: Direct, AMS or Simple (overrides config)")
	workers := fs.Int("workers", 0, "Number of parallel workers (overrides config)")
	seed := fs.Int64("seed", 0, "Seed for a new train/valid split (overrides config)")
	force := fs.Bool("force", false, "Refit annotations even when the tables exist")
	filled := fs.Bool("filled", false, "Write <base>_Filled.png masks rendered from the fitted ellipses")
	overlays := fs.String("overlays", "", "Directory for ellipse overlays drawn on the training images")
	fs.Parse(args)

	cfg, log, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *metadata != "" {
		cfg.Dataset.MetadataFile = *metadata
	}
	if *annotations != "" {
		cfg.Dataset.AnnotationDir = *annotations
	}
	if *output != "" {
		cfg.Dataset.OutputDir = *output
	}
	if *method != "" {
		cfg.Ellipse.Method = *method
	}
	if *workers > 0 {
		cfg.Processing.Workers = *workers
	}
	if isSet(fs, "seed") {
		cfg.Dataset.Seed = *seed
	}
	if *filled {
		cfg.Dataset.WriteFilledMasks = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	params, err := dataset.ParamsFromConfig(cfg, log)
	if err != nil {
		return err
	}
	params.Force = *force

	startTime := time.Now()
	assembler := dataset.NewAssembler(params)
	if err := assembler.Process(ctx); err != nil {
		return err
	}

	if *overlays != "" {
		records := assembler.Records()
		if records == nil {
			log.Warn().Msg("Tables were reused, rerun with -force to draw overlays")
		} else if err := visualization.SaveSequence(records, cfg.Dataset.AnnotationDir, *overlays); err != nil {
			return err
		}
	}

	log.Info().Dur("elapsed", time.Since(startTime)).Msg("Prepare completed")
	return nil
}

func runSubmit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	configPath := fs.String("config", "fetalhc.yaml", "Configuration file (defaults are used when missing)")
	metadata := fs.String("metadata", "", "Test metadata CSV (overrides config)")
	masks := fs.String("masks", "", "Directory with predicted masks (overrides config)")
	suffix := fs.String("suffix", "", "Mask file suffix after the image base name (overrides config)")
	output := fs.String("output", "", "Submission output directory (overrides config)")
	method := fs.String("method", "", "Fitting method: Direct, AMS or Simple (overrides config)")
	fs.Parse(args)

	cfg, log, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *metadata != "" {
		cfg.Submission.MetadataFile = *metadata
	}
	if *masks != "" {
		cfg.Submission.MaskDir = *masks
	}
	if isSet(fs, "suffix") {
		cfg.Submission.MaskSuffix = *suffix
	}
	if *output != "" {
		cfg.Submission.OutputDir = *output
	}
	if *method != "" {
		cfg.Ellipse.Method = *method
	}

	params, err := submission.ParamsFromConfig(cfg, log)
	if err != nil {
		return err
	}
	return submission.NewGenerator(params).Process(ctx)
}

func runEvaluate(args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	truthPath := fs.String("truth", "", "Ground truth CSV with head circumference or mm semi-axes")
	predPath := fs.String("pred", "", "Submission CSV")
	fs.Parse(args)

	if *truthPath == "" || *predPath == "" {
		fs.Usage()
		return fmt.Errorf("both -truth and -pred are required")
	}

	truth, err := table.Read(*truthPath)
	if err != nil {
		return err
	}
	pred, err := table.Read(*predPath)
	if err != nil {
		return err
	}

	report, err := evaluation.Compare(truth, pred)
	if err != nil {
		return err
	}

	fmt.Printf("Head circumference evaluation\n")
	fmt.Printf("=============================\n")
	fmt.Printf("Images:                  %d\n", len(report.Rows))
	fmt.Printf("Mean absolute difference: %.3f mm\n", report.MeanAbsDiff)
	fmt.Printf("Mean difference:          %.3f mm\n", report.MeanDiff)
	fmt.Printf("Std of difference:        %.3f mm\n", report.StdDiff)
	fmt.Printf("Max absolute difference:  %.3f mm\n", report.MaxAbsDiff)
	return nil
}

func runOverlay(args []string) error {
	fs := flag.NewFlagSet("overlay", flag.ExitOnError)
	imagePath := fs.String("image", "", "Ultrasound image")
	maskPath := fs.String("mask", "", "Predicted mask for the image")
	outPath := fs.String("out", "", "Output image (default <image>_Overlay.png next to the mask)")
	method := fs.String("method", "Direct", "Fitting method: Direct, AMS or Simple")
	fs.Parse(args)

	if *imagePath == "" || *maskPath == "" {
		fs.Usage()
		return fmt.Errorf("both -image and -mask are required")
	}

	opts, err := mask.NewOptions(config.EllipseConfig{
		Method:              *method,
		MaskThreshold:       mask.MaskThreshold,
		AnnotationThreshold: mask.AnnotationThreshold,
	})
	if err != nil {
		return err
	}

	img, err := imaging.Open(*imagePath)
	if err != nil {
		return err
	}
	m, err := mask.LoadNormalized(*maskPath)
	if err != nil {
		return err
	}
	if m.Width != img.Bounds().Dx() || m.Height != img.Bounds().Dy() {
		img = imaging.Resize(img, m.Width, m.Height, imaging.Lanczos)
	}

	viewer := visualization.NewViewer(img)
	e, err := viewer.DrawPrediction(m, opts)
	if err != nil {
		return err
	}

	out := *outPath
	if out == "" {
		out = visualization.OverlayPath(filepath.Dir(*maskPath), filepath.Base(*imagePath))
	}
	if err := viewer.Save(out); err != nil {
		return err
	}

	fmt.Printf("%s\nOverlay saved to: %s\n", e, out)
	return nil
}

func runInitConfig(args []string) error {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	configPath := fs.String("config", "fetalhc.yaml", "Path of the configuration file to write")
	fs.Parse(args)

	if err := config.CreateDefaultConfigFile(*configPath); err != nil {
		return err
	}
	fmt.Printf("Default configuration written to: %s\n", *configPath)
	return nil
}

// isSet reports whether the flag was given on the command line.
func isSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
