// Package config provides configuration loading and management for fetalhc.
// It handles loading configuration from YAML files and provides default values.
//
// A Config is read once at startup and then passed by value to each
// component; nothing in the module reads configuration from global state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	Processing ProcessingConfig `yaml:"processing"`
	Ellipse    EllipseConfig    `yaml:"ellipse"`
	Dataset    DatasetConfig    `yaml:"dataset"`
	Submission SubmissionConfig `yaml:"submission"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ProcessingConfig holds parallelism settings.
type ProcessingConfig struct {
	// Workers is the number of records processed concurrently
	Workers int `yaml:"workers"`
}

// EllipseConfig selects the fitting algorithm and mask thresholds.
type EllipseConfig struct {
	// Method is one of Direct, AMS or Simple
	Method string `yaml:"method"`

	// Points is the point extraction, boundary or foreground
	Points string `yaml:"points"`

	// MaskThreshold separates foreground in predicted masks normalized to [0,1]
	MaskThreshold float64 `yaml:"maskThreshold"`

	// AnnotationThreshold separates foreground in 8-bit annotation images
	AnnotationThreshold float64 `yaml:"annotationThreshold"`
}

// DatasetConfig controls ground truth generation.
type DatasetConfig struct {
	// MetadataFile is the training table with filename, pixel size and HC
	MetadataFile string `yaml:"metadataFile"`

	// AnnotationDir holds <base>_Annotation.png files
	AnnotationDir string `yaml:"annotationDir"`

	// OutputDir receives the derived tables and index files
	OutputDir string `yaml:"outputDir"`

	PixelTable    string `yaml:"pixelTable"`
	PhysicalTable string `yaml:"physicalTable"`
	KeypointTable string `yaml:"keypointTable"`
	TrainIndices  string `yaml:"trainIndices"`
	ValidIndices  string `yaml:"validIndices"`

	// ValidFraction is the share of records assigned to the validation set
	ValidFraction float64 `yaml:"validFraction"`

	// Seed drives the train/valid split and is persisted with it
	Seed int64 `yaml:"seed"`

	// CircumferenceTolerance is the largest accepted difference in mm between
	// the fitted and the reference head circumference
	CircumferenceTolerance float64 `yaml:"circumferenceTolerance"`

	// WriteFilledMasks renders <base>_Filled.png from each fitted ellipse
	WriteFilledMasks bool `yaml:"writeFilledMasks"`
}

// SubmissionConfig controls prediction post-processing.
type SubmissionConfig struct {
	// MetadataFile is the test table with filename and pixel size
	MetadataFile string `yaml:"metadataFile"`

	// MaskDir holds the predicted masks
	MaskDir string `yaml:"maskDir"`

	// MaskSuffix is appended to the image base name to find its mask
	MaskSuffix string `yaml:"maskSuffix"`

	// OutputDir receives the submission table
	OutputDir string `yaml:"outputDir"`

	// ReferenceHeight and ReferenceWidth are the resolution the pixel sizes
	// were recorded at
	ReferenceHeight int `yaml:"referenceHeight"`
	ReferenceWidth  int `yaml:"referenceWidth"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is a zerolog level name
	Level string `yaml:"level"`

	// Console selects human readable output instead of JSON
	Console bool `yaml:"console"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.Workers = runtime.NumCPU()

	cfg.Ellipse.Method = "Direct"
	cfg.Ellipse.Points = "boundary"
	cfg.Ellipse.MaskThreshold = 0.5
	cfg.Ellipse.AnnotationThreshold = 127

	cfg.Dataset.MetadataFile = "data/training_set_pixel_size_and_HC.csv"
	cfg.Dataset.AnnotationDir = "data/training_set"
	cfg.Dataset.OutputDir = "data"
	cfg.Dataset.PixelTable = "training_set_pixel_size_and_HC_and_ellipses_in_pixel.csv"
	cfg.Dataset.PhysicalTable = "training_set_pixel_size_and_HC_and_ellipses.csv"
	cfg.Dataset.KeypointTable = "training_set_pixel_size_and_HC_and_ellipses_keypoints.csv"
	cfg.Dataset.TrainIndices = "train_indices.yaml"
	cfg.Dataset.ValidIndices = "valid_indices.yaml"
	cfg.Dataset.ValidFraction = 0.2
	cfg.Dataset.Seed = 42
	cfg.Dataset.CircumferenceTolerance = 0.1
	cfg.Dataset.WriteFilledMasks = false

	cfg.Submission.MetadataFile = "data/test_set_pixel_size.csv"
	cfg.Submission.MaskDir = "predictions"
	cfg.Submission.MaskSuffix = "_Mask"
	cfg.Submission.OutputDir = "submission"
	cfg.Submission.ReferenceHeight = 540
	cfg.Submission.ReferenceWidth = 800

	cfg.Logging.Level = "info"
	cfg.Logging.Console = true

	return cfg
}

// Validate checks the values that would make a run meaningless.
func (c *Config) Validate() error {
	if c.Processing.Workers < 1 {
		return fmt.Errorf("processing.workers must be at least 1, got %d", c.Processing.Workers)
	}
	if c.Ellipse.MaskThreshold <= 0 || c.Ellipse.MaskThreshold >= 1 {
		return fmt.Errorf("ellipse.maskThreshold must lie in (0,1), got %g", c.Ellipse.MaskThreshold)
	}
	if c.Ellipse.AnnotationThreshold < 0 || c.Ellipse.AnnotationThreshold >= 255 {
		return fmt.Errorf("ellipse.annotationThreshold must lie in [0,255), got %g", c.Ellipse.AnnotationThreshold)
	}
	if c.Dataset.ValidFraction <= 0 || c.Dataset.ValidFraction >= 1 {
		return fmt.Errorf("dataset.validFraction must lie in (0,1), got %g", c.Dataset.ValidFraction)
	}
	if c.Dataset.CircumferenceTolerance <= 0 {
		return fmt.Errorf("dataset.circumferenceTolerance must be positive, got %g", c.Dataset.CircumferenceTolerance)
	}
	if c.Submission.ReferenceHeight <= 0 || c.Submission.ReferenceWidth <= 0 {
		return fmt.Errorf("submission reference resolution must be positive, got %dx%d",
			c.Submission.ReferenceWidth, c.Submission.ReferenceHeight)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
