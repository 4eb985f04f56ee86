package main

import (
	"flag"
	"io"
	"path/filepath"
	"testing"
)

func TestIsSet(t *testing.T) {
	fs := flag.NewFlagSet("prepare", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Int("workers", 4, "")
	fs.Bool("force", false, "")
	fs.String("config", "fetalhc.yaml", "")

	if err := fs.Parse([]string{"-workers", "4", "-force"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if !isSet(fs, "workers") {
		t.Error("Expected workers to be set even when given its default value")
	}
	if !isSet(fs, "force") {
		t.Error("Expected force to be set")
	}
	if isSet(fs, "config") {
		t.Error("Expected config to be unset")
	}
	if isSet(fs, "missing") {
		t.Error("Expected unknown flag to be unset")
	}
}

func TestRunInitConfigWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fetalhc.yaml")

	if err := runInitConfig([]string{"-config", path}); err != nil {
		t.Fatalf("runInitConfig failed: %v", err)
	}

	cfg, _, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Dataset.Seed != 42 {
		t.Errorf("Expected default seed 42, got %d", cfg.Dataset.Seed)
	}
}
