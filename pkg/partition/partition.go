// Package partition splits dataset record indices into training and
// validation subsets and persists the split with the seed that produced it.
package partition

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"fetalhc/internal/models"
	"fetalhc/pkg/table"
)

// DefaultValidFraction is the share of records held out for validation.
const DefaultValidFraction = 0.2

// ErrInvalidPartition is returned when a split does not cover every record
// exactly once.
var ErrInvalidPartition = errors.New("invalid partition")

// Split shuffles the indices 0..total-1 with seed and assigns the first
// ceil(total·validFraction) of them to the validation subset. Both subsets
// are returned in ascending order.
func Split(total int, validFraction float64, seed int64) (models.Partition, error) {
	if total < 0 {
		return models.Partition{}, errors.Errorf("total must be non-negative, got %d", total)
	}
	if math.IsNaN(validFraction) || validFraction < 0 || validFraction > 1 {
		return models.Partition{}, errors.Errorf("valid fraction must lie in [0,1], got %g", validFraction)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(total)
	nValid := int(math.Ceil(float64(total) * validFraction))

	p := models.Partition{
		Seed:  seed,
		Total: total,
		Valid: append([]int{}, perm[:nValid]...),
		Train: append([]int{}, perm[nValid:]...),
	}
	sort.Ints(p.Train)
	sort.Ints(p.Valid)

	if err := Validate(p); err != nil {
		return models.Partition{}, err
	}
	return p, nil
}

// Validate checks that train and valid are disjoint and together cover
// 0..Total-1 exactly once.
func Validate(p models.Partition) error {
	if len(p.Train)+len(p.Valid) != p.Total {
		return errors.Wrapf(ErrInvalidPartition, "%d train + %d valid indices for %d records",
			len(p.Train), len(p.Valid), p.Total)
	}

	seen := make([]bool, p.Total)
	for _, subset := range [][]int{p.Train, p.Valid} {
		for _, idx := range subset {
			if idx < 0 || idx >= p.Total {
				return errors.Wrapf(ErrInvalidPartition, "index %d out of range [0, %d)", idx, p.Total)
			}
			if seen[idx] {
				return errors.Wrapf(ErrInvalidPartition, "index %d assigned twice", idx)
			}
			seen[idx] = true
		}
	}
	return nil
}

// IndexFile is the persisted form of one subset.
type IndexFile struct {
	Seed    int64 `yaml:"seed"`
	Total   int   `yaml:"total"`
	Indices []int `yaml:"indices,flow"`
}

// Save writes the two subsets to trainPath and validPath.
func Save(p models.Partition, trainPath, validPath string) error {
	if err := Validate(p); err != nil {
		return err
	}
	if err := writeIndexFile(trainPath, IndexFile{Seed: p.Seed, Total: p.Total, Indices: p.Train}); err != nil {
		return err
	}
	return writeIndexFile(validPath, IndexFile{Seed: p.Seed, Total: p.Total, Indices: p.Valid})
}

// Load reads a partition written by Save and validates it.
func Load(trainPath, validPath string) (models.Partition, error) {
	train, err := readIndexFile(trainPath)
	if err != nil {
		return models.Partition{}, err
	}
	valid, err := readIndexFile(validPath)
	if err != nil {
		return models.Partition{}, err
	}

	if train.Seed != valid.Seed || train.Total != valid.Total {
		return models.Partition{}, errors.Wrapf(ErrInvalidPartition,
			"%s (seed %d, total %d) and %s (seed %d, total %d) come from different splits",
			trainPath, train.Seed, train.Total, validPath, valid.Seed, valid.Total)
	}

	p := models.Partition{
		Seed:  train.Seed,
		Total: train.Total,
		Train: train.Indices,
		Valid: valid.Indices,
	}
	if err := Validate(p); err != nil {
		return models.Partition{}, errors.Wrapf(err, "loading %s and %s", trainPath, validPath)
	}
	return p, nil
}

// LoadOrCreate reuses the persisted partition when the train index file
// exists, otherwise it creates a new split and saves it. The boolean is
// true when a new split was written.
func LoadOrCreate(trainPath, validPath string, total int, validFraction float64, seed int64) (models.Partition, bool, error) {
	if _, err := os.Stat(trainPath); err == nil {
		p, err := Load(trainPath, validPath)
		if err != nil {
			return models.Partition{}, false, err
		}
		if p.Total != total {
			return models.Partition{}, false, errors.Wrapf(ErrInvalidPartition,
				"persisted split covers %d records, table has %d", p.Total, total)
		}
		return p, false, nil
	}

	p, err := Split(total, validFraction, seed)
	if err != nil {
		return models.Partition{}, false, err
	}
	if err := Save(p, trainPath, validPath); err != nil {
		return models.Partition{}, false, err
	}
	return p, true, nil
}

// Subsets returns the training and validation rows of t.
func Subsets(t *table.Table, p models.Partition) (train, valid *table.Table, err error) {
	if t.Len() != p.Total {
		return nil, nil, errors.Wrapf(ErrInvalidPartition, "split covers %d records, table has %d", p.Total, t.Len())
	}
	if train, err = t.Subset(p.Train); err != nil {
		return nil, nil, err
	}
	if valid, err = t.Subset(p.Valid); err != nil {
		return nil, nil, err
	}
	return train, valid, nil
}

func writeIndexFile(path string, f IndexFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", path)
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "failed to marshal index file")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write index file %s", path)
	}
	return nil
}

func readIndexFile(path string) (IndexFile, error) {
	var f IndexFile
	data, err := os.ReadFile(path)
	if err != nil {
		return f, errors.Wrapf(err, "failed to read index file %s", path)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, errors.Wrapf(err, "failed to parse index file %s", path)
	}
	return f, nil
}
