// Package table reads and writes the CSV metadata tables that drive the
// dataset and submission pipelines.
package table

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Column names shared by the input metadata tables.
const (
	ColFilename      = "filename"
	ColPixelSize     = "pixel size(mm)"
	ColCircumference = "head circumference (mm)"
)

// Ellipse columns appended by the dataset and submission pipelines.
var (
	PixelColumns = []string{
		"center_x_pixel", "center_y_pixel", "semi_axes_a_pixel", "semi_axes_b_pixel", "angle_rad",
	}
	MillimeterColumns = []string{
		"center_x_mm", "center_y_mm", "semi_axes_a_mm", "semi_axes_b_mm", "angle_rad",
	}
)

// Table is an in-memory CSV table. Every row has one cell per column.
type Table struct {
	Columns []string
	Rows    [][]string
}

// New creates an empty table with the given header.
func New(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// Read loads a CSV file with a header row.
func Read(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open table %s", path)
	}
	defer f.Close()

	t, err := ReadFrom(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read table %s", path)
	}
	return t, nil
}

// ReadFrom parses CSV data with a header row.
func ReadFrom(r io.Reader) (*Table, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("missing header row")
	}

	header := records[0]
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	// Excel exports start with a byte order mark.
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	return &Table{Columns: header, Rows: records[1:]}, nil
}

// Write stores the table as CSV, creating the parent directory if needed.
func (t *Table) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", path)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create table %s", path)
	}

	if err := t.Encode(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to write table %s", path)
	}
	return f.Close()
}

// Encode writes the header and all rows as CSV.
func (t *Table) Encode(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Index returns the position of a column or -1.
func (t *Table) Index(column string) int {
	for i, c := range t.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// Has reports whether the table has the column.
func (t *Table) Has(column string) bool {
	return t.Index(column) >= 0
}

// Require returns an error naming the first missing column.
func (t *Table) Require(columns ...string) error {
	for _, c := range columns {
		if !t.Has(c) {
			return errors.Errorf("missing column %q", c)
		}
	}
	return nil
}

// String returns the cell at row and column.
func (t *Table) String(row int, column string) (string, error) {
	if row < 0 || row >= len(t.Rows) {
		return "", errors.Errorf("row %d out of range [0, %d)", row, len(t.Rows))
	}
	col := t.Index(column)
	if col < 0 {
		return "", errors.Errorf("missing column %q", column)
	}
	if col >= len(t.Rows[row]) {
		return "", errors.Errorf("row %d has no cell for column %q", row, column)
	}
	return t.Rows[row][col], nil
}

// Float parses the cell at row and column as a float.
func (t *Table) Float(row int, column string) (float64, error) {
	s, err := t.String(row, column)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, errors.Wrapf(err, "row %d column %q", row, column)
	}
	return v, nil
}

// Floats parses a whole column.
func (t *Table) Floats(column string) ([]float64, error) {
	values := make([]float64, len(t.Rows))
	for i := range t.Rows {
		v, err := t.Float(i, column)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// AddColumn appends a column, or replaces its values when it already exists.
func (t *Table) AddColumn(name string, values []string) error {
	if len(values) != len(t.Rows) {
		return errors.Errorf("column %q has %d values for %d rows", name, len(values), len(t.Rows))
	}

	if col := t.Index(name); col >= 0 {
		for i, row := range t.Rows {
			row[col] = values[i]
		}
		return nil
	}

	t.Columns = append(t.Columns, name)
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], values[i])
	}
	return nil
}

// AddFloatColumn appends a float column using FormatFloat.
func (t *Table) AddFloatColumn(name string, values []float64) error {
	cells := make([]string, len(values))
	for i, v := range values {
		cells[i] = FormatFloat(v)
	}
	return t.AddColumn(name, cells)
}

// AddIntColumn appends an integer column.
func (t *Table) AddIntColumn(name string, values []int) error {
	cells := make([]string, len(values))
	for i, v := range values {
		cells[i] = strconv.Itoa(v)
	}
	return t.AddColumn(name, cells)
}

// DropColumn removes a column.
func (t *Table) DropColumn(name string) error {
	col := t.Index(name)
	if col < 0 {
		return errors.Errorf("missing column %q", name)
	}

	t.Columns = append(t.Columns[:col:col], t.Columns[col+1:]...)
	for i, row := range t.Rows {
		if col < len(row) {
			t.Rows[i] = append(row[:col:col], row[col+1:]...)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := &Table{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([][]string, len(t.Rows)),
	}
	for i, row := range t.Rows {
		out.Rows[i] = append([]string(nil), row...)
	}
	return out
}

// Subset returns a copy holding the rows at indices. Rows keep their order
// in t regardless of the order of indices.
func (t *Table) Subset(indices []int) (*Table, error) {
	sorted := append([]int(nil), indices...)
	sort.Ints(sorted)

	out := New(t.Columns...)
	for i, idx := range sorted {
		if idx < 0 || idx >= len(t.Rows) {
			return nil, errors.Errorf("row index %d out of range [0, %d)", idx, len(t.Rows))
		}
		if i > 0 && sorted[i-1] == idx {
			continue
		}
		out.Rows = append(out.Rows, append([]string(nil), t.Rows[idx]...))
	}
	return out, nil
}

// FormatFloat writes v with the fewest digits that parse back exactly.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
