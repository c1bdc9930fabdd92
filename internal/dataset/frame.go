// Package dataset reads numeric tabular input into named columns.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrColumnNotFound = errors.New("column not found")
	ErrEmpty          = errors.New("dataset is empty")
)

// Frame is an in-memory table of float64 columns with equal length.
type Frame struct {
	names []string
	cols  map[string][]float64
	rows  int
}

// NewFrame builds a frame from columns in the given order.
func NewFrame(names []string, cols map[string][]float64) (Frame, error) {
	f := Frame{names: append([]string(nil), names...), cols: make(map[string][]float64, len(names)), rows: -1}
	for _, name := range names {
		col, ok := cols[name]
		if !ok {
			return Frame{}, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
		}
		if _, dup := f.cols[name]; dup {
			return Frame{}, fmt.Errorf("duplicate column %s", name)
		}
		if f.rows >= 0 && len(col) != f.rows {
			return Frame{}, fmt.Errorf("column %s has %d rows, expected %d", name, len(col), f.rows)
		}
		f.rows = len(col)
		f.cols[name] = append([]float64(nil), col...)
	}
	if f.rows < 0 {
		f.rows = 0
	}
	return f, nil
}

func ReadCSVFile(path string) (Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return Frame{}, err
	}
	defer file.Close()
	return ReadCSV(file)
}

// ReadCSV reads a header row followed by numeric rows. Blank rows are
// skipped.
func ReadCSV(in io.Reader) (Frame, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return Frame{}, ErrEmpty
	}
	if err != nil {
		return Frame{}, fmt.Errorf("read csv header: %w", err)
	}
	names := make([]string, len(header))
	for i, h := range header {
		names[i] = strings.TrimSpace(h)
		if names[i] == "" {
			return Frame{}, fmt.Errorf("read csv header: column %d has no name", i)
		}
	}

	cols := make(map[string][]float64, len(names))
	rowIndex := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Frame{}, fmt.Errorf("read csv row %d: %w", rowIndex, err)
		}
		if blankRecord(record) {
			continue
		}
		if len(record) != len(names) {
			return Frame{}, fmt.Errorf("read csv row %d: got %d fields, expected %d", rowIndex, len(record), len(names))
		}
		for i, field := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return Frame{}, fmt.Errorf("read csv row %d column %s: %w", rowIndex, names[i], err)
			}
			cols[names[i]] = append(cols[names[i]], v)
		}
		rowIndex++
	}
	if rowIndex == 1 {
		return Frame{}, ErrEmpty
	}
	return NewFrame(names, cols)
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

func (f Frame) Len() int { return f.rows }

func (f Frame) Names() []string { return append([]string(nil), f.names...) }

// Column returns a copy of the named column.
func (f Frame) Column(name string) ([]float64, error) {
	col, ok := f.cols[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
	}
	return append([]float64(nil), col...), nil
}

// Matrix stacks the named columns into a rows×len(names) matrix.
func (f Frame) Matrix(names []string) (*mat.Dense, error) {
	if f.rows == 0 {
		return nil, ErrEmpty
	}
	if len(names) == 0 {
		return nil, errors.New("at least one column is required")
	}
	out := mat.NewDense(f.rows, len(names), nil)
	for j, name := range names {
		col, ok := f.cols[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
		}
		out.SetCol(j, col)
	}
	return out, nil
}

// Range returns the minimum and maximum of a column.
func (f Frame) Range(name string) (float64, float64, error) {
	col, ok := f.cols[name]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
	}
	if len(col) == 0 {
		return 0, 0, ErrEmpty
	}
	return floats.Min(col), floats.Max(col), nil
}
