package matrix

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/randytsao24/tournee/internal/models"
)

// WriteCSV writes m as a labelled table: an empty corner cell, the keys as
// column labels, then one row per key starting with its label.
func WriteCSV(w io.Writer, m *Matrix) error {
	cw := csv.NewWriter(w)
	n := m.Len()

	record := make([]string, n+1)
	for j, k := range m.keys {
		record[j+1] = strconv.Itoa(k)
	}
	if err := cw.Write(record); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, k := range m.keys {
		record[0] = strconv.Itoa(k)
		for j := 0; j < n; j++ {
			record[j+1] = strconv.FormatFloat(m.AtPos(i, j), 'f', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing row %d: %w", k, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a table written by WriteCSV or by tabular tools that label
// rows and columns with different spellings of the same integer. Row labels
// must be exactly the column labels, in any order.
func ReadCSV(r io.Reader) (*Matrix, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty table", ErrShape)
	}

	header := records[0]
	if len(header) < 1 {
		return nil, fmt.Errorf("%w: empty header", ErrShape)
	}
	colKeys := make([]int, 0, len(header)-1)
	for j, label := range header[1:] {
		k, err := models.ParseIndex(label)
		if err != nil {
			return nil, fmt.Errorf("column label %d: %w", j+1, err)
		}
		colKeys = append(colKeys, k)
	}

	m, err := New(colKeys)
	if err != nil {
		return nil, fmt.Errorf("column labels: %w", err)
	}

	rows := records[1:]
	if len(rows) != m.Len() {
		return nil, fmt.Errorf("%w: %d rows for %d columns", ErrShape, len(rows), m.Len())
	}

	seen := make([]bool, m.Len())
	values := make([]float64, m.Len())
	for line, record := range rows {
		if len(record) != m.Len()+1 {
			return nil, fmt.Errorf("%w: line %d has %d fields, want %d", ErrShape, line+2, len(record), m.Len()+1)
		}
		key, err := models.ParseIndex(record[0])
		if err != nil {
			return nil, fmt.Errorf("row label on line %d: %w", line+2, err)
		}
		i, ok := m.Position(key)
		if !ok {
			return nil, fmt.Errorf("%w: row %d has no matching column", ErrLabelMismatch, key)
		}
		if seen[i] {
			return nil, fmt.Errorf("%w %d (row)", ErrDuplicateKey, key)
		}
		seen[i] = true

		for j, cell := range record[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: %w", key, colKeys[j], err)
			}
			values[j] = v
		}
		if err := m.SetRowPos(i, values); err != nil {
			return nil, fmt.Errorf("row %d: %w", key, err)
		}
	}
	return m, nil
}

// ReadCSVFile reads a matrix file
func ReadCSVFile(path string) (*Matrix, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening matrix file: %w", err)
	}
	defer file.Close()

	m, err := ReadCSV(file)
	if err != nil {
		return nil, fmt.Errorf("matrix %s: %w", path, err)
	}
	return m, nil
}

// WriteCSVFile writes a matrix file atomically
func WriteCSVFile(path string, m *Matrix) error {
	return WriteAtomic(path, func(w io.Writer) error {
		return WriteCSV(w, m)
	})
}
