package registry

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/randytsao24/tournee/internal/models"
)

// LoadManifest reads a delivery manifest file
func LoadManifest(path string) ([]models.ManifestRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest file: %w", err)
	}
	defer file.Close()

	rows, err := ReadManifest(file)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return rows, nil
}

// ReadManifest parses a header-less CSV whose columns are name, address,
// postal code and city. Only the name is required; blank names are skipped.
func ReadManifest(in io.Reader) ([]models.ManifestRow, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}

	rows := make([]models.ManifestRow, 0, len(records))
	for i, record := range records {
		col := func(n int) string {
			if n >= len(record) {
				return ""
			}
			v := strings.TrimSpace(record[n])
			if i == 0 && n == 0 {
				v = strings.TrimPrefix(v, "\ufeff")
			}
			return v
		}

		name := col(0)
		if name == "" {
			continue
		}
		rows = append(rows, models.ManifestRow{
			Name:       name,
			Address:    col(1),
			PostalCode: col(2),
			City:       col(3),
		})
	}
	return rows, nil
}

// Names returns the manifest names in file order
func Names(rows []models.ManifestRow) []string {
	names := make([]string, len(rows))
	for i, row := range rows {
		names[i] = row.Name
	}
	return names
}
