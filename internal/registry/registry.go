// Package registry loads the master list of delivery locations and the
// per-run delivery manifests.
package registry

import (
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"
	"go.uber.org/multierr"

	"github.com/randytsao24/tournee/internal/models"
)

var (
	ErrDuplicateIndex = errors.New("registry: duplicate index")
	ErrMissingColumn  = errors.New("registry: missing required column")
	ErrEmpty          = errors.New("registry: no usable rows")
)

const (
	colIndex      = "index"
	colName       = "name"
	colAddress    = "address"
	colPostalCode = "postal_code"
	colCity       = "city"
	colLat        = "latitude"
	colLng        = "longitude"
)

// columnAliases lists accepted header spellings, French first
var columnAliases = map[string][]string{
	colIndex:      {"indice", "index", "id"},
	colName:       {"nom", "name"},
	colAddress:    {"adresse", "address"},
	colPostalCode: {"code_postal", "postal_code", "zip"},
	colCity:       {"ville", "city"},
	colLat:        {"latitude", "lat"},
	colLng:        {"longitude", "lng", "lon"},
}

var requiredColumns = []string{colIndex, colName, colLat, colLng}

// Registry is the immutable set of known locations, ordered by index. The
// order the locations were given in is kept for name lookups.
type Registry struct {
	locations []models.Location
	byIndex   map[int]int
	// fileOrder[k] is the position in locations of the k-th input row
	fileOrder []int
	dropped   int
}

// New builds a registry from locations given in file order. Locations are
// sorted by index and indices must be unique and non-negative.
func New(locations []models.Location) (*Registry, error) {
	order := make([]int, len(locations))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return locations[order[a]].Index < locations[order[b]].Index
	})

	sorted := make([]models.Location, len(locations))
	fileOrder := make([]int, len(locations))
	for pos, input := range order {
		sorted[pos] = locations[input]
		fileOrder[input] = pos
	}

	r := &Registry{
		locations: sorted,
		byIndex:   make(map[int]int, len(sorted)),
		fileOrder: fileOrder,
	}

	var err error
	for i, loc := range sorted {
		if loc.Index < 0 {
			err = multierr.Append(err, fmt.Errorf("location %q: negative index %d", loc.Name, loc.Index))
			continue
		}
		if _, exists := r.byIndex[loc.Index]; exists {
			err = multierr.Append(err, fmt.Errorf("%w %d (%q)", ErrDuplicateIndex, loc.Index, loc.Name))
			continue
		}
		r.byIndex[loc.Index] = i
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Load reads a registry CSV file with a header row.
func Load(path string, logger zerolog.Logger) (*Registry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening registry file: %w", err)
	}
	defer file.Close()

	r, err := Read(file, logger)
	if err != nil {
		return nil, fmt.Errorf("registry %s: %w", path, err)
	}

	logger.Info().
		Str("path", path).
		Int("locations", r.Len()).
		Int("dropped", r.dropped).
		Bool("depot", r.HasDepot()).
		Msg("registry loaded")
	return r, nil
}

// Read parses registry CSV content. Rows without usable coordinates are
// dropped with a warning; malformed or duplicate indices fail the load.
func Read(in io.Reader, logger zerolog.Logger) (*Registry, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, ErrEmpty
	}

	columns, err := resolveColumns(records[0])
	if err != nil {
		return nil, err
	}

	var (
		locations []models.Location
		rowErrs   error
		dropped   int
	)

	// Skip header row
	for i, record := range records[1:] {
		line := i + 2
		field := func(name string) string {
			pos, ok := columns[name]
			if !ok || pos >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[pos])
		}

		index, err := models.ParseIndex(field(colIndex))
		if err != nil {
			rowErrs = multierr.Append(rowErrs, fmt.Errorf("line %d: %w", line, err))
			continue
		}

		lat, latErr := strconv.ParseFloat(field(colLat), 64)
		lng, lngErr := strconv.ParseFloat(field(colLng), 64)
		if latErr != nil || lngErr != nil || math.IsNaN(lat) || math.IsNaN(lng) {
			dropped++
			logger.Warn().
				Int("line", line).
				Int("index", index).
				Str("name", field(colName)).
				Msg("registry row without coordinates dropped")
			continue
		}

		locations = append(locations, models.Location{
			Index:      index,
			Name:       field(colName),
			Address:    field(colAddress),
			PostalCode: field(colPostalCode),
			City:       field(colCity),
			Lat:        lat,
			Lng:        lng,
		})
	}

	if rowErrs != nil {
		return nil, rowErrs
	}
	if len(locations) == 0 {
		return nil, ErrEmpty
	}

	r, err := New(locations)
	if err != nil {
		return nil, err
	}
	r.dropped = dropped
	return r, nil
}

func resolveColumns(header []string) (map[string]int, error) {
	normalized := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		normalized[strings.ToLower(strings.TrimSpace(h))] = i
	}

	columns := make(map[string]int, len(columnAliases))
	for name, aliases := range columnAliases {
		for _, alias := range aliases {
			if pos, ok := normalized[alias]; ok {
				columns[name] = pos
				break
			}
		}
	}

	var err error
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			err = multierr.Append(err, fmt.Errorf("%w %q", ErrMissingColumn, name))
		}
	}
	return columns, err
}

// Len returns the number of locations
func (r *Registry) Len() int {
	return len(r.locations)
}

// Dropped returns how many rows were skipped for missing coordinates
func (r *Registry) Dropped() int {
	return r.dropped
}

// Locations returns a copy of all locations in index order
func (r *Registry) Locations() []models.Location {
	out := make([]models.Location, len(r.locations))
	copy(out, r.locations)
	return out
}

// At returns the location at position i in index order
func (r *Registry) At(i int) models.Location {
	return r.locations[i]
}

// InFileOrder returns a copy of all locations in the order they were read
func (r *Registry) InFileOrder() []models.Location {
	out := make([]models.Location, len(r.fileOrder))
	for k, pos := range r.fileOrder {
		out[k] = r.locations[pos]
	}
	return out
}

// ByIndex returns a location by its registry key
func (r *Registry) ByIndex(index int) (models.Location, bool) {
	pos, ok := r.byIndex[index]
	if !ok {
		return models.Location{}, false
	}
	return r.locations[pos], true
}

// Depot returns the depot entry if the registry has one
func (r *Registry) Depot() (models.Location, bool) {
	return r.ByIndex(models.DepotIndex)
}

// HasDepot reports whether index 0 is present
func (r *Registry) HasDepot() bool {
	_, ok := r.byIndex[models.DepotIndex]
	return ok
}

// Keys returns the registry keys in index order
func (r *Registry) Keys() []int {
	keys := make([]int, len(r.locations))
	for i, loc := range r.locations {
		keys[i] = loc.Index
	}
	return keys
}

// Coordinates returns [lng, lat] pairs in index order
func (r *Registry) Coordinates() []models.Coordinate {
	coords := make([]models.Coordinate, len(r.locations))
	for i, loc := range r.locations {
		coords[i] = models.Coordinate{loc.Lng, loc.Lat}
	}
	return coords
}

// Fingerprint identifies the keys and coordinates the master matrix depends
// on. Names and addresses are not part of it.
func (r *Registry) Fingerprint() string {
	hasher := blake3.New()
	buf := make([]byte, 0, 64)
	for _, loc := range r.locations {
		buf = buf[:0]
		buf = strconv.AppendInt(buf, int64(loc.Index), 10)
		buf = append(buf, '|')
		buf = strconv.AppendFloat(buf, loc.Lat, 'g', -1, 64)
		buf = append(buf, '|')
		buf = strconv.AppendFloat(buf, loc.Lng, 'g', -1, 64)
		buf = append(buf, '\n')
		hasher.Write(buf)
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
