// Package matrix holds square distance and duration matrices keyed by
// registry index on both axes, and the store that persists the master pair.
//
// Row and column keys share one key space. Files that label the two axes
// differently are normalized when read, so lookups never depend on how a
// key was spelled on disk.
package matrix

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrUnknownKey    = errors.New("matrix: unknown key")
	ErrDuplicateKey  = errors.New("matrix: duplicate key")
	ErrShape         = errors.New("matrix: invalid shape")
	ErrLabelMismatch = errors.New("matrix: row and column labels differ")
	ErrPairMismatch  = errors.New("matrix: distance and duration keys differ")
	ErrNotFinite     = errors.New("matrix: NaN or Inf value")
)

// Matrix is an n×n matrix addressed by keys. Positions follow key order.
type Matrix struct {
	keys []int
	pos  map[int]int
	data []float64
}

// New allocates a zero matrix over keys
func New(keys []int) (*Matrix, error) {
	m := &Matrix{
		keys: make([]int, len(keys)),
		pos:  make(map[int]int, len(keys)),
		data: make([]float64, len(keys)*len(keys)),
	}
	for i, k := range keys {
		if _, exists := m.pos[k]; exists {
			return nil, fmt.Errorf("%w %d", ErrDuplicateKey, k)
		}
		m.keys[i] = k
		m.pos[k] = i
	}
	return m, nil
}

// Sequential allocates a zero matrix keyed 0..n-1
func Sequential(n int) *Matrix {
	keys := make([]int, n)
	for i := range keys {
		keys[i] = i
	}
	m, _ := New(keys)
	return m
}

// Len returns n
func (m *Matrix) Len() int {
	return len(m.keys)
}

// Keys returns a copy of the keys in position order
func (m *Matrix) Keys() []int {
	out := make([]int, len(m.keys))
	copy(out, m.keys)
	return out
}

// Position returns the row/column position of key
func (m *Matrix) Position(key int) (int, bool) {
	p, ok := m.pos[key]
	return p, ok
}

// At returns the value for the (row, col) key pair
func (m *Matrix) At(row, col int) (float64, error) {
	i, ok := m.pos[row]
	if !ok {
		return 0, fmt.Errorf("%w %d (row)", ErrUnknownKey, row)
	}
	j, ok := m.pos[col]
	if !ok {
		return 0, fmt.Errorf("%w %d (column)", ErrUnknownKey, col)
	}
	return m.data[i*len(m.keys)+j], nil
}

// Set stores a value for the (row, col) key pair
func (m *Matrix) Set(row, col int, v float64) error {
	i, ok := m.pos[row]
	if !ok {
		return fmt.Errorf("%w %d (row)", ErrUnknownKey, row)
	}
	j, ok := m.pos[col]
	if !ok {
		return fmt.Errorf("%w %d (column)", ErrUnknownKey, col)
	}
	m.data[i*len(m.keys)+j] = v
	return nil
}

// AtPos returns the value at positions (i, j). It panics when out of range.
func (m *Matrix) AtPos(i, j int) float64 {
	return m.data[i*len(m.keys)+j]
}

// SetPos stores a value at positions (i, j). It panics when out of range.
func (m *Matrix) SetPos(i, j int, v float64) {
	m.data[i*len(m.keys)+j] = v
}

// SetRowPos overwrites row i with values, which must have length n and be finite
func (m *Matrix) SetRowPos(i int, values []float64) error {
	n := len(m.keys)
	if i < 0 || i >= n {
		return fmt.Errorf("%w: row %d outside [0,%d)", ErrShape, i, n)
	}
	if len(values) != n {
		return fmt.Errorf("%w: row %d has %d values, want %d", ErrShape, i, len(values), n)
	}
	for j, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w at row %d column %d", ErrNotFinite, i, j)
		}
	}
	copy(m.data[i*n:(i+1)*n], values)
	return nil
}

// Row returns a copy of row i
func (m *Matrix) Row(i int) []float64 {
	n := len(m.keys)
	out := make([]float64, n)
	copy(out, m.data[i*n:(i+1)*n])
	return out
}

// NonZeroDiagonal returns the keys whose self-distance is not zero
func (m *Matrix) NonZeroDiagonal() []int {
	var keys []int
	for i, k := range m.keys {
		if m.AtPos(i, i) != 0 {
			keys = append(keys, k)
		}
	}
	return keys
}

// SameKeys reports whether both matrices use the same keys in the same order
func (m *Matrix) SameKeys(other *Matrix) bool {
	if len(m.keys) != len(other.keys) {
		return false
	}
	for i, k := range m.keys {
		if other.keys[i] != k {
			return false
		}
	}
	return true
}

// Stats summarizes a matrix the way acquisition logs report it
type Stats struct {
	MinNonZero  float64
	Max         float64
	MeanNonZero float64
	NonZero     int
}

// Stats computes summary values; zero entries are excluded from min and mean
func (m *Matrix) Stats() Stats {
	var s Stats
	var sum float64
	for _, v := range m.data {
		if v > s.Max {
			s.Max = v
		}
		if v <= 0 {
			continue
		}
		if s.NonZero == 0 || v < s.MinNonZero {
			s.MinNonZero = v
		}
		sum += v
		s.NonZero++
	}
	if s.NonZero > 0 {
		s.MeanNonZero = sum / float64(s.NonZero)
	}
	return s
}

// Pair is a distance matrix and a duration matrix over the same keys. The
// two are always produced, stored and loaded together.
type Pair struct {
	Distance *Matrix
	Duration *Matrix
}

// NewPair allocates two zero matrices over keys
func NewPair(keys []int) (Pair, error) {
	dist, err := New(keys)
	if err != nil {
		return Pair{}, err
	}
	dur, _ := New(keys)
	return Pair{Distance: dist, Duration: dur}, nil
}

// Validate checks that both halves are present and share keys
func (p Pair) Validate() error {
	if p.Distance == nil || p.Duration == nil {
		return fmt.Errorf("%w: incomplete pair", ErrPairMismatch)
	}
	if !p.Distance.SameKeys(p.Duration) {
		return ErrPairMismatch
	}
	return nil
}

// Len returns n for the pair
func (p Pair) Len() int {
	if p.Distance == nil {
		return 0
	}
	return p.Distance.Len()
}
