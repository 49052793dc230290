package reconcile

import (
	"errors"
	"fmt"
)

var ErrDuplicateOriginal = errors.New("reconcile: original index mapped twice")

// IndexMap is the single translation point between the sequential index space
// of one run (0..k-1) and the registry's original indices.
type IndexMap struct {
	toOriginal   []int
	toSequential map[int]int
}

// NewIndexMap maps sequential position i to originals[i]. Originals must be
// pairwise distinct.
func NewIndexMap(originals []int) (*IndexMap, error) {
	m := &IndexMap{
		toOriginal:   make([]int, len(originals)),
		toSequential: make(map[int]int, len(originals)),
	}
	for seq, orig := range originals {
		if prev, exists := m.toSequential[orig]; exists {
			return nil, fmt.Errorf("%w: %d at positions %d and %d", ErrDuplicateOriginal, orig, prev, seq)
		}
		m.toOriginal[seq] = orig
		m.toSequential[orig] = seq
	}
	return m, nil
}

// Len returns k, the number of mapped entries
func (m *IndexMap) Len() int {
	return len(m.toOriginal)
}

// Original returns the registry key at sequential position seq
func (m *IndexMap) Original(seq int) (int, bool) {
	if seq < 0 || seq >= len(m.toOriginal) {
		return 0, false
	}
	return m.toOriginal[seq], true
}

// Sequential returns the run position of a registry key
func (m *IndexMap) Sequential(orig int) (int, bool) {
	seq, ok := m.toSequential[orig]
	return seq, ok
}

// Originals returns the registry keys in sequential order
func (m *IndexMap) Originals() []int {
	out := make([]int, len(m.toOriginal))
	copy(out, m.toOriginal)
	return out
}
