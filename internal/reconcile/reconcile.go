// Package reconcile matches the names of a delivery manifest against the
// registry and assigns each matched location a sequential run index.
//
// The depot (registry index 0), when the registry has one, always takes
// sequential index 0 whether or not the manifest lists it. Matching is exact
// after trimming and lower-casing; the first registry entry in index order
// wins when several share a name. Names with no match, or that resolve to a
// location already in the run, are reported and skipped.
package reconcile

import (
	"strings"

	"github.com/randytsao24/tournee/internal/models"
	"github.com/randytsao24/tournee/internal/registry"
)

// Entry is one reconciled location
type Entry struct {
	Sequential int             `json:"indice"`
	Original   int             `json:"indice_original"`
	Location   models.Location `json:"location"`
}

// MatchFailure records a manifest row that was not added to the run.
// Row is the position of the name in the manifest.
type MatchFailure struct {
	Row  int    `json:"row"`
	Name string `json:"name"`
}

// Result is the output of Reconcile
type Result struct {
	Entries    []Entry
	Unmatched  []MatchFailure
	Duplicates []MatchFailure
	Index      *IndexMap
	HasDepot   bool
}

// Stops counts delivery stops, excluding the depot.
func (r *Result) Stops() int {
	if r.HasDepot {
		return len(r.Entries) - 1
	}
	return len(r.Entries)
}

// UnmatchedNames returns the names that had no registry match
func (r *Result) UnmatchedNames() []string {
	names := make([]string, len(r.Unmatched))
	for i, f := range r.Unmatched {
		names[i] = f.Name
	}
	return names
}

// NormalizeName is the equality key used for matching
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Reconcile matches names against reg. It never fails: unmatched names are
// part of the result. When several registry rows share a name the first row
// of the registry file wins. The registry is not modified.
func Reconcile(reg *registry.Registry, names []string) *Result {
	byName := make(map[string]models.Location, reg.Len())
	for _, loc := range reg.InFileOrder() {
		key := NormalizeName(loc.Name)
		if _, exists := byName[key]; !exists {
			byName[key] = loc
		}
	}

	res := &Result{}
	seen := make(map[int]bool)
	add := func(loc models.Location) {
		res.Entries = append(res.Entries, Entry{
			Sequential: len(res.Entries),
			Original:   loc.Index,
			Location:   loc,
		})
		seen[loc.Index] = true
	}

	if depot, ok := reg.Depot(); ok {
		res.HasDepot = true
		add(depot)
	}

	for row, name := range names {
		loc, ok := byName[NormalizeName(name)]
		switch {
		case !ok:
			res.Unmatched = append(res.Unmatched, MatchFailure{Row: row, Name: name})
		case seen[loc.Index]:
			res.Duplicates = append(res.Duplicates, MatchFailure{Row: row, Name: name})
		default:
			add(loc)
		}
	}

	originals := make([]int, len(res.Entries))
	for i, e := range res.Entries {
		originals[i] = e.Original
	}
	// seen guarantees distinct originals
	res.Index, _ = NewIndexMap(originals)
	return res
}
