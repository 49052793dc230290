package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/randytsao24/tournee/internal/matrix"
	"github.com/randytsao24/tournee/internal/reconcile"
)

var coordHeader = []string{
	"indice", "indice_original", "nom", "adresse", "code_postal", "ville", "latitude", "longitude",
}

// WriteCoords writes the reconciled locations in sequential order
func WriteCoords(w io.Writer, entries []reconcile.Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(coordHeader); err != nil {
		return err
	}
	for _, e := range entries {
		loc := e.Location
		record := []string{
			strconv.Itoa(e.Sequential),
			strconv.Itoa(e.Original),
			loc.Name,
			loc.Address,
			loc.PostalCode,
			loc.City,
			strconv.FormatFloat(loc.Lat, 'f', -1, 64),
			strconv.FormatFloat(loc.Lng, 'f', -1, 64),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeCoordFile(path string, entries []reconcile.Entry) error {
	return matrix.WriteAtomic(path, func(w io.Writer) error {
		return WriteCoords(w, entries)
	})
}

// runRecord is the JSON summary left next to a run's files
type runRecord struct {
	Summary
	StartedAt        time.Time                `json:"started_at"`
	UnmatchedNames   []reconcile.MatchFailure `json:"unmatched_names"`
	DuplicateNames   []reconcile.MatchFailure `json:"duplicate_names"`
	MasterProvider   string                   `json:"master_provider"`
	MasterAcquiredAt time.Time                `json:"master_acquired_at"`
	FingerprintMatch bool                     `json:"fingerprint_match"`
}

func writeSummaryFile(path string, run *Run) error {
	rec := runRecord{
		Summary:          run.Summary(),
		StartedAt:        run.StartedAt.UTC(),
		UnmatchedNames:   run.Reconciled.Unmatched,
		DuplicateNames:   run.Reconciled.Duplicates,
		FingerprintMatch: run.FingerprintMatch,
	}
	if run.Master != nil {
		rec.MasterProvider = run.Master.Provider
		rec.MasterAcquiredAt = run.Master.AcquiredAt
	}
	return matrix.WriteAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	})
}
