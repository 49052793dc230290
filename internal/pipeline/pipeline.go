// Package pipeline runs the per-manifest flow: reconcile the manifest
// against the registry, extract the local matrices from the published
// master, write the optimizer's input files. It also refreshes the master.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/randytsao24/tournee/internal/extract"
	"github.com/randytsao24/tournee/internal/matrix"
	"github.com/randytsao24/tournee/internal/reconcile"
	"github.com/randytsao24/tournee/internal/registry"
)

var (
	ErrRegistryDrift = errors.New("pipeline: master was acquired for a different registry")
	ErrNoStops       = errors.New("pipeline: no manifest name matched the registry")
)

// Output file names inside a run's output directory
const (
	CoordFile    = "coord.csv"
	DistanceFile = matrix.DistanceFile
	DurationFile = matrix.DurationFile
	SummaryFile  = "run.json"
)

// Options configures a Pipeline
type Options struct {
	// OutputDir receives the run's files. Empty disables writing.
	OutputDir string
	// PerRunDir writes each run under OutputDir/<run id>
	PerRunDir bool
	// Strict fails runs whose master fingerprint differs from the registry's
	Strict bool
}

// Pipeline holds what runs share: the registry and the master source
type Pipeline struct {
	registry *registry.Registry
	master   matrix.Source
	opts     Options
	logger   zerolog.Logger
}

// New creates a pipeline
func New(reg *registry.Registry, master matrix.Source, opts Options, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		registry: reg,
		master:   master,
		opts:     opts,
		logger:   logger.With().Str("component", "pipeline").Logger(),
	}
}

// Registry returns the registry runs are reconciled against
func (p *Pipeline) Registry() *registry.Registry {
	return p.registry
}

// Outputs are the files written for a run
type Outputs struct {
	Dir      string `json:"dir"`
	Coord    string `json:"coord"`
	Distance string `json:"distance"`
	Duration string `json:"duration"`
}

// Run is the state of one pipeline run, threaded from stage to stage
type Run struct {
	ID        uuid.UUID
	StartedAt time.Time
	Names     []string

	Reconciled *reconcile.Result
	Master     *matrix.Snapshot
	// FingerprintMatch is false when the master was acquired for another
	// registry, or carries no fingerprint.
	FingerprintMatch bool
	Local            matrix.Pair
	Outputs          *Outputs
	Route            string
}

// Summary is the headline of a run. Stops excludes the depot; Total
// includes it.
type Summary struct {
	RunID      string `json:"run_id"`
	Requested  int    `json:"requested"`
	Stops      int    `json:"stops"`
	HasDepot   bool   `json:"has_depot"`
	Total      int    `json:"total"`
	Unmatched  int    `json:"unmatched"`
	Duplicates int    `json:"duplicates"`
}

// Summary computes the run's counts
func (r *Run) Summary() Summary {
	s := Summary{RunID: r.ID.String(), Requested: len(r.Names)}
	if r.Reconciled != nil {
		s.Stops = r.Reconciled.Stops()
		s.HasDepot = r.Reconciled.HasDepot
		s.Total = len(r.Reconciled.Entries)
		s.Unmatched = len(r.Reconciled.Unmatched)
		s.Duplicates = len(r.Reconciled.Duplicates)
	}
	return s
}

// Execute runs the pipeline for the manifest names. On error no output
// file of this run is left behind. Unmatched names are not errors; they are listed in the result.
func (p *Pipeline) Execute(ctx context.Context, names []string) (*Run, error) {
	run := &Run{
		ID:        uuid.New(),
		StartedAt: time.Now(),
		Names:     names,
	}
	log := p.logger.With().Str("run_id", run.ID.String()).Logger()

	run.Reconciled = reconcile.Reconcile(p.registry, names)
	for _, f := range run.Reconciled.Unmatched {
		log.Warn().Int("row", f.Row).Str("name", f.Name).Msg("Manifest name not in registry")
	}
	for _, f := range run.Reconciled.Duplicates {
		log.Warn().Int("row", f.Row).Str("name", f.Name).Msg("Manifest name already in run, skipped")
	}
	if run.Reconciled.Stops() == 0 {
		return run, fmt.Errorf("%w (%d names)", ErrNoStops, len(names))
	}

	if err := ctx.Err(); err != nil {
		return run, err
	}

	master, err := p.master.Master()
	if err != nil {
		return run, fmt.Errorf("loading master matrix: %w", err)
	}
	run.Master = master

	if err := p.checkFingerprint(run, log); err != nil {
		return run, err
	}

	local, err := extract.Extract(run.Reconciled.Index, master.Pair)
	if err != nil {
		log.Error().Err(err).Msg("Master matrix out of sync with registry")
		return run, err
	}
	for _, k := range local.Distance.NonZeroDiagonal() {
		log.Warn().Int("indice", k).Msg("Non-zero self distance")
	}
	for _, k := range local.Duration.NonZeroDiagonal() {
		log.Warn().Int("indice", k).Msg("Non-zero self duration")
	}
	run.Local = local

	if p.opts.OutputDir != "" {
		outputs, err := p.writeOutputs(run)
		if err != nil {
			return run, err
		}
		run.Outputs = outputs
	}

	summary := run.Summary()
	log.Info().
		Int("requested", summary.Requested).
		Int("stops", summary.Stops).
		Bool("has_depot", summary.HasDepot).
		Int("unmatched", summary.Unmatched).
		Msg("Run prepared")
	return run, nil
}

func (p *Pipeline) checkFingerprint(run *Run, log zerolog.Logger) error {
	want := p.registry.Fingerprint()
	got := run.Master.Fingerprint
	run.FingerprintMatch = got == want

	switch {
	case got == "":
		log.Warn().Str("provider", run.Master.Provider).Msg("Master has no registry fingerprint, drift cannot be detected")
	case got != want:
		if p.opts.Strict {
			return fmt.Errorf("%w: master %.12s, registry %.12s", ErrRegistryDrift, got, want)
		}
		log.Warn().
			Str("master", got).
			Str("registry", want).
			Msg("Master was acquired for a different registry, consider reacquiring")
	}
	return nil
}

// writeOutputs writes the run's files. If any of them fails, the ones
// already written are removed.
func (p *Pipeline) writeOutputs(run *Run) (_ *Outputs, err error) {
	dir := p.opts.OutputDir
	if p.opts.PerRunDir {
		dir = filepath.Join(dir, run.ID.String())
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	out := &Outputs{
		Dir:      dir,
		Coord:    filepath.Join(dir, CoordFile),
		Distance: filepath.Join(dir, DistanceFile),
		Duration: filepath.Join(dir, DurationFile),
	}
	files := []struct {
		path  string
		write func(string) error
	}{
		{out.Distance, func(path string) error { return matrix.WriteCSVFile(path, run.Local.Distance) }},
		{out.Duration, func(path string) error { return matrix.WriteCSVFile(path, run.Local.Duration) }},
		{out.Coord, func(path string) error { return writeCoordFile(path, run.Reconciled.Entries) }},
		{filepath.Join(dir, SummaryFile), func(path string) error { return writeSummaryFile(path, run) }},
	}

	var written []string
	defer func() {
		if err == nil {
			return
		}
		for _, path := range written {
			os.Remove(path)
		}
		if p.opts.PerRunDir {
			os.Remove(dir)
		}
	}()

	for _, f := range files {
		if err := f.write(f.path); err != nil {
			return nil, err
		}
		written = append(written, f.path)
	}
	return out, nil
}
