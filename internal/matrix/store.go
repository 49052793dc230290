package matrix

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// File names inside the matrix directory
const (
	SnapshotFile = "master.snap"
	DistanceFile = "meters.csv"
	DurationFile = "time.csv"
)

// ProviderCSV marks a snapshot rebuilt from the CSV pair alone
const ProviderCSV = "csv"

var ErrNoMaster = errors.New("matrix: no master matrix published")

// Store persists the master pair in a directory. The snapshot file is the
// commit point for a publication; the CSV pair is exported next to it for
// tools that read tables.
type Store struct {
	dir    string
	logger zerolog.Logger
}

// NewStore returns a store rooted at dir
func NewStore(dir string, logger zerolog.Logger) *Store {
	return &Store{
		dir:    dir,
		logger: logger.With().Str("component", "matrix_store").Logger(),
	}
}

func (s *Store) Dir() string          { return s.dir }
func (s *Store) SnapshotPath() string { return filepath.Join(s.dir, SnapshotFile) }
func (s *Store) DistancePath() string { return filepath.Join(s.dir, DistanceFile) }
func (s *Store) DurationPath() string { return filepath.Join(s.dir, DurationFile) }

// Publish writes the snapshot and both CSV files. Nothing is renamed into
// place until all three are fully written and synced. The CSV pair goes in
// first and the snapshot last: the snapshot rename commits the publication.
// Any earlier failure restores the previous CSV pair.
func (s *Store) Publish(snap *Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating matrix directory: %w", err)
	}

	targets := []struct {
		path  string
		write func(io.Writer) error
	}{
		{s.DistancePath(), func(w io.Writer) error { return WriteCSV(w, snap.Distance) }},
		{s.DurationPath(), func(w io.Writer) error { return WriteCSV(w, snap.Duration) }},
		{s.SnapshotPath(), func(w io.Writer) error { _, err := w.Write(data); return err }},
	}

	staged := make([]string, 0, len(targets))
	removeStaged := func(from int) error {
		var errs error
		for _, tmp := range staged[from:] {
			errs = multierr.Append(errs, os.Remove(tmp))
		}
		return errs
	}
	for _, t := range targets {
		tmp, err := stage(t.path, t.write)
		if err != nil {
			removeStaged(0)
			return err
		}
		staged = append(staged, tmp)
	}

	backups := make([]backup, 0, len(targets))
	defer func() {
		for _, b := range backups {
			b.discard()
		}
	}()

	for i, t := range targets {
		if err := s.replace(staged[i], t.path, &backups); err != nil {
			err = multierr.Append(err, removeStaged(i))
			for j := len(backups) - 1; j >= 0; j-- {
				err = multierr.Append(err, backups[j].restore())
			}
			backups = nil
			return err
		}
	}
	syncDir(s.dir)

	s.logger.Info().
		Int("locations", snap.Len()).
		Int("bytes", len(data)).
		Str("provider", snap.Provider).
		Str("fingerprint", snap.Fingerprint).
		Msg("Master matrix published")
	return nil
}

// replace renames tmp onto path, recording the previous file in backups
// once path has actually been replaced
func (s *Store) replace(tmp, path string, backups *[]backup) error {
	b, err := keepPrevious(path)
	if err != nil {
		return fmt.Errorf("renaming %s into place: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		b.discard()
		return fmt.Errorf("renaming %s into place: %w", filepath.Base(path), err)
	}
	*backups = append(*backups, b)
	return nil
}

// backup keeps a hard link to the file a rename is about to replace
type backup struct {
	path string
	prev string // empty when path did not exist
}

func keepPrevious(path string) (backup, error) {
	b := backup{path: path}
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		return b, nil
	}
	b.prev = filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".prev")
	os.Remove(b.prev)
	if err := os.Link(path, b.prev); err != nil {
		return b, fmt.Errorf("keeping previous %s: %w", filepath.Base(path), err)
	}
	return b, nil
}

// restore puts the previous file back, or removes path if there was none
func (b backup) restore() error {
	if b.prev == "" {
		return os.Remove(b.path)
	}
	return os.Rename(b.prev, b.path)
}

func (b backup) discard() {
	if b.prev != "" {
		os.Remove(b.prev)
	}
}

// Load returns the published master. The snapshot wins when present; a
// directory holding only the CSV pair is still accepted, without provenance.
func (s *Store) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.SnapshotPath())
	switch {
	case err == nil:
		snap, err := DecodeSnapshot(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.SnapshotPath(), err)
		}
		return snap, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	return s.loadCSVPair()
}

func (s *Store) loadCSVPair() (*Snapshot, error) {
	info, err := os.Stat(s.DistancePath())
	if errors.Is(err, fs.ErrNotExist) {
		if _, err := os.Stat(s.DurationPath()); errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoMaster
		}
		return nil, fmt.Errorf("%w: %s without %s", ErrPairMismatch, DurationFile, DistanceFile)
	}
	if err != nil {
		return nil, fmt.Errorf("stat distance matrix: %w", err)
	}

	dist, err := ReadCSVFile(s.DistancePath())
	if err != nil {
		return nil, err
	}
	dur, err := ReadCSVFile(s.DurationPath())
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Pair:       Pair{Distance: dist, Duration: dur},
		AcquiredAt: info.ModTime().UTC(),
		Provider:   ProviderCSV,
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	s.logger.Warn().Str("dir", s.dir).Msg("No snapshot found, loaded master from CSV pair without fingerprint")
	return snap, nil
}
