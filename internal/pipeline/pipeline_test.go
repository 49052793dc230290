package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randytsao24/tournee/internal/acquire"
	"github.com/randytsao24/tournee/internal/extract"
	"github.com/randytsao24/tournee/internal/geo"
	"github.com/randytsao24/tournee/internal/matrix"
	"github.com/randytsao24/tournee/internal/models"
	"github.com/randytsao24/tournee/internal/ors"
	"github.com/randytsao24/tournee/internal/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]models.Location{
		{Index: 0, Name: "Dépôt", City: "Toulouse", Lat: 43.58, Lng: 1.40},
		{Index: 1, Name: "Pharmacie A", City: "Toulouse", Lat: 43.60, Lng: 1.44},
		{Index: 2, Name: "Pharmacie B", City: "Blagnac", Lat: 43.61, Lng: 1.45},
		{Index: 3, Name: "Pharmacie C", City: "Balma", Lat: 43.62, Lng: 1.46},
		{Index: 4, Name: "Pharmacie D", Address: "1 rue X", PostalCode: "31000", City: "Toulouse", Lat: 43.63, Lng: 1.47},
	})
	require.NoError(t, err)
	return reg
}

// fixedSource serves one snapshot or one error
type fixedSource struct {
	snap *matrix.Snapshot
	err  error
}

func (f fixedSource) Master() (*matrix.Snapshot, error) {
	return f.snap, f.err
}

func masterFor(t *testing.T, reg *registry.Registry) *matrix.Snapshot {
	t.Helper()
	pair, err := matrix.NewPair(reg.Keys())
	require.NoError(t, err)
	for _, r := range reg.Keys() {
		for _, c := range reg.Keys() {
			if r != c {
				require.NoError(t, pair.Distance.Set(r, c, float64(1000*r+c)))
				require.NoError(t, pair.Duration.Set(r, c, float64(60*r+c)))
			}
		}
	}
	return &matrix.Snapshot{Pair: pair, Fingerprint: reg.Fingerprint(), Provider: "test"}
}

func TestExecuteWritesOutputs(t *testing.T) {
	reg := testRegistry(t)
	dir := t.TempDir()
	p := New(reg, fixedSource{snap: masterFor(t, reg)}, Options{OutputDir: dir}, zerolog.Nop())

	run, err := p.Execute(context.Background(), []string{"Pharmacie B", "Pharmacie Z", "pharmacie d"})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, run.ID)
	assert.True(t, run.FingerprintMatch)
	assert.Equal(t, Summary{
		RunID: run.ID.String(), Requested: 3, Stops: 2, HasDepot: true, Total: 3, Unmatched: 1,
	}, run.Summary())

	v, err := run.Local.Distance.At(1, 2)
	require.NoError(t, err)
	assert.Equal(t, 2004.0, v)

	require.NotNil(t, run.Outputs)
	dist, err := matrix.ReadCSVFile(run.Outputs.Distance)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, dist.Keys())
	dur, err := matrix.ReadCSVFile(run.Outputs.Duration)
	require.NoError(t, err)
	got, err := dur.At(2, 1)
	require.NoError(t, err)
	assert.Equal(t, float64(60*4+2), got)

	f, err := os.Open(run.Outputs.Coord)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, coordHeader, records[0])
	assert.Equal(t, []string{"2", "4", "Pharmacie D", "1 rue X", "31000", "Toulouse", "43.63", "1.47"}, records[3])

	data, err := os.ReadFile(filepath.Join(dir, SummaryFile))
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, run.ID.String(), rec["run_id"])
	assert.Equal(t, 2.0, rec["stops"])
}

func TestExecuteIndexConsistencyWritesNothing(t *testing.T) {
	reg := testRegistry(t)
	// master acquired before Pharmacie D joined the registry
	pair, err := matrix.NewPair([]int{0, 1, 2, 3})
	require.NoError(t, err)
	snap := &matrix.Snapshot{Pair: pair, Fingerprint: "stale", Provider: "test"}

	dir := t.TempDir()
	p := New(reg, fixedSource{snap: snap}, Options{OutputDir: dir}, zerolog.Nop())

	run, err := p.Execute(context.Background(), []string{"Pharmacie D"})

	require.ErrorIs(t, err, extract.ErrIndexConsistency)
	assert.False(t, run.FingerprintMatch)
	assert.Nil(t, run.Outputs)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExecuteOutputFailureRemovesWrittenFiles(t *testing.T) {
	reg := testRegistry(t)
	dir := t.TempDir()
	// coord.csv cannot replace an occupied directory
	require.NoError(t, os.MkdirAll(filepath.Join(dir, CoordFile, "occupied"), 0o755))
	p := New(reg, fixedSource{snap: masterFor(t, reg)}, Options{OutputDir: dir}, zerolog.Nop())

	run, err := p.Execute(context.Background(), []string{"Pharmacie A"})

	require.Error(t, err)
	assert.Nil(t, run.Outputs)
	assert.NoFileExists(t, filepath.Join(dir, DistanceFile))
	assert.NoFileExists(t, filepath.Join(dir, DurationFile))
	assert.NoFileExists(t, filepath.Join(dir, SummaryFile))
}

func TestExecuteStrictFingerprint(t *testing.T) {
	reg := testRegistry(t)
	snap := masterFor(t, reg)
	snap.Fingerprint = "0123456789abcdef"

	lenient := New(reg, fixedSource{snap: snap}, Options{}, zerolog.Nop())
	run, err := lenient.Execute(context.Background(), []string{"Pharmacie A"})
	require.NoError(t, err)
	assert.False(t, run.FingerprintMatch)

	strict := New(reg, fixedSource{snap: snap}, Options{Strict: true}, zerolog.Nop())
	_, err = strict.Execute(context.Background(), []string{"Pharmacie A"})
	require.ErrorIs(t, err, ErrRegistryDrift)
}

func TestExecuteNoMaster(t *testing.T) {
	reg := testRegistry(t)
	p := New(reg, fixedSource{err: matrix.ErrNoMaster}, Options{}, zerolog.Nop())

	_, err := p.Execute(context.Background(), []string{"Pharmacie A"})
	require.ErrorIs(t, err, matrix.ErrNoMaster)
}

func TestExecuteNoStops(t *testing.T) {
	reg := testRegistry(t)
	p := New(reg, fixedSource{snap: masterFor(t, reg)}, Options{}, zerolog.Nop())

	run, err := p.Execute(context.Background(), []string{"nobody", "Dépôt"})
	require.ErrorIs(t, err, ErrNoStops)
	assert.Equal(t, 0, run.Summary().Stops)
}

func TestExecutePerRunDir(t *testing.T) {
	reg := testRegistry(t)
	dir := t.TempDir()
	p := New(reg, fixedSource{snap: masterFor(t, reg)}, Options{OutputDir: dir, PerRunDir: true}, zerolog.Nop())

	run, err := p.Execute(context.Background(), []string{"Pharmacie C"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, run.ID.String()), run.Outputs.Dir)
	assert.FileExists(t, filepath.Join(run.Outputs.Dir, CoordFile))
}

type fakeOptimizer struct {
	gotDuration, gotDistance string
}

func (f *fakeOptimizer) Optimize(_ context.Context, durationPath, distancePath string) (string, error) {
	f.gotDuration, f.gotDistance = durationPath, distancePath
	return "0 -> 2 -> 1 -> 0\n", nil
}

func TestOptimize(t *testing.T) {
	reg := testRegistry(t)
	dir := t.TempDir()
	p := New(reg, fixedSource{snap: masterFor(t, reg)}, Options{OutputDir: dir}, zerolog.Nop())
	run, err := p.Execute(context.Background(), []string{"Pharmacie A", "Pharmacie B"})
	require.NoError(t, err)

	opt := &fakeOptimizer{}
	require.NoError(t, p.Optimize(context.Background(), run, opt))
	assert.Equal(t, filepath.Join(dir, DurationFile), opt.gotDuration)
	assert.Equal(t, filepath.Join(dir, DistanceFile), opt.gotDistance)
	assert.Equal(t, "0 -> 2 -> 1 -> 0\n", run.Route)

	noFiles := New(reg, fixedSource{snap: masterFor(t, reg)}, Options{}, zerolog.Nop())
	run, err = noFiles.Execute(context.Background(), []string{"Pharmacie A"})
	require.NoError(t, err)
	require.ErrorIs(t, noFiles.Optimize(context.Background(), run, opt), ErrNoOutputs)
}

type failingService struct {
	calls int
}

func (f *failingService) Matrix(context.Context, models.MatrixRequest) (models.MatrixResponse, error) {
	f.calls++
	return models.MatrixResponse{}, &ors.StatusError{Code: 502}
}

func TestRefreshMasterFailurePublishesNothing(t *testing.T) {
	reg := testRegistry(t)
	dir := t.TempDir()
	store := matrix.NewStore(dir, zerolog.Nop())

	svc := &failingService{}
	acq := acquire.New(svc, acquire.DefaultOptions(), zerolog.Nop()).
		WithSleeper(acquire.SleeperFunc(func(ctx context.Context, _ time.Duration) error { return nil }))

	_, err := RefreshMaster(context.Background(), reg, acq, "ors", store, zerolog.Nop())

	require.ErrorIs(t, err, acquire.ErrAcquisitionFailed)
	assert.Equal(t, 3, svc.calls)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no matrix file written")
	_, err = store.Load()
	require.ErrorIs(t, err, matrix.ErrNoMaster)
}

func TestRefreshMasterThenExecute(t *testing.T) {
	reg := testRegistry(t)
	store := matrix.NewStore(t.TempDir(), zerolog.Nop())
	acq := acquire.New(geo.NewEstimator(40), acquire.DefaultOptions(), zerolog.Nop())

	snap, err := RefreshMaster(context.Background(), reg, acq, "haversine", store, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, reg.Fingerprint(), snap.Fingerprint)

	status, err := Status(reg, store)
	require.NoError(t, err)
	assert.True(t, status.Ready())
	assert.True(t, status.FingerprintMatch)
	assert.Equal(t, 5, status.Locations)
	assert.Equal(t, "haversine", status.Provider)

	p := New(reg, store, Options{Strict: true}, zerolog.Nop())
	run, err := p.Execute(context.Background(), []string{"Pharmacie D", "Pharmacie A"})
	require.NoError(t, err)

	want, err := snap.Distance.At(4, 1)
	require.NoError(t, err)
	got, err := run.Local.Distance.At(1, 2)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Positive(t, got)
}

func TestStatusReportsMissingKeys(t *testing.T) {
	reg := testRegistry(t)
	pair, err := matrix.NewPair([]int{0, 1, 2})
	require.NoError(t, err)

	status, err := Status(reg, fixedSource{snap: &matrix.Snapshot{Pair: pair, Provider: matrix.ProviderCSV}})
	require.NoError(t, err)
	assert.False(t, status.Ready())
	assert.Equal(t, []int{3, 4}, status.MissingKeys)
	assert.False(t, status.FingerprintMatch)
}
