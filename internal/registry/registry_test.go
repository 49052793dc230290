package registry

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randytsao24/tournee/internal/models"
)

const sampleRegistry = `indice,nom,adresse,code_postal,ville,latitude,longitude
3,Pharmacie du Centre,1 rue Haute,31000,Toulouse,43.6045,1.4440
0,Dépôt CERP,10 av. de l'Industrie,31100,Toulouse,43.5800,1.4000
1,Pharmacie des Arts,5 pl. du Capitole,31000,Toulouse,43.6047,1.4442
2,Pharmacie Sans Coordonnées,9 rue Basse,31000,Toulouse,,
`

func TestReadSortsAndDropsMissingCoordinates(t *testing.T) {
	r, err := Read(strings.NewReader(sampleRegistry), zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 1, r.Dropped())
	assert.Equal(t, []int{0, 1, 3}, r.Keys())
	assert.True(t, r.HasDepot())

	depot, ok := r.Depot()
	require.True(t, ok)
	assert.Equal(t, "Dépôt CERP", depot.Name)

	loc, ok := r.ByIndex(3)
	require.True(t, ok)
	assert.Equal(t, "31000", loc.PostalCode)
	assert.Equal(t, "Toulouse", loc.City)

	_, ok = r.ByIndex(2)
	assert.False(t, ok)

	coords := r.Coordinates()
	require.Len(t, coords, 3)
	assert.Equal(t, models.Coordinate{1.4000, 43.5800}, coords[0])
}

func TestReadEnglishHeaders(t *testing.T) {
	content := "\ufeffIndex,Name,Lat,Lng\n0,Depot,1.0,2.0\n7,Stop,3.0,4.0\n"
	r, err := Read(strings.NewReader(content), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 7}, r.Keys())
	assert.Equal(t, models.Location{Index: 7, Name: "Stop", Lat: 3, Lng: 4}, r.At(1))
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
		substr  string
	}{
		{"empty", "indice,nom,latitude,longitude\n", ErrEmpty, ""},
		{"missing columns", "indice,ville\n0,Toulouse\n", ErrMissingColumn, "latitude"},
		{"duplicate index", "indice,nom,latitude,longitude\n1,A,1,1\n1,B,2,2\n", ErrDuplicateIndex, ""},
		{"bad index", "indice,nom,latitude,longitude\nx,A,1,1\n", nil, "line 2"},
		{"negative index", "indice,nom,latitude,longitude\n-1,A,1,1\n", nil, "negative index"},
		{"all dropped", "indice,nom,latitude,longitude\n1,A,,\n", ErrEmpty, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tc.content), zerolog.Nop())
			require.Error(t, err)
			if tc.wantErr != nil {
				assert.Truef(t, errors.Is(err, tc.wantErr), "expected errors.Is(%v, %v)", err, tc.wantErr)
			}
			if tc.substr != "" {
				assert.ErrorContains(t, err, tc.substr)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleRegistry), 0o600))

	r, err := Load(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 3, r.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing.csv"), zerolog.Nop())
	require.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	a, err := Read(strings.NewReader(sampleRegistry), zerolog.Nop())
	require.NoError(t, err)
	b, err := Read(strings.NewReader(sampleRegistry), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.Len(t, a.Fingerprint(), 64)

	renamed, err := Read(strings.NewReader(strings.Replace(sampleRegistry, "Pharmacie du Centre", "Grande Pharmacie", 1)), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint(), renamed.Fingerprint(), "names do not affect the fingerprint")

	moved, err := Read(strings.NewReader(strings.Replace(sampleRegistry, "43.6045", "43.6100", 1)), zerolog.Nop())
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), moved.Fingerprint())
}

func TestNewRejectsDuplicates(t *testing.T) {
	_, err := New([]models.Location{{Index: 1, Name: "a"}, {Index: 1, Name: "b"}})
	require.ErrorIs(t, err, ErrDuplicateIndex)
}

func TestInFileOrder(t *testing.T) {
	r, err := Read(strings.NewReader(sampleRegistry), zerolog.Nop())
	require.NoError(t, err)

	var got []int
	for _, loc := range r.InFileOrder() {
		got = append(got, loc.Index)
	}
	assert.Equal(t, []int{3, 0, 1}, got)
	assert.Equal(t, []int{0, 1, 3}, r.Keys())
}

func TestLocationsIsACopy(t *testing.T) {
	r, err := New([]models.Location{{Index: 0, Name: "depot"}})
	require.NoError(t, err)

	locs := r.Locations()
	locs[0].Name = "changed"
	assert.Equal(t, "depot", r.At(0).Name)
}

func TestReadManifest(t *testing.T) {
	content := "\ufeffPharmacie des Arts,5 pl. du Capitole,31000,Toulouse\n" +
		"  Pharmacie Inconnue ,1 rue X,31200,Toulouse\n" +
		",,,\n" +
		"Pharmacie du Centre\n"

	rows, err := ReadManifest(strings.NewReader(content))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, models.ManifestRow{
		Name: "Pharmacie des Arts", Address: "5 pl. du Capitole", PostalCode: "31000", City: "Toulouse",
	}, rows[0])
	assert.Equal(t, "Pharmacie Inconnue", rows[1].Name)
	assert.Equal(t, models.ManifestRow{Name: "Pharmacie du Centre"}, rows[2])
	assert.Equal(t, []string{"Pharmacie des Arts", "Pharmacie Inconnue", "Pharmacie du Centre"}, Names(rows))
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
}
