package dataset_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/kpotier/crystalgen/pkg/cif"
	"github.com/kpotier/crystalgen/pkg/dataset"
	"github.com/kpotier/crystalgen/pkg/lattice"
	"github.com/kpotier/crystalgen/pkg/structure"
	"github.com/stretchr/testify/require"
)

func references(n int) []structure.Structure {
	structs := make([]structure.Structure, n)
	for i := range structs {
		atoms := 1 + i%3
		s := structure.Structure{
			Lattice: lattice.Params{Lengths: [3]float64{3 + float64(i), 4, 5}, Angles: [3]float64{90, 90, 90}},
		}
		for k := 0; k < atoms; k++ {
			s.Species = append(s.Species, i+1)
			s.Frac = append(s.Frac, [3]float64{0.1 * float64(k), 0.2, 0.3})
		}
		structs[i] = s
	}
	return structs
}

func drain(t *testing.T, ds dataset.Dataset) []dataset.Batch {
	t.Helper()
	var out []dataset.Batch
	for {
		b, err := ds.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		require.NoError(t, b.Validate())
		out = append(out, b)
	}
}

func TestFromStructures(t *testing.T) {
	ds, err := dataset.FromStructures(references(5), dataset.Options{BatchSize: 2})
	require.NoError(t, err)
	require.Equal(t, 5, ds.Len())
	require.Equal(t, 3, ds.Batches())

	batches := drain(t, ds)
	require.Len(t, batches, 3)
	require.Equal(t, []int{1, 2}, batches[0].NumAtoms)
	require.Equal(t, []int{1, 2, 2}, batches[0].Species)
	require.Equal(t, []int{3, 1}, batches[1].NumAtoms)
	require.Equal(t, []int{2}, batches[2].NumAtoms)

	require.NotNil(t, batches[2].Reference)
	require.Equal(t, []int{5, 5}, batches[2].Reference.Species)
	p, err := batches[2].Reference.Lattices[0].Params()
	require.NoError(t, err)
	require.InDelta(t, 7, p.Lengths[0], 1e-12)

	ds.Reset()
	again := drain(t, ds)
	require.Equal(t, batches, again)
}

func TestWindowAndShuffle(t *testing.T) {
	ds, err := dataset.FromStructures(references(6), dataset.Options{BatchSize: 10, Start: 1, End: 4})
	require.NoError(t, err)
	batches := drain(t, ds)
	require.Len(t, batches, 1)
	require.Equal(t, []int{2, 3, 1}, batches[0].NumAtoms)

	shuffled, err := dataset.FromStructures(references(6), dataset.Options{BatchSize: 1, Shuffle: true, Seed: 4})
	require.NoError(t, err)
	first := drain(t, shuffled)
	shuffled.Reset()
	require.Equal(t, first, drain(t, shuffled))

	seen := make(map[int]bool)
	for _, b := range first {
		seen[b.Species[0]] = true
	}
	require.Len(t, seen, 6)

	_, err = dataset.FromStructures(references(3), dataset.Options{BatchSize: 1, Start: 2, End: 5})
	require.Error(t, err)
	_, err = dataset.FromStructures(references(3), dataset.Options{})
	require.Error(t, err)
}

func TestOpenCIF(t *testing.T) {
	b, err := structure.FromStructures(references(4))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "test.cif")
	require.NoError(t, cif.WriteFile(path, b))

	ds, err := dataset.OpenCIF(path, dataset.Options{BatchSize: 3})
	require.NoError(t, err)
	batches := drain(t, ds)
	require.Len(t, batches, 2)
	require.Equal(t, []int{1, 2, 3}, batches[0].NumAtoms)
	require.Equal(t, 3, batches[0].Reference.Len())

	_, err = dataset.OpenCIF(filepath.Join(t.TempDir(), "missing.cif"), dataset.Options{BatchSize: 3})
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestFromSystems(t *testing.T) {
	ds, err := dataset.FromSystems([]string{"LiFeO2", "Si"}, 2, dataset.Options{BatchSize: 3})
	require.NoError(t, err)

	batches := drain(t, ds)
	require.Len(t, batches, 2)
	require.Equal(t, []int{4, 4, 1}, batches[0].NumAtoms)
	require.Equal(t, []int{3, 26, 8, 8, 3, 26, 8, 8, 14}, batches[0].Species)
	require.Nil(t, batches[0].Reference)
	require.Equal(t, []int{1}, batches[1].NumAtoms)

	_, err = dataset.FromSystems([]string{"Xy2"}, 1, dataset.Options{BatchSize: 1})
	require.Error(t, err)
	_, err = dataset.FromSystems([]string{"Si"}, 0, dataset.Options{BatchSize: 1})
	require.Error(t, err)
}

func TestParseFormula(t *testing.T) {
	cases := map[string][]int{
		"Li2O":   {3, 3, 8},
		"NaCl":   {11, 17},
		"C12":    {6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6},
		"BaTiO3": {56, 22, 8, 8, 8},
	}
	for f, want := range cases {
		got, err := dataset.ParseFormula(f)
		require.NoError(t, err, f)
		require.Equal(t, want, got, f)
	}

	for _, f := range []string{"", "li2o", "Li0", "Li-O", "Qq"} {
		_, err := dataset.ParseFormula(f)
		require.Error(t, err, f)
	}
}

func TestBatchValidate(t *testing.T) {
	b := dataset.Batch{Species: []int{1, 1, 8}, NumAtoms: []int{2, 2}}
	require.ErrorIs(t, b.Validate(), structure.ErrShape)

	b = dataset.Batch{Species: []int{1}, NumAtoms: []int{1, 0}}
	require.ErrorIs(t, b.Validate(), structure.ErrShape)
}
