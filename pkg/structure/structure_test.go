package structure_test

import (
	"math"
	"testing"

	"github.com/kpotier/crystalgen/pkg/lattice"
	"github.com/kpotier/crystalgen/pkg/structure"
	"github.com/stretchr/testify/require"
)

var cubic = lattice.Params{Lengths: [3]float64{4, 4, 4}, Angles: [3]float64{90, 90, 90}}

func twoStructures(t *testing.T) structure.Batch {
	t.Helper()
	b, err := structure.FromStructures([]structure.Structure{
		{
			Species: []int{3, 8},
			Frac:    [][3]float64{{0, 0, 0}, {0.5, 0.5, 0.5}},
			Lattice: cubic,
		},
		{
			Species: []int{26, 26, 8},
			Frac:    [][3]float64{{0.1, 0.2, 0.3}, {0.4, 0.5, 0.6}, {0.7, 0.8, 0.9}},
			Lattice: lattice.Params{Lengths: [3]float64{3, 3, 5}, Angles: [3]float64{90, 90, 120}},
		},
	})
	require.NoError(t, err)
	return b
}

func TestBatchIndex(t *testing.T) {
	require.Equal(t, []int{0, 0, 1, 1, 1}, structure.BatchIndex([]int{2, 3}))
	require.Equal(t, []int{0, 2, 2}, structure.BatchIndex([]int{1, 0, 2}))
	require.Empty(t, structure.BatchIndex(nil))
}

func TestFromStructures(t *testing.T) {
	b := twoStructures(t)
	require.NoError(t, b.Validate())
	require.Equal(t, []int{2, 3}, b.NumAtoms)
	require.Equal(t, 2, b.Len())
	require.Equal(t, 5, b.Atoms())
	require.Equal(t, []int{0, 2, 5}, b.Offsets())

	structs, err := b.Structures()
	require.NoError(t, err)
	require.Len(t, structs, 2)
	require.Equal(t, []int{26, 26, 8}, structs[1].Species)
	require.Equal(t, [3]float64{0.4, 0.5, 0.6}, structs[1].Frac[1])
	require.InDelta(t, 120, structs[1].Lattice.Angles[2], 1e-9)
	require.InDelta(t, 5, structs[1].Lattice.Lengths[2], 1e-9)
}

func TestValidate(t *testing.T) {
	b := twoStructures(t)

	bad := b
	bad.NumAtoms = []int{2, 2}
	require.ErrorIs(t, bad.Validate(), structure.ErrShape)

	bad = b
	bad.NumAtoms = []int{6, -1}
	require.ErrorIs(t, bad.Validate(), structure.ErrShape)

	bad = b
	bad.Frac = bad.Frac[:4]
	require.ErrorIs(t, bad.Validate(), structure.ErrShape)

	bad = b
	bad.Lattices = bad.Lattices[:1]
	require.ErrorIs(t, bad.Validate(), structure.ErrShape)

	_, err := structure.FromStructures([]structure.Structure{{
		Species: []int{1, 1},
		Frac:    [][3]float64{{0, 0, 0}},
		Lattice: cubic,
	}})
	require.ErrorIs(t, err, structure.ErrShape)

	_, err = structure.FromStructures([]structure.Structure{{
		Lattice: lattice.Params{Lengths: [3]float64{-1, 1, 1}, Angles: [3]float64{90, 90, 90}},
	}})
	require.ErrorIs(t, err, lattice.ErrMalformed)
}

func TestConcat(t *testing.T) {
	b := twoStructures(t)
	out, err := structure.Concat(b, b)
	require.NoError(t, err)
	require.Equal(t, []int{2, 3, 2, 3}, out.NumAtoms)
	require.Len(t, out.Frac, 10)
	require.Len(t, out.Lattices, 4)
	require.Equal(t, b.Species, out.Species[5:])

	out.Species[0] = 1
	require.Equal(t, 3, b.Species[0])

	bad := b
	bad.NumAtoms = []int{1}
	_, err = structure.Concat(b, bad)
	require.ErrorIs(t, err, structure.ErrShape)

	empty, err := structure.Concat()
	require.NoError(t, err)
	require.Zero(t, empty.Len())
}

func TestFormula(t *testing.T) {
	f, err := structure.Formula([]int{3, 8, 3})
	require.NoError(t, err)
	require.Equal(t, "Li2 O1", f)

	_, err = structure.Formula([]int{0})
	require.Error(t, err)
}

func TestValidateGeometry(t *testing.T) {
	b := twoStructures(t)
	require.NoError(t, b.ValidateGeometry())

	bad := b
	bad.Lattices = []lattice.Matrix{b.Lattices[0], {{1, 0, 0}, {2, 0, 0}, {0, 0, 1}}}
	require.NoError(t, bad.Validate())
	require.ErrorIs(t, bad.ValidateGeometry(), lattice.ErrMalformed)

	bad = b
	bad.Frac = append([][3]float64(nil), b.Frac...)
	bad.Frac[4] = [3]float64{0.1, math.NaN(), 0.1}
	require.ErrorIs(t, bad.ValidateGeometry(), structure.ErrNonFinite)

	_, err := structure.FromStructures([]structure.Structure{{
		Species: []int{1},
		Frac:    [][3]float64{{math.Inf(1), 0, 0}},
		Lattice: cubic,
	}})
	require.ErrorIs(t, err, structure.ErrNonFinite)
}

func TestStructures(t *testing.T) {
	b := twoStructures(t)
	many, err := structure.Concat(b, b, b, b)
	require.NoError(t, err)

	structs, err := many.Structures()
	require.NoError(t, err)
	require.Len(t, structs, 8)
	for i, s := range structs {
		one, err := many.Structure(i)
		require.NoError(t, err)
		require.Equal(t, one, s)
		require.Equal(t, b.NumAtoms[i%2], s.Len())
	}

	_, err = many.Structure(8)
	require.Error(t, err)
}
