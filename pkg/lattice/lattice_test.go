package lattice_test

import (
	"math"
	"testing"

	"github.com/kpotier/crystalgen/pkg/lattice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromParamsCubic(t *testing.T) {
	m, err := lattice.FromParams(lattice.Params{
		Lengths: [3]float64{4, 5, 6},
		Angles:  [3]float64{90, 90, 90},
	})
	require.NoError(t, err)
	require.Equal(t, lattice.Matrix{{4, 0, 0}, {0, 5, 0}, {0, 0, 6}}, m)
	require.InDelta(t, 120, m.Volume(), 1e-12)
}

func TestRoundTrip(t *testing.T) {
	cases := []lattice.Params{
		{Lengths: [3]float64{3.1, 3.1, 5.2}, Angles: [3]float64{90, 90, 120}},
		{Lengths: [3]float64{5.4, 6.7, 7.9}, Angles: [3]float64{81.3, 102.5, 95.1}},
		{Lengths: [3]float64{2.5, 2.5, 2.5}, Angles: [3]float64{60, 60, 60}},
		{Lengths: [3]float64{10, 1, 4}, Angles: [3]float64{30, 100, 110}},
	}
	for _, p := range cases {
		m, err := lattice.FromParams(p)
		require.NoError(t, err)
		require.NoError(t, m.Validate())

		got, err := m.Params()
		require.NoError(t, err)
		for k := 0; k < 3; k++ {
			assert.InDelta(t, p.Lengths[k], got.Lengths[k], 1e-5)
			assert.InDelta(t, p.Angles[k], got.Angles[k], 1e-5)
		}
	}
}

func TestParamsArbitraryOrientation(t *testing.T) {
	// a rotated hexagonal cell: lengths and angles don't depend on orientation.
	m := lattice.Matrix{
		{0, 3, 0},
		{-3 * math.Sin(math.Pi/3), -1.5, 0},
		{0, 0, 7},
	}
	p, err := m.Params()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{3, 3, 7}, p.Lengths[:], 1e-9)
	assert.InDeltaSlice(t, []float64{90, 90, 120}, p.Angles[:], 1e-9)
}

func TestParamsClamped(t *testing.T) {
	// b and c are parallel up to rounding: the cosine may exceed 1.
	m := lattice.Matrix{
		{1, 0, 0},
		{0.1, 0.3, 0.7},
		{0.1 * 3, 0.3 * 3, 0.7 * 3},
	}
	p, err := m.Params()
	require.NoError(t, err)
	for _, a := range p.Angles {
		require.False(t, math.IsNaN(a))
	}
	assert.InDelta(t, 0, p.Angles[0], 1e-5)

	anti := lattice.Matrix{{1, 0, 0}, {-2, 0, 0}, {0, 0, 1}}
	p, err = anti.Params()
	require.NoError(t, err)
	assert.InDelta(t, 180, p.Angles[2], 1e-9)

	require.ErrorIs(t, m.Validate(), lattice.ErrMalformed)
}

func TestMalformed(t *testing.T) {
	cases := map[string]lattice.Params{
		"zero length":     {Lengths: [3]float64{0, 1, 1}, Angles: [3]float64{90, 90, 90}},
		"negative length": {Lengths: [3]float64{1, -1, 1}, Angles: [3]float64{90, 90, 90}},
		"nan length":      {Lengths: [3]float64{1, 1, math.NaN()}, Angles: [3]float64{90, 90, 90}},
		"flat angle":      {Lengths: [3]float64{1, 1, 1}, Angles: [3]float64{180, 90, 90}},
		"open cell":       {Lengths: [3]float64{1, 1, 1}, Angles: [3]float64{150, 150, 150}},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := lattice.FromParams(p)
			require.ErrorIs(t, err, lattice.ErrMalformed)
		})
	}

	_, err := lattice.Matrix{{1, 0, 0}, {0, 0, 0}, {0, 0, 1}}.Params()
	require.ErrorIs(t, err, lattice.ErrMalformed)

	flat := lattice.Matrix{{1, 0, 0}, {0, 1, 0}, {1, 1, 0}}
	require.ErrorIs(t, flat.Validate(), lattice.ErrMalformed)
}

func TestCartesianBatch(t *testing.T) {
	l1 := lattice.Matrix{{2, 0, 0}, {0, 2, 0}, {0, 0, 2}}
	l2 := lattice.Matrix{{1, 0, 0}, {1, 1, 0}, {0, 0, 3}}
	frac := [][3]float64{
		{0.5, 0.5, 0.5},
		{1, 0, 0},
		{0.5, 0.5, 1},
	}

	cart, err := lattice.CartesianBatch([]lattice.Matrix{l1, l2}, []int{2, 1}, frac)
	require.NoError(t, err)
	require.Len(t, cart, 3)
	assert.InDeltaSlice(t, []float64{1, 1, 1}, cart[0][:], 1e-12)
	assert.InDeltaSlice(t, []float64{2, 0, 0}, cart[1][:], 1e-12)
	assert.InDeltaSlice(t, []float64{1, 0.5, 3}, cart[2][:], 1e-12)

	for i, x := range frac[2:] {
		assert.Equal(t, l2.ToCartesian(x), cart[2+i])
	}

	_, err = lattice.CartesianBatch([]lattice.Matrix{l1, l2}, []int{2, 2}, frac)
	require.Error(t, err)
	_, err = lattice.CartesianBatch([]lattice.Matrix{l1}, []int{2, 1}, frac)
	require.Error(t, err)
}

func TestDeriveBatch(t *testing.T) {
	lengths, angles, err := lattice.DeriveBatch([]lattice.Matrix{
		{{2, 0, 0}, {0, 3, 0}, {0, 0, 4}},
		{{1, 0, 0}, {1, 1, 0}, {0, 0, 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, [3]float64{2, 3, 4}, lengths[0])
	assert.InDeltaSlice(t, []float64{90, 90, 45}, angles[1][:], 1e-9)
}

func TestWrap(t *testing.T) {
	for _, x := range []float64{-3.25, -1e-17, 0, 0.5, 1, 7.75} {
		w := lattice.Wrap([3]float64{x, x, x})
		require.GreaterOrEqual(t, w[0], 0.)
		require.Less(t, w[0], 1.)
		require.False(t, math.IsNaN(w[0]))
	}
	require.Equal(t, [3]float64{0.75, 0, 0.75}, lattice.Wrap([3]float64{-3.25, 1, 7.75}))
}
