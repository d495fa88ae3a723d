package model

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/kpotier/crystalgen/pkg/lattice"
)

// atomicVolume is the volume per atom (in A^3) of the cells built by Random.
const atomicVolume = 18.

// Random is a baseline sampler: uniform fractional coordinates in a cell whose
// volume grows with the number of atoms and whose angles are drawn within
// 15 degrees of 90. It is deterministic for a given seed and sequence of
// calls.
type Random struct {
	rnd *rand.Rand
	mux sync.Mutex
}

// NewRandom returns a Random sampler seeded with opts.Seed.
func NewRandom(opts Options) *Random {
	return &Random{rnd: rand.New(rand.NewSource(opts.Seed))}
}

// Sample implements Sampler.
func (r *Random) Sample(ctx context.Context, species []int, numAtoms []int) ([]lattice.Matrix, [][3]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	r.mux.Lock()
	defer r.mux.Unlock()

	lattices := make([]lattice.Matrix, len(numAtoms))
	frac := make([][3]float64, 0, len(species))
	for i, n := range numAtoms {
		edge := math.Cbrt(atomicVolume * math.Max(1, float64(n)))

		var p lattice.Params
		for k := 0; k < 3; k++ {
			p.Lengths[k] = edge * (0.8 + 0.4*r.rnd.Float64())
			p.Angles[k] = 75 + 30*r.rnd.Float64()
		}

		m, err := lattice.FromParams(p)
		if err != nil {
			return nil, nil, err
		}
		lattices[i] = m

		for a := 0; a < n; a++ {
			frac = append(frac, [3]float64{r.rnd.Float64(), r.rnd.Float64(), r.rnd.Float64()})
		}
	}

	if err := checkOutput(numAtoms, lattices, frac); err != nil {
		return nil, nil, err
	}
	return lattices, frac, nil
}
