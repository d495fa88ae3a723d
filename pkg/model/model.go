// Package model defines how the generative model is called. The model itself
// (architecture, weights, training) lives outside of this program: it is only
// reached through the Sampler interface.
package model

import (
	"context"
	"fmt"
	"time"

	"github.com/kpotier/crystalgen/pkg/lattice"
)

// Sampler generates one structure per entry of numAtoms. species lists the
// atomic number of every atom, structures packed one after the other. It
// returns one lattice per structure and the fractional coordinates of every
// atom. A Sampler may fail at any time and must be safe to call again with
// the same arguments.
type Sampler interface {
	Sample(ctx context.Context, species []int, numAtoms []int) ([]lattice.Matrix, [][3]float64, error)
}

// SamplerFunc adapts a function to the Sampler interface.
type SamplerFunc func(ctx context.Context, species []int, numAtoms []int) ([]lattice.Matrix, [][3]float64, error)

// Sample calls f.
func (f SamplerFunc) Sample(ctx context.Context, species []int, numAtoms []int) ([]lattice.Matrix, [][3]float64, error) {
	return f(ctx, species, numAtoms)
}

// Options is the configuration of a run. It is given to the sampler when it
// is built and lives as long as the run.
type Options struct {
	Checkpoint string // directory of the trained model
	Device     string // compute device of the model (e.g. "cuda", "cpu")
	Threads    int
	Seed       int64
	URL        string // address of the model server
	Timeout    time.Duration
}

// Kinds of sampler.
const (
	KindHTTP   = "http"
	KindRandom = "random"
)

// New returns the sampler of the given kind.
func New(kind string, opts Options) (Sampler, error) {
	switch kind {
	case KindHTTP:
		return NewHTTP(opts)
	case KindRandom:
		return NewRandom(opts), nil
	}
	return nil, fmt.Errorf("sampler `%s` doesn't exist", kind)
}

// checkOutput verifies that a sampler returned one lattice per structure and
// one position per atom.
func checkOutput(numAtoms []int, lattices []lattice.Matrix, frac [][3]float64) error {
	if len(lattices) != len(numAtoms) {
		return fmt.Errorf("%d lattices for %d structures", len(lattices), len(numAtoms))
	}

	var sum int
	for _, n := range numAtoms {
		sum += n
	}
	if len(frac) != sum {
		return fmt.Errorf("%d positions for %d atoms", len(frac), sum)
	}
	return nil
}
