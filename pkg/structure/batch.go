package structure

import (
	"fmt"

	"github.com/kpotier/crystalgen/pkg/lattice"
)

// Batch is a sequence of structures concatenated along the atom axis. The
// structure i owns NumAtoms[i] consecutive atoms, in structure order, and the
// lattice Lattices[i].
type Batch struct {
	NumAtoms []int
	Species  []int
	Frac     [][3]float64
	Lattices []lattice.Matrix
}

// BatchIndex maps every atom to the index of its structure. The result is
// monotonically non-decreasing.
func BatchIndex(numAtoms []int) []int {
	var total int
	for _, n := range numAtoms {
		if n > 0 {
			total += n
		}
	}

	idx := make([]int, 0, total)
	for i, n := range numAtoms {
		for k := 0; k < n; k++ {
			idx = append(idx, i)
		}
	}
	return idx
}

// Len returns the number of structures.
func (b Batch) Len() int {
	return len(b.NumAtoms)
}

// Atoms returns the number of atoms.
func (b Batch) Atoms() int {
	return len(b.Species)
}

// Offsets returns the index of the first atom of every structure plus, as the
// last element, the total number of atoms.
func (b Batch) Offsets() []int {
	off := make([]int, len(b.NumAtoms)+1)
	for i, n := range b.NumAtoms {
		off[i+1] = off[i] + n
	}
	return off
}

// Validate checks the bookkeeping of the batch: the atom counts must be
// non-negative and sum to the length of Species and Frac, and there must be
// one lattice per structure.
func (b Batch) Validate() error {
	var sum int
	for i, n := range b.NumAtoms {
		if n < 0 {
			return fmt.Errorf("%w: structure %d has %d atoms", ErrShape, i, n)
		}
		sum += n
	}

	if sum != len(b.Species) || sum != len(b.Frac) {
		return fmt.Errorf("%w: atom counts sum to %d, got %d species and %d positions",
			ErrShape, sum, len(b.Species), len(b.Frac))
	}

	if len(b.Lattices) != len(b.NumAtoms) {
		return fmt.Errorf("%w: %d lattices for %d structures", ErrShape, len(b.Lattices), len(b.NumAtoms))
	}
	return nil
}

// ValidateGeometry checks that every lattice is a non-singular basis and that
// every coordinate is finite. The shape must have been checked by Validate.
func (b Batch) ValidateGeometry() error {
	for i, m := range b.Lattices {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("lattice %d: %w", i, err)
		}
	}
	return Finite(b.Frac)
}

// Structure returns the structure i. The slices share memory with the batch.
func (b Batch) Structure(i int) (Structure, error) {
	if i < 0 || i >= len(b.NumAtoms) {
		return Structure{}, fmt.Errorf("structure %d out of range (%d structures)", i, len(b.NumAtoms))
	}
	return b.structure(i, b.Offsets())
}

func (b Batch) structure(i int, off []int) (Structure, error) {
	p, err := b.Lattices[i].Params()
	if err != nil {
		return Structure{}, fmt.Errorf("structure %d: %w", i, err)
	}

	return Structure{
		Species: b.Species[off[i]:off[i+1]],
		Frac:    b.Frac[off[i]:off[i+1]],
		Lattice: p,
	}, nil
}

// Structures degroups the batch into independent structures, in order.
func (b Batch) Structures() ([]Structure, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	off := b.Offsets()
	structs := make([]Structure, len(b.NumAtoms))
	for i := range structs {
		s, err := b.structure(i, off)
		if err != nil {
			return nil, err
		}
		structs[i] = s
	}
	return structs, nil
}

// FromStructures packs structures into a batch.
func FromStructures(structs []Structure) (Batch, error) {
	var b Batch
	for i, s := range structs {
		if err := s.Validate(); err != nil {
			return Batch{}, fmt.Errorf("structure %d: %w", i, err)
		}

		m, err := lattice.FromParams(s.Lattice)
		if err != nil {
			return Batch{}, fmt.Errorf("structure %d: %w", i, err)
		}

		b.NumAtoms = append(b.NumAtoms, len(s.Species))
		b.Species = append(b.Species, s.Species...)
		b.Frac = append(b.Frac, s.Frac...)
		b.Lattices = append(b.Lattices, m)
	}
	return b, nil
}

// Concat concatenates batches in order. Every batch is validated first and the
// result doesn't share memory with them.
func Concat(batches ...Batch) (Batch, error) {
	var out Batch
	for k, b := range batches {
		if err := b.Validate(); err != nil {
			return Batch{}, fmt.Errorf("batch %d: %w", k, err)
		}
		out.NumAtoms = append(out.NumAtoms, b.NumAtoms...)
		out.Species = append(out.Species, b.Species...)
		out.Frac = append(out.Frac, b.Frac...)
		out.Lattices = append(out.Lattices, b.Lattices...)
	}
	return out, nil
}
