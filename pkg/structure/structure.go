// Package structure describes crystal structures and batches of structures
// packed along the atom axis.
package structure

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kpotier/crystalgen/pkg/element"
	"github.com/kpotier/crystalgen/pkg/lattice"
)

// ErrShape is returned when the atom counts of a batch disagree with the
// length of its per-atom arrays. It indicates a broken upstream contract and
// must never be retried.
var ErrShape = errors.New("shape mismatch")

// ErrNonFinite is returned when a fractional coordinate is NaN or infinite.
var ErrNonFinite = errors.New("non-finite coordinate")

// Structure is one crystal. Species are atomic numbers and Frac the fractional
// coordinates of each atom.
type Structure struct {
	Species []int
	Frac    [][3]float64
	Lattice lattice.Params
}

// Len returns the number of atoms.
func (s Structure) Len() int {
	return len(s.Species)
}

// Validate checks that every atom has a finite position and that the lattice
// is well formed.
func (s Structure) Validate() error {
	if len(s.Species) != len(s.Frac) {
		return fmt.Errorf("%w: %d species for %d positions", ErrShape, len(s.Species), len(s.Frac))
	}
	if err := Finite(s.Frac); err != nil {
		return err
	}
	return s.Lattice.Validate()
}

// Finite returns ErrNonFinite if a coordinate of frac is NaN or infinite.
func Finite(frac [][3]float64) error {
	for i, x := range frac {
		for k := 0; k < 3; k++ {
			if math.IsNaN(x[k]) || math.IsInf(x[k], 0) {
				return fmt.Errorf("%w: atom %d: %v", ErrNonFinite, i, x)
			}
		}
	}
	return nil
}

// Formula returns the chemical formula of the structure, elements in order of
// first appearance (e.g. "Li2 O1" for Li, O, Li).
func (s Structure) Formula() (string, error) {
	return Formula(s.Species)
}

// Formula returns the formula of a list of atomic numbers. Elements are
// listed in order of first appearance, each followed by its count.
func Formula(species []int) (string, error) {
	var order []int
	count := make(map[int]int)
	for _, z := range species {
		if _, ok := count[z]; !ok {
			order = append(order, z)
		}
		count[z]++
	}

	parts := make([]string, 0, len(order))
	for _, z := range order {
		sym, err := element.Symbol(z)
		if err != nil {
			return "", err
		}
		parts = append(parts, sym+strconv.Itoa(count[z]))
	}
	return strings.Join(parts, " "), nil
}
