// Package dataset produces the batches of compositions given to the
// generative model. A batch lists the species of every atom and the number of
// atoms of every structure and, for evaluation datasets, the reference
// structures.
package dataset

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"

	"github.com/kpotier/crystalgen/pkg/cif"
	"github.com/kpotier/crystalgen/pkg/structure"
)

// Batch is a set of compositions packed along the atom axis.
type Batch struct {
	Species   []int
	NumAtoms  []int
	Reference *structure.Batch
}

// Validate checks that the atom counts agree with the species and, if any,
// with the reference.
func (b Batch) Validate() error {
	var sum int
	for i, n := range b.NumAtoms {
		if n <= 0 {
			return fmt.Errorf("%w: structure %d has %d atoms", structure.ErrShape, i, n)
		}
		sum += n
	}
	if sum != len(b.Species) {
		return fmt.Errorf("%w: atom counts sum to %d for %d species", structure.ErrShape, sum, len(b.Species))
	}

	if b.Reference == nil {
		return nil
	}
	if err := b.Reference.Validate(); err != nil {
		return fmt.Errorf("reference: %w", err)
	}
	if b.Reference.Atoms() != sum || b.Reference.Len() != len(b.NumAtoms) {
		return fmt.Errorf("%w: reference has %d structures and %d atoms", structure.ErrShape,
			b.Reference.Len(), b.Reference.Atoms())
	}
	return nil
}

// Dataset is a lazy, finite and restartable sequence of batches. Next returns
// io.EOF once every batch has been produced. Reset restarts the sequence with
// the same order.
type Dataset interface {
	Next() (Batch, error)
	Reset()
}

// Options configure how the structures are batched.
// Start and End select the structures [Start, End) of the source, End = 0
// meaning up to the last one.
type Options struct {
	BatchSize int
	Shuffle   bool
	Seed      int64
	Start     int
	End       int
}

// List is an in-memory dataset.
type List struct {
	items []item
	order []int
	size  int
	pos   int
}

type item struct {
	species []int
	ref     *structure.Structure
}

// FromStructures returns an evaluation dataset: the structures are the
// references and their species the compositions to generate.
func FromStructures(structs []structure.Structure, opts Options) (*List, error) {
	items := make([]item, len(structs))
	for i := range structs {
		if err := structs[i].Validate(); err != nil {
			return nil, fmt.Errorf("structure %d: %w", i, err)
		}
		if structs[i].Len() == 0 {
			return nil, fmt.Errorf("structure %d: %w", i, cif.ErrEmpty)
		}
		items[i] = item{species: structs[i].Species, ref: &structs[i]}
	}
	return newList(items, opts)
}

// OpenCIF reads the reference structures of a CIF file.
func OpenCIF(path string, opts Options) (*List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	structs, err := cif.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("Decode: %w", err)
	}
	return FromStructures(structs, opts)
}

// FromSystems returns a generation dataset without reference: every formula
// (e.g. "LiFeO2") is repeated perSystem times.
func FromSystems(systems []string, perSystem int, opts Options) (*List, error) {
	if perSystem <= 0 {
		return nil, fmt.Errorf("number of structures per system must be positive (got %d)", perSystem)
	}

	items := make([]item, 0, len(systems)*perSystem)
	for _, sys := range systems {
		species, err := ParseFormula(sys)
		if err != nil {
			return nil, fmt.Errorf("system `%s`: %w", sys, err)
		}
		for k := 0; k < perSystem; k++ {
			items = append(items, item{species: species})
		}
	}
	return newList(items, opts)
}

func newList(items []item, opts Options) (*List, error) {
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive (got %d)", opts.BatchSize)
	}

	end := opts.End
	if end == 0 {
		end = len(items)
	}
	if opts.Start < 0 || opts.Start > end || end > len(items) {
		return nil, fmt.Errorf("window [%d, %d) out of %d structures", opts.Start, opts.End, len(items))
	}

	order := make([]int, 0, end-opts.Start)
	for i := opts.Start; i < end; i++ {
		order = append(order, i)
	}
	if opts.Shuffle {
		rnd := rand.New(rand.NewSource(opts.Seed))
		rnd.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	return &List{items: items, order: order, size: opts.BatchSize}, nil
}

// Len returns the number of structures of the dataset.
func (l *List) Len() int {
	return len(l.order)
}

// Batches returns the number of batches of the dataset.
func (l *List) Batches() int {
	return (len(l.order) + l.size - 1) / l.size
}

// Next returns the next batch of at most BatchSize structures.
func (l *List) Next() (Batch, error) {
	if l.pos >= len(l.order) {
		return Batch{}, io.EOF
	}

	end := l.pos + l.size
	if end > len(l.order) {
		end = len(l.order)
	}

	var (
		b    Batch
		refs []structure.Structure
	)
	for _, i := range l.order[l.pos:end] {
		it := l.items[i]
		b.Species = append(b.Species, it.species...)
		b.NumAtoms = append(b.NumAtoms, len(it.species))
		if it.ref != nil {
			refs = append(refs, *it.ref)
		}
	}
	l.pos = end

	if len(refs) > 0 {
		if len(refs) != len(b.NumAtoms) {
			return Batch{}, errors.New("some structures of the batch have no reference")
		}
		ref, err := structure.FromStructures(refs)
		if err != nil {
			return Batch{}, fmt.Errorf("FromStructures: %w", err)
		}
		b.Reference = &ref
	}
	return b, nil
}

// Reset restarts the dataset from its first batch.
func (l *List) Reset() {
	l.pos = 0
}
