// Package cif reads and writes multi-structure Crystallographic Information
// Files. Every structure is written as a data block in the P 1 space group
// with its six cell parameters and the fractional coordinates of its atoms.
package cif

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/kpotier/crystalgen/pkg/element"
	"github.com/kpotier/crystalgen/pkg/lattice"
	"github.com/kpotier/crystalgen/pkg/structure"
)

// ErrEmpty is returned when a structure has no atom.
var ErrEmpty = errors.New("structure without atoms")

// Export degroups a batch into its structures and serializes all of them, in
// order, into one CIF document. Nothing is produced if a structure is empty,
// has a malformed lattice or a non-finite coordinate. Coordinates are wrapped
// into [0, 1) and written with 6 decimals.
func Export(b structure.Batch) ([]byte, error) {
	structs, err := b.Structures()
	if err != nil {
		return nil, fmt.Errorf("Structures: %w", err)
	}

	var buf bytes.Buffer
	err = Encode(&buf, structs)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile exports a batch into path. The previous content of path is
// replaced atomically: readers see either the old or the new document.
func WriteFile(path string, b structure.Batch) error {
	data, err := Export(b)
	if err != nil {
		return err
	}

	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	_, err = f.Write(data)
	if err != nil {
		f.Close()
		return err
	}

	err = f.Close()
	if err != nil {
		return err
	}

	return os.Rename(f.Name(), path)
}

// Encode writes the structures into w. Every structure is checked before the
// first byte is written.
func Encode(w io.Writer, structs []structure.Structure) error {
	for i, s := range structs {
		if s.Len() == 0 {
			return fmt.Errorf("structure %d: %w", i, ErrEmpty)
		}
		if err := s.Validate(); err != nil {
			return fmt.Errorf("structure %d: %w", i, err)
		}
		for _, z := range s.Species {
			if _, err := element.Symbol(z); err != nil {
				return fmt.Errorf("structure %d: %w", i, err)
			}
		}
	}

	bw := bufio.NewWriter(w)
	for i, s := range structs {
		if i > 0 {
			bw.WriteByte('\n')
		}
		writeBlock(bw, i, s)
	}
	return bw.Flush()
}

var cellTags = [6]string{
	"_cell_length_a", "_cell_length_b", "_cell_length_c",
	"_cell_angle_alpha", "_cell_angle_beta", "_cell_angle_gamma",
}

var siteTags = []string{
	"_atom_site_type_symbol",
	"_atom_site_label",
	"_atom_site_symmetry_multiplicity",
	"_atom_site_fract_x",
	"_atom_site_fract_y",
	"_atom_site_fract_z",
	"_atom_site_occupancy",
}

// writeBlock writes one data block. The species must have been checked.
func writeBlock(w *bufio.Writer, id int, s structure.Structure) {
	sum, _ := structure.Formula(s.Species)
	fmt.Fprintf(w, "data_image%d\n", id)
	fmt.Fprintf(w, "%-34s %s\n", "_chemical_formula_structural", structural(s.Species))
	fmt.Fprintf(w, "%-34s \"%s\"\n", "_chemical_formula_sum", sum)

	for k, v := range s.Lattice.Cellpar() {
		fmt.Fprintf(w, "%-20s %s\n", cellTags[k], strconv.FormatFloat(v, 'f', 6, 64))
	}
	w.WriteByte('\n')

	w.WriteString("_space_group_name_H-M_alt    \"P 1\"\n")
	w.WriteString("_space_group_IT_number       1\n\n")
	w.WriteString("loop_\n  _space_group_symop_operation_xyz\n  'x, y, z'\n\n")

	w.WriteString("loop_\n")
	for _, tag := range siteTags {
		w.WriteString("  " + tag + "\n")
	}

	labels := make(map[string]int)
	var line []byte
	for i, z := range s.Species {
		sym, _ := element.Symbol(z)
		labels[sym]++

		line = append(line[:0], "  "...)
		line = append(line, fmt.Sprintf("%-3s %-8s 1.0", sym, sym+strconv.Itoa(labels[sym]))...)
		for _, x := range lattice.Wrap(s.Frac[i]) {
			line = append(line, "  "...)
			line = strconv.AppendFloat(line, round(x), 'f', 6, 64)
		}
		line = append(line, "  1.0000\n"...)
		w.Write(line)
	}
}

// round rounds a wrapped coordinate to the written precision. A value that
// rounds up to 1 is written as 0, and so is -0.
func round(x float64) float64 {
	x = math.Round(x*1e6) / 1e6
	if x >= 1 || x == 0 {
		return 0
	}
	return x
}

// structural returns the formula without unit counts (e.g. "Li2O").
func structural(species []int) string {
	var order []int
	count := make(map[int]int)
	for _, z := range species {
		if _, ok := count[z]; !ok {
			order = append(order, z)
		}
		count[z]++
	}

	var buf bytes.Buffer
	for _, z := range order {
		sym, _ := element.Symbol(z)
		buf.WriteString(sym)
		if count[z] > 1 {
			buf.WriteString(strconv.Itoa(count[z]))
		}
	}
	return buf.String()
}
