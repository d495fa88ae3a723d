// Package element maps atomic numbers to chemical symbols and back.
package element

import (
	"errors"
	"fmt"
)

// ErrUnknown is returned when an atomic number or a symbol doesn't exist.
var ErrUnknown = errors.New("unknown element")

var symbols = [...]string{
	"H", "He",
	"Li", "Be", "B", "C", "N", "O", "F", "Ne",
	"Na", "Mg", "Al", "Si", "P", "S", "Cl", "Ar",
	"K", "Ca", "Sc", "Ti", "V", "Cr", "Mn", "Fe", "Co", "Ni", "Cu", "Zn",
	"Ga", "Ge", "As", "Se", "Br", "Kr",
	"Rb", "Sr", "Y", "Zr", "Nb", "Mo", "Tc", "Ru", "Rh", "Pd", "Ag", "Cd",
	"In", "Sn", "Sb", "Te", "I", "Xe",
	"Cs", "Ba", "La", "Ce", "Pr", "Nd", "Pm", "Sm", "Eu", "Gd", "Tb", "Dy",
	"Ho", "Er", "Tm", "Yb", "Lu", "Hf", "Ta", "W", "Re", "Os", "Ir", "Pt",
	"Au", "Hg", "Tl", "Pb", "Bi", "Po", "At", "Rn",
	"Fr", "Ra", "Ac", "Th", "Pa", "U", "Np", "Pu", "Am", "Cm", "Bk", "Cf",
	"Es", "Fm", "Md", "No", "Lr", "Rf", "Db", "Sg", "Bh", "Hs", "Mt", "Ds",
	"Rg", "Cn", "Nh", "Fl", "Mc", "Lv", "Ts", "Og",
}

var numbers = func() map[string]int {
	m := make(map[string]int, len(symbols))
	for k, v := range symbols {
		m[v] = k + 1
	}
	return m
}()

// Max is the largest supported atomic number.
const Max = len(symbols)

// Symbol returns the chemical symbol of the atomic number z.
func Symbol(z int) (string, error) {
	if z < 1 || z > Max {
		return "", fmt.Errorf("%w: atomic number %d", ErrUnknown, z)
	}
	return symbols[z-1], nil
}

// Number returns the atomic number of a chemical symbol. The symbol is case
// sensitive ("Co" is cobalt, "CO" is an error).
func Number(sym string) (int, error) {
	z, ok := numbers[sym]
	if !ok {
		return 0, fmt.Errorf("%w: symbol `%s`", ErrUnknown, sym)
	}
	return z, nil
}
