package dataset

import (
	"fmt"
	"strconv"
	"unicode"

	"github.com/kpotier/crystalgen/pkg/element"
)

// ParseFormula expands a chemical formula into the atomic number of every
// atom, in order of appearance: "Li2O" gives [3, 3, 8]. Counts must be
// positive integers and default to 1.
func ParseFormula(formula string) ([]int, error) {
	var species []int
	r := []rune(formula)
	for i := 0; i < len(r); {
		if !unicode.IsUpper(r[i]) {
			return nil, fmt.Errorf("unexpected `%c` at position %d", r[i], i)
		}

		j := i + 1
		for j < len(r) && unicode.IsLower(r[j]) {
			j++
		}
		z, err := element.Number(string(r[i:j]))
		if err != nil {
			return nil, err
		}

		k := j
		for k < len(r) && unicode.IsDigit(r[k]) {
			k++
		}
		n := 1
		if k > j {
			n, err = strconv.Atoi(string(r[j:k]))
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid count `%s` for %s", string(r[j:k]), string(r[i:j]))
			}
		}

		for c := 0; c < n; c++ {
			species = append(species, z)
		}
		i = k
	}

	if len(species) == 0 {
		return nil, fmt.Errorf("empty formula")
	}
	return species, nil
}
