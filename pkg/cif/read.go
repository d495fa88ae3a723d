package cif

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/kpotier/crystalgen/pkg/element"
	"github.com/kpotier/crystalgen/pkg/structure"
)

// block is a data block being read.
type block struct {
	name  string
	tags  map[string]string
	loops []loop
}

type loop struct {
	tags   []string
	values []string
}

// col returns the column of tag, or -1.
func (l loop) col(tag string) int {
	for k, v := range l.tags {
		if v == tag {
			return k
		}
	}
	return -1
}

// Decode reads every data block of a CIF document. Only P 1 structures are
// supported: blocks listing other symmetry operations are rejected.
func Decode(r io.Reader) ([]structure.Structure, error) {
	blocks, err := parse(r)
	if err != nil {
		return nil, err
	}

	structs := make([]structure.Structure, 0, len(blocks))
	for _, b := range blocks {
		s, err := b.structure()
		if err != nil {
			return nil, fmt.Errorf("data_%s: %w", b.name, err)
		}
		structs = append(structs, s)
	}
	return structs, nil
}

// DecodeBatch reads a CIF document into a batch.
func DecodeBatch(r io.Reader) (structure.Batch, error) {
	structs, err := Decode(r)
	if err != nil {
		return structure.Batch{}, err
	}
	return structure.FromStructures(structs)
}

// parse splits the document into blocks, tags and loops.
func parse(r io.Reader) ([]*block, error) {
	var (
		blocks  []*block
		cur     *block
		inLoop  bool // reading the tags of the last loop
		pending string
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var nl int
	for sc.Scan() {
		nl++
		line := sc.Text()

		if strings.HasPrefix(line, ";") { // text field
			text, err := textField(sc, line, &nl)
			if err != nil {
				return nil, err
			}
			if cur != nil && pending != "" {
				cur.tags[pending] = text
				pending = ""
			} else if cur != nil && len(cur.loops) > 0 {
				l := &cur.loops[len(cur.loops)-1]
				l.values = append(l.values, text)
			}
			continue
		}

		for _, tok := range fields(line) {
			low := strings.ToLower(tok)
			switch {
			case strings.HasPrefix(low, "data_"):
				cur = &block{name: tok[5:], tags: make(map[string]string)}
				blocks = append(blocks, cur)
				inLoop, pending = false, ""
				continue
			case cur == nil:
				return nil, fmt.Errorf("line %d: `%s` outside of a data block", nl, tok)
			case low == "loop_":
				cur.loops = append(cur.loops, loop{})
				inLoop, pending = true, ""
				continue
			}

			if pending != "" {
				cur.tags[pending] = tok
				pending = ""
				continue
			}

			if strings.HasPrefix(tok, "_") {
				if inLoop && len(cur.loops[len(cur.loops)-1].values) == 0 {
					l := &cur.loops[len(cur.loops)-1]
					l.tags = append(l.tags, low)
					continue
				}
				inLoop = false
				pending = low
				continue
			}

			if !inLoop {
				return nil, fmt.Errorf("line %d: value `%s` without a tag", nl, tok)
			}
			l := &cur.loops[len(cur.loops)-1]
			l.values = append(l.values, tok)
		}
	}

	if err := sc.Err(); err != nil {
		return nil, err
	}
	if pending != "" {
		return nil, fmt.Errorf("tag `%s` without a value", pending)
	}
	return blocks, nil
}

// textField reads a semicolon delimited text field starting at first.
func textField(sc *bufio.Scanner, first string, nl *int) (string, error) {
	lines := []string{first[1:]}
	for sc.Scan() {
		*nl++
		line := sc.Text()
		if strings.HasPrefix(line, ";") {
			return strings.TrimSpace(strings.Join(lines, "\n")), nil
		}
		lines = append(lines, line)
	}
	return "", errors.New("unterminated text field")
}

// fields splits a line into tokens. Quoted tokens lose their quotes and a
// token starting with # comments out the rest of the line.
func fields(line string) []string {
	var toks []string
	for i := 0; i < len(line); {
		c := line[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '#':
			return toks
		case c == '\'' || c == '"':
			// a quote only closes when followed by a blank or the end of line
			end := -1
			for j := i + 1; j < len(line); j++ {
				if line[j] == c && (j+1 == len(line) || line[j+1] == ' ' || line[j+1] == '\t') {
					end = j
					break
				}
			}
			if end < 0 {
				toks = append(toks, line[i+1:])
				return toks
			}
			toks = append(toks, line[i+1:end])
			i = end + 1
		default:
			j := i
			for j < len(line) && line[j] != ' ' && line[j] != '\t' {
				j++
			}
			toks = append(toks, line[i:j])
			i = j
		}
	}
	return toks
}

var symopTags = []string{
	"_space_group_symop_operation_xyz",
	"_symmetry_equiv_pos_as_xyz",
}

// structure builds the structure described by the block.
func (b *block) structure() (structure.Structure, error) {
	var s structure.Structure
	for k, tag := range cellTags {
		v, ok := b.tags[tag]
		if !ok {
			return s, fmt.Errorf("cannot find %s", tag)
		}

		f, err := number(v)
		if err != nil {
			return s, fmt.Errorf("%s: %w", tag, err)
		}
		if k < 3 {
			s.Lattice.Lengths[k] = f
		} else {
			s.Lattice.Angles[k-3] = f
		}
	}

	var sites *loop
	for k, l := range b.loops {
		for _, tag := range symopTags {
			c := l.col(tag)
			if c < 0 {
				continue
			}
			n := len(l.values) / len(l.tags)
			if n > 1 || (n == 1 && strings.ToLower(strings.ReplaceAll(l.values[c], " ", "")) != "x,y,z") {
				return s, errors.New("only P 1 structures are supported")
			}
		}

		if l.col("_atom_site_fract_x") >= 0 {
			sites = &b.loops[k]
		}
	}

	if sites == nil {
		return s, errors.New("cannot find the _atom_site_fract_x loop")
	}
	err := sites.read(&s)
	if err != nil {
		return s, err
	}

	err = s.Validate()
	if err != nil {
		return s, err
	}
	return s, nil
}

// read fetches the species and the fractional coordinates. The columns are
// located by their tag. The species come from the type symbol or, if absent,
// from the label.
func (l *loop) read(s *structure.Structure) error {
	var cols [4]int
	for k, tag := range []string{"_atom_site_fract_x", "_atom_site_fract_y", "_atom_site_fract_z"} {
		cols[k] = l.col(tag)
		if cols[k] < 0 {
			return fmt.Errorf("cannot find the column %s", tag)
		}
	}

	cols[3] = l.col("_atom_site_type_symbol")
	if cols[3] < 0 {
		cols[3] = l.col("_atom_site_label")
	}
	if cols[3] < 0 {
		return errors.New("cannot find the columns _atom_site_type_symbol or _atom_site_label")
	}

	if len(l.values)%len(l.tags) != 0 {
		return fmt.Errorf("number of values (%d) isn't a multiple of the number of columns (%d)",
			len(l.values), len(l.tags))
	}

	for row := 0; row < len(l.values); row += len(l.tags) {
		fields := l.values[row : row+len(l.tags)]

		z, err := element.Number(symbol(fields[cols[3]]))
		if err != nil {
			return fmt.Errorf("atom %d: %w", row/len(l.tags), err)
		}

		var x [3]float64
		for k := 0; k < 3; k++ {
			x[k], err = number(fields[cols[k]])
			if err != nil {
				return fmt.Errorf("atom %d: %w", row/len(l.tags), err)
			}
		}

		s.Species = append(s.Species, z)
		s.Frac = append(s.Frac, x)
	}

	if len(s.Species) == 0 {
		return ErrEmpty
	}
	return nil
}

// symbol extracts the element of a type symbol or a label ("Fe2+", "O1",
// "LI3" are Fe, O and Li).
func symbol(v string) string {
	var sym []rune
	for _, r := range v {
		if !unicode.IsLetter(r) || len(sym) == 2 {
			break
		}
		if len(sym) == 0 {
			sym = append(sym, unicode.ToUpper(r))
		} else {
			sym = append(sym, unicode.ToLower(r))
		}
	}

	if _, err := element.Number(string(sym)); err != nil && len(sym) == 2 {
		return string(sym[:1])
	}
	return string(sym)
}

// number parses a CIF number, dropping the standard uncertainty ("4.123(2)").
func number(v string) (float64, error) {
	if k := strings.IndexByte(v, '('); k >= 0 {
		v = v[:k]
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("`%s` isn't a finite number", v)
	}
	return f, nil
}
