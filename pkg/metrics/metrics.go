// Package metrics compares predicted structures with their reference under
// periodic boundary conditions.
//
// A predicted atom is matched with the periodic image of its reference atom
// that is the closest in Cartesian space, among the 27 images obtained by
// shifting the reference by {-1, 0, 1} along every axis. The positional error
// is then measured in fractional space between the prediction and that image.
package metrics

import (
	"fmt"
	"math"

	"github.com/kpotier/crystalgen/pkg/lattice"
	"github.com/kpotier/crystalgen/pkg/structure"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Names of the quantities of a Result.
const (
	MAEPos     = "mae_pos"
	MAELengths = "mae_lengths"
	MAEAngles  = "mae_angles"
)

// Offsets are the 27 integer shifts of a periodic image, first axis slowest.
// Ties between images are resolved in favour of the first offset of this list.
var Offsets = func() (off [27][3]float64) {
	var i int
	for x := -1; x <= 1; x++ {
		for y := -1; y <= 1; y++ {
			for z := -1; z <= 1; z++ {
				off[i] = [3]float64{float64(x), float64(y), float64(z)}
				i++
			}
		}
	}
	return
}()

// Result holds the mean absolute errors. If ByStructure is true every slice
// has one value per structure, otherwise it contains a single population mean.
type Result struct {
	ByStructure bool      `toml:"by_structure"`
	Pos         []float64 `toml:"mae_pos"`
	Lengths     []float64 `toml:"mae_lengths"`
	Angles      []float64 `toml:"mae_angles"`
}

// Values returns the values of the quantity name.
func (r Result) Values(name string) ([]float64, error) {
	switch name {
	case MAEPos:
		return r.Pos, nil
	case MAELengths:
		return r.Lengths, nil
	case MAEAngles:
		return r.Angles, nil
	}
	return nil, fmt.Errorf("metric `%s` doesn't exist", name)
}

// Scalar returns the population mean of the quantity name. It fails if the
// result has been computed by structure.
func (r Result) Scalar(name string) (float64, error) {
	if r.ByStructure {
		return 0, fmt.Errorf("metric `%s` has been computed by structure", name)
	}
	v, err := r.Values(name)
	if err != nil {
		return 0, err
	}
	if len(v) != 1 {
		return 0, fmt.Errorf("metric `%s` has %d values", name, len(v))
	}
	return v[0], nil
}

// Compare computes the positional, lattice length and lattice angle errors
// between the predicted batch and the reference batch. Both batches must hold
// the same structures with the same atom counts. It doesn't modify its
// arguments.
func Compare(pred, ref structure.Batch, byStructure bool) (Result, error) {
	errPos, err := PositionErrors(pred, ref)
	if err != nil {
		return Result{}, err
	}

	res := Result{ByStructure: byStructure}
	if byStructure {
		res.Pos = segmentMean(errPos, ref.NumAtoms)
	} else {
		res.Pos = []float64{mean(errPos)}
	}

	res.Lengths, res.Angles, err = latticeErrors(pred.Lattices, ref.Lattices, byStructure)
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// PositionErrors returns, for every atom, the fractional distance between the
// prediction and the closest periodic image of the reference.
func PositionErrors(pred, ref structure.Batch) ([]float64, error) {
	x, xRef, idx, err := match(pred, ref)
	if err != nil {
		return nil, err
	}

	errPos := make([]float64, len(x))
	for i := range x {
		o := Offsets[idx[i]]
		img := [3]float64{xRef[i][0] + o[0], xRef[i][1] + o[1], xRef[i][2] + o[2]}
		errPos[i] = floats.Distance(x[i][:], img[:], 2)
	}
	return errPos, nil
}

// MatchOffsets returns, for every atom, the index in Offsets of the image of
// the reference closest to the prediction.
func MatchOffsets(pred, ref structure.Batch) ([]int, error) {
	_, _, idx, err := match(pred, ref)
	return idx, err
}

// match wraps both coordinate sets into [0, 1) and selects the closest image.
// The Cartesian positions of the prediction and of the images are both
// computed with the reference lattice of the structure.
func match(pred, ref structure.Batch) (x, xRef [][3]float64, idx []int, err error) {
	if err = check(pred, ref); err != nil {
		return
	}

	x = lattice.WrapAll(pred.Frac)
	xRef = lattice.WrapAll(ref.Frac)

	cart, err := lattice.CartesianBatch(ref.Lattices, ref.NumAtoms, x)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("CartesianBatch: %w", err)
	}

	idx = make([]int, len(x))
	off := ref.Offsets()
	images := make([][3]float64, 0, len(Offsets)*len(x))
	for s, m := range ref.Lattices {
		images = images[:0]
		for _, r := range xRef[off[s]:off[s+1]] {
			for _, o := range Offsets {
				images = append(images, [3]float64{r[0] + o[0], r[1] + o[1], r[2] + o[2]})
			}
		}
		cartImages := m.Contract(images)

		for a := off[s]; a < off[s+1]; a++ {
			candidates := cartImages[(a-off[s])*len(Offsets) : (a-off[s]+1)*len(Offsets)]
			idx[a] = closest(cart[a], candidates)
		}
	}
	return
}

// closest returns the index of the candidate closest to p. The first one wins
// in case of a tie.
func closest(p [3]float64, candidates [][3]float64) int {
	best, bestDist := 0, math.Inf(1)
	for i, c := range candidates {
		d := floats.Distance(p[:], c[:], 2)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func check(pred, ref structure.Batch) error {
	if err := pred.Validate(); err != nil {
		return fmt.Errorf("prediction: %w", err)
	}
	if err := ref.Validate(); err != nil {
		return fmt.Errorf("reference: %w", err)
	}
	if err := structure.Finite(pred.Frac); err != nil {
		return fmt.Errorf("prediction: %w", err)
	}
	if err := structure.Finite(ref.Frac); err != nil {
		return fmt.Errorf("reference: %w", err)
	}

	if len(pred.NumAtoms) != len(ref.NumAtoms) {
		return fmt.Errorf("%w: %d predicted structures for %d references",
			structure.ErrShape, len(pred.NumAtoms), len(ref.NumAtoms))
	}
	for i, n := range ref.NumAtoms {
		if pred.NumAtoms[i] != n {
			return fmt.Errorf("%w: structure %d has %d predicted atoms for %d references",
				structure.ErrShape, i, pred.NumAtoms[i], n)
		}
	}

	for i, m := range ref.Lattices {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("reference lattice %d: %w", i, err)
		}
	}
	return nil
}

// latticeErrors returns the absolute errors on the lengths and the angles,
// averaged over the three components of every structure, or over everything.
func latticeErrors(pred, ref []lattice.Matrix, byStructure bool) (lengths, angles []float64, err error) {
	predLen, predAng, err := lattice.DeriveBatch(pred)
	if err != nil {
		return nil, nil, fmt.Errorf("prediction: DeriveBatch: %w", err)
	}
	refLen, refAng, err := lattice.DeriveBatch(ref)
	if err != nil {
		return nil, nil, fmt.Errorf("reference: DeriveBatch: %w", err)
	}

	errLen := make([]float64, len(ref))
	errAng := make([]float64, len(ref))
	for i := range ref {
		var dl, da [3]float64
		for k := 0; k < 3; k++ {
			dl[k] = math.Abs(refLen[i][k] - predLen[i][k])
			da[k] = math.Abs(refAng[i][k] - predAng[i][k])
		}
		errLen[i] = stat.Mean(dl[:], nil)
		errAng[i] = stat.Mean(da[:], nil)
	}

	if byStructure {
		return errLen, errAng, nil
	}
	return []float64{mean(errLen)}, []float64{mean(errAng)}, nil
}

// mean returns 0 for an empty slice.
func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return stat.Mean(v, nil)
}

// segmentMean averages v over consecutive segments of numAtoms values. Empty
// segments have a mean of 0.
func segmentMean(v []float64, numAtoms []int) []float64 {
	out := make([]float64, len(numAtoms))
	var start int
	for i, n := range numAtoms {
		out[i] = mean(v[start : start+n])
		start += n
	}
	return out
}
