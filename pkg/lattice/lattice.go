// Package lattice converts between cell parameters (three lengths and three
// angles) and 3x3 basis matrices, and contracts fractional coordinates against
// a basis. The rows of a Matrix are the basis vectors a, b and c. Angles are
// in degrees: alpha is the angle between b and c, beta between a and c and
// gamma between a and b.
package lattice

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrMalformed is returned when a lattice cannot describe a periodic cell.
var ErrMalformed = errors.New("malformed lattice")

// singular is the relative volume under which a basis is considered singular.
const singular = 1e-8

// Params are the cell parameters.
type Params struct {
	Lengths [3]float64 `toml:"lengths"`
	Angles  [3]float64 `toml:"angles"`
}

// Matrix is a lattice basis. Row k is the k-th basis vector.
type Matrix [3][3]float64

// Cellpar returns the six cell parameters a, b, c, alpha, beta, gamma.
func (p Params) Cellpar() [6]float64 {
	return [6]float64{p.Lengths[0], p.Lengths[1], p.Lengths[2],
		p.Angles[0], p.Angles[1], p.Angles[2]}
}

// Validate checks that the lengths are positive and that the angles close a
// cell of non-zero volume.
func (p Params) Validate() error {
	for k, l := range p.Lengths {
		if !(l > 0) || math.IsInf(l, 0) {
			return fmt.Errorf("%w: length %d is %g", ErrMalformed, k, l)
		}
	}
	for k, a := range p.Angles {
		if !(a > 0 && a < 180) {
			return fmt.Errorf("%w: angle %d is %g", ErrMalformed, k, a)
		}
	}

	ca, cb, cg := cosd(p.Angles[0]), cosd(p.Angles[1]), cosd(p.Angles[2])
	if 1-ca*ca-cb*cb-cg*cg+2*ca*cb*cg <= singular {
		return fmt.Errorf("%w: angles %v don't close a cell", ErrMalformed, p.Angles)
	}
	return nil
}

// FromParams builds the basis of p. The a vector lies along x and b lies in
// the xy plane.
func FromParams(p Params) (Matrix, error) {
	if err := p.Validate(); err != nil {
		return Matrix{}, err
	}

	ca, cb, cg := cosd(p.Angles[0]), cosd(p.Angles[1]), cosd(p.Angles[2])
	sg := sind(p.Angles[2])

	cx := cb
	cy := (ca - cb*cg) / sg
	cz := math.Sqrt(1 - cx*cx - cy*cy)

	a, b, c := p.Lengths[0], p.Lengths[1], p.Lengths[2]
	return Matrix{
		{a, 0, 0},
		{b * cg, b * sg, 0},
		{c * cx, c * cy, c * cz},
	}, nil
}

// Params derives the lengths and the angles of the basis. The cosines are
// clamped to [-1, 1] so that nearly (anti)parallel vectors don't produce NaN.
func (m Matrix) Params() (Params, error) {
	var p Params
	for k := 0; k < 3; k++ {
		p.Lengths[k] = floats.Norm(m[k][:], 2)
		if !(p.Lengths[k] > 0) || math.IsInf(p.Lengths[k], 0) {
			return Params{}, fmt.Errorf("%w: basis vector %d has length %g", ErrMalformed, k, p.Lengths[k])
		}
	}

	pairs := [3][2]int{{1, 2}, {0, 2}, {0, 1}}
	for k, pair := range pairs {
		i, j := pair[0], pair[1]
		cos := floats.Dot(m[i][:], m[j][:]) / (p.Lengths[i] * p.Lengths[j])
		cos = math.Max(-1, math.Min(1, cos))
		p.Angles[k] = math.Acos(cos) * 180 / math.Pi
	}
	return p, nil
}

// Volume returns the signed volume of the cell.
func (m Matrix) Volume() float64 {
	return mat.Det(m.Dense())
}

// Validate checks that every basis vector has a positive finite length and that
// the basis isn't singular.
func (m Matrix) Validate() error {
	p, err := m.Params()
	if err != nil {
		return err
	}

	vol := math.Abs(m.Volume())
	if math.IsNaN(vol) || vol <= singular*p.Lengths[0]*p.Lengths[1]*p.Lengths[2] {
		return fmt.Errorf("%w: singular basis (volume %g)", ErrMalformed, vol)
	}
	return nil
}

// Dense returns the basis as a gonum matrix.
func (m Matrix) Dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	})
}

// ToCartesian returns the Cartesian position of the fractional coordinates x.
func (m Matrix) ToCartesian(x [3]float64) (c [3]float64) {
	for k := 0; k < 3; k++ {
		for j := 0; j < 3; j++ {
			c[k] += x[j] * m[j][k]
		}
	}
	return
}

// Contract multiplies every row of frac by the basis: row i of the result is
// the Cartesian position of frac[i].
func (m Matrix) Contract(frac [][3]float64) [][3]float64 {
	out := make([][3]float64, len(frac))
	if len(frac) == 0 {
		return out
	}

	backing := make([]float64, 0, 3*len(frac))
	for _, x := range frac {
		backing = append(backing, x[0], x[1], x[2])
	}

	var cart mat.Dense
	cart.Mul(mat.NewDense(len(frac), 3, backing), m.Dense())

	for i := range out {
		for k := 0; k < 3; k++ {
			out[i][k] = cart.At(i, k)
		}
	}
	return out
}

// CartesianBatch contracts the fractional coordinates of several structures
// packed along the atom axis. Structure i owns numAtoms[i] consecutive rows of
// frac and its own basis lattices[i].
func CartesianBatch(lattices []Matrix, numAtoms []int, frac [][3]float64) ([][3]float64, error) {
	if len(lattices) != len(numAtoms) {
		return nil, fmt.Errorf("%d lattices for %d structures", len(lattices), len(numAtoms))
	}

	out := make([][3]float64, 0, len(frac))
	var start int
	for i, n := range numAtoms {
		if n < 0 || start+n > len(frac) {
			return nil, fmt.Errorf("structure %d: %d atoms out of %d positions", i, n, len(frac))
		}
		out = append(out, lattices[i].Contract(frac[start:start+n])...)
		start += n
	}

	if start != len(frac) {
		return nil, fmt.Errorf("atom counts sum to %d but there are %d positions", start, len(frac))
	}
	return out, nil
}

// DeriveBatch derives the lengths and the angles of every lattice.
func DeriveBatch(lattices []Matrix) (lengths, angles [][3]float64, err error) {
	lengths = make([][3]float64, len(lattices))
	angles = make([][3]float64, len(lattices))
	for i, m := range lattices {
		p, err := m.Params()
		if err != nil {
			return nil, nil, fmt.Errorf("lattice %d: %w", i, err)
		}
		lengths[i], angles[i] = p.Lengths, p.Angles
	}
	return
}

// cosd returns the cosine of an angle in degrees. Right angles give exactly 0.
func cosd(deg float64) float64 {
	if deg == 90 {
		return 0
	}
	return math.Cos(deg * math.Pi / 180)
}

func sind(deg float64) float64 {
	if deg == 90 {
		return 1
	}
	return math.Sin(deg * math.Pi / 180)
}

// wrap brings x into [0, 1). Negative values are wrapped upward.
func wrap(x float64) float64 {
	x = math.Mod(x, 1)
	if x < 0 {
		x++
	}
	if x >= 1 { // -1e-17 + 1 rounds to 1
		x = 0
	}
	return x
}

// Wrap brings every fractional coordinate of x into [0, 1).
func Wrap(x [3]float64) [3]float64 {
	return [3]float64{wrap(x[0]), wrap(x[1]), wrap(x[2])}
}

// WrapAll returns a wrapped copy of frac.
func WrapAll(frac [][3]float64) [][3]float64 {
	out := make([][3]float64, len(frac))
	for i, x := range frac {
		out[i] = Wrap(x)
	}
	return out
}
