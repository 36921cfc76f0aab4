package l4depth

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/surroundview/internal/svm/l2frames"
)

var (
	// ErrDimensionMismatch is returned when the sparse depth and mask differ
	// in shape.
	ErrDimensionMismatch = errors.New("depth and mask dimensions differ")
	// ErrInterpolationFailed is returned when the Poisson solve does not
	// produce a finite, converged solution.
	ErrInterpolationFailed = errors.New("depth interpolation failed")
)

// Densifier solves the masked Poisson interpolation problem.
//
// One equation per pixel:
//   - mask != 1: the pixel is pinned to its sparse value (zero or not).
//   - mask == 1 and sample > 0: the pixel is pinned to the known sample.
//   - otherwise: 4·x - Σ x(neighbour) = 0 over in-range 4-neighbours.
//
// Pinned pixels are moved to the right-hand side, which leaves a symmetric
// positive-definite system over the unknown pixels. It is solved with
// conjugate gradient.
type Densifier struct {
	MaxIterations int
	Tolerance     float64
}

// NewDensifier returns a Densifier with the given limits. Non-positive values
// select 4096 iterations and a 1e-8 relative residual.
func NewDensifier(maxIterations int, tolerance float64) *Densifier {
	if maxIterations <= 0 {
		maxIterations = 4096
	}
	if tolerance <= 0 {
		tolerance = 1e-8
	}
	return &Densifier{MaxIterations: maxIterations, Tolerance: tolerance}
}

// SolveStats describes one solve.
type SolveStats struct {
	Unknowns   int
	Iterations int
	Residual   float64 // relative residual at exit
}

// Densify fills unknown ROI pixels of sparse. The result always has the
// sparse grid's shape; pinned pixels keep their input value exactly.
func (d *Densifier) Densify(sparse l2frames.Grid, mask l2frames.Mask) (l2frames.Grid, error) {
	out, _, err := d.DensifyWithStats(sparse, mask)
	return out, err
}

// DensifyWithStats is Densify plus solver diagnostics.
func (d *Densifier) DensifyWithStats(sparse l2frames.Grid, mask l2frames.Mask) (l2frames.Grid, SolveStats, error) {
	var stats SolveStats
	rows, cols := sparse.Rows, sparse.Cols
	if mask.Rows != rows || mask.Cols != cols {
		return l2frames.Grid{}, stats, fmt.Errorf("%w: depth %dx%d, mask %dx%d",
			ErrDimensionMismatch, rows, cols, mask.Rows, mask.Cols)
	}
	if len(sparse.Data) != rows*cols || len(mask.Data) != rows*cols {
		return l2frames.Grid{}, stats, fmt.Errorf("%w: backing data does not match %dx%d",
			ErrDimensionMismatch, rows, cols)
	}

	out := sparse.Clone()

	// index of each unknown pixel in the reduced system, -1 when pinned
	unknownAt := make([]int, rows*cols)
	var pixels []int
	for p := range unknownAt {
		if mask.Data[p] == 1 && !(sparse.Data[p] > 0) {
			unknownAt[p] = len(pixels)
			pixels = append(pixels, p)
		} else {
			unknownAt[p] = -1
		}
	}
	stats.Unknowns = len(pixels)
	if len(pixels) == 0 {
		return out, stats, nil
	}

	n := len(pixels)
	neighbours := make([]int, 4*n)
	b := mat.NewVecDense(n, nil)
	for k, p := range pixels {
		i, j := p/cols, p%cols
		slot := 0
		var rhs float64
		visit := func(q int) {
			if u := unknownAt[q]; u >= 0 {
				neighbours[4*k+slot] = u
				slot++
				return
			}
			rhs += sparse.Data[q]
		}
		if i > 0 {
			visit(p - cols)
		}
		if i < rows-1 {
			visit(p + cols)
		}
		if j > 0 {
			visit(p - 1)
		}
		if j < cols-1 {
			visit(p + 1)
		}
		for ; slot < 4; slot++ {
			neighbours[4*k+slot] = -1
		}
		b.SetVec(k, rhs)
	}

	x, iters, residual, err := d.conjugateGradient(poissonOperator(neighbours), b)
	stats.Iterations = iters
	stats.Residual = residual
	if err != nil {
		return l2frames.Grid{}, stats, err
	}

	for k, p := range pixels {
		v := x.AtVec(k)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return l2frames.Grid{}, stats, fmt.Errorf("%w: non-finite value at pixel (%d,%d)",
				ErrInterpolationFailed, p/cols, p%cols)
		}
		out.Data[p] = v
	}
	return out, stats, nil
}

// poissonOperator applies 4·x_k - Σ x_neighbour over the unknown pixels.
// Entry 4k..4k+3 lists the unknown neighbours of k, padded with -1.
type poissonOperator []int

func (op poissonOperator) mulVecTo(dst, x *mat.VecDense) {
	xs := x.RawVector().Data
	ds := dst.RawVector().Data
	for k := range ds {
		v := 4 * xs[k]
		for _, u := range op[4*k : 4*k+4] {
			if u >= 0 {
				v -= xs[u]
			}
		}
		ds[k] = v
	}
}

func (d *Densifier) conjugateGradient(op poissonOperator, b *mat.VecDense) (*mat.VecDense, int, float64, error) {
	n := b.Len()
	x := mat.NewVecDense(n, nil)

	bNorm := math.Sqrt(mat.Dot(b, b))
	if math.IsNaN(bNorm) || math.IsInf(bNorm, 0) {
		return nil, 0, math.NaN(), fmt.Errorf("%w: non-finite boundary values", ErrInterpolationFailed)
	}
	if bNorm == 0 {
		return x, 0, 0, nil
	}

	r := mat.VecDenseCopyOf(b)
	p := mat.VecDenseCopyOf(b)
	ap := mat.NewVecDense(n, nil)
	rs := mat.Dot(r, r)

	for it := 1; it <= d.MaxIterations; it++ {
		op.mulVecTo(ap, p)
		pAp := mat.Dot(p, ap)
		if !(pAp > 0) {
			return nil, it, math.Sqrt(rs) / bNorm, fmt.Errorf("%w: system is not positive definite", ErrInterpolationFailed)
		}
		alpha := rs / pAp
		x.AddScaledVec(x, alpha, p)
		r.AddScaledVec(r, -alpha, ap)

		rsNew := mat.Dot(r, r)
		residual := math.Sqrt(rsNew) / bNorm
		if residual <= d.Tolerance {
			return x, it, residual, nil
		}
		if math.IsNaN(residual) {
			return nil, it, residual, fmt.Errorf("%w: residual diverged", ErrInterpolationFailed)
		}

		p.ScaleVec(rsNew/rs, p)
		p.AddVec(p, r)
		rs = rsNew
	}
	return nil, d.MaxIterations, math.Sqrt(rs) / bNorm,
		fmt.Errorf("%w: no convergence after %d iterations", ErrInterpolationFailed, d.MaxIterations)
}
