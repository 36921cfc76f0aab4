package l4depth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/surroundview/internal/svm/l2frames"
)

func gridOf(rows, cols int, values ...float64) l2frames.Grid {
	g := l2frames.NewGrid(rows, cols)
	copy(g.Data, values)
	return g
}

func TestDensifyZeroMaskIsIdentity(t *testing.T) {
	sparse := gridOf(3, 4,
		0, 1.5, 0, 7,
		2, 0, 0, 0,
		-3, 0, 9, 0)
	mask := l2frames.NewMask(3, 4, 0)

	out, err := NewDensifier(0, 0).Densify(sparse, mask)
	require.NoError(t, err)
	assert.Equal(t, sparse.Data, out.Data)
}

func TestDensifyFullyKnownIsIdentity(t *testing.T) {
	sparse := gridOf(2, 3, 1, 2, 3, 4, 5, 6)
	mask := l2frames.NewMask(2, 3, 1)

	out, stats, err := NewDensifier(0, 0).DensifyWithStats(sparse, mask)
	require.NoError(t, err)
	assert.Equal(t, sparse.Data, out.Data)
	assert.Zero(t, stats.Unknowns)
}

func TestDensifySingleUnknownIsNeighbourMean(t *testing.T) {
	sparse := gridOf(3, 3,
		9, 2, 9,
		4, 0, 6,
		9, 8, 9)
	mask := l2frames.NewMask(3, 3, 1)

	out, err := NewDensifier(0, 0).Densify(sparse, mask)
	require.NoError(t, err)
	assert.InDelta(t, (2.0+4+6+8)/4, out.At(1, 1), 1e-9)
	// pinned pixels untouched
	assert.Equal(t, 9.0, out.At(0, 0))
	assert.Equal(t, 6.0, out.At(1, 2))
}

func TestDensifyBoundaryOmitsOutOfRangeNeighbours(t *testing.T) {
	t.Run("row", func(t *testing.T) {
		// 4x - 4 - 8 = 0 with the vertical neighbours missing
		sparse := gridOf(1, 3, 4, 0, 8)
		out, err := NewDensifier(0, 0).Densify(sparse, l2frames.NewMask(1, 3, 1))
		require.NoError(t, err)
		assert.InDelta(t, 3.0, out.At(0, 1), 1e-9)
	})

	t.Run("isolated pixel", func(t *testing.T) {
		out, err := NewDensifier(0, 0).Densify(gridOf(1, 1, 0), l2frames.NewMask(1, 1, 1))
		require.NoError(t, err)
		assert.Equal(t, 0.0, out.At(0, 0))
	})

	t.Run("pinned outside mask feeds the boundary", func(t *testing.T) {
		sparse := gridOf(1, 3, 10, 0, 0)
		mask := l2frames.Mask{Rows: 1, Cols: 3, Data: []uint8{0, 1, 1}}
		out, err := NewDensifier(0, 0).Densify(sparse, mask)
		require.NoError(t, err)
		// 4a - b = 10, 4b - a = 0
		assert.InDelta(t, 40.0/15, out.At(0, 1), 1e-9)
		assert.InDelta(t, 10.0/15, out.At(0, 2), 1e-9)
		assert.Equal(t, 10.0, out.At(0, 0))
	})
}

func TestDensifySatisfiesPoissonRows(t *testing.T) {
	const rows, cols = 24, 32
	sparse := l2frames.NewGrid(rows, cols)
	mask := l2frames.NewMask(rows, cols, 0)
	for i := 2; i < rows-2; i++ {
		for j := 3; j < cols-3; j++ {
			mask.Set(i, j, 1)
		}
	}
	// a sparse lattice of known samples inside the region
	for i := 2; i < rows-2; i += 5 {
		for j := 3; j < cols-3; j += 7 {
			sparse.Set(i, j, float64(100+i*j))
		}
	}
	// and some non-zero values outside it
	sparse.Set(0, 0, 55)
	sparse.Set(rows-1, cols-1, 12)

	out, stats, err := NewDensifier(0, 1e-12).DensifyWithStats(sparse, mask)
	require.NoError(t, err)
	assert.Positive(t, stats.Unknowns)
	assert.LessOrEqual(t, stats.Residual, 1e-12)

	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if mask.At(i, j) != 1 || sparse.At(i, j) > 0 {
				assert.Equal(t, sparse.At(i, j), out.At(i, j), "pinned (%d,%d)", i, j)
				continue
			}
			sum := 0.0
			if i > 0 {
				sum += out.At(i-1, j)
			}
			if i < rows-1 {
				sum += out.At(i+1, j)
			}
			if j > 0 {
				sum += out.At(i, j-1)
			}
			if j < cols-1 {
				sum += out.At(i, j+1)
			}
			assert.InDelta(t, 0, 4*out.At(i, j)-sum, 1e-6, "poisson row (%d,%d)", i, j)
		}
	}
}

func TestDensifyErrors(t *testing.T) {
	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := NewDensifier(0, 0).Densify(l2frames.NewGrid(4, 4), l2frames.NewMask(4, 5, 1))
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("short backing data", func(t *testing.T) {
		sparse := l2frames.Grid{Rows: 2, Cols: 2, Data: []float64{1}}
		_, err := NewDensifier(0, 0).Densify(sparse, l2frames.NewMask(2, 2, 1))
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("no convergence", func(t *testing.T) {
		sparse := l2frames.NewGrid(20, 20)
		for j := 0; j < 20; j++ {
			sparse.Set(0, j, 5)
			sparse.Set(19, j, float64(j+1))
		}
		d := &Densifier{MaxIterations: 1, Tolerance: 1e-12}
		_, err := d.Densify(sparse, l2frames.NewMask(20, 20, 1))
		assert.ErrorIs(t, err, ErrInterpolationFailed)
	})
}

func TestNewDensifierDefaults(t *testing.T) {
	d := NewDensifier(-1, 0)
	assert.Equal(t, 4096, d.MaxIterations)
	assert.Equal(t, 1e-8, d.Tolerance)
}
