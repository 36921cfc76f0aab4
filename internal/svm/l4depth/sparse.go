package l4depth

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/surroundview/internal/svm/l2frames"
	"github.com/banshee-data/surroundview/internal/svm/l3calib"
)

// ProjectSparseDepth rasterises world points into a width×height depth
// sample for one camera. Each point lands on the pixel
// ((ndc.x+1)/2·w, (1-ndc.y)/2·h) with its view-space distance (clip w) as
// the sample. Points outside the frustum are dropped; where several points
// share a pixel the nearest one wins.
func ProjectSparseDepth(points []r3.Vector, vp l3calib.Matrix4, width, height int) l2frames.Grid {
	g := l2frames.NewGrid(height, width)
	if width <= 0 || height <= 0 {
		return g
	}
	for _, p := range points {
		clip := l3calib.TransformPoint(vp, mgl64.Vec3{p.X, p.Y, p.Z})
		ndc, ok := l3calib.ToNDC(clip)
		if !ok {
			continue
		}
		if ndc[0] < -1 || ndc[0] > 1 || ndc[1] < -1 || ndc[1] > 1 || ndc[2] < 0 || ndc[2] > 1 {
			continue
		}
		col := int((ndc[0] + 1) / 2 * float64(width))
		row := int((1 - ndc[1]) / 2 * float64(height))
		if col == width {
			col--
		}
		if row == height {
			row--
		}
		depth := clip[3]
		if cur := g.At(row, col); cur == 0 || depth < cur {
			g.Set(row, col, depth)
		}
	}
	return g
}

// Coverage returns the number of positive samples in g.
func Coverage(g l2frames.Grid) int {
	n := 0
	for _, v := range g.Data {
		if v > 0 {
			n++
		}
	}
	return n
}

// Range returns the smallest and largest values of g; both are zero for an
// empty grid.
func Range(g l2frames.Grid) (lo, hi float64) {
	if len(g.Data) == 0 {
		return 0, 0
	}
	return floats.Min(g.Data), floats.Max(g.Data)
}
