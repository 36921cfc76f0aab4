package l2frames

// Grid is a dense row-major float grid. DepthField and sparse depth samples
// both use it; a zero sample means "no measurement".
type Grid struct {
	Rows int
	Cols int
	Data []float64
}

// NewGrid returns a zero-filled grid.
func NewGrid(rows, cols int) Grid {
	return Grid{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// At returns the value at row i, column j.
func (g Grid) At(i, j int) float64 { return g.Data[i*g.Cols+j] }

// Set writes the value at row i, column j.
func (g Grid) Set(i, j int, v float64) { g.Data[i*g.Cols+j] = v }

// SameShape reports whether two grids have identical dimensions.
func (g Grid) SameShape(rows, cols int) bool { return g.Rows == rows && g.Cols == cols }

// Clone returns a deep copy.
func (g Grid) Clone() Grid {
	out := Grid{Rows: g.Rows, Cols: g.Cols, Data: make([]float64, len(g.Data))}
	copy(out.Data, g.Data)
	return out
}

// Mask is a binary region-of-interest grid; 1 marks pixels inside the region.
type Mask struct {
	Rows int
	Cols int
	Data []uint8
}

// NewMask returns a mask with every pixel set to v.
func NewMask(rows, cols int, v uint8) Mask {
	data := make([]uint8, rows*cols)
	if v != 0 {
		for i := range data {
			data[i] = v
		}
	}
	return Mask{Rows: rows, Cols: cols, Data: data}
}

// At returns the mask value at row i, column j.
func (m Mask) At(i, j int) uint8 { return m.Data[i*m.Cols+j] }

// Set writes the mask value at row i, column j.
func (m Mask) Set(i, j int, v uint8) { m.Data[i*m.Cols+j] = v }

// MaskFromSegments builds a region-of-interest mask where labels equal roi.
func MaskFromSegments(seg SegMap, roi int32) Mask {
	m := Mask{Rows: seg.Height, Cols: seg.Width, Data: make([]uint8, len(seg.Labels))}
	for i, l := range seg.Labels {
		if l == roi {
			m.Data[i] = 1
		}
	}
	return m
}
