package l5composite

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/golang/geo/r3"
)

// DefaultParkedDistance places unused slots at (d, d, d), far outside any
// camera frustum.
const DefaultParkedDistance = 10000

var (
	liveColor   = mgl32.Vec4{1, 0, 0, 1}
	parkedColor = mgl32.Vec4{1, 0, 0, 0}
)

// PointCloudBuffer is a fixed-capacity vertex/colour buffer for LIDAR points.
// Slots not covered by the current frame are parked: moved to the parked
// position with zero alpha. Capacity never changes after construction.
type PointCloudBuffer struct {
	Positions []mgl32.Vec3
	Colors    []mgl32.Vec4

	parked    mgl32.Vec3
	active    int
	truncated int
}

// NewPointCloudBuffer allocates capacity slots, all parked.
func NewPointCloudBuffer(capacity int, parkedDistance float64) *PointCloudBuffer {
	if capacity < 0 {
		capacity = 0
	}
	if parkedDistance <= 0 {
		parkedDistance = DefaultParkedDistance
	}
	d := float32(parkedDistance)
	b := &PointCloudBuffer{
		Positions: make([]mgl32.Vec3, capacity),
		Colors:    make([]mgl32.Vec4, capacity),
		parked:    mgl32.Vec3{d, d, d},
	}
	for i := range b.Positions {
		b.Positions[i] = b.parked
		b.Colors[i] = parkedColor
	}
	return b
}

// Update writes points into slots [0, n) and parks every slot the previous
// frame used beyond n, where n is min(len(points), Cap()). It returns n.
func (b *PointCloudBuffer) Update(points []r3.Vector) int {
	n := len(points)
	b.truncated = 0
	if n > len(b.Positions) {
		b.truncated = n - len(b.Positions)
		n = len(b.Positions)
	}
	for i := 0; i < n; i++ {
		p := points[i]
		b.Positions[i] = mgl32.Vec3{float32(p.X), float32(p.Y), float32(p.Z)}
		b.Colors[i] = liveColor
	}
	// slots at or past the previous active count are already parked
	for i := n; i < b.active; i++ {
		b.Positions[i] = b.parked
		b.Colors[i] = parkedColor
	}
	b.active = n
	return n
}

// Cap is the fixed slot count.
func (b *PointCloudBuffer) Cap() int { return len(b.Positions) }

// Active is the number of live slots from the last Update.
func (b *PointCloudBuffer) Active() int { return b.active }

// Truncated is the number of points the last Update could not fit.
func (b *PointCloudBuffer) Truncated() int { return b.truncated }

// ParkedPosition is where unused slots live.
func (b *PointCloudBuffer) ParkedPosition() mgl32.Vec3 { return b.parked }

// IsParked reports whether slot i holds no live point.
func (b *PointCloudBuffer) IsParked(i int) bool {
	return b.Colors[i][3] == 0 && b.Positions[i] == b.parked
}

// CullBounds is the box spanned by the parked position and its mirror. A
// renderer uses it as the buffer's bounds so the cloud is never culled whole.
func (b *PointCloudBuffer) CullBounds() (lo, hi mgl32.Vec3) {
	d := b.parked[0]
	return mgl32.Vec3{-d, -d, -d}, mgl32.Vec3{d, d, d}
}
