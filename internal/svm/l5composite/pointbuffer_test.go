package l5composite

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pointsN(n int) []r3.Vector {
	pts := make([]r3.Vector, n)
	for i := range pts {
		pts[i] = r3.Vector{X: float64(i), Y: float64(2 * i), Z: 1}
	}
	return pts
}

func TestPointCloudBufferParksUnusedSlots(t *testing.T) {
	b := NewPointCloudBuffer(100, 10000)
	for i := 0; i < 100; i++ {
		require.True(t, b.IsParked(i), "slot %d before any update", i)
	}

	n := b.Update(pointsN(30))
	assert.Equal(t, 30, n)
	assert.Equal(t, 30, b.Active())
	for i := 0; i < 30; i++ {
		assert.Equal(t, mgl32.Vec3{float32(i), float32(2 * i), 1}, b.Positions[i])
		assert.Equal(t, float32(1), b.Colors[i][3], "slot %d alpha", i)
		assert.False(t, b.IsParked(i))
	}
	for i := 30; i < 100; i++ {
		assert.Equal(t, mgl32.Vec3{10000, 10000, 10000}, b.Positions[i])
		assert.Zero(t, b.Colors[i][3], "slot %d alpha", i)
	}

	// a smaller frame parks the slots the previous one used
	b.Update(pointsN(10))
	for i := 10; i < 30; i++ {
		assert.True(t, b.IsParked(i), "slot %d after shrink", i)
	}
	assert.Equal(t, 100, b.Cap())
}

func TestPointCloudBufferTruncates(t *testing.T) {
	b := NewPointCloudBuffer(5, 0)
	n := b.Update(pointsN(8))
	assert.Equal(t, 5, n)
	assert.Equal(t, 3, b.Truncated())
	assert.Equal(t, 5, b.Cap())
	assert.Equal(t, mgl32.Vec3{DefaultParkedDistance, DefaultParkedDistance, DefaultParkedDistance}, b.ParkedPosition())

	b.Update(nil)
	assert.Zero(t, b.Truncated())
	assert.Zero(t, b.Active())

	lo, hi := b.CullBounds()
	assert.Equal(t, float32(-DefaultParkedDistance), lo[0])
	assert.Equal(t, float32(DefaultParkedDistance), hi[2])
}
