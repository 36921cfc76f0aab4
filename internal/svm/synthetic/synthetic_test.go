package synthetic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/surroundview/internal/svm/l2frames"
)

func TestGeneratorFrames(t *testing.T) {
	g := NewGenerator(DefaultRigSpec(), 1)

	first := g.Next(true)
	require.NoError(t, first.Validate())
	assert.Equal(t, uint64(1), first.Seq)
	require.NotNil(t, first.Metadata)
	assert.Equal(t, 16*64, first.Metadata.PointCapacity())
	assert.Len(t, first.Points, 16*64/2)

	second := g.Next(false)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Nil(t, second.Metadata)
	assert.Equal(t, int32(1), second.Segments[l2frames.CameraLeft].Labels[0])
}

func TestRigSpecMetadata(t *testing.T) {
	meta := DefaultRigSpec().Metadata()
	assert.Equal(t, 300.0, meta.Mounts[l2frames.CameraFront].Offset.Y)
	assert.Equal(t, 300.0, meta.Mounts[l2frames.CameraRight].Offset.X)
	assert.Equal(t, -300.0, meta.Mounts[l2frames.CameraBack].Offset.Y)
	assert.Equal(t, -300.0, meta.Mounts[l2frames.CameraLeft].Offset.X)
	for i, m := range meta.Mounts {
		assert.Equal(t, l2frames.CameraIndex(i), m.Index)
	}
}

func TestCheckerImage(t *testing.T) {
	im := CheckerImage(16, 16, l2frames.CameraFront, 0)
	r, g, b, a := im.RGBA(0, 0)
	assert.Equal(t, [4]uint8{220, 40, 40, 255}, [4]uint8{r, g, b, a})
	r, _, _, _ = im.RGBA(8, 0)
	assert.Equal(t, uint8(110), r)
}
