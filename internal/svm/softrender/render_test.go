package softrender

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/surroundview/internal/config"
	"github.com/banshee-data/surroundview/internal/monitoring"
	"github.com/banshee-data/surroundview/internal/svm/l5composite"
	"github.com/banshee-data/surroundview/internal/svm/synthetic"
)

func renderInputs(t *testing.T, points []r3.Vector) l5composite.RenderInputs {
	t.Helper()
	monitoring.SetLogger(nil)
	cfg := config.DefaultTuningConfig()
	opts, err := l5composite.OptionsFromConfig(cfg)
	require.NoError(t, err)
	opts.Densify = false
	c := l5composite.New(opts)

	gen := synthetic.NewGenerator(synthetic.DefaultRigSpec(), 1)
	frame := gen.Next(true)
	frame.Points = points
	_, err = c.ApplyFrame(frame)
	require.NoError(t, err)
	in, ok := c.Inputs()
	require.True(t, ok)
	return in
}

// pixelAt maps a ground point to output pixel coordinates.
func pixelAt(opts Options, x, y float64) (int, int) {
	ext := opts.HalfExtent
	size := float64(opts.Size)
	return int((x + ext) / (2 * ext) * size), int((ext - y) / (2 * ext) * size)
}

func TestRendererPaintsEachCameraOnItsSide(t *testing.T) {
	in := renderInputs(t, nil)

	for _, policy := range []BlendPolicy{NearestCamera, Weighted} {
		opts := DefaultOptions()
		opts.Blend = policy
		r := New(opts)
		require.NoError(t, r.Render(context.Background(), in))
		img := r.Last()
		require.NotNil(t, img)

		// each optical axis meets the ground ~433 units past its 300 unit mount
		check := func(name string, x, y float64, dominant func(r, g, b uint8) bool) {
			px, py := pixelAt(opts, x, y)
			c := img.NRGBAAt(px, py)
			assert.Equal(t, uint8(255), c.A, "%s alpha", name)
			assert.True(t, dominant(c.R, c.G, c.B), "%s colour %v (policy %d)", name, c, policy)
		}
		check("front", 0, 733, func(r, g, b uint8) bool { return r > g && r > b })
		check("right", 733, 0, func(r, g, b uint8) bool { return g > r && g > b })
		check("back", 0, -733, func(r, g, b uint8) bool { return b > r && b > g })
		check("left", -733, 0, func(r, g, b uint8) bool { return r > b && g > b })
	}
}

func TestRendererDrawsLivePoints(t *testing.T) {
	in := renderInputs(t, []r3.Vector{{X: 100, Y: 200, Z: 0}})
	r := New(DefaultOptions())
	require.NoError(t, r.Render(context.Background(), in))

	px, py := pixelAt(r.opts, 100, 200)
	c := r.Last().NRGBAAt(px, py)
	assert.Equal(t, uint8(255), c.R)
	assert.Zero(t, c.G)
	assert.Equal(t, uint64(1), r.Frames())
}

func TestRendererSnapshot(t *testing.T) {
	r := New(Options{Size: 64})
	assert.Error(t, r.Snapshot(filepath.Join(t.TempDir(), "none.png")))
	assert.Nil(t, r.Thumbnail(16))

	require.NoError(t, r.Render(context.Background(), renderInputs(t, nil)))
	path := filepath.Join(t.TempDir(), "composite.png")
	require.NoError(t, r.Snapshot(path))

	img, err := imaging.Open(path)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 16, r.Thumbnail(16).Bounds().Dx())
}

func TestRendererHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(DefaultOptions()).Render(ctx, renderInputs(t, nil))
	assert.ErrorIs(t, err, context.Canceled)

	assert.Error(t, New(DefaultOptions()).Render(context.Background(), l5composite.RenderInputs{}))
}

func TestParseBlendPolicy(t *testing.T) {
	p, err := ParseBlendPolicy("weighted")
	require.NoError(t, err)
	assert.Equal(t, Weighted, p)
	p, err = ParseBlendPolicy("")
	require.NoError(t, err)
	assert.Equal(t, NearestCamera, p)
	_, err = ParseBlendPolicy("max")
	assert.Error(t, err)
}
