package l5composite

import (
	"fmt"
	"sync/atomic"

	"github.com/banshee-data/surroundview/internal/svm/l2frames"
)

// ImageLayers is one immutable generation of the camera-image texture array:
// four 8-bit RGBA layers of equal size.
type ImageLayers struct {
	Width      int
	Height     int
	Layers     [l2frames.NumCameras]l2frames.Image
	Generation uint64
}

// SegmentLayers is one immutable generation of the integer segmentation
// texture array.
type SegmentLayers struct {
	Width      int
	Height     int
	Layers     [l2frames.NumCameras]l2frames.SegMap
	Generation uint64
}

// TextureArray is the camera-image texture array. Replace swaps all four
// layers in one step.
type TextureArray struct {
	cur atomic.Pointer[ImageLayers]
	gen atomic.Uint64
}

// Replace installs a new generation. All layers must share one size.
func (t *TextureArray) Replace(layers [l2frames.NumCameras]l2frames.Image) (uint64, error) {
	w, h := layers[0].Width, layers[0].Height
	for i, l := range layers {
		if l.Width != w || l.Height != h || len(l.Pix) != w*h*4 {
			return 0, fmt.Errorf("%w: image layer %d is %dx%d, want %dx%d",
				ErrFrameGeometry, i, l.Width, l.Height, w, h)
		}
	}
	next := &ImageLayers{Width: w, Height: h, Layers: layers, Generation: t.gen.Add(1)}
	t.cur.Store(next)
	return next.Generation, nil
}

// Current returns the installed generation, or nil before the first Replace.
func (t *TextureArray) Current() *ImageLayers { return t.cur.Load() }

// IntTextureArray is the segmentation texture array.
type IntTextureArray struct {
	cur atomic.Pointer[SegmentLayers]
	gen atomic.Uint64
}

// Replace installs a new generation. All layers must share one size.
func (t *IntTextureArray) Replace(layers [l2frames.NumCameras]l2frames.SegMap) (uint64, error) {
	w, h := layers[0].Width, layers[0].Height
	for i, l := range layers {
		if l.Width != w || l.Height != h || len(l.Labels) != w*h {
			return 0, fmt.Errorf("%w: segment layer %d is %dx%d, want %dx%d",
				ErrFrameGeometry, i, l.Width, l.Height, w, h)
		}
	}
	next := &SegmentLayers{Width: w, Height: h, Layers: layers, Generation: t.gen.Add(1)}
	t.cur.Store(next)
	return next.Generation, nil
}

// Current returns the installed generation, or nil before the first Replace.
func (t *IntTextureArray) Current() *SegmentLayers { return t.cur.Load() }
