// Package softrender is a CPU reference renderer. It projects a ground plane
// through each camera's view-projection, samples the camera texture array
// and writes a top-down composite. It exists for tests, headless operation
// and debug snapshots; the production renderer is GPU based.
package softrender

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/go-gl/mathgl/mgl64"

	"github.com/banshee-data/surroundview/internal/svm/l2frames"
	"github.com/banshee-data/surroundview/internal/svm/l3calib"
	"github.com/banshee-data/surroundview/internal/svm/l5composite"
)

// BlendPolicy decides how overlapping cameras combine.
type BlendPolicy int

const (
	// NearestCamera takes the camera whose mount is closest to the ground
	// point.
	NearestCamera BlendPolicy = iota
	// Weighted mixes every camera that sees the point, favouring pixels near
	// each image centre.
	Weighted
)

// ParseBlendPolicy maps "nearest" or "weighted" to a policy.
func ParseBlendPolicy(s string) (BlendPolicy, error) {
	switch s {
	case "", "nearest":
		return NearestCamera, nil
	case "weighted":
		return Weighted, nil
	}
	return NearestCamera, fmt.Errorf("unknown blend policy %q", s)
}

// Options configure a Renderer.
type Options struct {
	Size       int     // output is Size×Size pixels
	HalfExtent float64 // ground square spans [-HalfExtent, HalfExtent] on X and Y
	PlaneZ     float64
	Blend      BlendPolicy
	DrawPoints bool
}

// DefaultOptions renders 256×256 pixels over a 30 m square.
func DefaultOptions() Options {
	return Options{Size: 256, HalfExtent: 1500, Blend: NearestCamera, DrawPoints: true}
}

// Renderer implements l5composite.Renderer on the CPU.
type Renderer struct {
	opts Options

	mu     sync.Mutex
	last   *image.NRGBA
	frames uint64
}

// New returns a renderer with opts; zero sizes fall back to DefaultOptions.
func New(opts Options) *Renderer {
	def := DefaultOptions()
	if opts.Size <= 0 {
		opts.Size = def.Size
	}
	if opts.HalfExtent <= 0 {
		opts.HalfExtent = def.HalfExtent
	}
	return &Renderer{opts: opts}
}

var _ l5composite.Renderer = (*Renderer)(nil)

// Render composites one frame. It checks ctx between rows.
func (r *Renderer) Render(ctx context.Context, in l5composite.RenderInputs) error {
	if in.Images == nil {
		return fmt.Errorf("render: no camera images")
	}
	size := r.opts.Size
	out := image.NewNRGBA(image.Rect(0, 0, size, size))
	step := 2 * r.opts.HalfExtent / float64(size)

	for y := 0; y < size; y++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		wy := r.opts.HalfExtent - (float64(y)+0.5)*step
		for x := 0; x < size; x++ {
			wx := -r.opts.HalfExtent + (float64(x)+0.5)*step
			c, ok := r.shade(in, mgl64.Vec3{wx, wy, r.opts.PlaneZ})
			if ok {
				out.SetNRGBA(x, y, c)
			}
		}
	}

	if r.opts.DrawPoints && in.Points != nil {
		r.drawPoints(out, in.Points)
	}

	r.mu.Lock()
	r.last = out
	r.frames++
	r.mu.Unlock()
	return nil
}

type sample struct {
	c      color.NRGBA
	weight float64
	dist   float64
}

func (r *Renderer) shade(in l5composite.RenderInputs, p mgl64.Vec3) (color.NRGBA, bool) {
	var best sample
	var haveBest bool
	var sr, sg, sb, sw float64

	for cam := 0; cam < l2frames.NumCameras; cam++ {
		ndc, ok := l3calib.ToNDC(l3calib.TransformPoint(in.ViewProjections[cam], p))
		if !ok || math.Abs(ndc[0]) > 1 || math.Abs(ndc[1]) > 1 || ndc[2] < 0 || ndc[2] > 1 {
			continue
		}
		layer := in.Images.Layers[cam]
		u := int((ndc[0] + 1) / 2 * float64(layer.Width))
		v := int((1 - ndc[1]) / 2 * float64(layer.Height))
		u = min(max(u, 0), layer.Width-1)
		v = min(max(v, 0), layer.Height-1)
		cr, cg, cb, _ := layer.RGBA(u, v)
		s := sample{
			c:      color.NRGBA{cr, cg, cb, 255},
			weight: (1 - math.Abs(ndc[0])) * (1 - math.Abs(ndc[1])),
			dist:   in.Positions[cam].Sub(p).Vec2().Len(),
		}

		switch r.opts.Blend {
		case Weighted:
			sr += float64(cr) * s.weight
			sg += float64(cg) * s.weight
			sb += float64(cb) * s.weight
			sw += s.weight
		default:
			if !haveBest || s.dist < best.dist {
				best, haveBest = s, true
			}
		}
	}

	if r.opts.Blend == Weighted {
		if sw <= 0 {
			return color.NRGBA{}, false
		}
		return color.NRGBA{uint8(sr / sw), uint8(sg / sw), uint8(sb / sw), 255}, true
	}
	return best.c, haveBest
}

func (r *Renderer) drawPoints(out *image.NRGBA, points *l5composite.PointCloudBuffer) {
	size := float64(r.opts.Size)
	ext := r.opts.HalfExtent
	for i := 0; i < points.Active(); i++ {
		c := points.Colors[i]
		if c[3] == 0 {
			continue
		}
		p := points.Positions[i]
		x := int((float64(p[0]) + ext) / (2 * ext) * size)
		y := int((ext - float64(p[1])) / (2 * ext) * size)
		if x < 0 || y < 0 || x >= r.opts.Size || y >= r.opts.Size {
			continue
		}
		out.SetNRGBA(x, y, color.NRGBA{uint8(c[0] * 255), uint8(c[1] * 255), uint8(c[2] * 255), uint8(c[3] * 255)})
	}
}

// Last returns the most recent composite, or nil.
func (r *Renderer) Last() *image.NRGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Frames is the number of completed renders.
func (r *Renderer) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Thumbnail returns the last composite scaled to fit within bound×bound.
func (r *Renderer) Thumbnail(bound int) image.Image {
	last := r.Last()
	if last == nil {
		return nil
	}
	return imaging.Fit(last, bound, bound, imaging.Lanczos)
}

// Snapshot writes the last composite to path; the format follows the
// extension.
func (r *Renderer) Snapshot(path string) error {
	last := r.Last()
	if last == nil {
		return fmt.Errorf("snapshot: nothing rendered yet")
	}
	return imaging.Save(last, path)
}
