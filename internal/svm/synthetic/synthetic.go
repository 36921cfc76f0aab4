// Package synthetic generates sensor metadata and frames for tests, demos
// and the gen-sensorfeed tool.
package synthetic

import (
	"math"
	"math/rand"
	"time"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/surroundview/internal/svm/l2frames"
)

// RigSpec describes a symmetric four-camera ring.
type RigSpec struct {
	Radius     float64 // horizontal distance of each camera from the vehicle origin
	MountZ     float64
	PitchDeg   float64
	FOVDeg     float64
	Width      int
	Height     int
	NumLidars  int
	Channels   int
	Resolution int
}

// DefaultRigSpec is a small 64×64 rig with a 60 degree field of view.
func DefaultRigSpec() RigSpec {
	return RigSpec{
		Radius:     300,
		MountZ:     0,
		PitchDeg:   30,
		FOVDeg:     60,
		Width:      64,
		Height:     64,
		NumLidars:  1,
		Channels:   16,
		Resolution: 64,
	}
}

// Metadata places the cameras at 90 degree increments: front (0,R),
// right (R,0), back (0,-R) and left (-R,0).
func (s RigSpec) Metadata() *l2frames.Metadata {
	offsets := [l2frames.NumCameras]r3.Vector{
		{X: 0, Y: s.Radius, Z: s.MountZ},
		{X: s.Radius, Y: 0, Z: s.MountZ},
		{X: 0, Y: -s.Radius, Z: s.MountZ},
		{X: -s.Radius, Y: 0, Z: s.MountZ},
	}
	meta := &l2frames.Metadata{
		NumLidars:        s.NumLidars,
		LidarResolution:  s.Resolution,
		LidarChannels:    s.Channels,
		ImageWidth:       s.Width,
		ImageHeight:      s.Height,
		HorizontalFOVDeg: s.FOVDeg,
	}
	for i := range meta.Mounts {
		meta.Mounts[i] = l2frames.CameraMount{
			Index:    l2frames.CameraIndex(i),
			Offset:   offsets[i],
			PitchDeg: s.PitchDeg,
		}
	}
	return meta
}

// CameraColor is the base colour painted into each synthetic camera image.
func CameraColor(cam l2frames.CameraIndex) (r, g, b uint8) {
	switch cam {
	case l2frames.CameraFront:
		return 220, 40, 40
	case l2frames.CameraRight:
		return 40, 200, 60
	case l2frames.CameraBack:
		return 40, 80, 220
	default:
		return 230, 200, 40
	}
}

// Generator produces a deterministic stream of frames.
type Generator struct {
	Spec  RigSpec
	Label int32 // segmentation label written everywhere
	Meta  *l2frames.Metadata

	seq uint64
	rng *rand.Rand
}

// NewGenerator returns a generator seeded with seed. Segmentation defaults to
// label 1 everywhere.
func NewGenerator(spec RigSpec, seed int64) *Generator {
	return &Generator{
		Spec:  spec,
		Label: 1,
		Meta:  spec.Metadata(),
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// Next builds the next frame. Images are the camera colour with a dark
// checker pattern whose phase follows the sequence number; points form a
// slowly rotating ring around the vehicle.
func (g *Generator) Next(withMetadata bool) *l2frames.SensorFrame {
	g.seq++
	f := &l2frames.SensorFrame{Seq: g.seq, ReceivedAt: time.Now()}
	if withMetadata {
		f.Metadata = g.Meta
	}
	w, h := g.Spec.Width, g.Spec.Height
	for i := 0; i < l2frames.NumCameras; i++ {
		cam := l2frames.CameraIndex(i)
		f.Images[i] = CheckerImage(w, h, cam, int(g.seq))
		f.SegDisplay[i] = l2frames.NewImage(w, h)
		f.Segments[i] = l2frames.NewSegMap(w, h, g.Label)
	}
	n := g.Meta.PointCapacity() / 2
	phase := float64(g.seq) * 0.05
	f.Points = LidarRing(n, g.Spec.Radius*2, 0, phase)
	for i := range f.Points {
		f.Points[i].Z += g.rng.Float64() * 5
	}
	return f
}

// CheckerImage is a w×h image of the camera colour with 8-pixel dark squares.
func CheckerImage(w, h int, cam l2frames.CameraIndex, phase int) l2frames.Image {
	im := l2frames.NewImage(w, h)
	r, gr, b := CameraColor(cam)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if ((x+phase)/8+y/8)%2 == 0 {
				im.SetRGBA(x, y, r, gr, b, 255)
			} else {
				im.SetRGBA(x, y, r/2, gr/2, b/2, 255)
			}
		}
	}
	return im
}

// LidarRing places n points evenly on a horizontal circle.
func LidarRing(n int, radius, z, phase float64) []r3.Vector {
	pts := make([]r3.Vector, n)
	for i := range pts {
		a := phase + 2*math.Pi*float64(i)/float64(n)
		pts[i] = r3.Vector{X: radius * math.Sin(a), Y: radius * math.Cos(a), Z: z}
	}
	return pts
}
