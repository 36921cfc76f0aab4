package l1packets

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/surroundview/internal/svm/l2frames"
)

// frame body prefix: width u16, height u16, point count u32
const framePrefixSize = 8

// FrameBodySize is the encoded size of a frame body.
func FrameBodySize(width, height, points int) int {
	perCamera := width*height*4*2 + width*height*4
	return framePrefixSize + points*12 + l2frames.NumCameras*perCamera
}

// EncodeFrame serialises the frame body: the prefix, the LIDAR points as
// float32 triples, then for each camera the RGBA image, the RGBA
// segmentation display and the int32 labels. A missing segmentation display
// is sent as zeros.
func EncodeFrame(f *l2frames.SensorFrame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	w, h := f.Size()
	if w > 0xFFFF || h > 0xFFFF || uint64(len(f.Points)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: frame %dx%d with %d points does not fit the wire format",
			l2frames.ErrInvalidFrame, w, h, len(f.Points))
	}

	b := make([]byte, FrameBodySize(w, h, len(f.Points)))
	be := binary.BigEndian
	be.PutUint16(b[0:], uint16(w))
	be.PutUint16(b[2:], uint16(h))
	be.PutUint32(b[4:], uint32(len(f.Points)))
	off := framePrefixSize
	for _, p := range f.Points {
		be.PutUint32(b[off:], math.Float32bits(float32(p.X)))
		be.PutUint32(b[off+4:], math.Float32bits(float32(p.Y)))
		be.PutUint32(b[off+8:], math.Float32bits(float32(p.Z)))
		off += 12
	}
	imgBytes := w * h * 4
	for i := 0; i < l2frames.NumCameras; i++ {
		off += copy(b[off:off+imgBytes], f.Images[i].Pix)
		if f.SegDisplay[i].Pix != nil {
			copy(b[off:off+imgBytes], f.SegDisplay[i].Pix)
		}
		off += imgBytes
		for _, l := range f.Segments[i].Labels {
			be.PutUint32(b[off:], uint32(l))
			off += 4
		}
	}
	return b, nil
}

// DecodeFrame parses a frame body. The body length must match the sizes it
// declares exactly.
func DecodeFrame(b []byte) (*l2frames.SensorFrame, error) {
	if len(b) < framePrefixSize {
		return nil, fmt.Errorf("%w: frame body of %d bytes", ErrBadPacket, len(b))
	}
	be := binary.BigEndian
	w := int(be.Uint16(b[0:]))
	h := int(be.Uint16(b[2:]))
	n := int(be.Uint32(b[4:]))
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: frame size %dx%d", ErrBadPacket, w, h)
	}
	if want := FrameBodySize(w, h, n); len(b) != want {
		return nil, fmt.Errorf("%w: frame body is %d bytes, header implies %d", ErrBadPacket, len(b), want)
	}

	f := &l2frames.SensorFrame{Points: make([]r3.Vector, n)}
	off := framePrefixSize
	for i := range f.Points {
		f.Points[i] = r3.Vector{
			X: float64(math.Float32frombits(be.Uint32(b[off:]))),
			Y: float64(math.Float32frombits(be.Uint32(b[off+4:]))),
			Z: float64(math.Float32frombits(be.Uint32(b[off+8:]))),
		}
		off += 12
	}
	imgBytes := w * h * 4
	for i := 0; i < l2frames.NumCameras; i++ {
		f.Images[i] = l2frames.Image{Width: w, Height: h, Pix: append([]byte(nil), b[off:off+imgBytes]...)}
		off += imgBytes
		f.SegDisplay[i] = l2frames.Image{Width: w, Height: h, Pix: append([]byte(nil), b[off:off+imgBytes]...)}
		off += imgBytes
		labels := make([]int32, w*h)
		for j := range labels {
			labels[j] = int32(be.Uint32(b[off:]))
			off += 4
		}
		f.Segments[i] = l2frames.SegMap{Width: w, Height: h, Labels: labels}
	}
	return f, nil
}
