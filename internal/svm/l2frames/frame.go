package l2frames

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang/geo/r3"
)

// NumCameras is the number of cameras in the surround rig.
const NumCameras = 4

// ErrInvalidFrame is returned when a frame or its metadata is malformed.
var ErrInvalidFrame = errors.New("invalid sensor frame")

// CameraIndex identifies a camera position on the vehicle.
type CameraIndex int

const (
	CameraFront CameraIndex = iota
	CameraRight
	CameraBack
	CameraLeft
)

var cameraNames = [NumCameras]string{"front", "right", "back", "left"}

func (c CameraIndex) String() string {
	if c < 0 || int(c) >= NumCameras {
		return fmt.Sprintf("camera(%d)", int(c))
	}
	return cameraNames[c]
}

// AzimuthDeg is the fixed heading of the camera, clockwise from +Y (vehicle
// forward) seen from above.
func (c CameraIndex) AzimuthDeg() float64 {
	switch c {
	case CameraRight:
		return 90
	case CameraBack:
		return 180
	case CameraLeft:
		return -90
	default:
		return 0
	}
}

// CameraMount is the fixed placement of one camera in the vehicle frame
// (X=right, Y=forward, Z=up).
type CameraMount struct {
	Index    CameraIndex
	Offset   r3.Vector
	YawDeg   float64 // extra heading, clockwise seen from above
	PitchDeg float64 // positive tilts the optical axis toward the ground
}

// Metadata is the one-time sensor description that drives calibration.
type Metadata struct {
	NumLidars        int
	LidarResolution  int
	LidarChannels    int
	ImageWidth       int
	ImageHeight      int
	HorizontalFOVDeg float64
	Mounts           [NumCameras]CameraMount
}

// PointCapacity is the fixed point-buffer size implied by the LIDAR layout.
func (m *Metadata) PointCapacity() int {
	if m.NumLidars <= 0 || m.LidarChannels <= 0 || m.LidarResolution <= 0 {
		return 0
	}
	return m.NumLidars * m.LidarChannels * m.LidarResolution
}

// Image is an 8-bit RGBA image stored row-major.
type Image struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewImage allocates a zeroed RGBA image.
func NewImage(width, height int) Image {
	return Image{Width: width, Height: height, Pix: make([]uint8, width*height*4)}
}

// RGBA returns the pixel at (x, y).
func (im Image) RGBA(x, y int) (r, g, b, a uint8) {
	i := (y*im.Width + x) * 4
	return im.Pix[i], im.Pix[i+1], im.Pix[i+2], im.Pix[i+3]
}

// SetRGBA writes the pixel at (x, y).
func (im Image) SetRGBA(x, y int, r, g, b, a uint8) {
	i := (y*im.Width + x) * 4
	im.Pix[i], im.Pix[i+1], im.Pix[i+2], im.Pix[i+3] = r, g, b, a
}

func (im Image) check() error {
	if im.Width <= 0 || im.Height <= 0 {
		return fmt.Errorf("image size %dx%d", im.Width, im.Height)
	}
	if len(im.Pix) != im.Width*im.Height*4 {
		return fmt.Errorf("image has %d bytes, want %d", len(im.Pix), im.Width*im.Height*4)
	}
	return nil
}

// SegMap holds raw integer segmentation labels, one per pixel.
type SegMap struct {
	Width  int
	Height int
	Labels []int32
}

// NewSegMap allocates a segmentation map filled with label.
func NewSegMap(width, height int, label int32) SegMap {
	labels := make([]int32, width*height)
	if label != 0 {
		for i := range labels {
			labels[i] = label
		}
	}
	return SegMap{Width: width, Height: height, Labels: labels}
}

func (s SegMap) check() error {
	if len(s.Labels) != s.Width*s.Height {
		return fmt.Errorf("segment map has %d labels, want %d", len(s.Labels), s.Width*s.Height)
	}
	return nil
}

// SensorFrame is one atomic unit from the sensor feed. It is immutable once
// constructed; ownership passes to the consumer when it is dequeued.
type SensorFrame struct {
	Seq        uint64
	ReceivedAt time.Time
	// Metadata is attached by the feed. Frames that arrive before any
	// metadata carry nil.
	Metadata   *Metadata
	Images     [NumCameras]Image
	SegDisplay [NumCameras]Image
	Segments   [NumCameras]SegMap
	Points     []r3.Vector
}

// Size returns the shared image dimensions of the frame.
func (f *SensorFrame) Size() (width, height int) {
	return f.Images[0].Width, f.Images[0].Height
}

// Validate checks that the frame carries four equally sized images and four
// matching segmentation maps. SegDisplay is optional but must match when set.
func (f *SensorFrame) Validate() error {
	w, h := f.Size()
	for i := 0; i < NumCameras; i++ {
		cam := CameraIndex(i)
		if err := f.Images[i].check(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidFrame, cam, err)
		}
		if f.Images[i].Width != w || f.Images[i].Height != h {
			return fmt.Errorf("%w: %s image is %dx%d, want %dx%d", ErrInvalidFrame, cam,
				f.Images[i].Width, f.Images[i].Height, w, h)
		}
		seg := f.Segments[i]
		if seg.Width != w || seg.Height != h {
			return fmt.Errorf("%w: %s segment map is %dx%d, want %dx%d", ErrInvalidFrame, cam,
				seg.Width, seg.Height, w, h)
		}
		if err := seg.check(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidFrame, cam, err)
		}
		if disp := f.SegDisplay[i]; disp.Pix != nil {
			if disp.Width != w || disp.Height != h || disp.check() != nil {
				return fmt.Errorf("%w: %s segmentation display does not match image", ErrInvalidFrame, cam)
			}
		}
	}
	return nil
}
