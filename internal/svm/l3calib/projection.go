package l3calib

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

var (
	// ErrInvalidIntrinsics is returned for zero/negative image dimensions,
	// far <= near, or a field of view outside (0, 180) degrees.
	ErrInvalidIntrinsics = errors.New("invalid camera intrinsics")
	// ErrDegenerateView is returned when a look-at basis cannot be formed
	// (camera on its target, or up hint parallel to the view direction).
	ErrDegenerateView = errors.New("degenerate camera view")
)

// Matrix4 is a 4x4 transform in row-vector convention.
type Matrix4 = mgl64.Mat4

// Intrinsics are shared by all four cameras.
type Intrinsics struct {
	HorizontalFOVDeg float64
	Width            int
	Height           int
	Near             float64
	Far              float64
}

// Validate reports ErrInvalidIntrinsics for unusable parameters.
func (in Intrinsics) Validate() error {
	if in.Width <= 0 || in.Height <= 0 {
		return fmt.Errorf("%w: image size %dx%d", ErrInvalidIntrinsics, in.Width, in.Height)
	}
	if err := checkClip(in.HorizontalFOVDeg, in.Near, in.Far); err != nil {
		return err
	}
	return nil
}

// Aspect is width over height.
func (in Intrinsics) Aspect() float64 {
	return float64(in.Width) / float64(in.Height)
}

// VerticalFOVDeg derives the vertical field of view from the horizontal one:
// fovY = 2·atan(tan(fovX/2)·height/width).
func (in Intrinsics) VerticalFOVDeg() float64 {
	halfX := mgl64.DegToRad(in.HorizontalFOVDeg) / 2
	return mgl64.RadToDeg(2 * math.Atan(math.Tan(halfX)*float64(in.Height)/float64(in.Width)))
}

// Projection validates the intrinsics and builds the shared projection.
func (in Intrinsics) Projection() (Matrix4, error) {
	if err := in.Validate(); err != nil {
		return Matrix4{}, err
	}
	return ComputeProjection(in.HorizontalFOVDeg, in.Aspect(), in.Near, in.Far)
}

func checkClip(fovDeg, near, far float64) error {
	if !(fovDeg > 0 && fovDeg < 180) {
		return fmt.Errorf("%w: field of view %g degrees", ErrInvalidIntrinsics, fovDeg)
	}
	if !(near > 0) || !(far > near) {
		return fmt.Errorf("%w: near %g far %g", ErrInvalidIntrinsics, near, far)
	}
	return nil
}

// ComputeProjection builds a zero-to-one depth perspective projection from a
// horizontal field of view and aspect ratio (width/height):
//
//	scaleX = 1/tan(fovX/2)
//	scaleY = 1/tan(fovY/2), fovY = 2·atan(tan(fovX/2)/aspect)
//	depth  = far/(near-far), offset -far·near/(far-near), w = -z
func ComputeProjection(fovXDeg, aspect, near, far float64) (Matrix4, error) {
	if !(aspect > 0) || math.IsInf(aspect, 0) {
		return Matrix4{}, fmt.Errorf("%w: aspect ratio %g", ErrInvalidIntrinsics, aspect)
	}
	if err := checkClip(fovXDeg, near, far); err != nil {
		return Matrix4{}, err
	}

	tanHalfX := math.Tan(mgl64.DegToRad(fovXDeg) / 2)
	fovY := 2 * math.Atan(tanHalfX/aspect)
	scaleX := 1 / tanHalfX
	scaleY := 1 / math.Tan(fovY/2)

	return mgl64.Mat4FromRows(
		mgl64.Vec4{scaleX, 0, 0, 0},
		mgl64.Vec4{0, scaleY, 0, 0},
		mgl64.Vec4{0, 0, far / (near - far), -1},
		mgl64.Vec4{0, 0, -far * near / (far - near), 0},
	), nil
}

// LookAt builds a right-handed view matrix. The basis is
// forward = normalize(position - target), right = normalize(forward × up),
// up' = right × forward, and the translation row holds the negated dot
// products of the basis with the camera position.
func LookAt(position, target, up mgl64.Vec3) (Matrix4, error) {
	forward := position.Sub(target)
	if forward.Len() < 1e-12 {
		return Matrix4{}, fmt.Errorf("%w: position equals target", ErrDegenerateView)
	}
	forward = forward.Normalize()

	right := forward.Cross(up)
	if right.Len() < 1e-12 {
		return Matrix4{}, fmt.Errorf("%w: up hint parallel to view direction", ErrDegenerateView)
	}
	right = right.Normalize()
	trueUp := right.Cross(forward)

	return mgl64.Mat4FromRows(
		mgl64.Vec4{right[0], trueUp[0], forward[0], 0},
		mgl64.Vec4{right[1], trueUp[1], forward[1], 0},
		mgl64.Vec4{right[2], trueUp[2], forward[2], 0},
		mgl64.Vec4{-right.Dot(position), -trueUp.Dot(position), -forward.Dot(position), 1},
	), nil
}

// TransformPoint multiplies the row vector (p, 1) by m.
func TransformPoint(m Matrix4, p mgl64.Vec3) mgl64.Vec4 {
	return m.Transpose().Mul4x1(p.Vec4(1))
}

// ToNDC performs the perspective divide. ok is false for points on or behind
// the camera plane (w <= 0).
func ToNDC(clip mgl64.Vec4) (ndc mgl64.Vec3, ok bool) {
	w := clip[3]
	if w <= 0 {
		return mgl64.Vec3{}, false
	}
	return mgl64.Vec3{clip[0] / w, clip[1] / w, clip[2] / w}, true
}

// Float32RowMajor flattens m row by row for GPU upload.
func Float32RowMajor(m Matrix4) [16]float32 {
	var out [16]float32
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[r*4+c] = float32(m.At(r, c))
		}
	}
	return out
}
