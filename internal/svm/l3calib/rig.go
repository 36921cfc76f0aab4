package l3calib

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/banshee-data/surroundview/internal/svm/l2frames"
)

// Rig is the result of one calibration event: the shared projection and,
// per camera, the view and view-projection matrices plus the camera basis
// they were built from.
type Rig struct {
	Intrinsics      Intrinsics
	Projection      Matrix4
	Views           [l2frames.NumCameras]Matrix4
	ViewProjections [l2frames.NumCameras]Matrix4
	Positions       [l2frames.NumCameras]mgl64.Vec3
	Forward         [l2frames.NumCameras]mgl64.Vec3
	Up              [l2frames.NumCameras]mgl64.Vec3
}

// Solver holds the projection for one set of intrinsics and the fixed
// vertical rise applied to every mount.
type Solver struct {
	Intrinsics Intrinsics
	Projection Matrix4
	Rise       float64
}

// NewSolver validates the intrinsics and precomputes the projection.
func NewSolver(in Intrinsics, rise float64) (*Solver, error) {
	proj, err := in.Projection()
	if err != nil {
		return nil, err
	}
	return &Solver{Intrinsics: in, Projection: proj, Rise: rise}, nil
}

// ComputeViewProjection returns LookAt(position, target, up)·projection.
func (s *Solver) ComputeViewProjection(position, target, up mgl64.Vec3) (Matrix4, error) {
	view, err := LookAt(position, target, up)
	if err != nil {
		return Matrix4{}, err
	}
	return view.Mul4(s.Projection), nil
}

// CameraPose composes the world transform of one camera (column-vector
// form). The camera's local +X is its optical axis and local +Z its up. The
// order is: translate to mount offset plus rise, rotate by mount yaw, then by
// the fixed azimuth (both clockwise from +Y seen from above), then pitch the
// optical axis down by PitchDeg.
func CameraPose(mount l2frames.CameraMount, rise float64) mgl64.Mat4 {
	heading := mgl64.DegToRad(mount.YawDeg + mount.Index.AzimuthDeg())
	pitch := mgl64.DegToRad(mount.PitchDeg)

	translate := mgl64.Translate3D(mount.Offset.X, mount.Offset.Y, mount.Offset.Z+rise)
	yaw := mgl64.HomogRotate3DZ(-heading)
	// local +X faces vehicle forward (+Y) before the heading is applied
	base := mgl64.HomogRotate3DZ(math.Pi / 2)
	tilt := mgl64.HomogRotate3DY(pitch)

	return translate.Mul4(yaw).Mul4(base).Mul4(tilt)
}

// CalibrateRig derives a view-projection per mount. Mount i must describe
// camera i.
func (s *Solver) CalibrateRig(mounts [l2frames.NumCameras]l2frames.CameraMount) (*Rig, error) {
	rig := &Rig{Intrinsics: s.Intrinsics, Projection: s.Projection}
	for i, mount := range mounts {
		if int(mount.Index) != i {
			return nil, fmt.Errorf("mount %d describes %s", i, mount.Index)
		}
		pose := CameraPose(mount, s.Rise)
		position := pose.Mul4x1(mgl64.Vec4{0, 0, 0, 1}).Vec3()
		forward := pose.Mul4x1(mgl64.Vec4{1, 0, 0, 0}).Vec3()
		up := pose.Mul4x1(mgl64.Vec4{0, 0, 1, 0}).Vec3()

		view, err := LookAt(position, position.Add(forward), up)
		if err != nil {
			return nil, fmt.Errorf("%s camera: %w", mount.Index, err)
		}
		rig.Views[i] = view
		rig.ViewProjections[i] = view.Mul4(s.Projection)
		rig.Positions[i] = position
		rig.Forward[i] = forward
		rig.Up[i] = up
	}
	return rig, nil
}

// Calibrate builds intrinsics from the sensor metadata and calibrates all
// four cameras.
func Calibrate(meta *l2frames.Metadata, near, far, rise float64) (*Rig, error) {
	if meta == nil {
		return nil, fmt.Errorf("%w: no sensor metadata", ErrInvalidIntrinsics)
	}
	solver, err := NewSolver(Intrinsics{
		HorizontalFOVDeg: meta.HorizontalFOVDeg,
		Width:            meta.ImageWidth,
		Height:           meta.ImageHeight,
		Near:             near,
		Far:              far,
	}, rise)
	if err != nil {
		return nil, err
	}
	return solver.CalibrateRig(meta.Mounts)
}

// Project maps a world point into camera cam's normalized device
// coordinates. ok is false when the point is behind the camera.
func (r *Rig) Project(cam l2frames.CameraIndex, p mgl64.Vec3) (ndc mgl64.Vec3, ok bool) {
	return ToNDC(TransformPoint(r.ViewProjections[cam], p))
}
