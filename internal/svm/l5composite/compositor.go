package l5composite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/banshee-data/surroundview/internal/config"
	"github.com/banshee-data/surroundview/internal/monitoring"
	"github.com/banshee-data/surroundview/internal/svm/l2frames"
	"github.com/banshee-data/surroundview/internal/svm/l3calib"
	"github.com/banshee-data/surroundview/internal/svm/l4depth"
)

var (
	// ErrNotCalibrated is returned when a frame arrives before any metadata
	// has produced a calibration.
	ErrNotCalibrated = errors.New("compositor not calibrated")
	// ErrFrameGeometry is returned when a frame's images do not match the
	// calibrated image size.
	ErrFrameGeometry = errors.New("frame geometry does not match calibration")
)

// ROILabel is the segmentation label that marks the densification region.
const ROILabel int32 = 1

var logf = monitoring.Prefixed("svm")

// State is the compositor lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateCalibrated
)

func (s State) String() string {
	if s == StateCalibrated {
		return "calibrated"
	}
	return "uninitialized"
}

// Options configure a Compositor.
type Options struct {
	NearClip       float64
	FarClip        float64
	CameraRise     float64
	ParkedDistance float64
	Densify        bool
	Densifier      *l4depth.Densifier
	Fallback       l4depth.Fallback
}

// OptionsFromConfig maps tuning values onto compositor options.
func OptionsFromConfig(cfg *config.TuningConfig) (Options, error) {
	fallback, err := l4depth.ParseFallback(cfg.GetDepthFallback())
	if err != nil {
		return Options{}, err
	}
	return Options{
		NearClip:       cfg.GetNearClip(),
		FarClip:        cfg.GetFarClip(),
		CameraRise:     cfg.GetCameraRise(),
		ParkedDistance: cfg.GetParkedDistance(),
		Densify:        cfg.GetDensifyEnabled(),
		Densifier:      l4depth.NewDensifier(cfg.GetDensifyMaxIterations(), cfg.GetDensifyTolerance()),
		Fallback:       fallback,
	}, nil
}

// CalibrationRecorder persists calibration events and returns an identifier
// that is stamped on subsequent frame reports.
type CalibrationRecorder interface {
	RecordCalibration(meta *l2frames.Metadata, rig *l3calib.Rig) (string, error)
}

// FrameReport summarises one ApplyFrame call.
type FrameReport struct {
	Seq             uint64                               `json:"seq"`
	CalibrationID   string                               `json:"calibration_id,omitempty"`
	Calibrated      bool                                 `json:"calibrated_this_frame"`
	ReceivedAt      time.Time                            `json:"received_at"`
	AppliedAt       time.Time                            `json:"applied_at"`
	Points          int                                  `json:"points"`
	Truncated       int                                  `json:"truncated"`
	Generation      uint64                               `json:"generation"`
	DepthOutcomes   [l2frames.NumCameras]l4depth.Outcome `json:"depth_outcomes"`
	DepthCoverage   [l2frames.NumCameras]int             `json:"depth_coverage"`
	DensifyDuration time.Duration                        `json:"densify_ns"`
}

// RenderInputs is everything a renderer consumes for one frame.
type RenderInputs struct {
	Intrinsics      l3calib.Intrinsics
	ViewProjections [l2frames.NumCameras]l3calib.Matrix4
	Positions       [l2frames.NumCameras]mgl64.Vec3
	Forward         [l2frames.NumCameras]mgl64.Vec3
	Images          *ImageLayers
	Segments        *SegmentLayers
	Points          *PointCloudBuffer
	Generation      uint64
}

// Renderer turns render inputs into pixels. The GPU path lives outside this
// module; softrender provides a CPU reference.
type Renderer interface {
	Render(ctx context.Context, in RenderInputs) error
}

// Compositor is the explicit render-state instance owned by the render loop.
type Compositor struct {
	opts Options

	state         State
	meta          *l2frames.Metadata
	rig           *l3calib.Rig
	calibrationID string
	recorder      CalibrationRecorder

	images   TextureArray
	segments IntTextureArray
	points   *PointCloudBuffer
	depth    *l4depth.Stage
}

// New returns an uncalibrated compositor.
func New(opts Options) *Compositor {
	if opts.Densifier == nil {
		opts.Densifier = l4depth.NewDensifier(0, 0)
	}
	return &Compositor{
		opts:  opts,
		depth: l4depth.NewStage(opts.Densifier, opts.Fallback),
	}
}

// SetRecorder installs an optional calibration recorder.
func (c *Compositor) SetRecorder(r CalibrationRecorder) { c.recorder = r }

// State reports whether calibration has happened.
func (c *Compositor) State() State { return c.state }

// Rig returns the calibrated rig, or nil.
func (c *Compositor) Rig() *l3calib.Rig { return c.rig }

// Metadata returns the metadata calibration was derived from, or nil.
func (c *Compositor) Metadata() *l2frames.Metadata { return c.meta }

// CalibrationID is the recorder's identifier for the current calibration.
func (c *Compositor) CalibrationID() string { return c.calibrationID }

// Points returns the point buffer, or nil before calibration.
func (c *Compositor) Points() *PointCloudBuffer { return c.points }

// DepthField returns the latest depth field for cam, or nil.
func (c *Compositor) DepthField(cam l2frames.CameraIndex) *l2frames.Grid {
	if cam < 0 || int(cam) >= l2frames.NumCameras {
		return nil
	}
	return c.depth.Field(cam)
}

// ensureCalibrated runs calibration once. A failed attempt leaves the
// compositor uninitialized so a later frame with metadata can retry.
func (c *Compositor) ensureCalibrated(meta *l2frames.Metadata) (bool, error) {
	if c.state == StateCalibrated {
		return false, nil
	}
	if meta == nil {
		return false, ErrNotCalibrated
	}
	rig, err := l3calib.Calibrate(meta, c.opts.NearClip, c.opts.FarClip, c.opts.CameraRise)
	if err != nil {
		return false, fmt.Errorf("calibrate: %w", err)
	}

	c.meta = meta
	c.rig = rig
	c.points = NewPointCloudBuffer(meta.PointCapacity(), c.opts.ParkedDistance)
	c.state = StateCalibrated

	if c.recorder != nil {
		id, err := c.recorder.RecordCalibration(meta, rig)
		if err != nil {
			logf("record calibration: %v", err)
		} else {
			c.calibrationID = id
		}
	}
	logf("calibrated %dx%d fov=%.1f point capacity=%d", meta.ImageWidth, meta.ImageHeight,
		meta.HorizontalFOVDeg, c.points.Cap())
	return true, nil
}

// ApplyFrame folds one sensor frame into the render state: calibrate on the
// first usable metadata, densify per-camera depth, replace both texture
// arrays and refresh the point buffer.
func (c *Compositor) ApplyFrame(frame *l2frames.SensorFrame) (FrameReport, error) {
	if frame == nil {
		return FrameReport{}, fmt.Errorf("%w: nil frame", l2frames.ErrInvalidFrame)
	}
	report := FrameReport{Seq: frame.Seq, ReceivedAt: frame.ReceivedAt}

	calibrated, err := c.ensureCalibrated(frame.Metadata)
	if err != nil {
		return report, err
	}
	report.Calibrated = calibrated
	report.CalibrationID = c.calibrationID

	if err := frame.Validate(); err != nil {
		return report, err
	}
	w, h := frame.Size()
	if w != c.meta.ImageWidth || h != c.meta.ImageHeight {
		return report, fmt.Errorf("%w: frame is %dx%d, calibrated for %dx%d",
			ErrFrameGeometry, w, h, c.meta.ImageWidth, c.meta.ImageHeight)
	}

	if c.opts.Densify {
		start := time.Now()
		for i := 0; i < l2frames.NumCameras; i++ {
			cam := l2frames.CameraIndex(i)
			sparse := l4depth.ProjectSparseDepth(frame.Points, c.rig.ViewProjections[i], w, h)
			mask := l2frames.MaskFromSegments(frame.Segments[i], ROILabel)
			report.DepthCoverage[i] = l4depth.Coverage(sparse)
			outcome, err := c.depth.Run(cam, sparse, mask)
			report.DepthOutcomes[i] = outcome
			if err != nil {
				logf("frame %d: %s depth: %v (using %s)", frame.Seq, cam, err, outcome)
			}
		}
		report.DensifyDuration = time.Since(start)
	} else {
		for i := range report.DepthOutcomes {
			report.DepthOutcomes[i] = l4depth.OutcomeSkipped
		}
	}

	gen, err := c.images.Replace(frame.Images)
	if err != nil {
		return report, err
	}
	if _, err := c.segments.Replace(frame.Segments); err != nil {
		return report, err
	}
	report.Generation = gen

	report.Points = c.points.Update(frame.Points)
	report.Truncated = c.points.Truncated()
	if report.Truncated > 0 {
		logf("frame %d: %d points beyond buffer capacity %d", frame.Seq, report.Truncated, c.points.Cap())
	}
	report.AppliedAt = time.Now()
	return report, nil
}

// Inputs exposes the render inputs. ok is false until a frame has been
// applied after calibration.
func (c *Compositor) Inputs() (RenderInputs, bool) {
	images := c.images.Current()
	if c.state != StateCalibrated || images == nil {
		return RenderInputs{}, false
	}
	return RenderInputs{
		Intrinsics:      c.rig.Intrinsics,
		ViewProjections: c.rig.ViewProjections,
		Positions:       c.rig.Positions,
		Forward:         c.rig.Forward,
		Images:          images,
		Segments:        c.segments.Current(),
		Points:          c.points,
		Generation:      images.Generation,
	}, true
}
