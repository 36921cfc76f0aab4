package l5composite

import (
	"errors"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/surroundview/internal/config"
	"github.com/banshee-data/surroundview/internal/monitoring"
	"github.com/banshee-data/surroundview/internal/svm/l2frames"
	"github.com/banshee-data/surroundview/internal/svm/l3calib"
	"github.com/banshee-data/surroundview/internal/svm/l4depth"
	"github.com/banshee-data/surroundview/internal/svm/synthetic"
)

type recorderStub struct {
	calls int
	err   error
}

func (r *recorderStub) RecordCalibration(*l2frames.Metadata, *l3calib.Rig) (string, error) {
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return "cal_test", nil
}

func newTestCompositor(t *testing.T) *Compositor {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(t.Logf) })
	opts, err := OptionsFromConfig(config.DefaultTuningConfig())
	require.NoError(t, err)
	return New(opts)
}

func TestCompositorEndToEnd(t *testing.T) {
	c := newTestCompositor(t)
	rec := &recorderStub{}
	c.SetRecorder(rec)
	gen := synthetic.NewGenerator(synthetic.DefaultRigSpec(), 7)

	_, ok := c.Inputs()
	assert.False(t, ok)
	assert.Equal(t, StateUninitialized, c.State())

	report, err := c.ApplyFrame(gen.Next(true))
	require.NoError(t, err)
	assert.True(t, report.Calibrated)
	assert.Equal(t, "cal_test", report.CalibrationID)
	assert.Equal(t, StateCalibrated, c.State())
	assert.Equal(t, uint64(1), report.Generation)
	assert.Equal(t, 16*64/2, report.Points)

	in, ok := c.Inputs()
	require.True(t, ok)
	for i := 0; i < l2frames.NumCameras; i++ {
		for j := i + 1; j < l2frames.NumCameras; j++ {
			assert.False(t, in.ViewProjections[i].ApproxEqualThreshold(in.ViewProjections[j], 1e-9),
				"cameras %d and %d share a view-projection", i, j)
		}
		ahead := in.Positions[i].Add(in.Forward[i].Mul(500))
		ndc, visible := l3calib.ToNDC(l3calib.TransformPoint(in.ViewProjections[i], ahead))
		require.True(t, visible)
		assert.InDelta(t, 0, ndc[0], 1e-9)
		assert.InDelta(t, 0, ndc[1], 1e-9)
	}
	assert.Equal(t, 64, in.Images.Width)
	assert.Equal(t, in.Images.Generation, in.Segments.Generation)

	// later frames reuse the calibration
	report, err = c.ApplyFrame(gen.Next(true))
	require.NoError(t, err)
	assert.False(t, report.Calibrated)
	assert.Equal(t, uint64(2), report.Generation)
	assert.Equal(t, 1, rec.calls)
}

func TestCompositorDepthField(t *testing.T) {
	c := newTestCompositor(t)
	gen := synthetic.NewGenerator(synthetic.DefaultRigSpec(), 1)
	_, err := c.ApplyFrame(gen.Next(true))
	require.NoError(t, err)

	rig := c.Rig()
	target := rig.Positions[l2frames.CameraFront].Add(rig.Forward[l2frames.CameraFront].Mul(100))
	frame := gen.Next(false)
	frame.Points = []r3.Vector{{X: target[0], Y: target[1], Z: target[2]}}

	report, err := c.ApplyFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DepthCoverage[l2frames.CameraFront])
	assert.Equal(t, l4depth.OutcomeSolved, report.DepthOutcomes[l2frames.CameraFront])

	field := c.DepthField(l2frames.CameraFront)
	require.NotNil(t, field)
	// the single sample is the maximum and the rest of the ROI is filled
	lo, hi := l4depth.Range(*field)
	assert.InDelta(t, 100, hi, 1e-6)
	assert.Greater(t, lo, 0.0)
	assert.Less(t, field.At(0, 0), 100.0)

	assert.Nil(t, c.DepthField(l2frames.CameraIndex(9)))
}

func TestCompositorContainsDepthFailures(t *testing.T) {
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(t.Logf) })
	opts, err := OptionsFromConfig(config.DefaultTuningConfig())
	require.NoError(t, err)
	opts.Densifier = &l4depth.Densifier{MaxIterations: 1, Tolerance: 1e-8}
	opts.Fallback = l4depth.FallbackPrevious
	c := New(opts)

	gen := synthetic.NewGenerator(synthetic.DefaultRigSpec(), 3)
	rig, err := l3calib.Calibrate(gen.Meta, opts.NearClip, opts.FarClip, opts.CameraRise)
	require.NoError(t, err)
	target := rig.Positions[l2frames.CameraFront].Add(rig.Forward[l2frames.CameraFront].Mul(100))
	points := []r3.Vector{{X: target[0], Y: target[1], Z: target[2]}}

	apply := func(withMetadata bool) FrameReport {
		t.Helper()
		frame := gen.Next(withMetadata)
		frame.Points = points
		report, err := c.ApplyFrame(frame)
		require.NoError(t, err)
		assert.Equal(t, 1, report.DepthCoverage[l2frames.CameraFront])
		return report
	}

	// one iteration cannot converge, so the frame applies with a zero field
	report := apply(true)
	assert.Equal(t, StateCalibrated, c.State())
	assert.Equal(t, uint64(1), report.Generation)
	assert.Equal(t, l4depth.OutcomeZero, report.DepthOutcomes[l2frames.CameraFront])

	// a zero fill is not a previous solve
	report = apply(false)
	assert.Equal(t, uint64(2), report.Generation)
	assert.Equal(t, l4depth.OutcomeZero, report.DepthOutcomes[l2frames.CameraFront])
	field := c.DepthField(l2frames.CameraFront)
	require.NotNil(t, field)
	_, hi := l4depth.Range(*field)
	assert.Zero(t, hi)

	opts.Densifier.MaxIterations = 4096
	report = apply(false)
	assert.Equal(t, l4depth.OutcomeSolved, report.DepthOutcomes[l2frames.CameraFront])
	solved := c.DepthField(l2frames.CameraFront)

	opts.Densifier.MaxIterations = 1
	report = apply(false)
	assert.Equal(t, uint64(4), report.Generation)
	assert.Equal(t, l4depth.OutcomePrevious, report.DepthOutcomes[l2frames.CameraFront])
	assert.Same(t, solved, c.DepthField(l2frames.CameraFront))
}

func TestCompositorCalibrationGuards(t *testing.T) {
	t.Run("frames before metadata are rejected", func(t *testing.T) {
		c := newTestCompositor(t)
		gen := synthetic.NewGenerator(synthetic.DefaultRigSpec(), 1)
		_, err := c.ApplyFrame(gen.Next(false))
		assert.ErrorIs(t, err, ErrNotCalibrated)
		assert.Equal(t, StateUninitialized, c.State())
	})

	t.Run("bad metadata is retried on a later frame", func(t *testing.T) {
		c := newTestCompositor(t)
		spec := synthetic.DefaultRigSpec()
		gen := synthetic.NewGenerator(spec, 1)

		bad := gen.Next(true)
		badMeta := *bad.Metadata
		badMeta.HorizontalFOVDeg = 0
		bad.Metadata = &badMeta
		_, err := c.ApplyFrame(bad)
		assert.ErrorIs(t, err, l3calib.ErrInvalidIntrinsics)
		assert.Equal(t, StateUninitialized, c.State())

		_, err = c.ApplyFrame(gen.Next(true))
		require.NoError(t, err)
		assert.Equal(t, StateCalibrated, c.State())
	})

	t.Run("frame size must match calibration", func(t *testing.T) {
		c := newTestCompositor(t)
		gen := synthetic.NewGenerator(synthetic.DefaultRigSpec(), 1)
		_, err := c.ApplyFrame(gen.Next(true))
		require.NoError(t, err)

		other := synthetic.NewGenerator(synthetic.RigSpec{
			Radius: 300, FOVDeg: 60, Width: 32, Height: 32, NumLidars: 1, Channels: 1, Resolution: 1,
		}, 1)
		_, err = c.ApplyFrame(other.Next(false))
		assert.ErrorIs(t, err, ErrFrameGeometry)
	})

	t.Run("malformed frames are rejected", func(t *testing.T) {
		c := newTestCompositor(t)
		gen := synthetic.NewGenerator(synthetic.DefaultRigSpec(), 1)
		f := gen.Next(true)
		f.Segments[2] = l2frames.SegMap{}
		_, err := c.ApplyFrame(f)
		assert.ErrorIs(t, err, l2frames.ErrInvalidFrame)

		_, err = c.ApplyFrame(nil)
		assert.ErrorIs(t, err, l2frames.ErrInvalidFrame)
	})

	t.Run("recorder failure does not block calibration", func(t *testing.T) {
		c := newTestCompositor(t)
		c.SetRecorder(&recorderStub{err: errors.New("disk full")})
		gen := synthetic.NewGenerator(synthetic.DefaultRigSpec(), 1)
		report, err := c.ApplyFrame(gen.Next(true))
		require.NoError(t, err)
		assert.Empty(t, report.CalibrationID)
		assert.Equal(t, StateCalibrated, c.State())
	})
}

func TestCompositorWithoutDensify(t *testing.T) {
	c := New(Options{NearClip: 10, FarClip: 100000, CameraRise: 250})
	gen := synthetic.NewGenerator(synthetic.DefaultRigSpec(), 1)
	report, err := c.ApplyFrame(gen.Next(true))
	require.NoError(t, err)
	for _, o := range report.DepthOutcomes {
		assert.Equal(t, l4depth.OutcomeSkipped, o)
	}
	assert.Nil(t, c.DepthField(l2frames.CameraFront))
}

func TestTextureArrayReplace(t *testing.T) {
	var ta TextureArray
	assert.Nil(t, ta.Current())

	var layers [l2frames.NumCameras]l2frames.Image
	for i := range layers {
		layers[i] = l2frames.NewImage(4, 2)
	}
	gen, err := ta.Replace(layers)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)
	first := ta.Current()

	layers[3] = l2frames.NewImage(2, 2)
	_, err = ta.Replace(layers)
	assert.ErrorIs(t, err, ErrFrameGeometry)
	assert.Same(t, first, ta.Current(), "a failed replace keeps the old generation")
}

func TestViewProjectionIsRowVector(t *testing.T) {
	c := newTestCompositor(t)
	gen := synthetic.NewGenerator(synthetic.DefaultRigSpec(), 1)
	_, err := c.ApplyFrame(gen.Next(true))
	require.NoError(t, err)
	in, _ := c.Inputs()
	// the camera's own position sits on the view-space origin, so clip w is 0
	clip := l3calib.TransformPoint(in.ViewProjections[0], in.Positions[0])
	assert.InDelta(t, 0, clip[3], 1e-9)
}
