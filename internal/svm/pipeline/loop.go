package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/surroundview/internal/monitoring"
	"github.com/banshee-data/surroundview/internal/svm/framequeue"
	"github.com/banshee-data/surroundview/internal/svm/l2frames"
	"github.com/banshee-data/surroundview/internal/svm/l5composite"
	"github.com/banshee-data/surroundview/internal/timeutil"
)

// DefaultTickInterval is roughly one 60 Hz display frame.
const DefaultTickInterval = 16 * time.Millisecond

// timingHistory is the number of per-frame timings kept for the debug chart.
const timingHistory = 240

var logf = monitoring.Prefixed("loop")

// ReportSink persists per-frame reports.
type ReportSink interface {
	RecordFrame(ctx context.Context, r l5composite.FrameReport) error
}

// Timing is one applied frame's cost breakdown.
type Timing struct {
	Seq     uint64        `json:"seq"`
	At      time.Time     `json:"at"`
	Apply   time.Duration `json:"apply_ns"`
	Densify time.Duration `json:"densify_ns"`
	Render  time.Duration `json:"render_ns"`
}

// Status is a copy of the loop's counters for observers on other
// goroutines.
type Status struct {
	State          string                   `json:"state"`
	CalibrationID  string                   `json:"calibration_id,omitempty"`
	Ticks          uint64                   `json:"ticks"`
	FramesApplied  uint64                   `json:"frames_applied"`
	FramesRejected uint64                   `json:"frames_rejected"`
	Renders        uint64                   `json:"renders"`
	RenderErrors   uint64                   `json:"render_errors"`
	LastError      string                   `json:"last_error,omitempty"`
	LastReport     *l5composite.FrameReport `json:"last_report,omitempty"`
	Queue          framequeue.Stats         `json:"queue"`
	ImageWidth     int                      `json:"image_width,omitempty"`
	ImageHeight    int                      `json:"image_height,omitempty"`
	PointCapacity  int                      `json:"point_capacity,omitempty"`
}

// Loop is the fixed-period render loop. Each tick polls the queue once,
// applies a frame if one arrived and renders when calibrated. Errors are
// logged and the loop carries on.
type Loop struct {
	Queue        *framequeue.Queue
	Compositor   *l5composite.Compositor
	Renderer     l5composite.Renderer // optional
	TickInterval time.Duration
	Reports      ReportSink     // optional
	Clock        timeutil.Clock // nil means the wall clock
	// OnStateChange is called from the loop goroutine when the compositor
	// state changes.
	OnStateChange func(l5composite.State)

	mu      sync.Mutex
	status  Status
	timings []Timing
	depth   [l2frames.NumCameras]*l2frames.Grid
	state   l5composite.State

	// generation of the last successful render; loop goroutine only
	rendered uint64
}

// NewLoop wires a loop over a runtime.
func NewLoop(rt *SensorRuntime, renderer l5composite.Renderer, tick time.Duration) *Loop {
	return &Loop{
		Queue:        rt.Queue,
		Compositor:   rt.Compositor,
		Renderer:     renderer,
		TickInterval: tick,
		Clock:        timeutil.RealClock{},
	}
}

func (l *Loop) clock() timeutil.Clock {
	if l.Clock == nil {
		return timeutil.RealClock{}
	}
	return l.Clock
}

// Run ticks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	interval := l.TickInterval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := l.clock().NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			l.Tick(ctx)
		}
	}
}

// Tick runs one update step. It reports whether a frame was applied.
func (l *Loop) Tick(ctx context.Context) bool {
	applied := false
	var timing Timing

	if frame, ok := l.Queue.Poll(); ok {
		start := time.Now()
		report, err := l.Compositor.ApplyFrame(frame)
		timing = Timing{Seq: frame.Seq, At: l.clock().Now(), Apply: time.Since(start), Densify: report.DensifyDuration}
		if err != nil {
			logf("frame %d rejected: %v", frame.Seq, err)
			l.recordError(err)
		} else {
			applied = true
			l.recordReport(report)
			if l.Reports != nil {
				if err := l.Reports.RecordFrame(ctx, report); err != nil {
					logf("record frame %d: %v", report.Seq, err)
				}
			}
		}
	}

	l.noticeState()

	if l.Renderer != nil {
		if in, ok := l.Compositor.Inputs(); ok && in.Generation != l.rendered {
			start := time.Now()
			err := l.Renderer.Render(ctx, in)
			timing.Render = time.Since(start)
			if err == nil {
				l.rendered = in.Generation
			}
			l.recordRender(err)
		}
	}

	l.mu.Lock()
	l.status.Ticks++
	if applied {
		l.timings = append(l.timings, timing)
		if len(l.timings) > timingHistory {
			l.timings = l.timings[len(l.timings)-timingHistory:]
		}
	}
	l.mu.Unlock()
	return applied
}

func (l *Loop) noticeState() {
	st := l.Compositor.State()
	l.mu.Lock()
	changed := st != l.state
	l.state = st
	l.mu.Unlock()
	if changed && l.OnStateChange != nil {
		l.OnStateChange(st)
	}
}

func (l *Loop) recordError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status.FramesRejected++
	l.status.LastError = err.Error()
}

func (l *Loop) recordReport(r l5composite.FrameReport) {
	var depth [l2frames.NumCameras]*l2frames.Grid
	for i := range depth {
		if f := l.Compositor.DepthField(l2frames.CameraIndex(i)); f != nil {
			c := f.Clone()
			depth[i] = &c
		}
	}
	meta := l.Compositor.Metadata()
	capacity := l.Compositor.Points().Cap()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.status.FramesApplied++
	l.status.LastReport = &r
	l.status.ImageWidth = meta.ImageWidth
	l.status.ImageHeight = meta.ImageHeight
	l.status.PointCapacity = capacity
	l.depth = depth
}

func (l *Loop) recordRender(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.status.RenderErrors++
		l.status.LastError = err.Error()
		logf("render: %v", err)
		return
	}
	l.status.Renders++
}

// Snapshot returns a copy of the loop status.
func (l *Loop) Snapshot() Status {
	l.mu.Lock()
	s := l.status
	s.State = l.state.String()
	l.mu.Unlock()

	s.Queue = l.Queue.Stats()
	if s.LastReport != nil {
		s.CalibrationID = s.LastReport.CalibrationID
	}
	return s
}

// Timings returns the recent per-frame timings, oldest first.
func (l *Loop) Timings() []Timing {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Timing(nil), l.timings...)
}

// DepthField returns a copy of the latest depth field for cam, or nil.
func (l *Loop) DepthField(cam l2frames.CameraIndex) *l2frames.Grid {
	if cam < 0 || int(cam) >= l2frames.NumCameras {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.depth[cam]
}
