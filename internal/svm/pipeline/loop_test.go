package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/surroundview/internal/config"
	"github.com/banshee-data/surroundview/internal/monitoring"
	"github.com/banshee-data/surroundview/internal/svm/l2frames"
	"github.com/banshee-data/surroundview/internal/svm/l5composite"
	"github.com/banshee-data/surroundview/internal/svm/synthetic"
	"github.com/banshee-data/surroundview/internal/timeutil"
)

type countingRenderer struct {
	mu    sync.Mutex
	calls int
	err   error
	gens  []uint64
}

func (r *countingRenderer) Render(_ context.Context, in l5composite.RenderInputs) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.gens = append(r.gens, in.Generation)
	return r.err
}

type reportCollector struct {
	mu      sync.Mutex
	reports []l5composite.FrameReport
}

func (c *reportCollector) RecordFrame(_ context.Context, r l5composite.FrameReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
	return nil
}

func newRuntime(t *testing.T) *SensorRuntime {
	t.Helper()
	monitoring.SetLogger(nil)
	cfg := config.DefaultTuningConfig()
	rt, err := NewSensorRuntime("test", cfg)
	require.NoError(t, err)
	return rt
}

func TestLoopTick(t *testing.T) {
	rt := newRuntime(t)
	renderer := &countingRenderer{}
	reports := &reportCollector{}
	var states []l5composite.State
	loop := NewLoop(rt, renderer, time.Millisecond)
	loop.Reports = reports
	loop.OnStateChange = func(s l5composite.State) { states = append(states, s) }

	ctx := context.Background()

	// empty queue: nothing applied, nothing rendered
	assert.False(t, loop.Tick(ctx))
	assert.Zero(t, renderer.calls)

	gen := synthetic.NewGenerator(synthetic.DefaultRigSpec(), 2)
	require.NoError(t, rt.Queue.Put(ctx, gen.Next(false))) // before metadata
	require.NoError(t, rt.Queue.Put(ctx, gen.Next(true)))
	require.NoError(t, rt.Queue.Put(ctx, gen.Next(false)))

	assert.False(t, loop.Tick(ctx))
	assert.True(t, loop.Tick(ctx))
	assert.True(t, loop.Tick(ctx))

	st := loop.Snapshot()
	assert.Equal(t, "calibrated", st.State)
	assert.Equal(t, uint64(4), st.Ticks)
	assert.Equal(t, uint64(2), st.FramesApplied)
	assert.Equal(t, uint64(1), st.FramesRejected)
	assert.Contains(t, st.LastError, "not calibrated")
	assert.Equal(t, uint64(2), st.Renders)
	assert.Equal(t, 64, st.ImageWidth)
	require.NotNil(t, st.LastReport)
	assert.Equal(t, uint64(3), st.LastReport.Seq)
	assert.Equal(t, uint64(3), st.Queue.Dequeued)

	assert.Equal(t, []uint64{1, 2}, renderer.gens)
	assert.Len(t, reports.reports, 2)
	assert.Equal(t, []l5composite.State{l5composite.StateCalibrated}, states)
	assert.Len(t, loop.Timings(), 2)
	assert.NotNil(t, loop.DepthField(l2frames.CameraFront))
	assert.Nil(t, loop.DepthField(-1))

	// ticks without a new frame do not re-render the same generation
	assert.False(t, loop.Tick(ctx))
	assert.False(t, loop.Tick(ctx))
	assert.Equal(t, uint64(2), loop.Snapshot().Renders)
	assert.Equal(t, 2, renderer.calls)

	require.NoError(t, rt.Queue.Put(ctx, gen.Next(false)))
	assert.True(t, loop.Tick(ctx))
	assert.Equal(t, []uint64{1, 2, 3}, renderer.gens)
}

func TestLoopRenderErrorsDoNotStopTheLoop(t *testing.T) {
	rt := newRuntime(t)
	renderer := &countingRenderer{err: errors.New("gpu lost")}
	loop := NewLoop(rt, renderer, time.Millisecond)
	ctx := context.Background()

	gen := synthetic.NewGenerator(synthetic.DefaultRigSpec(), 2)
	require.NoError(t, rt.Queue.Put(ctx, gen.Next(true)))
	loop.Tick(ctx)
	loop.Tick(ctx)

	st := loop.Snapshot()
	assert.Equal(t, uint64(2), st.RenderErrors)
	assert.Equal(t, "gpu lost", st.LastError)
	assert.Equal(t, uint64(1), st.FramesApplied)

	// a failed generation is retried until it renders
	renderer.err = nil
	loop.Tick(ctx)
	loop.Tick(ctx)
	assert.Equal(t, uint64(1), loop.Snapshot().Renders)
	assert.Equal(t, []uint64{1, 1, 1}, renderer.gens)
}

func TestLoopRunDrainsQueue(t *testing.T) {
	rt := newRuntime(t)
	loop := NewLoop(rt, nil, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	gen := synthetic.NewGenerator(synthetic.DefaultRigSpec(), 2)
	for i := 0; i < 12; i++ {
		require.NoError(t, rt.Queue.Put(ctx, gen.Next(i == 0)))
	}
	require.Eventually(t, func() bool { return loop.Snapshot().FramesApplied == 12 }, 10*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestLoopRunFollowsClock(t *testing.T) {
	rt := newRuntime(t)
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	loop := NewLoop(rt, nil, 10*time.Millisecond)
	loop.Clock = clock

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	require.Eventually(t, func() bool { return clock.Tickers() == 1 }, time.Second, time.Millisecond)

	gen := synthetic.NewGenerator(synthetic.DefaultRigSpec(), 4)
	require.NoError(t, rt.Queue.Put(ctx, gen.Next(true)))

	// no tick yet: nothing applied
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, loop.Snapshot().Ticks)

	clock.Advance(10 * time.Millisecond)
	require.Eventually(t, func() bool { return loop.Snapshot().FramesApplied == 1 }, time.Second, time.Millisecond)

	timings := loop.Timings()
	require.Len(t, timings, 1)
	assert.Equal(t, clock.Now(), timings[0].At)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
