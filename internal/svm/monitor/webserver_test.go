package monitor

import (
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/surroundview/internal/config"
	"github.com/banshee-data/surroundview/internal/db"
	"github.com/banshee-data/surroundview/internal/monitoring"
	"github.com/banshee-data/surroundview/internal/svm/network"
	"github.com/banshee-data/surroundview/internal/svm/pipeline"
	"github.com/banshee-data/surroundview/internal/svm/softrender"
	"github.com/banshee-data/surroundview/internal/svm/synthetic"
)

type fixture struct {
	ws       *WebServer
	loop     *pipeline.Loop
	renderer *softrender.Renderer
	db       *db.DB
	rt       *pipeline.SensorRuntime
}

func newFixture(t *testing.T, withDB bool) *fixture {
	return newFixtureWithSnapshots(t, withDB, "")
}

func newFixtureWithSnapshots(t *testing.T, withDB bool, snapDir string) *fixture {
	t.Helper()
	monitoring.SetLogger(nil)

	rt, err := pipeline.NewSensorRuntime("test-feed", config.DefaultTuningConfig())
	require.NoError(t, err)

	opts := softrender.DefaultOptions()
	opts.Size = 48
	renderer := softrender.New(opts)
	loop := pipeline.NewLoop(rt, renderer, time.Millisecond)

	f := &fixture{loop: loop, renderer: renderer, rt: rt}
	cfg := WebServerConfig{
		Address:  ":0",
		FeedID:   "test-feed",
		Loop:     loop,
		Stats:    network.NewPacketStats(),
		Renderer: renderer,

		SnapshotDir: snapDir,
	}
	if withDB {
		store, err := db.NewDB(filepath.Join(t.TempDir(), "svm.db"))
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		rt.Compositor.SetRecorder(store)
		loop.Reports = store
		cfg.DB = store
		f.db = store
	}
	ws, err := NewWebServer(cfg)
	require.NoError(t, err)
	f.ws = ws
	return f
}

// feed pushes metadata then n frames through the loop.
func (f *fixture) feed(t *testing.T, n int) {
	t.Helper()
	ctx := context.Background()
	gen := synthetic.NewGenerator(synthetic.DefaultRigSpec(), 7)
	for i := 0; i < n; i++ {
		require.NoError(t, f.rt.Queue.Put(ctx, gen.Next(i == 0)))
		require.True(t, f.loop.Tick(ctx))
	}
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	return f.do(t, http.MethodGet, path)
}

func (f *fixture) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:5555"
	rec := httptest.NewRecorder()
	f.ws.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewWebServerRequiresLoop(t *testing.T) {
	_, err := NewWebServer(WebServerConfig{Address: ":0"})
	assert.Error(t, err)
}

func TestHealthAndStatusPage(t *testing.T) {
	f := newFixture(t, false)

	rec := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"service": "svm"`)

	rec = f.get(t, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test-feed")
	assert.Contains(t, rec.Body.String(), "uninitialized")

	rec = f.get(t, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusAPI(t *testing.T) {
	f := newFixture(t, false)
	f.feed(t, 3)

	rec := f.get(t, "/api/svm/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "test-feed", st.FeedID)
	assert.Equal(t, "calibrated", st.Loop.State)
	assert.Equal(t, uint64(3), st.Loop.FramesApplied)
	assert.Equal(t, 64, st.Loop.ImageWidth)
	require.NotNil(t, st.Packets)
	assert.Equal(t, uint64(3), st.Renders)

	req := httptest.NewRequest(http.MethodPost, "/api/svm/status", nil)
	w := httptest.NewRecorder()
	f.ws.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestFramesAndCalibrationAPI(t *testing.T) {
	f := newFixture(t, true)

	rec := f.get(t, "/api/svm/calibration")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.get(t, "/api/svm/frames")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	f.feed(t, 4)

	rec = f.get(t, "/api/svm/frames?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var frames []db.FrameRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &frames))
	require.Len(t, frames, 2)
	assert.Greater(t, frames[0].Seq, frames[1].Seq)
	assert.NotEmpty(t, frames[0].CalibrationID)

	rec = f.get(t, "/api/svm/calibration")
	require.Equal(t, http.StatusOK, rec.Code)
	var cal db.CalibrationRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cal))
	assert.Equal(t, frames[0].CalibrationID, cal.ID)

	rec = f.get(t, "/api/svm/frames?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFramesWithoutDB(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, http.StatusServiceUnavailable, f.get(t, "/api/svm/frames").Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.get(t, "/api/svm/calibration").Code)
}

func TestDepthPlot(t *testing.T) {
	f := newFixture(t, false)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/debug/svm/depth.png?camera=9").Code)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/debug/svm/depth.png?camera=0").Code)

	f.feed(t, 2)
	rec := f.get(t, "/debug/svm/depth.png?camera=0")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	_, err := png.Decode(rec.Body)
	assert.NoError(t, err)
}

func TestTimingChart(t *testing.T) {
	f := newFixture(t, false)
	f.feed(t, 3)

	rec := f.get(t, "/debug/svm/timing")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Frame timing")
	assert.Contains(t, body, "densify")
}

func TestComposite(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/debug/svm/composite.png").Code)

	f.feed(t, 2)
	rec := f.get(t, "/debug/svm/composite.png?size=32")
	require.Equal(t, http.StatusOK, rec.Code)
	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/debug/svm/composite.png?size=1").Code)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, false)
	f.ws.server.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.ws.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	dir := t.TempDir()
	f := newFixtureWithSnapshots(t, false, dir)

	assert.Equal(t, http.StatusMethodNotAllowed, f.get(t, "/api/svm/snapshot").Code)
	// nothing rendered yet
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/svm/snapshot?name=a.png").Code)

	f.feed(t, 2)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/svm/snapshot?name=a.exe").Code)

	rec := f.do(t, http.MethodPost, "/api/svm/snapshot?name=../../front+view.png")
	require.Equal(t, http.StatusCreated, rec.Code)
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, filepath.Join(dir, "front_view.png"), out["path"])
	_, err := os.Stat(out["path"])
	assert.NoError(t, err)
}

func TestSnapshotDisabled(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodPost, "/api/svm/snapshot").Code)
}
