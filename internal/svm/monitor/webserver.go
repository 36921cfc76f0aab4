// Package monitor serves the surround-view debug and status HTTP surface.
package monitor

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/surroundview/internal/db"
	"github.com/banshee-data/surroundview/internal/httputil"
	"github.com/banshee-data/surroundview/internal/monitoring"
	"github.com/banshee-data/surroundview/internal/security"
	"github.com/banshee-data/surroundview/internal/svm/network"
	"github.com/banshee-data/surroundview/internal/svm/pipeline"
	"github.com/banshee-data/surroundview/internal/svm/softrender"
	"github.com/banshee-data/surroundview/internal/version"
)

//go:embed status.html
var statusHTML embed.FS

var logf = monitoring.Prefixed("http")

// WebServer exposes loop status, stored frame reports and debug plots.
type WebServer struct {
	address  string
	feedID   string
	loop     *pipeline.Loop
	stats    *network.PacketStats
	db       *db.DB
	renderer *softrender.Renderer
	snapDir  string
	server   *http.Server
	started  time.Time
	tmpl     *template.Template
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address  string
	FeedID   string
	Loop     *pipeline.Loop
	Stats    *network.PacketStats // optional
	DB       *db.DB               // optional; enables /api/svm/frames and /debug/tailsql/
	Renderer *softrender.Renderer // optional; enables /debug/svm/composite.png

	// SnapshotDir is where POST /api/svm/snapshot writes composites. Empty
	// disables the endpoint.
	SnapshotDir string
}

// Status is the /api/svm/status payload.
type Status struct {
	FeedID  string                 `json:"feed_id"`
	Version string                 `json:"version"`
	Uptime  string                 `json:"uptime"`
	Loop    pipeline.Status        `json:"loop"`
	Packets *network.StatsSnapshot `json:"packets,omitempty"`
	Renders uint64                 `json:"composites_rendered"`
}

// NewWebServer creates a web server for the given loop.
func NewWebServer(config WebServerConfig) (*WebServer, error) {
	if config.Loop == nil {
		return nil, fmt.Errorf("monitor: nil loop")
	}
	tmpl, err := template.ParseFS(statusHTML, "status.html")
	if err != nil {
		return nil, fmt.Errorf("parse status template: %w", err)
	}
	ws := &WebServer{
		address:  config.Address,
		feedID:   config.FeedID,
		loop:     config.Loop,
		stats:    config.Stats,
		db:       config.DB,
		renderer: config.Renderer,
		snapDir:  config.SnapshotDir,
		started:  time.Now(),
		tmpl:     tmpl,
	}
	mux, err := ws.setupRoutes()
	if err != nil {
		return nil, err
	}
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws, nil
}

// Handler returns the routed handler.
func (ws *WebServer) Handler() http.Handler { return ws.server.Handler }

// Start serves until ctx is cancelled, then shuts down.
func (ws *WebServer) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		logf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err, ok := <-errc:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		logf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			logf("HTTP server force close error: %v", err)
		}
	}
	logf("HTTP server routine stopped")
	return nil
}

func (ws *WebServer) setupRoutes() (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatusPage)
	mux.HandleFunc("/api/svm/status", ws.handleStatus)
	mux.HandleFunc("/api/svm/frames", ws.handleFrames)
	mux.HandleFunc("/api/svm/calibration", ws.handleCalibration)
	mux.HandleFunc("/api/svm/snapshot", ws.handleSnapshot)
	mux.HandleFunc("/debug/svm/depth.png", ws.handleDepthPlot)
	mux.HandleFunc("/debug/svm/timing", ws.handleTimingChart)
	mux.HandleFunc("/debug/svm/composite.png", ws.handleComposite)

	if ws.db != nil {
		if err := ws.db.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

func (ws *WebServer) status() Status {
	s := Status{
		FeedID:  ws.feedID,
		Version: version.Version,
		Uptime:  time.Since(ws.started).Round(time.Second).String(),
		Loop:    ws.loop.Snapshot(),
	}
	if ws.stats != nil {
		snap := ws.stats.Snapshot()
		s.Packets = &snap
	}
	if ws.renderer != nil {
		s.Renders = ws.renderer.Frames()
	}
	return s
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "svm", "timestamp": "%s"}`, time.Now().UTC().Format(time.RFC3339))
}

func (ws *WebServer) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := struct {
		Status
		HTTPAddress  string
		HasDB        bool
		HasComposite bool
		Cameras      []int
	}{
		Status:       ws.status(),
		HTTPAddress:  ws.address,
		HasDB:        ws.db != nil,
		HasComposite: ws.renderer != nil,
		Cameras:      []int{0, 1, 2, 3},
	}
	if err := ws.tmpl.Execute(w, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
	}
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	httputil.WriteJSONOK(w, ws.status())
}

func (ws *WebServer) handleFrames(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	if ws.db == nil {
		httputil.ServiceUnavailable(w, "no database configured")
		return
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 || v > 1000 {
			httputil.BadRequest(w, "limit must be between 1 and 1000")
			return
		}
		limit = v
	}
	frames, err := ws.db.RecentFrames(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("recent frames: %v", err))
		return
	}
	if frames == nil {
		frames = []db.FrameRecord{}
	}
	httputil.WriteJSONOK(w, frames)
}

func (ws *WebServer) handleCalibration(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	if ws.db == nil {
		httputil.ServiceUnavailable(w, "no database configured")
		return
	}
	rec, err := ws.db.LatestCalibration()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("latest calibration: %v", err))
		return
	}
	if rec == nil {
		httputil.NotFound(w, "not calibrated")
		return
	}
	httputil.WriteJSONOK(w, rec)
}

// handleSnapshot writes the last composite to SnapshotDir/?name=.
func (ws *WebServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	if ws.renderer == nil || ws.snapDir == "" {
		httputil.ServiceUnavailable(w, "snapshots are not enabled")
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = fmt.Sprintf("composite-%s.png", time.Now().UTC().Format("20060102T150405"))
	}
	path, err := security.SnapshotPath(ws.snapDir, name)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := ws.renderer.Snapshot(path); err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	logf("wrote composite snapshot %s", path)
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"path": path})
}

// Close stops the server immediately.
func (ws *WebServer) Close() error {
	return ws.server.Close()
}
