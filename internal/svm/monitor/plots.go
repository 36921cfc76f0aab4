package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/surroundview/internal/httputil"
	"github.com/banshee-data/surroundview/internal/svm/l2frames"
	"github.com/banshee-data/surroundview/internal/svm/l4depth"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// depthGrid adapts a depth field to plotter.GridXYZ. Rows are flipped so
// image row 0 is drawn at the top.
type depthGrid struct{ g *l2frames.Grid }

func (d depthGrid) Dims() (c, r int)   { return d.g.Cols, d.g.Rows }
func (d depthGrid) Z(c, r int) float64 { return d.g.At(d.g.Rows-1-r, c) }
func (d depthGrid) X(c int) float64    { return float64(c) }
func (d depthGrid) Y(r int) float64    { return float64(r) }

// renderDepthPlot draws a heat map of the depth field as PNG.
func renderDepthPlot(cam l2frames.CameraIndex, g *l2frames.Grid) ([]byte, error) {
	p := plot.New()
	lo, hi := l4depth.Range(*g)
	p.Title.Text = fmt.Sprintf("%s depth (%.0f..%.0f mm, %d/%d sampled)", cam, lo, hi, l4depth.Coverage(*g), len(g.Data))
	p.X.Label.Text = "column"
	p.Y.Label.Text = "row (flipped)"

	hm := plotter.NewHeatMap(depthGrid{g}, palette.Heat(32, 1))
	if hm.Max <= hm.Min {
		hm.Max = hm.Min + 1
	}
	p.Add(hm)

	wt, err := p.WriterTo(6*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// handleDepthPlot renders the latest depth field for ?camera=N (0..3).
func (ws *WebServer) handleDepthPlot(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.URL.Query().Get("camera"))
	if err != nil || n < 0 || n >= l2frames.NumCameras {
		httputil.BadRequest(w, "camera must be 0..3")
		return
	}
	cam := l2frames.CameraIndex(n)
	g := ws.loop.DepthField(cam)
	if g == nil || len(g.Data) == 0 {
		httputil.NotFound(w, fmt.Sprintf("no depth field for %s", cam))
		return
	}
	png, err := renderDepthPlot(cam, g)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("plot: %v", err))
		return
	}
	httputil.WritePNG(w, png)
}

// handleTimingChart renders per-frame apply, densify and render cost as an
// HTML line chart.
func (ws *WebServer) handleTimingChart(w http.ResponseWriter, r *http.Request) {
	timings := ws.loop.Timings()

	xs := make([]string, 0, len(timings))
	apply := make([]opts.LineData, 0, len(timings))
	densify := make([]opts.LineData, 0, len(timings))
	render := make([]opts.LineData, 0, len(timings))
	for _, t := range timings {
		xs = append(xs, strconv.FormatUint(t.Seq, 10))
		apply = append(apply, opts.LineData{Value: t.Apply.Seconds() * 1000})
		densify = append(densify, opts.LineData{Value: t.Densify.Seconds() * 1000})
		render = append(render, opts.LineData{Value: t.Render.Seconds() * 1000})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "SVM frame timing", Theme: "dark", Width: "100%", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Frame timing", Subtitle: fmt.Sprintf("feed=%s frames=%d", ws.feedID, len(timings))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "seq", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
	)
	line.SetXAxis(xs).
		AddSeries("apply", apply).
		AddSeries("densify", densify).
		AddSeries("render", render)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleComposite serves the last software composite, scaled to ?size=
// pixels (default 512).
func (ws *WebServer) handleComposite(w http.ResponseWriter, r *http.Request) {
	if ws.renderer == nil {
		httputil.ServiceUnavailable(w, "no software renderer configured")
		return
	}
	size := 512
	if s := r.URL.Query().Get("size"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 16 || v > 4096 {
			httputil.BadRequest(w, "size must be between 16 and 4096")
			return
		}
		size = v
	}
	img := ws.renderer.Thumbnail(size)
	if img == nil {
		httputil.NotFound(w, "nothing rendered yet")
		return
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("encode: %v", err))
		return
	}
	httputil.WritePNG(w, buf.Bytes())
}
