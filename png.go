package seriesplot

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"strings"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

const (
	defaultPNGWidth  = 1024
	defaultPNGHeight = 400
)

var errNothingToDraw = errors.New("no series has a drawable point")

var pngFragment = template.Must(template.New("png").Parse(`<img class="w-full" alt="{{ .Alt }}" src="{{ .Src }}">`))

var pngEmptyFragment = template.Must(template.New("png-empty").Parse(`<p class="text-slate-500">{{ .Title }}: no data</p>`))

// PNGLibrary renders a static image on the server with go-chart and embeds
// it as a data URI. Pages built with it need no script at all.
type PNGLibrary struct{}

func NewPNGLibrary() *PNGLibrary {
	return &PNGLibrary{}
}

func (l *PNGLibrary) Name() string {
	return "png"
}

func (l *PNGLibrary) Assets() []string {
	return nil
}

// BuildGoChart converts cfg into a go-chart line chart. go-chart cannot break
// a line, so gap points are left out and the line joins their neighbours.
func BuildGoChart(cfg ChartConfig, width, height int) (chart.Chart, error) {
	series := make([]chart.Series, 0, len(cfg.Series))
	for _, s := range cfg.Series {
		xs := make([]float64, 0, len(s.Points))
		ys := make([]float64, 0, len(s.Points))
		for i, p := range s.Points {
			if p.IsGap() {
				continue
			}
			xs = append(xs, float64(i))
			ys = append(ys, float64(p))
		}

		if len(xs) == 0 {
			continue
		}

		r, g, b := s.Color.RGB()
		series = append(series, chart.ContinuousSeries{
			Name: s.Label,
			Style: chart.Style{
				StrokeColor: drawing.Color{R: r, G: g, B: b, A: 255},
				StrokeWidth: 2,
			},
			XValues: xs,
			YValues: ys,
		})
	}

	if len(series) == 0 {
		return chart.Chart{}, errNothingToDraw
	}

	graph := chart.Chart{
		Title:  cfg.Titles.Chart,
		Width:  width,
		Height: height,
		Background: chart.Style{
			Padding: chart.Box{Top: 60, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			Name:  cfg.Titles.XAxis,
			Range: &chart.ContinuousRange{Min: 0, Max: float64(Max(len(cfg.Categories)-1, 1))},
			Ticks: categoryTicks(cfg.Categories, cfg.Options.MaxXTicks),
		},
		YAxis: chart.YAxis{
			Name: cfg.Titles.YAxis,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return graph, nil
}

// categoryTicks labels the x axis with at most maxTicks evenly spaced
// categories, always keeping the first one.
func categoryTicks(categories []string, maxTicks int) []chart.Tick {
	if len(categories) == 0 {
		return nil
	}

	if maxTicks <= 0 {
		maxTicks = len(categories)
	}
	maxTicks = Min(maxTicks, len(categories))

	stride := (len(categories) + maxTicks - 1) / maxTicks
	ticks := make([]chart.Tick, 0, maxTicks)
	for i := 0; i < len(categories); i += stride {
		ticks = append(ticks, chart.Tick{Value: float64(i), Label: categories[i]})
	}

	return ticks
}

func (l *PNGLibrary) Render(w io.Writer, mount Mount, cfg ChartConfig) error {
	graph, err := BuildGoChart(cfg, pixels(mount.Width, defaultPNGWidth), pixels(mount.Height, defaultPNGHeight))
	if errors.Is(err, errNothingToDraw) {
		// An empty table is still a chart, just one without lines.
		return pngEmptyFragment.Execute(w, struct{ Title string }{Title: cfg.Titles.Chart})
	}
	if err != nil {
		return fmt.Errorf("png: %w", err)
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return fmt.Errorf("png: %w", err)
	}

	err = pngFragment.Execute(w, struct {
		Alt string
		Src template.URL
	}{
		Alt: cfg.Titles.Chart,
		Src: template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())),
	})
	if err != nil {
		return fmt.Errorf("png: %w", err)
	}

	return nil
}

// pixels reads a "123px" length, falling back to def for anything else.
func pixels(length string, def int) int {
	n, err := strconv.Atoi(strings.TrimSuffix(length, "px"))
	if err != nil || n <= 0 || !strings.HasSuffix(length, "px") {
		return def
	}
	return n
}
