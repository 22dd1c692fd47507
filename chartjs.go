package seriesplot

import (
	"fmt"
	"html/template"
	"io"
)

const chartJSURL = "https://cdn.jsdelivr.net/npm/chart.js@4.4.1/dist/chart.umd.min.js"

var chartJSFragment = template.Must(template.New("chartjs").Parse(`<canvas id="{{ .CanvasID }}"></canvas>
<script>
(function () {
  if (!window.Chart) {
    console.warn("Chart.js not loaded.");
    return;
  }
  new Chart(document.getElementById({{ .CanvasID }}), {{ .Config }});
})();
</script>`))

// ChartJSConfig mirrors the subset of the Chart.js configuration object used
// for line charts.
type ChartJSConfig struct {
	Type    string         `json:"type"`
	Data    ChartJSData    `json:"data"`
	Options ChartJSOptions `json:"options"`
}

type ChartJSData struct {
	Labels   []string         `json:"labels"`
	Datasets []ChartJSDataset `json:"datasets"`
}

type ChartJSDataset struct {
	Label            string  `json:"label"`
	Data             []Point `json:"data"`
	BorderColor      string  `json:"borderColor"`
	BackgroundColor  string  `json:"backgroundColor"`
	Fill             bool    `json:"fill"`
	Tension          float64 `json:"tension"`
	PointRadius      *int    `json:"pointRadius,omitempty"`
	PointHoverRadius *int    `json:"pointHoverRadius,omitempty"`
}

type ChartJSOptions struct {
	Responsive bool                    `json:"responsive"`
	Plugins    ChartJSPlugins          `json:"plugins"`
	Scales     map[string]ChartJSScale `json:"scales"`
}

type ChartJSPlugins struct {
	Legend ChartJSLegend `json:"legend"`
	Title  ChartJSTitle  `json:"title"`
}

type ChartJSLegend struct {
	Position string `json:"position"`
}

type ChartJSTitle struct {
	Display bool   `json:"display"`
	Text    string `json:"text"`
}

type ChartJSScale struct {
	Title ChartJSTitle  `json:"title"`
	Ticks *ChartJSTicks `json:"ticks,omitempty"`
}

type ChartJSTicks struct {
	MaxTicksLimit int `json:"maxTicksLimit"`
}

// BuildChartJSConfig converts cfg into a Chart.js line chart configuration.
func BuildChartJSConfig(cfg ChartConfig) ChartJSConfig {
	datasets := make([]ChartJSDataset, len(cfg.Series))
	for i, s := range cfg.Series {
		datasets[i] = ChartJSDataset{
			Label:            s.Label,
			Data:             s.Points,
			BorderColor:      s.Color.String(),
			BackgroundColor:  s.Fill,
			Fill:             false,
			Tension:          cfg.Options.tension(),
			PointRadius:      cfg.Options.PointRadius,
			PointHoverRadius: cfg.Options.PointRadius,
		}
	}

	x := ChartJSScale{Title: ChartJSTitle{Display: true, Text: cfg.Titles.XAxis}}
	if cfg.Options.MaxXTicks > 0 {
		x.Ticks = &ChartJSTicks{MaxTicksLimit: cfg.Options.MaxXTicks}
	}

	return ChartJSConfig{
		Type: "line",
		Data: ChartJSData{
			Labels:   cfg.Categories,
			Datasets: datasets,
		},
		Options: ChartJSOptions{
			Responsive: true,
			Plugins: ChartJSPlugins{
				Legend: ChartJSLegend{Position: "top"},
				Title:  ChartJSTitle{Display: true, Text: cfg.Titles.Chart},
			},
			Scales: map[string]ChartJSScale{
				"x": x,
				"y": {Title: ChartJSTitle{Display: true, Text: cfg.Titles.YAxis}},
			},
		},
	}
}

type ChartJSLibrary struct {
	scriptURL string
}

func NewChartJSLibrary() *ChartJSLibrary {
	return &ChartJSLibrary{scriptURL: chartJSURL}
}

func (l *ChartJSLibrary) Name() string {
	return "chartjs"
}

func (l *ChartJSLibrary) Assets() []string {
	return []string{l.scriptURL}
}

func (l *ChartJSLibrary) Render(w io.Writer, mount Mount, cfg ChartConfig) error {
	err := chartJSFragment.Execute(w, struct {
		CanvasID string
		Config   ChartJSConfig
	}{
		CanvasID: mount.ID + "-canvas",
		Config:   BuildChartJSConfig(cfg),
	})
	if err != nil {
		return fmt.Errorf("chartjs: %w", err)
	}

	return nil
}
