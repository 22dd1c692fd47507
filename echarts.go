package seriesplot

import (
	"fmt"
	"html/template"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const (
	echartsURL = "https://go-echarts.github.io/go-echarts-assets/assets/echarts.min.js"

	// ECharts leaves a hole in the line for this value.
	echartsGap = "-"

	defaultEchartsHeight = "400px"

	echartsLegendTop = "30px"
)

var echartsFragment = template.Must(template.New("echarts").Parse(`<div id="{{ .ChartID }}" style="{{ .Style }}"></div>
<script>
(function () {
  if (!window.echarts) {
    console.warn("ECharts not loaded.");
    return;
  }
  var chart = echarts.init(document.getElementById({{ .ChartID }}));
  chart.setOption({{ .Option }});
  window.addEventListener("resize", function () { chart.resize(); });
})();
</script>`))

// EchartsLibrary draws charts with Apache ECharts, building the option object
// through go-echarts.
type EchartsLibrary struct {
	scriptURL string
}

func NewEchartsLibrary() *EchartsLibrary {
	return &EchartsLibrary{scriptURL: echartsURL}
}

func (l *EchartsLibrary) Name() string {
	return "echarts"
}

func (l *EchartsLibrary) Assets() []string {
	return []string{l.scriptURL}
}

// BuildEchartsLine converts cfg into a go-echarts line chart.
func BuildEchartsLine(chartID string, cfg ChartConfig) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			ChartID: chartID,
		}),
		charts.WithTitleOpts(opts.Title{
			Title: cfg.Titles.Chart,
		}),
		// Below the title so long titles do not run into the legend.
		charts.WithLegendOpts(opts.Legend{
			Show: true,
			Top:  echartsLegendTop,
		}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show:    true,
			Trigger: "axis",
		}),
		charts.WithXAxisOpts(opts.XAxis{
			Name: cfg.Titles.XAxis,
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name: cfg.Titles.YAxis,
		}),
	)

	line.SetXAxis(cfg.Categories)

	showSymbol := cfg.Options.PointRadius == nil || *cfg.Options.PointRadius > 0
	for _, s := range cfg.Series {
		data := make([]opts.LineData, len(s.Points))
		for i, p := range s.Points {
			if p.IsGap() {
				data[i] = opts.LineData{Value: echartsGap}
				continue
			}
			data[i] = opts.LineData{Value: float64(p)}
		}

		line.AddSeries(s.Label, data,
			charts.WithLineChartOpts(opts.LineChart{
				Smooth:       cfg.Options.tension() > 0,
				ConnectNulls: false,
				ShowSymbol:   showSymbol,
			}),
			charts.WithLineStyleOpts(opts.LineStyle{
				Color: s.Color.String(),
			}),
			charts.WithItemStyleOpts(opts.ItemStyle{
				Color: s.Color.String(),
			}),
		)
	}

	return line
}

func (l *EchartsLibrary) Render(w io.Writer, mount Mount, cfg ChartConfig) error {
	chartID := mount.ID + "-chart"
	line := BuildEchartsLine(chartID, cfg)

	// Validate fills the x axis data into the option tree.
	line.Validate()

	height := mount.Height
	if !cssLength.MatchString(height) {
		height = defaultEchartsHeight
	}

	err := echartsFragment.Execute(w, struct {
		ChartID string
		Style   template.CSS
		Option  map[string]interface{}
	}{
		ChartID: chartID,
		Style:   template.CSS("width: 100%; height: " + height + ";"),
		Option:  line.JSON(),
	})
	if err != nil {
		return fmt.Errorf("echarts: %w", err)
	}

	return nil
}
