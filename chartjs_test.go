package seriesplot

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestBuildChartJSConfig(t *testing.T) {
	radius := 0
	cfg, err := BuildChartConfigWithOptions(weatherTable(), Titles{Chart: "Weather", XAxis: "Date", YAxis: "Value"}, ChartOptions{MaxXTicks: 8, PointRadius: &radius})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := BuildChartJSConfig(cfg)

	if got.Type != "line" {
		t.Fatalf("type = %q, want line", got.Type)
	}
	if len(got.Data.Labels) != 2 || len(got.Data.Datasets) != 2 {
		t.Fatalf("unexpected data: %+v", got.Data)
	}

	first := got.Data.Datasets[0]
	if first.Label != "TempC" || first.BorderColor != "hsl(0, 50%, 40%)" || first.BackgroundColor != TransparentFill {
		t.Fatalf("unexpected dataset: %+v", first)
	}
	if first.Fill || first.Tension != DefaultTension {
		t.Fatalf("unexpected line style: fill=%v tension=%v", first.Fill, first.Tension)
	}
	if first.PointRadius == nil || *first.PointRadius != 0 {
		t.Fatalf("expected point radius 0, got %v", first.PointRadius)
	}

	if got.Options.Plugins.Legend.Position != "top" {
		t.Fatalf("legend position = %q", got.Options.Plugins.Legend.Position)
	}
	if !got.Options.Plugins.Title.Display || got.Options.Plugins.Title.Text != "Weather" {
		t.Fatalf("unexpected title: %+v", got.Options.Plugins.Title)
	}
	if got.Options.Scales["x"].Title.Text != "Date" || got.Options.Scales["y"].Title.Text != "Value" {
		t.Fatalf("unexpected scales: %+v", got.Options.Scales)
	}
	if ticks := got.Options.Scales["x"].Ticks; ticks == nil || ticks.MaxTicksLimit != 8 {
		t.Fatalf("unexpected x ticks: %+v", ticks)
	}
	if got.Options.Scales["y"].Ticks != nil {
		t.Fatalf("y axis should keep default ticks")
	}
}

func TestBuildChartJSConfigDefaults(t *testing.T) {
	cfg, err := BuildChartConfig(weatherTable(), Titles{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := json.Marshal(BuildChartJSConfig(cfg))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := string(data)
	if strings.Contains(s, "pointRadius") || strings.Contains(s, "maxTicksLimit") {
		t.Fatalf("unset options must be omitted: %s", s)
	}
}

func TestChartJSLibraryRender(t *testing.T) {
	table := ResultTable{
		Name:    "Weather",
		Headers: []string{"Date", "TempC"},
		Rows:    [][]Cell{{"2024-01-01", "N/A"}, {"2024-01-02", "21"}},
	}
	cfg, err := BuildChartConfig(table, Titles{Chart: "Weather"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lib := NewChartJSLibrary()
	if lib.Name() != "chartjs" || len(lib.Assets()) != 1 {
		t.Fatalf("unexpected library: %s %v", lib.Name(), lib.Assets())
	}

	var buf bytes.Buffer
	if err := lib.Render(&buf, Mount{ID: "nasaTable"}, cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		`<canvas id="nasaTable-canvas">`,
		`"nasaTable-canvas"`,
		`"data":[null,21]`,
		`"labels":["2024-01-01","2024-01-02"]`,
		`console.warn`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output does not contain %s:\n%s", want, out)
		}
	}
}

func TestChartJSLibraryRenderEscapesLabels(t *testing.T) {
	table := ResultTable{
		Name:    "T",
		Headers: []string{"x", "</script><script>alert(1)</script>"},
		Rows:    [][]Cell{{"a", "1"}},
	}
	cfg, err := BuildChartConfig(table, Titles{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var buf bytes.Buffer
	if err := NewChartJSLibrary().Render(&buf, Mount{ID: "m"}, cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.Contains(buf.String(), "<script>alert(1)") {
		t.Fatalf("series label was not escaped:\n%s", buf.String())
	}
}
