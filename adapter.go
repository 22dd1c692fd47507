package seriesplot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	seriesSaturation = 50
	seriesLightness  = 40

	// TransparentFill is the background of every series; lines are never
	// filled.
	TransparentFill = "rgba(0, 0, 0, 0)"

	DefaultTension = 0.1
)

// Titles of a chart and its two axes.
type Titles struct {
	Chart string `json:"chart" yaml:"chart"`
	XAxis string `json:"xAxis" yaml:"xAxis"`
	YAxis string `json:"yAxis" yaml:"yAxis"`
}

// ChartOptions are rendering hints passed through to the charting library.
// Zero values leave the library default in place.
type ChartOptions struct {
	// Upper bound on the number of category labels drawn on the x axis.
	MaxXTicks int `json:"maxXTicks,omitempty" yaml:"maxXTicks"`

	// Radius of the point markers. Nil keeps the library default, 0 hides
	// them which is what long daily series want.
	PointRadius *int `json:"pointRadius,omitempty" yaml:"pointRadius"`

	// Bezier tension of the line. 0 means DefaultTension.
	Tension float64 `json:"tension,omitempty" yaml:"tension"`
}

func (o ChartOptions) tension() float64 {
	if o.Tension == 0 {
		return DefaultTension
	}
	return o.Tension
}

// Point is one value of a series. NaN marks a gap which the charting
// libraries draw as a break in the line.
type Point float64

// Gap returns the gap sentinel.
func Gap() Point {
	return Point(math.NaN())
}

func (p Point) IsGap() bool {
	return math.IsNaN(float64(p)) || math.IsInf(float64(p), 0)
}

func (p Point) MarshalJSON() ([]byte, error) {
	if p.IsGap() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(float64(p), 'g', -1, 64)), nil
}

func (p *Point) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = Gap()
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*p = Point(f)
	return nil
}

// Color is an HSL color. Saturation and lightness are percentages.
type Color struct {
	Hue        float64
	Saturation float64
	Lightness  float64
}

func (c Color) String() string {
	return "hsl(" + formatFloat(c.Hue) + ", " + formatFloat(c.Saturation) + "%, " + formatFloat(c.Lightness) + "%)"
}

func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Color) UnmarshalText(text []byte) error {
	var parsed Color
	_, err := fmt.Sscanf(string(text), "hsl(%g, %g%%, %g%%)", &parsed.Hue, &parsed.Saturation, &parsed.Lightness)
	if err != nil {
		return fmt.Errorf("invalid hsl color %q: %w", text, err)
	}
	*c = parsed
	return nil
}

// RGB converts the color for renderers that do not understand hsl().
func (c Color) RGB() (r, g, b uint8) {
	h := math.Mod(c.Hue, 360) / 360
	if h < 0 {
		h++
	}
	s := c.Saturation / 100
	l := c.Lightness / 100

	if s == 0 {
		v := uint8(math.Round(l * 255))
		return v, v, v
	}

	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q

	channel := func(t float64) uint8 {
		if t < 0 {
			t++
		}
		if t > 1 {
			t--
		}
		var v float64
		switch {
		case t < 1.0/6:
			v = p + (q-p)*6*t
		case t < 1.0/2:
			v = q
		case t < 2.0/3:
			v = p + (q-p)*(2.0/3-t)*6
		default:
			v = p
		}
		return uint8(math.Round(v * 255))
	}

	return channel(h + 1.0/3), channel(h), channel(h - 1.0/3)
}

// SeriesColor spreads n series evenly around the color wheel.
func SeriesColor(i, n int) Color {
	hue := 0.0
	if n > 0 {
		hue = float64(i) * 360 / float64(n)
	}

	return Color{
		Hue:        hue,
		Saturation: seriesSaturation,
		Lightness:  seriesLightness,
	}
}

type ChartSeries struct {
	Label  string
	Points []Point
	Color  Color
	Fill   string
}

// ChartConfig is the library independent description of one line chart.
type ChartConfig struct {
	Categories []string
	Series     []ChartSeries
	Titles     Titles
	Options    ChartOptions
}

// BuildChartConfig turns a result table into one series per data column.
func BuildChartConfig(table ResultTable, titles Titles) (ChartConfig, error) {
	return BuildChartConfigWithOptions(table, titles, ChartOptions{})
}

func BuildChartConfigWithOptions(table ResultTable, titles Titles, options ChartOptions) (ChartConfig, error) {
	if err := table.Validate(); err != nil {
		return ChartConfig{}, err
	}

	categories := make([]string, len(table.Rows))
	for i, row := range table.Rows {
		categories[i] = string(row[0])
	}

	labels := table.Headers[1:]
	series := make([]ChartSeries, len(labels))
	for i, label := range labels {
		points := make([]Point, len(table.Rows))
		for j, row := range table.Rows {
			points[j] = ParsePoint(string(row[i+1]))
		}

		series[i] = ChartSeries{
			Label:  label,
			Points: points,
			Color:  SeriesColor(i, len(labels)),
			Fill:   TransparentFill,
		}
	}

	return ChartConfig{
		Categories: categories,
		Series:     series,
		Titles:     titles,
		Options:    options,
	}, nil
}

// ParsePoint parses a cell as a decimal number. Anything that is not a finite
// number becomes a gap.
func ParsePoint(s string) Point {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return Gap()
	}

	return Point(f)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
