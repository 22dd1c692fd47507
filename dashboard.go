package seriesplot

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v2"
)

// ChartSpec binds one table of the result set to one mount of the page.
type ChartSpec struct {
	Table   string       `yaml:"table"`
	Mount   string       `yaml:"mount"`
	Titles  Titles       `yaml:"titles"`
	Options ChartOptions `yaml:"options"`
}

type Dashboard struct {
	Title  string      `yaml:"title"`
	Width  string      `yaml:"width"`
	Height string      `yaml:"height"`
	Charts []ChartSpec `yaml:"charts"`
}

// MountedChart is a built chart together with the mount it belongs in.
type MountedChart struct {
	Mount  string
	Config ChartConfig
}

// DefaultDashboard is the weather page: the daily weather parameters and the
// NRMSE of the VAR prediction per train/test split.
func DefaultDashboard() Dashboard {
	noMarkers := 0
	return Dashboard{
		Title: "Weather Parameter Forecast",
		Charts: []ChartSpec{
			{
				Table: "Nasa",
				Mount: "nasaTable",
				Titles: Titles{
					Chart: "NASA POWER API Weather Parameter Data",
					XAxis: "Date",
					YAxis: "Parameter Values",
				},
				Options: ChartOptions{
					MaxXTicks:   8,
					PointRadius: &noMarkers,
				},
			},
			{
				Table: "NRMSEEvaluation",
				Mount: "nrmseTable",
				Titles: Titles{
					Chart: "NRMSE for Weather Parameter VAR Prediction",
					XAxis: "Train-Test Ratio",
					YAxis: "NRMSE Values",
				},
			},
		},
	}
}

// SingleTableDashboard plots one table, used for CSV and spreadsheet input.
func SingleTableDashboard(table string, titles Titles) Dashboard {
	return Dashboard{
		Title: titles.Chart,
		Charts: []ChartSpec{
			{Table: table, Mount: "chart", Titles: titles},
		},
	}
}

func LoadDashboard(r io.Reader) (Dashboard, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Dashboard{}, fmt.Errorf("failed to read dashboard: %w", err)
	}

	var d Dashboard
	if err := yaml.UnmarshalStrict(data, &d); err != nil {
		return Dashboard{}, fmt.Errorf("failed to parse dashboard: %w", err)
	}

	if err := d.Validate(); err != nil {
		return Dashboard{}, err
	}

	return d, nil
}

func (d Dashboard) Validate() error {
	if len(d.Charts) == 0 {
		return fmt.Errorf("dashboard has no charts")
	}

	seen := make(map[string]bool, len(d.Charts))
	for i, c := range d.Charts {
		if c.Table == "" {
			return fmt.Errorf("chart %d has no table", i)
		}
		if c.Mount == "" {
			return fmt.Errorf("chart %d has no mount", i)
		}
		if seen[c.Mount] {
			return fmt.Errorf("mount %q is used by more than one chart", c.Mount)
		}
		seen[c.Mount] = true
	}

	return nil
}

// TableNames lists the distinct tables the dashboard needs, in chart order.
func (d Dashboard) TableNames() []string {
	names := make([]string, 0, len(d.Charts))
	for _, c := range d.Charts {
		if len(Filter(names, func(n string) bool { return n == c.Table })) == 0 {
			names = append(names, c.Table)
		}
	}
	return names
}

func (d Dashboard) Mounts() []Mount {
	mounts := make([]Mount, len(d.Charts))
	for i, c := range d.Charts {
		mounts[i] = Mount{ID: c.Mount, Width: d.Width, Height: d.Height}
	}
	return mounts
}

// Build adapts every table the dashboard references. The first malformed
// table aborts the build.
func (d Dashboard) Build(set ResultSet) ([]MountedChart, error) {
	built := make([]MountedChart, 0, len(d.Charts))
	for _, c := range d.Charts {
		table, err := set.Table(c.Table)
		if err != nil {
			return nil, err
		}

		cfg, err := BuildChartConfigWithOptions(table, c.Titles, c.Options)
		if err != nil {
			return nil, err
		}

		built = append(built, MountedChart{Mount: c.Mount, Config: cfg})
	}

	return built, nil
}

// Render lays the built charts out on a fresh page.
func (d Dashboard) Render(lib Library, charts []MountedChart) (*Page, error) {
	page := NewPage(d.Title, d.Mounts()...)
	for _, c := range charts {
		if err := RenderChart(lib, page, c.Mount, c.Config); err != nil {
			return nil, err
		}
	}

	return page, nil
}
