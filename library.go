package seriesplot

import (
	"bytes"
	"html/template"
	"io"
	"reflect"

	"github.com/sirupsen/logrus"
)

// Library is a charting library able to draw a ChartConfig into a mount
// point of the host page.
type Library interface {
	Name() string

	// Script URLs the host page must load before any fragment runs.
	Assets() []string

	// Render writes the HTML fragment drawing cfg inside mount.
	Render(w io.Writer, mount Mount, cfg ChartConfig) error
}

// RenderChart draws cfg into the mount named mountID of page using lib.
//
// A nil library is not fatal: a chart that cannot be drawn should not break
// the rest of the page, so it is logged and skipped. A missing mount is a
// caller error and is returned.
func RenderChart(lib Library, page *Page, mountID string, cfg ChartConfig) error {
	logger := logrus.WithFields(logrus.Fields{
		"tag":   "RenderChart",
		"mount": mountID,
	})

	if isMissingLibrary(lib) {
		logger.WithError(&MissingLibraryError{Mount: mountID}).Warn("charting library not loaded, skipping chart")
		return nil
	}

	mount, err := page.Mount(mountID)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := lib.Render(&buf, mount, cfg); err != nil {
		logger.WithError(err).WithField("library", lib.Name()).Error("failed to render chart")
		return err
	}

	page.setFragment(mountID, template.HTML(buf.String()), lib.Assets())
	logger.WithFields(logrus.Fields{
		"library": lib.Name(),
		"series":  len(cfg.Series),
		"points":  len(cfg.Categories),
	}).Debug("rendered chart")

	return nil
}

// isMissingLibrary also catches a typed nil pointer stored in the interface,
// which would otherwise panic on the first method call.
func isMissingLibrary(lib Library) bool {
	if lib == nil {
		return true
	}
	v := reflect.ValueOf(lib)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// LibraryByName returns one of the built in libraries.
func LibraryByName(name string) (Library, bool) {
	switch name {
	case "chartjs", "":
		return NewChartJSLibrary(), true
	case "echarts":
		return NewEchartsLibrary(), true
	case "png":
		return NewPNGLibrary(), true
	default:
		return nil, false
	}
}
