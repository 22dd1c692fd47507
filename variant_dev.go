//go:build !prod

package seriesplot

func openBrowser(url string) {
	// In dev mode we don't actually want to open the browser. The developer
	// usually has the page open already and just reloads it.
}
