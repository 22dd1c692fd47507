package seriesplot

// Metadata describes what the server plots, served on /metadata.
type Metadata struct {
	Title   string
	Library string
	Mounts  []string
	History int
}

func NewMetadata(dashboard Dashboard, lib Library, history int) Metadata {
	m := Metadata{
		Title:   dashboard.Title,
		Mounts:  make([]string, len(dashboard.Charts)),
		History: history,
	}
	if lib != nil {
		m.Library = lib.Name()
	}
	for i, c := range dashboard.Charts {
		m.Mounts[i] = c.Mount
	}
	return m
}
