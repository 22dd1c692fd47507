package seriesplot

import (
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"regexp"
	"sync"
)

//go:embed templates/page.html.tmpl
var pageTemplateText string

var pageTemplate = template.Must(template.New("page").Parse(pageTemplateText))

// Only plain CSS lengths are accepted for mount sizes.
var cssLength = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?(px|%|em|rem|vh|vw)$`)

// Mount is a named element of the host page that a chart is drawn into.
type Mount struct {
	ID     string
	Width  string
	Height string
}

func (m Mount) style() template.CSS {
	style := ""
	if cssLength.MatchString(m.Width) {
		style += "width: " + m.Width + ";"
	}
	if cssLength.MatchString(m.Height) {
		if style != "" {
			style += " "
		}
		style += "height: " + m.Height + ";"
	}
	return template.CSS(style)
}

// Page is the host document. Mounts are declared up front; rendering only
// fills them.
type Page struct {
	Title string

	mutex     sync.Mutex
	mounts    []Mount
	fragments map[string]template.HTML
	assets    []string
}

func NewPage(title string, mounts ...Mount) *Page {
	return &Page{
		Title:     title,
		mounts:    mounts,
		fragments: make(map[string]template.HTML),
	}
}

func (p *Page) Mount(id string) (Mount, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for _, m := range p.mounts {
		if m.ID == id {
			return m, nil
		}
	}

	return Mount{}, &MountNotFoundError{Mount: id}
}

// Fragment returns what was rendered into a mount, if anything.
func (p *Page) Fragment(id string) (template.HTML, bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	f, ok := p.fragments[id]
	return f, ok
}

func (p *Page) Assets() []string {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return append([]string(nil), p.assets...)
}

func (p *Page) setFragment(id string, fragment template.HTML, assets []string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.fragments[id] = fragment
	for _, asset := range assets {
		if len(Filter(p.assets, func(a string) bool { return a == asset })) == 0 {
			p.assets = append(p.assets, asset)
		}
	}
}

type pageMountView struct {
	ID       string
	Style    template.CSS
	Fragment template.HTML
}

type pageView struct {
	Title  string
	Assets []string
	Mounts []pageMountView
}

// WriteHTML writes the complete document.
func (p *Page) WriteHTML(w io.Writer) error {
	p.mutex.Lock()
	view := pageView{
		Title:  p.Title,
		Assets: append([]string(nil), p.assets...),
		Mounts: make([]pageMountView, 0, len(p.mounts)),
	}
	for _, m := range p.mounts {
		view.Mounts = append(view.Mounts, pageMountView{
			ID:       m.ID,
			Style:    m.style(),
			Fragment: p.fragments[m.ID],
		})
	}
	p.mutex.Unlock()

	if err := pageTemplate.Execute(w, view); err != nil {
		return fmt.Errorf("failed to render page: %w", err)
	}

	return nil
}
