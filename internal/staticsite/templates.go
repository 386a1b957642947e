package staticsite

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/marrow-wiki/mbr/internal/index"
	"github.com/marrow-wiki/mbr/internal/renderer"
)

//go:embed templates/*.gohtml
var templateFS embed.FS

// assetRefs carries the resolved paths to the exported bundle's CSS/JS,
// relative to the output root.
type assetRefs struct {
	CSSApp    string
	CSSChroma string
	JSApp     string
}

type siteViewData struct {
	Title         string
	DarkModeFirst bool
	BaseURL       string
}

type pageViewData struct {
	URL         string
	Title       string
	HTML        template.HTML
	Metadata    renderer.Metadata
	Modified    time.Time
	Canonical   string
	Breadcrumbs []breadcrumb
}

type layoutViewData struct {
	Site        siteViewData
	Page        pageViewData
	Assets      assetRefs
	HasDocument bool
	Children    []index.Entry
}

type templateRenderer struct {
	tmpl *template.Template
}

func newTemplateRenderer() (*templateRenderer, error) {
	funcs := template.FuncMap{
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.UTC().Format("Jan 2, 2006 3:04 PM")
		},
		"hasMetadata": func(meta renderer.Metadata) bool {
			return !meta.IsZero()
		},
		"dict": func(values ...any) (map[string]any, error) {
			if len(values)%2 != 0 {
				return nil, fmt.Errorf("dict requires an even number of arguments")
			}
			m := make(map[string]any, len(values)/2)
			for i := 0; i < len(values); i += 2 {
				key, ok := values[i].(string)
				if !ok {
					return nil, fmt.Errorf("dict keys must be strings")
				}
				m[key] = values[i+1]
			}
			return m, nil
		},
		"trimSlash": func(s string) string {
			return strings.Trim(s, "/")
		},
	}

	base, err := template.New("layout").Funcs(funcs).ParseFS(templateFS, "templates/*.gohtml")
	if err != nil {
		return nil, err
	}
	return &templateRenderer{tmpl: base}, nil
}

func (r *templateRenderer) render(w io.Writer, name string, data any) error {
	return r.tmpl.ExecuteTemplate(w, name, data)
}
