// Package web holds the page templates and the gin renderer that serves them.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin/render"

	"github.com/jwalitptl/clinic-portal/internal/model"
)

//go:embed templates
var files embed.FS

//go:embed static
var static embed.FS

// Static serves the scripts under /static.
func Static() http.FileSystem {
	sub, err := fs.Sub(static, "static")
	if err != nil {
		panic(err)
	}
	return http.FS(sub)
}

// Flash is a one-shot notice carried across a redirect.
type Flash struct {
	Kind    string // success or error
	Message string
}

// Page is the data every template receives.
type Page struct {
	Title     string
	Identity  *model.Identity
	Flash     *Flash
	Errors    map[string]string
	Form      any
	Data      any
	RequestID string
}

// Role is the signed-in role, empty for guests.
func (p Page) Role() model.Role {
	if p.Identity == nil {
		return ""
	}
	return p.Identity.Role
}

// Error returns the message for a form field, if any.
func (p Page) Error(field string) string {
	return p.Errors[field]
}

// ErrorData is the body of the generic error page.
type ErrorData struct {
	Status  int
	Message string
}

// Renderer implements gin's render.HTMLRender with one template set per page,
// each combining the shared layout and partials with the page's blocks.
type Renderer struct {
	pages map[string]*template.Template
}

func NewRenderer() (*Renderer, error) {
	base, err := template.New("layout").Funcs(Funcs()).ParseFS(files, "templates/layout.html", "templates/partials/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	r := &Renderer{pages: make(map[string]*template.Template)}
	err = fs.WalkDir(files, "templates/pages", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || path.Ext(p) != ".html" {
			return err
		}
		t, err := base.Clone()
		if err != nil {
			return err
		}
		if _, err := t.ParseFS(files, p); err != nil {
			return fmt.Errorf("parse %s: %w", p, err)
		}
		name := strings.TrimSuffix(strings.TrimPrefix(p, "templates/pages/"), ".html")
		r.pages[name] = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Has reports whether a page template exists.
func (r *Renderer) Has(name string) bool {
	_, ok := r.pages[name]
	return ok
}

func (r *Renderer) Instance(name string, data any) render.Render {
	t, ok := r.pages[name]
	if !ok {
		t = template.Must(template.New("layout").Parse(fmt.Sprintf("unknown page %q", name)))
	}
	return render.HTML{Template: t, Name: "layout", Data: data}
}
