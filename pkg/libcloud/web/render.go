package web

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/tendant/libcloud/pkg/libcloud"
)

//go:embed templates/*.html
var templateFS embed.FS

// templates holds one parsed set per page, each sharing the layout.
type templates struct {
	pages map[string]*template.Template
}

var templateFuncs = template.FuncMap{
	"fieldError": func(verr *libcloud.ValidationError, field string) string {
		return verr.Field(field)
	},
	"formValue": func(values url.Values, key string) string {
		return values.Get(key)
	},
	"formValues": func(values url.Values, key string) []string {
		return values[key]
	},
	"contains": func(list []string, s string) bool {
		for _, v := range list {
			if v == s {
				return true
			}
		}
		return false
	},
	"seq": func(n int) []int {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	},
	"add": func(a, b int) int { return a + b },
	"date": func(t time.Time) string {
		return t.Format("2006-01-02 15:04")
	},
	"featureField":     libcloud.FeatureField,
	"declarationField": libcloud.DeclarationField,
	"attachmentField":  libcloud.AttachmentField,
	"featureTypes": func() []libcloud.FeatureType {
		return libcloud.FeatureTypes
	},
}

func loadTemplates() (*templates, error) {
	files, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	t := &templates{pages: make(map[string]*template.Template)}
	for _, file := range files {
		name := strings.TrimSuffix(path.Base(file), ".html")
		if name == "layout" {
			continue
		}
		tmpl, err := template.New(name).Funcs(templateFuncs).ParseFS(templateFS, "templates/layout.html", file)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		t.pages[name] = tmpl
	}
	return t, nil
}

func (t *templates) execute(w io.Writer, name string, data any) error {
	tmpl, ok := t.pages[name]
	if !ok {
		return fmt.Errorf("template %s not found", name)
	}
	return tmpl.ExecuteTemplate(w, "layout", data)
}

// page is the data handed to every template
type page struct {
	Title   string
	User    *libcloud.User
	Flashes []Flash
	Errors  *libcloud.ValidationError
	Form    url.Values
	Data    any
}

// render executes the named page with status, consuming pending flashes.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, p page) {
	sess := sessionFrom(r.Context())
	p.User = sess.user
	p.Flashes = sess.flashes
	if p.Errors == nil {
		p.Errors = libcloud.NewValidationError()
	}
	if p.Form == nil {
		p.Form = url.Values{}
	}

	var buf bytes.Buffer
	if err := s.templates.execute(&buf, name, p); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to render template", "template", name, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if sess.hadFlash {
		s.writeFlashes(w, nil)
	}
	sess.flashes, sess.hadFlash = nil, false

	render.Status(r, status)
	render.HTML(w, r, buf.String())
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusNotFound, "not_found", page{Title: "Not found"})
}

// fail handles an error from the service: not-found errors render 404,
// everything else is logged and reported as a flash message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, libcloud.ErrNotFound) {
		s.notFound(w, r)
		return
	}
	s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	s.flash(r, LevelError, "Something went wrong, please try again.")
	s.render(w, r, http.StatusInternalServerError, "error", page{Title: "Error"})
}

// asValidation extracts a ValidationError from err.
func asValidation(err error) (*libcloud.ValidationError, bool) {
	var verr *libcloud.ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
