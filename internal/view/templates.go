package view

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/synod-schools/portal/internal/guard"
	"github.com/synod-schools/portal/internal/rbac"
	"github.com/synod-schools/portal/internal/session"
	"github.com/synod-schools/portal/internal/shared"
	"github.com/synod-schools/portal/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	User        *session.Identity
	Tenant      string
	Menu        []rbac.MenuItem
	IdleSeconds int
	Data        any
}

// NewEngine parses templates at build-time.
func NewEngine() (*Engine, error) {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006 15:04")
		},
		"join": func(items any) string {
			switch v := items.(type) {
			case []rbac.Role:
				out := make([]string, len(v))
				for i, r := range v {
					out[i] = string(r)
				}
				return strings.Join(out, ", ")
			case []rbac.Permission:
				out := make([]string, len(v))
				for i, p := range v {
					out[i] = string(p)
				}
				return strings.Join(out, ", ")
			case []string:
				return strings.Join(v, ", ")
			default:
				return fmt.Sprint(v)
			}
		},
		"active": func(current, path string) bool {
			return current == path || (path != "/app" && strings.HasPrefix(current, path+"/"))
		},
	}
	tpl, err := template.New("root").Funcs(funcMap).ParseFS(web.Templates, "templates/layouts/*.html", "templates/partials/*.html", "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

// Render executes a named template with TemplateData.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return e.templates.ExecuteTemplate(w, name, data)
}

// RenderStatus renders into a buffer and writes it with status. Nothing is
// written when the template fails.
func (e *Engine) RenderStatus(w http.ResponseWriter, status int, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	var buf bytes.Buffer
	if err := e.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

// GuardRenderer draws the loading and access-denied pages for guards.
type GuardRenderer struct {
	Engine *Engine
	// Base supplies the per-request layout fields such as the CSRF token.
	Base func(*http.Request) TemplateData
	// Fallback is used when a template fails to render.
	Fallback guard.Renderer
}

// Loading renders the placeholder shown while the identity is fetched.
func (g GuardRenderer) Loading(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Refresh", fmt.Sprint(guard.LoadingRefreshSeconds))
	w.Header().Set("Cache-Control", "no-store")
	data := g.base(r)
	data.Title = "Loading"
	if err := g.Engine.RenderStatus(w, http.StatusOK, "pages/loading.html", data); err != nil {
		g.fallback().Loading(w, r)
	}
}

// Denied renders the access-denied page.
func (g GuardRenderer) Denied(w http.ResponseWriter, r *http.Request, d guard.Denial) {
	data := g.base(r)
	data.Title = d.Title
	data.User = guard.IdentityFromContext(r.Context())
	data.Menu = guard.EvaluatorFromContext(r.Context()).AccessibleMenuItems()
	data.Data = d
	if err := g.Engine.RenderStatus(w, http.StatusForbidden, "pages/denied.html", data); err != nil {
		g.fallback().Denied(w, r, d)
	}
}

func (g GuardRenderer) base(r *http.Request) TemplateData {
	if g.Base != nil {
		return g.Base(r)
	}
	return TemplateData{CurrentPath: r.URL.Path}
}

func (g GuardRenderer) fallback() guard.Renderer {
	if g.Fallback != nil {
		return g.Fallback
	}
	return guard.TextRenderer{}
}

var _ guard.Renderer = GuardRenderer{}
