// Package portal serves the signed-in pages of the school portal: the
// dashboard, module pages, role areas, tenant switching and the idle
// activity endpoint polled by the browser.
package portal

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/synod-schools/portal/internal/auth"
	"github.com/synod-schools/portal/internal/credential"
	"github.com/synod-schools/portal/internal/guard"
	"github.com/synod-schools/portal/internal/idle"
	"github.com/synod-schools/portal/internal/platform/httpx"
	"github.com/synod-schools/portal/internal/rbac"
	"github.com/synod-schools/portal/internal/session"
	"github.com/synod-schools/portal/internal/shared"
	"github.com/synod-schools/portal/internal/shell"
	"github.com/synod-schools/portal/internal/view"
)

// ExpiredFlash is shown after an idle or invalidated session is sent to the login page.
const ExpiredFlash = "Your session has ended. Please sign in again."

// Modules lists the module pages gated by the module access table.
var Modules = []string{
	rbac.ModuleStudents,
	rbac.ModuleTeachers,
	rbac.ModuleAcademic,
	rbac.ModuleFinance,
	rbac.ModuleCommunications,
	rbac.ModuleLibrary,
	rbac.ModuleSettings,
	rbac.ModuleReports,
}

var moduleActions = []string{"create", "update", "delete", "manage", "generate"}

// Handler serves the portal pages.
type Handler struct {
	logger    *slog.Logger
	templates *view.Engine
	layout    Layout
	guard     *guard.Guard
	auth      *auth.Service
}

// HandlerConfig groups Handler dependencies.
type HandlerConfig struct {
	Logger    *slog.Logger
	Templates *view.Engine
	Layout    Layout
	Guard     *guard.Guard
	Auth      *auth.Service
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		templates: cfg.Templates,
		layout:    cfg.Layout,
		guard:     cfg.Guard,
		auth:      cfg.Auth,
	}
}

// MountRoutes registers the /app routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/activity", h.activityStatus)
	r.Post("/activity", h.recordActivity)

	r.Group(func(r chi.Router) {
		r.Use(NavigationMiddleware)
		r.With(h.guard.Authenticated()).Get("/", h.showDashboard)
		r.With(h.guard.Authenticated()).Post("/tenant", h.switchTenant)
		r.With(h.guard.ParentOnly()).Get("/parent-portal", h.page("pages/parent_portal.html", "My Children"))
		r.With(h.guard.TeacherOnly()).Get("/teacher", h.page("pages/teacher.html", "Teacher workspace"))
		for _, module := range Modules {
			r.With(h.guard.RequireModule(module)).Get("/"+module, h.showModule(module))
		}
	})
}

type modulePageData struct {
	Module  string
	Label   string
	Actions []string
}

func (h *Handler) showDashboard(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pages/dashboard.html", h.layout.Data(r, "Dashboard"))
}

func (h *Handler) page(name, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.render(w, r, name, h.layout.Data(r, title))
	}
}

func (h *Handler) showModule(module string) http.HandlerFunc {
	label := moduleLabel(module)
	return func(w http.ResponseWriter, r *http.Request) {
		ev := guard.EvaluatorFromContext(r.Context())
		actions := make([]string, 0, len(moduleActions))
		for _, action := range moduleActions {
			if ev.CanPerformAction(module, action) {
				actions = append(actions, action)
			}
		}
		data := h.layout.Data(r, label)
		data.Data = modulePageData{Module: module, Label: label, Actions: actions}
		h.render(w, r, "pages/module.html", data)
	}
}

func (h *Handler) switchTenant(w http.ResponseWriter, r *http.Request) {
	sh := shell.FromContext(r.Context())
	if sh == nil {
		http.Redirect(w, r, guard.LoginPath, http.StatusSeeOther)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	tenant := r.PostFormValue("tenant")
	err := h.auth.SwitchTenant(r.Context(), sh, tenant)
	switch {
	case err == nil:
		addFlash(r, shared.FlashMessage{Kind: "success", Message: fmt.Sprintf("Switched to %s.", auth.NormalizeTenant(tenant))})
	case errors.Is(err, auth.ErrTenantRequired):
		addFlash(r, shared.FlashMessage{Kind: "error", Message: "Tenant is required."})
	case errors.Is(err, credential.ErrNoSession):
		http.Redirect(w, r, guard.LoginPath, http.StatusSeeOther)
		return
	default:
		h.logger.Error("switch tenant", slog.Any("error", err))
		addFlash(r, shared.FlashMessage{Kind: "error", Message: "Could not switch school. Please try again."})
	}
	http.Redirect(w, r, auth.AppPath, http.StatusSeeOther)
}

// ActivityStatus is the JSON body of the activity endpoint.
type ActivityStatus struct {
	Active   bool       `json:"active"`
	Deadline *time.Time `json:"deadline,omitempty"`
	Redirect string     `json:"redirect,omitempty"`
}

type activityRequest struct {
	Signal string `json:"signal"`
}

func (h *Handler) activityStatus(w http.ResponseWriter, r *http.Request) {
	sh := shell.FromContext(r.Context())
	if sh == nil {
		httpx.JSON(w, http.StatusOK, ActivityStatus{Redirect: guard.LoginPath})
		return
	}
	httpx.JSON(w, http.StatusOK, h.status(r, sh))
}

func (h *Handler) recordActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: activity body must be JSON", httpx.ErrValidation))
		return
	}
	sig, ok := idle.ParseSignal(req.Signal)
	if !ok {
		httpx.RespondError(w, fmt.Errorf("%w: unknown signal %q", httpx.ErrValidation, req.Signal))
		return
	}
	sh := shell.FromContext(r.Context())
	if sh == nil {
		httpx.JSON(w, http.StatusOK, ActivityStatus{Redirect: guard.LoginPath})
		return
	}
	sh.Touch(sig)
	httpx.JSON(w, http.StatusOK, h.status(r, sh))
}

func (h *Handler) status(r *http.Request, sh *shell.Shell) ActivityStatus {
	var st ActivityStatus
	if deadline := sh.IdleDeadline(); !deadline.IsZero() {
		st.Active = true
		st.Deadline = &deadline
	}
	if target := sh.TakeNavigation(); target != "" {
		st.Redirect = target
		addFlash(r, shared.FlashMessage{Kind: "warning", Message: ExpiredFlash})
		return st
	}
	if !st.Active && sh.Session.State() != session.StateLoading && sh.Session.Identity() == nil {
		st.Redirect = guard.LoginPath
	}
	return st
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, name string, data view.TemplateData) {
	if err := h.templates.Render(w, name, data); err != nil {
		h.logger.Error("render page", slog.String("template", name), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// NavigationMiddleware follows a navigation the session queued while the
// browser was away, such as the login page after an idle expiry. Otherwise
// the page load counts as activity and restarts the idle timer.
func NavigationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sh := shell.FromContext(r.Context())
		if sh == nil {
			next.ServeHTTP(w, r)
			return
		}
		target := sh.TakeNavigation()
		if target == "" || target == r.URL.Path {
			sh.Touch(idle.SignalPageLoad)
			next.ServeHTTP(w, r)
			return
		}
		addFlash(r, shared.FlashMessage{Kind: "warning", Message: ExpiredFlash})
		http.Redirect(w, r, target, http.StatusSeeOther)
	})
}

// SessionSource resolves the guard source of a request from its shell.
func SessionSource(r *http.Request) guard.Source {
	sh := shell.FromContext(r.Context())
	if sh == nil {
		return nil
	}
	return sh.Session
}

// SuperAdminRequest reports whether the request's shell holds a platform token.
func SuperAdminRequest(r *http.Request) bool {
	sh := shell.FromContext(r.Context())
	return sh != nil && sh.SuperAdmin(r.Context())
}

func moduleLabel(module string) string {
	for _, item := range rbac.DefaultMenu() {
		if item.Key == module {
			return item.Label
		}
	}
	if module == "" {
		return ""
	}
	return strings.ToUpper(module[:1]) + module[1:]
}

func addFlash(r *http.Request, msg shared.FlashMessage) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(msg)
	}
}
