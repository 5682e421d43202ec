package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/synod-schools/portal/internal/apiclient"
	"github.com/synod-schools/portal/internal/guard"
	"github.com/synod-schools/portal/internal/session"
	"github.com/synod-schools/portal/internal/shared"
	"github.com/synod-schools/portal/internal/shell"
	"github.com/synod-schools/portal/internal/view"
)

// AppPath is where a signed-in user lands.
const AppPath = "/app"

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger       *slog.Logger
	service      *Service
	templates    *view.Engine
	csrfManager  *shared.CSRFManager
	validator    *validator.Validate
	loginLimiter func(http.Handler) http.Handler
	platformOnly func(http.Handler) http.Handler
}

// HandlerConfig groups Handler dependencies. LoginLimiter and PlatformGuard are optional.
type HandlerConfig struct {
	Logger        *slog.Logger
	Service       *Service
	Templates     *view.Engine
	CSRF          *shared.CSRFManager
	LoginLimiter  func(http.Handler) http.Handler
	PlatformGuard func(http.Handler) http.Handler
}

// NewHandler constructs a Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	platformOnly := cfg.PlatformGuard
	if platformOnly == nil {
		platformOnly = (&guard.Guard{SuperAdmin: superAdminRequest}).RequireSuperAdmin()
	}
	return &Handler{
		logger:       logger,
		service:      cfg.Service,
		templates:    cfg.Templates,
		csrfManager:  cfg.CSRF,
		validator:    validator.New(),
		loginLimiter: cfg.LoginLimiter,
		platformOnly: platformOnly,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/super-admin/login", h.showSuperAdminLogin)
	r.Post("/super-admin/logout", h.handleSuperAdminLogout)
	r.With(h.platformOnly).Get("/super-admin/dashboard", h.showSuperAdminDashboard)
	r.Group(func(r chi.Router) {
		if h.loginLimiter != nil {
			r.Use(h.loginLimiter)
		}
		r.Post("/login", h.handleLogin)
		r.Post("/super-admin/login", h.handleSuperAdminLogin)
	})
}

type loginForm struct {
	Tenant   string `validate:"required,max=63"`
	Username string `validate:"required,max=254"`
	Password string `validate:"required"`
}

type superAdminForm struct {
	Username string `validate:"required,max=254"`
	Password string `validate:"required"`
}

type loginPageData struct {
	Form   loginForm
	Errors map[string]string
	// Retry offers a link back into the portal after a transient failure.
	Retry bool
}

type superAdminPageData struct {
	Form   superAdminForm
	Errors map[string]string
}

type superAdminDashboardData struct {
	Profile *apiclient.User
	Events  []shared.SessionEvent
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	data := loginPageData{Errors: map[string]string{}}
	if sh := shell.FromContext(r.Context()); sh != nil {
		snap := sh.Session.Snapshot()
		switch {
		case snap.State == session.StateAuthenticated:
			http.Redirect(w, r, AppPath, http.StatusSeeOther)
			return
		case snap.State == session.StateTransientError && snap.Error != "":
			data.Errors["general"] = snap.Error
			data.Retry = true
		}
	}
	h.renderLogin(w, r, http.StatusOK, data)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := loginForm{
		Tenant:   r.PostFormValue("tenant"),
		Username: r.PostFormValue("username"),
		Password: r.PostFormValue("password"),
	}
	errs := h.validate(form)
	if len(errs) == 0 {
		sh := shell.FromContext(r.Context())
		if sh == nil {
			h.logger.Error("shell missing during login")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		err := h.service.Login(r.Context(), sh, Credentials(form))
		if err == nil {
			addFlash(r, shared.FlashMessage{Kind: "success", Message: "Welcome back"})
			http.Redirect(w, r, AppPath, http.StatusSeeOther)
			return
		}
		if !isLoginRejection(err) {
			h.logger.Error("tenant login", slog.Any("error", err))
		}
		errs["general"] = LoginMessage(err)
	}
	form.Password = ""
	h.renderLogin(w, r, http.StatusBadRequest, loginPageData{Form: form, Errors: errs})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sh := shell.FromContext(r.Context()); sh != nil {
		if err := h.service.Logout(r.Context(), sh); err != nil {
			h.logger.Warn("logout", slog.Any("error", err))
		}
	}
	addFlash(r, shared.FlashMessage{Kind: "info", Message: "You have been signed out."})
	http.Redirect(w, r, guard.LoginPath, http.StatusSeeOther)
}

func (h *Handler) showSuperAdminLogin(w http.ResponseWriter, r *http.Request) {
	if superAdminRequest(r) {
		http.Redirect(w, r, "/super-admin/dashboard", http.StatusSeeOther)
		return
	}
	h.renderSuperAdminLogin(w, r, http.StatusOK, superAdminPageData{Errors: map[string]string{}})
}

func (h *Handler) handleSuperAdminLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := superAdminForm{
		Username: r.PostFormValue("username"),
		Password: r.PostFormValue("password"),
	}
	errs := h.validate(form)
	if len(errs) == 0 {
		sh := shell.FromContext(r.Context())
		if sh == nil {
			h.logger.Error("shell missing during platform login")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		_, err := h.service.SuperAdminLogin(r.Context(), sh, Credentials{Username: form.Username, Password: form.Password})
		if err == nil {
			http.Redirect(w, r, "/super-admin/dashboard", http.StatusSeeOther)
			return
		}
		if !isLoginRejection(err) {
			h.logger.Error("platform login", slog.Any("error", err))
		}
		errs["general"] = SuperAdminLoginMessage(err)
	}
	form.Password = ""
	h.renderSuperAdminLogin(w, r, http.StatusBadRequest, superAdminPageData{Form: form, Errors: errs})
}

func (h *Handler) handleSuperAdminLogout(w http.ResponseWriter, r *http.Request) {
	if sh := shell.FromContext(r.Context()); sh != nil {
		if err := h.service.SuperAdminLogout(r.Context(), sh); err != nil {
			h.logger.Warn("platform logout", slog.Any("error", err))
		}
	}
	http.Redirect(w, r, guard.SuperAdminLoginPath, http.StatusSeeOther)
}

func (h *Handler) showSuperAdminDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sh := shell.FromContext(ctx)
	if sh == nil {
		http.Redirect(w, r, guard.SuperAdminLoginPath, http.StatusSeeOther)
		return
	}
	profile, err := sh.API.SuperAdminMe(ctx)
	if err != nil {
		if apiclient.IsSessionInvalid(err) {
			if clearErr := h.service.SuperAdminLogout(ctx, sh); clearErr != nil {
				h.logger.Warn("clear platform token", slog.Any("error", clearErr))
			}
			http.Redirect(w, r, guard.SuperAdminLoginPath, http.StatusSeeOther)
			return
		}
		h.logger.Warn("load platform profile", slog.Any("error", err))
	}
	events, err := h.service.RecentEvents(ctx, EventFilter{Limit: DefaultEventLimit})
	if err != nil {
		h.logger.Warn("list session events", slog.Any("error", err))
	}
	data := h.base(r, "Platform dashboard")
	data.Data = superAdminDashboardData{Profile: profile, Events: events}
	if err := h.templates.Render(w, "pages/super_admin_dashboard.html", data); err != nil {
		h.logger.Error("render platform dashboard", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) validate(form any) map[string]string {
	errs := make(map[string]string)
	if err := h.validator.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				errs[fieldErr.Field()] = fieldMessage(fieldErr)
			}
		} else {
			errs["general"] = err.Error()
		}
	}
	return errs
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required."
	case "max":
		return fe.Field() + " is too long."
	default:
		return fe.Field() + " is invalid."
	}
}

func (h *Handler) renderLogin(w http.ResponseWriter, r *http.Request, status int, data loginPageData) {
	viewData := h.base(r, "Sign in")
	viewData.Data = data
	if err := h.templates.RenderStatus(w, status, "pages/login.html", viewData); err != nil {
		h.logger.Error("render login", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) renderSuperAdminLogin(w http.ResponseWriter, r *http.Request, status int, data superAdminPageData) {
	viewData := h.base(r, "Platform sign in")
	viewData.Data = data
	if err := h.templates.RenderStatus(w, status, "pages/super_admin_login.html", viewData); err != nil {
		h.logger.Error("render platform login", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) base(r *http.Request, title string) view.TemplateData {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	return view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
	}
}

func addFlash(r *http.Request, msg shared.FlashMessage) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(msg)
	}
}

// isLoginRejection reports an expected refusal that needs no error log.
func isLoginRejection(err error) bool {
	return errors.Is(err, ErrTenantRequired) || apiclient.StatusOf(err) != 0
}

func superAdminRequest(r *http.Request) bool {
	sh := shell.FromContext(r.Context())
	return sh != nil && sh.SuperAdmin(r.Context())
}

// ShowLoginForTest exposes the GET handler for tests.
func (h *Handler) ShowLoginForTest(w http.ResponseWriter, r *http.Request) {
	h.showLogin(w, r)
}

// HandleLoginForTest exposes the POST handler for tests.
func (h *Handler) HandleLoginForTest(w http.ResponseWriter, r *http.Request) {
	h.handleLogin(w, r)
}
