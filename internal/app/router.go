package app

import (
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/synod-schools/portal/internal/auth"
	"github.com/synod-schools/portal/internal/guard"
	"github.com/synod-schools/portal/internal/observability"
	"github.com/synod-schools/portal/internal/portal"
	"github.com/synod-schools/portal/internal/shared"
	"github.com/synod-schools/portal/internal/shell"
	"github.com/synod-schools/portal/internal/view"
	"github.com/synod-schools/portal/jobs"
	"github.com/synod-schools/portal/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Templates      *view.Engine
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Shells         *shell.Registry
	AuthService    *auth.Service
	JobHandler     *jobs.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with portal defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Shells:         params.Shells,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	if !InTestMode() {
		r.Use(chimw.Logger)
	}

	layout := portal.Layout{
		CSRF:        params.CSRFManager,
		IdleTimeout: params.Config.IdleTimeout(),
		Logger:      params.Logger,
	}
	g := &guard.Guard{
		Source:     portal.SessionSource,
		SuperAdmin: portal.SuperAdminRequest,
		Renderer:   view.GuardRenderer{Engine: params.Templates, Base: layout.Base},
		Wait:       identityWait(params.Config),
		Logger:     params.Logger,
	}

	authHandler := auth.NewHandler(auth.HandlerConfig{
		Logger:        params.Logger,
		Service:       params.AuthService,
		Templates:     params.Templates,
		CSRF:          params.CSRFManager,
		LoginLimiter:  LoginLimiter(params.Config),
		PlatformGuard: g.RequireSuperAdmin(),
	})
	portalHandler := portal.NewHandler(portal.HandlerConfig{
		Logger:    params.Logger,
		Templates: params.Templates,
		Layout:    layout,
		Guard:     g,
		Auth:      params.AuthService,
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, auth.AppPath, http.StatusSeeOther)
	})

	authHandler.MountRoutes(r)
	r.Route(auth.AppPath, portalHandler.MountRoutes)
	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			r.Use(g.RequireSuperAdmin())
			params.JobHandler.MountRoutes(r)
		})
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

// staticCacheHandler wraps a file server with Cache-Control headers.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}

func identityWait(cfg *Config) time.Duration {
	if cfg == nil {
		return guard.DefaultWait
	}
	return cfg.IdentityWait
}
