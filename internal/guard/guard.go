// Package guard gates portal routes on the session identity. Every guard
// waits for a pending identity fetch, sends signed-out visitors to the
// login page and renders an access-denied view when the rule fails.
package guard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/synod-schools/portal/internal/rbac"
	"github.com/synod-schools/portal/internal/session"
)

const (
	// LoginPath receives visitors without an identity.
	LoginPath = "/login"
	// SuperAdminLoginPath receives visitors without a platform token.
	SuperAdminLoginPath = "/super-admin/login"
	// DefaultWait bounds how long a guard waits for a pending identity fetch.
	DefaultWait = 2 * time.Second
)

// Source is the per-request view of the session store.
type Source interface {
	Sync(ctx context.Context) error
	Wait(ctx context.Context) error
	Snapshot() session.Snapshot
}

// Outcome is the result class of a guard decision.
type Outcome int

const (
	OutcomeAllow Outcome = iota
	OutcomeLoading
	OutcomeRedirect
	OutcomeDenied
)

// Denial describes why access was refused.
type Denial struct {
	Title    string
	Message  string
	Required []string
	Held     []string
}

// Decision is what a guard does with a request.
type Decision struct {
	Outcome  Outcome
	Redirect string
	Denial   Denial
}

// Rule decides access for a present identity.
type Rule func(rbac.Evaluator) (bool, Denial)

// Decide applies the shared skeleton: loading, then identity, then rule.
func Decide(snap session.Snapshot, rule Rule) Decision {
	if snap.State == session.StateLoading {
		return Decision{Outcome: OutcomeLoading}
	}
	if snap.Identity == nil {
		return Decision{Outcome: OutcomeRedirect, Redirect: LoginPath}
	}
	if rule == nil {
		return Decision{Outcome: OutcomeAllow}
	}
	ev := snap.Evaluator()
	if ok, denial := rule(ev); !ok {
		return Decision{Outcome: OutcomeDenied, Denial: denial}
	}
	return Decision{Outcome: OutcomeAllow}
}

// Renderer draws the non-pass outcomes.
type Renderer interface {
	Loading(w http.ResponseWriter, r *http.Request)
	Denied(w http.ResponseWriter, r *http.Request, d Denial)
}

// Guard builds route middleware.
type Guard struct {
	// Source resolves the session store for a request. A nil result is treated as signed out.
	Source func(*http.Request) Source
	// SuperAdmin reports whether the request carries a platform token.
	SuperAdmin func(*http.Request) bool
	Renderer   Renderer
	Wait       time.Duration
	Logger     *slog.Logger
}

// Require wraps next with rule.
func (g *Guard) Require(rule Rule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap := g.settle(r)
			decision := Decide(snap, rule)
			switch decision.Outcome {
			case OutcomeLoading:
				g.renderer().Loading(w, r)
			case OutcomeRedirect:
				http.Redirect(w, r, decision.Redirect, http.StatusSeeOther)
			case OutcomeDenied:
				g.logger().InfoContext(r.Context(), "access denied",
					slog.String("path", r.URL.Path),
					slog.Any("required", decision.Denial.Required))
				ctx := WithEvaluator(r.Context(), snap.Evaluator())
				ctx = WithIdentity(ctx, snap.Identity)
				g.renderer().Denied(w, r.WithContext(ctx), decision.Denial)
			default:
				ctx := WithEvaluator(r.Context(), snap.Evaluator())
				ctx = WithIdentity(ctx, snap.Identity)
				next.ServeHTTP(w, r.WithContext(ctx))
			}
		})
	}
}

// Authenticated only requires an identity.
func (g *Guard) Authenticated() func(http.Handler) http.Handler {
	return g.Require(nil)
}

// RequirePermission passes when any of perms is held.
func (g *Guard) RequirePermission(perms ...rbac.Permission) func(http.Handler) http.Handler {
	return g.Require(PermissionRule(perms...))
}

// RequireRole passes when any of roles is held.
func (g *Guard) RequireRole(roles ...rbac.Role) func(http.Handler) http.Handler {
	return g.Require(RoleRule(roles...))
}

// ParentOnly admits the Parent role.
func (g *Guard) ParentOnly() func(http.Handler) http.Handler {
	return g.RequireRole(rbac.RoleParent)
}

// TeacherOnly admits the Teacher role.
func (g *Guard) TeacherOnly() func(http.Handler) http.Handler {
	return g.RequireRole(rbac.RoleTeacher)
}

// RequireModule passes when the module table grants access.
func (g *Guard) RequireModule(module string) func(http.Handler) http.Handler {
	return g.Require(ModuleRule(module))
}

// RequireSuperAdmin redirects to the platform login when no platform token is stored.
func (g *Guard) RequireSuperAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.SuperAdmin == nil || !g.SuperAdmin(r) {
				http.Redirect(w, r, SuperAdminLoginPath, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Guard) settle(r *http.Request) session.Snapshot {
	if g.Source == nil {
		return session.Snapshot{}
	}
	src := g.Source(r)
	if src == nil {
		return session.Snapshot{}
	}
	ctx := r.Context()
	if err := src.Sync(ctx); err != nil {
		g.logger().ErrorContext(ctx, "guard sync session", slog.Any("error", err))
	}
	wait := g.Wait
	if wait <= 0 {
		wait = DefaultWait
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := src.Wait(waitCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		g.logger().WarnContext(ctx, "guard wait session", slog.Any("error", err))
	}
	return src.Snapshot()
}

func (g *Guard) renderer() Renderer {
	if g.Renderer == nil {
		return TextRenderer{}
	}
	return g.Renderer
}

func (g *Guard) logger() *slog.Logger {
	if g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}
