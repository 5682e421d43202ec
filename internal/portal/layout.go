package portal

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/synod-schools/portal/internal/guard"
	"github.com/synod-schools/portal/internal/shared"
	"github.com/synod-schools/portal/internal/shell"
	"github.com/synod-schools/portal/internal/view"
)

// Layout fills the fields every portal page shares.
type Layout struct {
	CSRF        *shared.CSRFManager
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

// Data builds TemplateData for r. Identity and menu come from the guard context.
func (l Layout) Data(r *http.Request, title string) view.TemplateData {
	ctx := r.Context()
	data := view.TemplateData{
		Title:       title,
		CurrentPath: r.URL.Path,
		IdleSeconds: int(l.IdleTimeout / time.Second),
	}
	sess := shared.SessionFromContext(ctx)
	if sess != nil {
		if l.CSRF != nil {
			token, err := l.CSRF.EnsureToken(ctx, sess)
			if err != nil {
				l.logger().WarnContext(ctx, "ensure csrf token", slog.Any("error", err))
			}
			data.CSRFToken = token
		}
		data.Flash = sess.PopFlash()
	}
	if user := guard.IdentityFromContext(ctx); user != nil {
		data.User = user
		data.Menu = guard.EvaluatorFromContext(ctx).AccessibleMenuItems()
	}
	if sh := shell.FromContext(ctx); sh != nil {
		cred, err := sh.Credentials.Get(ctx)
		if err != nil {
			l.logger().WarnContext(ctx, "read tenant", slog.Any("error", err))
		}
		data.Tenant = cred.Tenant
	}
	return data
}

// Base is the GuardRenderer hook.
func (l Layout) Base(r *http.Request) view.TemplateData {
	return l.Data(r, "")
}

func (l Layout) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}
