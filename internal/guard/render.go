package guard

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/synod-schools/portal/internal/rbac"
	"github.com/synod-schools/portal/internal/session"
)

// LoadingRefreshSeconds is the auto-refresh interval of the loading placeholder.
const LoadingRefreshSeconds = 1

// TextRenderer writes plain-text outcomes.
type TextRenderer struct{}

// Loading writes a placeholder that reloads itself.
func (TextRenderer) Loading(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Refresh", fmt.Sprint(LoadingRefreshSeconds))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintln(w, "Loading...")
}

// Denied writes the denial with the required and held grants.
func (TextRenderer) Denied(w http.ResponseWriter, r *http.Request, d Denial) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	_, _ = fmt.Fprintf(w, "%s\n%s\nRequired: %s\nYour grants: %s\n",
		d.Title, d.Message, strings.Join(d.Required, ", "), strings.Join(d.Held, ", "))
}

type evaluatorKey struct{}
type identityKey struct{}

// WithEvaluator stores the request evaluator in ctx.
func WithEvaluator(ctx context.Context, ev rbac.Evaluator) context.Context {
	return context.WithValue(ctx, evaluatorKey{}, ev)
}

// EvaluatorFromContext returns the evaluator stored by a passing guard,
// or an anonymous one.
func EvaluatorFromContext(ctx context.Context) rbac.Evaluator {
	ev, ok := ctx.Value(evaluatorKey{}).(rbac.Evaluator)
	if !ok {
		return rbac.Anonymous()
	}
	return ev
}

// WithIdentity stores the identity in ctx.
func WithIdentity(ctx context.Context, id *session.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by a passing guard.
func IdentityFromContext(ctx context.Context) *session.Identity {
	id, _ := ctx.Value(identityKey{}).(*session.Identity)
	return id
}
