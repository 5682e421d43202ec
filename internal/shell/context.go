package shell

import "context"

type contextKey struct{}

// WithShell stores sh in ctx.
func WithShell(ctx context.Context, sh *Shell) context.Context {
	return context.WithValue(ctx, contextKey{}, sh)
}

// FromContext returns the shell stored by WithShell.
func FromContext(ctx context.Context) *Shell {
	sh, _ := ctx.Value(contextKey{}).(*Shell)
	return sh
}
