package shared

import "context"

type sessionContextKey struct{}

type clientContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// ClientInfo describes the browser behind a request.
type ClientInfo struct {
	RemoteAddr string
	UserAgent  string
}

// ContextWithClient stores client details for audit records.
func ContextWithClient(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientContextKey{}, info)
}

// ClientFromContext extracts client details stored by ContextWithClient.
func ClientFromContext(ctx context.Context) (ClientInfo, bool) {
	info, ok := ctx.Value(clientContextKey{}).(ClientInfo)
	return info, ok
}
