package credential

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// Header names exchanged with the school API.
const (
	HeaderAuthorization  = "Authorization"
	HeaderTenant         = "X-Tenant"
	HeaderRefreshedToken = "X-Refreshed-Token"
)

// RefreshFunc is told about a refreshed token after it has been persisted.
type RefreshFunc func(ctx context.Context, token string)

// TenantTransport decorates tenant-scoped API requests with the stored
// bearer token and tenant, and persists tokens refreshed by the server.
type TenantTransport struct {
	Store     Store
	Base      http.RoundTripper
	OnRefresh RefreshFunc
	Logger    *slog.Logger
}

// RoundTrip implements http.RoundTripper.
func (t *TenantTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	cred, err := t.Store.Get(ctx)
	if err != nil {
		closeBody(req)
		return nil, fmt.Errorf("credential: load for request: %w", err)
	}

	out := req.Clone(ctx)
	if cred.Token != "" {
		out.Header.Set(HeaderAuthorization, "Bearer "+cred.Token)
	}
	if cred.Tenant != "" {
		out.Header.Set(HeaderTenant, cred.Tenant)
	}

	resp, err := base(t.Base).RoundTrip(out)
	if err != nil {
		return resp, err
	}
	t.captureRefresh(ctx, resp)
	return resp, nil
}

// captureRefresh persists a server-issued token when it differs from the stored one.
// A refresh arriving after the session ended is dropped so a cleared pair is not revived.
func (t *TenantTransport) captureRefresh(ctx context.Context, resp *http.Response) {
	refreshed := resp.Header.Get(HeaderRefreshedToken)
	if refreshed == "" {
		return
	}
	current, err := t.Store.Get(ctx)
	if err != nil {
		t.logger().Warn("refresh token: load store", slog.Any("error", err))
		return
	}
	if !current.Valid() || current.Token == refreshed {
		return
	}
	if err := t.Store.SetToken(ctx, refreshed); err != nil {
		t.logger().Warn("refresh token: persist", slog.Any("error", err))
		return
	}
	if t.OnRefresh != nil {
		t.OnRefresh(ctx, refreshed)
	}
}

func (t *TenantTransport) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// PlatformTransport decorates super-admin requests. It never sends X-Tenant.
type PlatformTransport struct {
	Store Store
	Base  http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *PlatformTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	cred, err := t.Store.Get(ctx)
	if err != nil {
		closeBody(req)
		return nil, fmt.Errorf("credential: load for platform request: %w", err)
	}

	out := req.Clone(ctx)
	out.Header.Del(HeaderTenant)
	out.Header.Del(HeaderAuthorization)
	if cred.SuperAdminToken != "" {
		out.Header.Set(HeaderAuthorization, "Bearer "+cred.SuperAdminToken)
	}
	return base(t.Base).RoundTrip(out)
}

func base(rt http.RoundTripper) http.RoundTripper {
	if rt != nil {
		return rt
	}
	return http.DefaultTransport
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
