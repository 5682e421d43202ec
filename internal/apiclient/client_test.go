package apiclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synod-schools/portal/internal/apiclient"
	"github.com/synod-schools/portal/internal/credential"
	"github.com/synod-schools/portal/internal/testutil/fakeapi"
)

func newAPI(t *testing.T) *fakeapi.Server {
	t.Helper()
	api := fakeapi.New()
	t.Cleanup(api.Close)
	api.AddUser("acme", fakeapi.User{
		ID:          7,
		Email:       "t@acme",
		FullName:    "Tina Teacher",
		Password:    "pw",
		Roles:       []string{"Teacher"},
		Permissions: []string{"students.read"},
	})
	api.AddSuperAdmin(fakeapi.User{ID: 1, Email: "root@platform", Password: "root"})
	return api
}

func TestLoginThenMeCarriesBothHeaders(t *testing.T) {
	ctx := context.Background()
	api := newAPI(t)
	store := credential.NewMemoryStore()
	client := apiclient.New(apiclient.Options{BaseURL: api.URL, Store: store})

	token, err := client.Login(ctx, "acme", apiclient.LoginRequest{Username: "t@acme", Password: "pw"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	login, ok := api.LastRequest("/api/auth/login")
	require.True(t, ok)
	assert.Equal(t, "acme", login.Tenant)
	assert.Empty(t, login.Authorization)

	require.NoError(t, store.Set(ctx, token, "acme"))
	user, err := client.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), user.ID)
	assert.Equal(t, []string{"Teacher"}, user.Roles)
	assert.Equal(t, []string{"students.read"}, user.Permissions)

	me, ok := api.LastRequest("/api/auth/me")
	require.True(t, ok)
	assert.Equal(t, "Bearer "+token, me.Authorization)
	assert.Equal(t, "acme", me.Tenant)
}

func TestLoginFailures(t *testing.T) {
	ctx := context.Background()
	api := newAPI(t)
	client := apiclient.New(apiclient.Options{BaseURL: api.URL, Store: credential.NewMemoryStore()})

	_, err := client.Login(ctx, "acme", apiclient.LoginRequest{Username: "t@acme", Password: "wrong"})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, apiclient.StatusOf(err))
	assert.Equal(t, "Invalid credentials", apiclient.Message(err, ""))

	_, err = client.Login(ctx, "nowhere", apiclient.LoginRequest{Username: "t@acme", Password: "pw"})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, apiclient.StatusOf(err))
}

func TestMeRefreshIsCaptured(t *testing.T) {
	ctx := context.Background()
	api := newAPI(t)
	api.RefreshOnMe(true)
	store := credential.NewMemoryStore()
	token := api.Issue("acme", 7)
	require.NoError(t, store.Set(ctx, token, "acme"))

	var refreshed string
	client := apiclient.New(apiclient.Options{
		BaseURL:   api.URL,
		Store:     store,
		OnRefresh: func(_ context.Context, tok string) { refreshed = tok },
	})
	_, err := client.Me(ctx)
	require.NoError(t, err)

	cred, err := store.Get(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, token, cred.Token)
	assert.Equal(t, cred.Token, refreshed)
	assert.Equal(t, "acme", cred.Tenant)
}

func TestSuperAdminChannel(t *testing.T) {
	ctx := context.Background()
	api := newAPI(t)
	store := credential.NewMemoryStore()
	require.NoError(t, store.Set(ctx, api.Issue("acme", 7), "acme"))
	client := apiclient.New(apiclient.Options{BaseURL: api.URL, Store: store})

	token, err := client.SuperAdminLogin(ctx, apiclient.LoginRequest{Username: "root@platform", Password: "root"})
	require.NoError(t, err)
	require.NoError(t, store.SetSuperAdminToken(ctx, token))

	admin, err := client.SuperAdminMe(ctx)
	require.NoError(t, err)
	assert.True(t, admin.SuperAdmin)
	assert.Equal(t, []string{"Super Administrator"}, admin.Roles)

	for _, req := range api.Requests() {
		if req.Path == "/api/auth/super-admin/me" || req.Path == "/api/auth/super-admin/login" {
			assert.False(t, req.HasTenant, "%s must not carry a tenant", req.Path)
		}
	}
	last, _ := api.LastRequest("/api/auth/super-admin/me")
	assert.Equal(t, "Bearer "+token, last.Authorization)
}

func TestTenants(t *testing.T) {
	ctx := context.Background()
	api := newAPI(t)
	api.AddUser("beta", fakeapi.User{ID: 9, Email: "x@beta", Password: "pw"})
	store := credential.NewMemoryStore()
	require.NoError(t, store.Set(ctx, api.Issue("acme", 7), "acme"))

	tenants, err := apiclient.New(apiclient.Options{BaseURL: api.URL, Store: store}).Tenants(ctx)
	require.NoError(t, err)
	slugs := make([]string, 0, len(tenants))
	for _, tenant := range tenants {
		slugs = append(slugs, tenant.Slug)
	}
	assert.ElementsMatch(t, []string{"acme", "beta"}, slugs)
}

func TestErrorDetailParsing(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantDetail string
		invalid    bool
	}{
		{name: "string detail", status: http.StatusBadRequest, body: `{"detail":"Bad things"}`, wantDetail: "Bad things"},
		{name: "structured detail", status: http.StatusUnprocessableEntity, body: `{"detail":[{"loc":["body"]}]}`, wantDetail: `[{"loc":["body"]}]`},
		{name: "empty body", status: http.StatusInternalServerError, body: ``},
		{name: "not json", status: http.StatusBadGateway, body: `<html>`},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"detail":"nope"}`, wantDetail: "nope", invalid: true},
		{name: "expired on 403", status: http.StatusForbidden, body: `{"detail":"Session expired due to inactivity"}`, wantDetail: "Session expired due to inactivity", invalid: true},
		{name: "invalid token on 400", status: http.StatusBadRequest, body: `{"detail":"Invalid token"}`, wantDetail: "Invalid token", invalid: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			store := credential.NewMemoryStore()
			_, err := apiclient.New(apiclient.Options{BaseURL: srv.URL, Store: store}).Me(context.Background())
			require.Error(t, err)

			var apiErr *apiclient.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.wantDetail, apiErr.Detail)
			assert.Equal(t, tt.invalid, apiclient.IsSessionInvalid(err))
		})
	}
}

func TestMessageFallbacks(t *testing.T) {
	assert.Equal(t, "fallback", apiclient.Message(&apiclient.APIError{Status: 500}, "fallback"))
	assert.Equal(t, "api: 500 Internal Server Error", apiclient.Message(&apiclient.APIError{Status: 500}, ""))
	assert.Equal(t, "Internal Server Error", (&apiclient.APIError{Status: 500}).Message())
	assert.False(t, apiclient.IsSessionInvalid(nil))
	assert.Zero(t, apiclient.StatusOf(assert.AnError))
}
