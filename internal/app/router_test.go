package app_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synod-schools/portal/internal/app"
	"github.com/synod-schools/portal/internal/auth"
	"github.com/synod-schools/portal/internal/idle"
	"github.com/synod-schools/portal/internal/observability"
	"github.com/synod-schools/portal/internal/portal"
	"github.com/synod-schools/portal/internal/shared"
	"github.com/synod-schools/portal/internal/shell"
	"github.com/synod-schools/portal/internal/testutil/fakeapi"
	"github.com/synod-schools/portal/internal/testutil/fakeclock"
	"github.com/synod-schools/portal/internal/view"
	"github.com/synod-schools/portal/jobs"
	_ "github.com/synod-schools/portal/testing"
)

var csrfField = regexp.MustCompile(`name="csrf-token" content="([^"]+)"`)

type portalEnv struct {
	server   *httptest.Server
	api      *fakeapi.Server
	clock    *fakeclock.Clock
	shells   *shell.Registry
	sessions *shared.SessionManager
}

func newPortalEnv(t *testing.T) *portalEnv {
	t.Helper()
	api := fakeapi.New()
	t.Cleanup(api.Close)
	teacher := fakeapi.User{
		ID:          7,
		Email:       "t@acme",
		FullName:    "Tina Teacher",
		Password:    "correct-horse",
		Roles:       []string{"Teacher"},
		Permissions: []string{"students.read", "students.update", "academic.read"},
	}
	api.AddUser("acme", teacher)
	api.AddUser("beta", teacher)
	api.AddSuperAdmin(fakeapi.User{ID: 1, Email: "root@platform", FullName: "Platform Root", Password: "s3cret"})

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	cfg := &app.Config{
		AppEnv:             "test",
		AppRequestTimeout:  10 * time.Second,
		SessionIdleMinutes: 20,
		IdentityWait:       2 * time.Second,
		RateLimit:          1000,
		LoginRateLimit:     100,
	}
	clock := fakeclock.New()
	shells := shell.NewRegistry(shell.Config{
		APIBaseURL:  api.URL,
		IdleTimeout: cfg.IdleTimeout(),
		IdleOptions: []idle.Option{clock.Option()},
	})
	t.Cleanup(shells.CloseAll)

	templates, err := view.NewEngine()
	require.NoError(t, err)
	sessions := shared.NewSessionManager(redisClient, "portal_session", "secret", time.Hour, false)

	router := app.NewRouter(app.RouterParams{
		Config:         cfg,
		Templates:      templates,
		SessionManager: sessions,
		CSRFManager:    shared.NewCSRFManager("csrfsecret"),
		Shells:         shells,
		AuthService:    auth.NewService(auth.ServiceConfig{IdentityWait: 5 * time.Second}),
		JobHandler:     jobs.NewHandler(nil, nil),
		Metrics:        observability.NewMetrics(),
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &portalEnv{server: server, api: api, clock: clock, shells: shells, sessions: sessions}
}

type browser struct {
	t      *testing.T
	env    *portalEnv
	client *http.Client
	csrf   string
}

func (e *portalEnv) browser(t *testing.T) *browser {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{
		t:   t,
		env: e,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) do(req *http.Request) (*http.Response, string) {
	b.t.Helper()
	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	if m := csrfField.FindSubmatch(body); m != nil && string(m[1]) != "" {
		b.csrf = string(m[1])
	}
	return resp, string(body)
}

func (b *browser) get(path string) (*http.Response, string) {
	req, err := http.NewRequest(http.MethodGet, b.env.server.URL+path, nil)
	require.NoError(b.t, err)
	return b.do(req)
}

func (b *browser) post(path string, form url.Values) (*http.Response, string) {
	if form == nil {
		form = url.Values{}
	}
	if form.Get(shared.CSRFFormField) == "" && b.csrf != "" {
		form.Set(shared.CSRFFormField, b.csrf)
	}
	req, err := http.NewRequest(http.MethodPost, b.env.server.URL+path, strings.NewReader(form.Encode()))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func (b *browser) postJSON(path string, body any) (*http.Response, string) {
	data, err := json.Marshal(body)
	require.NoError(b.t, err)
	req, err := http.NewRequest(http.MethodPost, b.env.server.URL+path, strings.NewReader(string(data)))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", b.csrf)
	return b.do(req)
}

func (b *browser) signIn(tenant, username, password string) *http.Response {
	b.t.Helper()
	b.get("/login")
	require.NotEmpty(b.t, b.csrf)
	resp, _ := b.post("/login", url.Values{"tenant": {tenant}, "username": {username}, "password": {password}})
	return resp
}

func TestHealthz(t *testing.T) {
	env := newPortalEnv(t)
	resp, body := env.browser(t).get("/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, body)
}

func TestSignedOutVisitorIsSentToLogin(t *testing.T) {
	env := newPortalEnv(t)
	b := env.browser(t)

	resp, _ := b.get("/")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/app", resp.Header.Get("Location"))

	for _, path := range []string{"/app", "/app/students", "/app/teacher"} {
		resp, _ = b.get(path)
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode, path)
		assert.Equal(t, "/login", resp.Header.Get("Location"), path)
	}
}

func TestPostWithoutCSRFTokenIsRejected(t *testing.T) {
	env := newPortalEnv(t)
	b := env.browser(t)
	b.get("/login")

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/login",
		strings.NewReader(url.Values{"tenant": {"acme"}, "username": {"t@acme"}, "password": {"correct-horse"}}.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, _ := b.do(req)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSignedInTeacherSeesPermittedMenu(t *testing.T) {
	env := newPortalEnv(t)
	b := env.browser(t)

	resp := b.signIn("acme", "t@acme", "correct-horse")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/app", resp.Header.Get("Location"))

	resp, body := b.get("/app")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Welcome back")
	assert.Contains(t, body, "Tina Teacher")
	assert.Contains(t, body, `href="/app/students"`)
	assert.Contains(t, body, `href="/app/academic"`)
	assert.NotContains(t, body, `href="/app/finance"`)
	assert.NotContains(t, body, `href="/app/parent-portal"`)
	assert.Contains(t, body, `name="idle-timeout" content="1200"`)
	assert.Contains(t, body, `value="acme"`)
}

func TestModuleGuards(t *testing.T) {
	env := newPortalEnv(t)
	b := env.browser(t)
	b.signIn("acme", "t@acme", "correct-horse")

	resp, body := b.get("/app/students")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "<h1>Students</h1>")
	assert.Contains(t, body, "<li>update</li>")
	assert.NotContains(t, body, "<li>delete</li>")

	resp, body = b.get("/app/finance")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body, "Access Denied")
	assert.Contains(t, body, "finance.read")
	assert.Contains(t, body, `href="/app/students"`, "the denied page keeps the navigation")

	resp, _ = b.get("/app/teacher")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = b.get("/app/parent-portal")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body, "Parent")
}

func TestActivityEndpoint(t *testing.T) {
	env := newPortalEnv(t)
	b := env.browser(t)
	b.signIn("acme", "t@acme", "correct-horse")
	b.get("/app")

	env.clock.Advance(10 * time.Minute)
	resp, body := b.postJSON("/app/activity", map[string]string{"signal": "keydown"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status portal.ActivityStatus
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	assert.True(t, status.Active)
	require.NotNil(t, status.Deadline)
	assert.True(t, status.Deadline.Equal(env.clock.Now().Add(20*time.Minute)))
	assert.Empty(t, status.Redirect)

	resp, _ = b.postJSON("/app/activity", map[string]string{"signal": "teleport"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIdleExpirySendsBrowserToLogin(t *testing.T) {
	env := newPortalEnv(t)
	b := env.browser(t)
	b.signIn("acme", "t@acme", "correct-horse")
	b.get("/app")

	env.clock.Advance(20 * time.Minute)

	resp, body := b.get("/app/activity")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status portal.ActivityStatus
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	assert.False(t, status.Active)
	assert.Equal(t, "/login", status.Redirect)

	resp, body = b.get("/login")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, portal.ExpiredFlash)

	resp, _ = b.get("/app")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestIdleExpiryRedirectsPageRequest(t *testing.T) {
	env := newPortalEnv(t)
	b := env.browser(t)
	b.signIn("acme", "t@acme", "correct-horse")
	b.get("/app")

	env.clock.Advance(20 * time.Minute)

	resp, _ := b.get("/app/students")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
	_, body := b.get("/login")
	assert.Contains(t, body, portal.ExpiredFlash)
}

func TestPageLoadsKeepSessionAlive(t *testing.T) {
	env := newPortalEnv(t)
	b := env.browser(t)
	b.signIn("acme", "t@acme", "correct-horse")
	b.get("/app")

	env.clock.Advance(19 * time.Minute)
	resp, _ := b.get("/app/students")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env.clock.Advance(2 * time.Minute)
	resp, body := b.get("/app/students")
	require.Equal(t, http.StatusOK, resp.StatusCode, "the previous page load restarted the idle timer")
	assert.Contains(t, body, "<h1>Students</h1>")
}

func TestTransientFailureIsShownAndRetried(t *testing.T) {
	env := newPortalEnv(t)
	b := env.browser(t)
	b.signIn("acme", "t@acme", "correct-horse")
	b.get("/app")

	env.api.FailMe(http.StatusServiceUnavailable, "Database unavailable")
	b.post("/app/tenant", url.Values{"tenant": {"beta"}})

	resp, _ := b.get("/app")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	resp, body := b.get("/login")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Database unavailable")
	assert.Contains(t, body, `href="/app"`)

	env.api.FailMe(0, "")
	resp, body = b.get("/app")
	require.Equal(t, http.StatusOK, resp.StatusCode, "the same credentials are fetched again")
	assert.Contains(t, body, "Tina Teacher")
	assert.Contains(t, body, `value="beta"`)
}

func TestJSONPostWithBadCSRFTokenGetsProblem(t *testing.T) {
	env := newPortalEnv(t)
	b := env.browser(t)
	b.signIn("acme", "t@acme", "correct-horse")
	b.get("/app")
	b.csrf = "forged"

	resp, body := b.postJSON("/app/activity", map[string]string{"signal": "keydown"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
	assert.Contains(t, body, `"title":"Forbidden"`)
}

func TestSwitchTenantFromPortal(t *testing.T) {
	env := newPortalEnv(t)
	b := env.browser(t)
	b.signIn("acme", "t@acme", "correct-horse")
	b.get("/app")

	resp, _ := b.post("/app/tenant", url.Values{"tenant": {"Beta"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/app", resp.Header.Get("Location"))

	resp, body := b.get("/app")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Switched to beta.")
	assert.Contains(t, body, `value="beta"`)
	last, ok := env.api.LastRequest("/api/auth/me")
	require.True(t, ok)
	assert.Equal(t, "beta", last.Tenant)
}

func TestLogoutEndsPortalAccess(t *testing.T) {
	env := newPortalEnv(t)
	b := env.browser(t)
	b.signIn("acme", "t@acme", "correct-horse")
	b.get("/app")

	resp, _ := b.post("/logout", nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	resp, _ = b.get("/app")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestJobsRequirePlatformToken(t *testing.T) {
	env := newPortalEnv(t)
	b := env.browser(t)

	resp, _ := b.get("/jobs/health")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/super-admin/login", resp.Header.Get("Location"))

	b.get("/super-admin/login")
	resp, _ = b.post("/super-admin/login", url.Values{"username": {"root@platform"}, "password": {"s3cret"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp, body := b.get("/jobs/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"queue":"audit"`)
}

func TestShellsFollowBrowserSessions(t *testing.T) {
	env := newPortalEnv(t)
	b := env.browser(t)
	b.signIn("acme", "t@acme", "correct-horse")
	require.Equal(t, 1, env.shells.Len())

	closed := env.shells.Sweep(context.Background(), env.sessions.Exists)
	assert.Zero(t, closed)
	assert.Equal(t, 1, env.shells.Len())

	closed = env.shells.Sweep(context.Background(), func(context.Context, string) (bool, error) { return false, nil })
	assert.Equal(t, 1, closed)
	assert.Zero(t, env.shells.Len())
}

func TestMetricsEndpoint(t *testing.T) {
	env := newPortalEnv(t)
	b := env.browser(t)
	b.get("/healthz")

	resp, body := b.get("/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "portal_http_requests_total")
}
