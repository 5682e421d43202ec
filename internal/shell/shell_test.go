package shell_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synod-schools/portal/internal/credential"
	"github.com/synod-schools/portal/internal/idle"
	"github.com/synod-schools/portal/internal/session"
	"github.com/synod-schools/portal/internal/shared"
	"github.com/synod-schools/portal/internal/shell"
	"github.com/synod-schools/portal/internal/testutil/fakeapi"
	"github.com/synod-schools/portal/internal/testutil/fakeclock"
)

type recorder struct {
	mu     sync.Mutex
	events []shared.SessionEvent
}

func (r *recorder) Publish(_ context.Context, ev shared.SessionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) kinds() []shared.SessionEventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]shared.SessionEventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *recorder) last() shared.SessionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type fixture struct {
	api       *fakeapi.Server
	clock     *fakeclock.Clock
	published *recorder
	registry  *shell.Registry

	mu     sync.Mutex
	stores map[string]*credential.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		api:       fakeapi.New(),
		clock:     fakeclock.New(),
		published: &recorder{},
		stores:    make(map[string]*credential.MemoryStore),
	}
	t.Cleanup(f.api.Close)
	f.api.AddUser("acme", fakeapi.User{
		ID:          7,
		Email:       "t@acme",
		FullName:    "Tina Teacher",
		Password:    "pw",
		Roles:       []string{"Teacher"},
		Permissions: []string{"students.read"},
	})
	f.registry = shell.NewRegistry(shell.Config{
		APIBaseURL:  f.api.URL,
		IdleTimeout: 20 * time.Minute,
		IdleOptions: []idle.Option{f.clock.Option()},
		Credentials: func(id string) credential.Store { return f.creds(id) },
		Publisher:   f.published,
	})
	t.Cleanup(f.registry.CloseAll)
	return f
}

func (f *fixture) creds(id string) *credential.MemoryStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	store, ok := f.stores[id]
	if !ok {
		store = credential.NewMemoryStore()
		f.stores[id] = store
	}
	return store
}

// signIn stores a valid pair for id and opens a loaded shell.
func (f *fixture) signIn(t *testing.T, id string) *shell.Shell {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.creds(id).Set(ctx, f.api.Issue("acme", 7), "acme"))
	sh, err := f.registry.Open(ctx, id)
	require.NoError(t, err)
	settle(t, sh)
	require.Equal(t, session.StateAuthenticated, sh.Session.State())
	return sh
}

func settle(t *testing.T, sh *shell.Shell) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sh.Session.Sync(ctx))
	require.NoError(t, sh.Session.Wait(ctx))
}

func TestOpenSharesShellPerSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	shells := make([]*shell.Shell, 8)
	for i := range shells {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sh, err := f.registry.Open(ctx, "sess-1")
			assert.NoError(t, err)
			shells[i] = sh
		}(i)
	}
	wg.Wait()
	for _, sh := range shells[1:] {
		assert.Same(t, shells[0], sh)
	}
	assert.Equal(t, 1, f.registry.Len())

	other, err := f.registry.Open(ctx, "sess-2")
	require.NoError(t, err)
	assert.NotSame(t, shells[0], other)

	_, err = f.registry.Open(ctx, "")
	assert.ErrorIs(t, err, shell.ErrEmptySessionID)
}

func TestOpenWithoutCredentialsDoesNotArmIdle(t *testing.T) {
	f := newFixture(t)
	sh, err := f.registry.Open(context.Background(), "anon")
	require.NoError(t, err)
	assert.True(t, sh.IdleDeadline().IsZero())
	assert.False(t, sh.Touch(idle.SignalClick))
	assert.Zero(t, f.clock.Pending())
}

func TestIdleExpiryLogsOut(t *testing.T) {
	f := newFixture(t)
	sh := f.signIn(t, "sess-1")
	assert.Equal(t, f.clock.Now().Add(20*time.Minute), sh.IdleDeadline())

	f.clock.Advance(20 * time.Minute)

	cred, err := sh.Credentials.Get(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cred.Token)
	assert.Empty(t, cred.Tenant)
	assert.Equal(t, session.StateUnauthenticated, sh.Session.State())
	assert.Nil(t, sh.Session.Identity())
	assert.Equal(t, session.LoginPath, sh.TakeNavigation())
	assert.Empty(t, sh.TakeNavigation())

	require.Contains(t, f.published.kinds(), shared.SessionEventIdleExpired)
	ev := f.published.last()
	assert.Equal(t, shared.SessionEventIdleExpired, ev.Kind)
	assert.Equal(t, "sess-1", ev.SessionID)
	assert.Equal(t, "acme", ev.Tenant)
	assert.Equal(t, int64(7), ev.UserID)
	assert.False(t, ev.At.IsZero())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines(substr string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, line := range strings.Split(b.buf.String(), "\n") {
		if strings.Contains(line, substr) {
			out = append(out, line)
		}
	}
	return out
}

func TestIdleExpiryLogNamesSessionOnce(t *testing.T) {
	f := newFixture(t)
	logs := &syncBuffer{}
	registry := shell.NewRegistry(shell.Config{
		APIBaseURL:  f.api.URL,
		IdleTimeout: 20 * time.Minute,
		IdleOptions: []idle.Option{f.clock.Option()},
		Credentials: func(id string) credential.Store { return f.creds(id) },
		Logger:      slog.New(slog.NewTextHandler(logs, nil)),
	})
	t.Cleanup(registry.CloseAll)

	ctx := context.Background()
	require.NoError(t, f.creds("sess-9").Set(ctx, f.api.Issue("acme", 7), "acme"))
	sh, err := registry.Open(ctx, "sess-9")
	require.NoError(t, err)
	settle(t, sh)

	f.clock.Advance(20 * time.Minute)

	lines := logs.lines("session idle expired")
	require.Len(t, lines, 1)
	assert.Equal(t, 1, strings.Count(lines[0], "session=sess-9"))
}

func TestActivityPostponesIdleExpiry(t *testing.T) {
	f := newFixture(t)
	sh := f.signIn(t, "sess-1")

	f.clock.Advance(10 * time.Minute)
	require.True(t, sh.Touch(idle.SignalKeyDown))
	f.clock.Advance(15 * time.Minute)

	assert.Equal(t, session.StateAuthenticated, sh.Session.State())
	assert.Empty(t, sh.Navigation())

	f.clock.Advance(5 * time.Minute)
	assert.Equal(t, session.StateUnauthenticated, sh.Session.State())
	assert.Equal(t, session.LoginPath, sh.Navigation())
}

func TestLoginAfterExpiryRearmsIdle(t *testing.T) {
	f := newFixture(t)
	sh := f.signIn(t, "sess-1")
	f.clock.Advance(20 * time.Minute)
	require.True(t, sh.IdleDeadline().IsZero())

	require.NoError(t, sh.Credentials.Set(context.Background(), f.api.Issue("acme", 7), "acme"))
	settle(t, sh)

	assert.Equal(t, session.StateAuthenticated, sh.Session.State())
	assert.Empty(t, sh.Navigation(), "a fresh identity clears the pending redirect")
	assert.False(t, sh.IdleDeadline().IsZero())
}

func TestInvalidatedSessionIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creds := f.creds("sess-1")
	require.NoError(t, creds.Set(ctx, f.api.Issue("acme", 7), "acme"))
	f.api.FailMe(http.StatusUnauthorized, "Invalid token")

	sh, err := f.registry.Open(ctx, "sess-1")
	require.NoError(t, err)
	settle(t, sh)

	assert.Equal(t, session.StateUnauthenticated, sh.Session.State())
	assert.Equal(t, session.LoginPath, sh.Navigation())
	assert.True(t, sh.IdleDeadline().IsZero(), "invalidation releases the idle monitor")

	cred, err := creds.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, cred.Token)

	ev := f.published.last()
	assert.Equal(t, shared.SessionEventInvalidated, ev.Kind)
	assert.Equal(t, http.StatusUnauthorized, ev.Meta["status"])
	assert.Equal(t, "Invalid token", ev.Meta["detail"])
}

func TestExplicitLogoutIsNotInvalidation(t *testing.T) {
	f := newFixture(t)
	sh := f.signIn(t, "sess-1")

	require.NoError(t, sh.Session.Logout(context.Background()))

	assert.True(t, sh.IdleDeadline().IsZero())
	assert.NotContains(t, f.published.kinds(), shared.SessionEventInvalidated)
}

func TestSuperAdminFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sh, err := f.registry.Open(ctx, "ops")
	require.NoError(t, err)
	assert.False(t, sh.SuperAdmin(ctx))

	require.NoError(t, sh.Credentials.SetSuperAdminToken(ctx, "platform-token"))
	assert.True(t, sh.SuperAdmin(ctx))
}

func TestRecordCarriesClientMetadata(t *testing.T) {
	f := newFixture(t)
	sh, err := f.registry.Open(context.Background(), "sess-1")
	require.NoError(t, err)

	ctx := shared.ContextWithClient(context.Background(), shared.ClientInfo{
		RemoteAddr: "203.0.113.9:5555",
		UserAgent:  "portal-test",
	})
	sh.Record(ctx, shared.SessionEvent{Kind: shared.SessionEventLogin, Tenant: "acme"})

	ev := f.published.last()
	assert.Equal(t, "sess-1", ev.SessionID)
	assert.Equal(t, "203.0.113.9:5555", ev.RemoteAddr)
	assert.Equal(t, "portal-test", ev.UserAgent)
	assert.False(t, ev.At.IsZero())
}

func TestCloseReleasesShell(t *testing.T) {
	f := newFixture(t)
	sh := f.signIn(t, "sess-1")
	f.signIn(t, "sess-2")
	require.Equal(t, 2, f.clock.Pending())

	f.registry.Close("sess-1")
	sh.Close()
	_, ok := f.registry.Get("sess-1")
	assert.False(t, ok)
	assert.Equal(t, 1, f.registry.Len())
	assert.Equal(t, 1, f.clock.Pending())

	cred, err := f.creds("sess-1").Get(context.Background())
	require.NoError(t, err)
	assert.True(t, cred.Valid(), "closing a shell keeps the stored credential")

	f.registry.CloseAll()
	assert.Zero(t, f.registry.Len())
	assert.Zero(t, f.clock.Pending())
}

func TestSweepClosesShellsOfVanishedSessions(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "sess-1")
	f.signIn(t, "sess-2")
	_, err := f.registry.Open(context.Background(), "sess-3")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sess-1", "sess-2", "sess-3"}, f.registry.IDs())

	alive := func(_ context.Context, id string) (bool, error) {
		switch id {
		case "sess-1":
			return true, nil
		case "sess-3":
			return false, errors.New("redis timeout")
		default:
			return false, nil
		}
	}
	closed := f.registry.Sweep(context.Background(), alive)
	assert.Equal(t, 1, closed)
	assert.ElementsMatch(t, []string{"sess-1", "sess-3"}, f.registry.IDs())
	assert.Equal(t, 1, f.clock.Pending())
}
