package shared_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synod-schools/portal/internal/shared"
)

func newManager(t *testing.T) (*shared.SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return shared.NewSessionManager(client, "portal_session", "secret", time.Hour, false), mr
}

func commit(t *testing.T, sm *shared.SessionManager, sess *shared.Session) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, sm.Commit(context.Background(), rec, req, sess))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func TestSessionPersistsValuesAndFlashes(t *testing.T) {
	sm, mr := newManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	sess.Set("k", "v")
	sess.AddFlash(shared.FlashMessage{Kind: "info", Message: "You have been signed out."})
	cookie := commit(t, sm, sess)
	assert.Equal(t, sm.CookieValue(sess.ID), cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, mr.Exists("portal:session:"+sess.ID))

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	req.AddCookie(cookie)
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "v", loaded.Get("k"))
	flash := loaded.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "You have been signed out.", flash.Message)
	commit(t, sm, loaded)

	again, err := sm.Load(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, again.PopFlash(), "a popped flash is shown once")
}

func TestSessionExists(t *testing.T) {
	sm, mr := newManager(t)
	ctx := context.Background()

	ok, err := sm.Exists(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	commit(t, sm, sess)

	ok, err = sm.Exists(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Hour)
	ok, err = sm.Exists(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDestroyedSessionClearsCookie(t *testing.T) {
	sm, mr := newManager(t)
	ctx := context.Background()
	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	commit(t, sm, sess)

	sm.Destroy(sess)
	cookie := commit(t, sm, sess)
	assert.Equal(t, -1, cookie.MaxAge)
	assert.False(t, mr.Exists("portal:session:"+sess.ID))
}

func TestCSRFTokenBoundToSession(t *testing.T) {
	sm, _ := newManager(t)
	csrf := shared.NewCSRFManager("csrfsecret")
	ctx := context.Background()
	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	token, err := csrf.EnsureToken(ctx, sess)
	require.NoError(t, err)
	again, err := csrf.EnsureToken(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, token, again)

	assert.NoError(t, csrf.VerifyToken(ctx, sess, token))
	assert.ErrorIs(t, csrf.VerifyToken(ctx, sess, ""), shared.ErrCSRFTokenMissing)
	assert.ErrorIs(t, csrf.VerifyToken(ctx, sess, token+"x"), shared.ErrCSRFTokenMismatch)
	assert.ErrorIs(t, csrf.VerifyToken(ctx, nil, token), shared.ErrCSRFTokenMissing)

	_, err = csrf.EnsureToken(ctx, nil)
	assert.ErrorIs(t, err, shared.ErrSessionMissing)
}

func TestCSRFTokenRejectedForOtherSession(t *testing.T) {
	sm, _ := newManager(t)
	csrf := shared.NewCSRFManager("csrfsecret")
	ctx := context.Background()
	first, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	second, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	token, err := csrf.EnsureToken(ctx, first)
	require.NoError(t, err)

	second.Set(shared.CSRFSessionKey, token)
	assert.ErrorIs(t, csrf.VerifyToken(ctx, second, token), shared.ErrCSRFTokenMismatch)

	reissued, err := csrf.EnsureToken(ctx, second)
	require.NoError(t, err)
	assert.NotEqual(t, token, reissued)
}

func TestTamperedCookieStartsFreshSession(t *testing.T) {
	sm, _ := newManager(t)
	ctx := context.Background()
	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.Set("k", "v")
	cookie := commit(t, sm, sess)

	forged := httptest.NewRequest(http.MethodGet, "/", nil)
	forged.AddCookie(&http.Cookie{Name: cookie.Name, Value: sess.ID + ".forged"})
	loaded, err := sm.Load(ctx, forged)
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, loaded.ID)
	assert.Empty(t, loaded.Get("k"))

	unknown := httptest.NewRequest(http.MethodGet, "/", nil)
	unknown.AddCookie(&http.Cookie{Name: cookie.Name, Value: sm.CookieValue("never-stored")})
	loaded, err = sm.Load(ctx, unknown)
	require.NoError(t, err)
	assert.NotEqual(t, "never-stored", loaded.ID, "ids the server never issued are not adopted")
}
