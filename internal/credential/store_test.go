package credential_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synod-schools/portal/internal/credential"
)

type storeFactory func(t *testing.T) credential.Store

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) credential.Store {
			return credential.NewMemoryStore()
		},
		"redis": func(t *testing.T) credential.Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return credential.NewRedisStore(client, "sid-1", time.Hour)
		},
		"file": func(t *testing.T) credential.Store {
			return credential.NewFileStore(filepath.Join(t.TempDir(), "nested", "credentials.json"))
		},
	}
}

func TestStoreContract(t *testing.T) {
	for name, newStore := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			cred, err := store.Get(ctx)
			require.NoError(t, err)
			assert.False(t, cred.Valid())

			require.NoError(t, store.Set(ctx, "tok-1", "acme"))
			cred, err = store.Get(ctx)
			require.NoError(t, err)
			assert.Equal(t, "tok-1", cred.Token)
			assert.Equal(t, "acme", cred.Tenant)
			assert.True(t, cred.Valid())

			require.NoError(t, store.SetToken(ctx, "tok-2"))
			cred, err = store.Get(ctx)
			require.NoError(t, err)
			assert.Equal(t, "tok-2", cred.Token)
			assert.Equal(t, "acme", cred.Tenant)

			require.NoError(t, store.SetSuperAdminToken(ctx, "platform"))
			cleared, err := store.ClearToken(ctx, "tok-1")
			require.NoError(t, err)
			assert.False(t, cleared, "a superseded token does not clear the current one")
			cred, err = store.Get(ctx)
			require.NoError(t, err)
			assert.Equal(t, "tok-2", cred.Token)

			cleared, err = store.ClearToken(ctx, "tok-2")
			require.NoError(t, err)
			assert.True(t, cleared)
			cred, err = store.Get(ctx)
			require.NoError(t, err)
			assert.Empty(t, cred.Token)
			assert.Equal(t, "acme", cred.Tenant)
			assert.False(t, cred.Valid())
			assert.Equal(t, "platform", cred.SuperAdminToken)

			require.NoError(t, store.Set(ctx, "tok-3", "beta"))
			require.NoError(t, store.Clear(ctx))
			cred, err = store.Get(ctx)
			require.NoError(t, err)
			assert.Empty(t, cred.Token)
			assert.Empty(t, cred.Tenant)
			assert.Equal(t, "platform", cred.SuperAdminToken, "clearing the tenant pair leaves the platform token")

			require.NoError(t, store.Set(ctx, "tok-4", "beta"))
			require.NoError(t, store.ClearSuperAdminToken(ctx))
			cred, err = store.Get(ctx)
			require.NoError(t, err)
			assert.Empty(t, cred.SuperAdminToken)
			assert.True(t, cred.Valid(), "clearing the platform token leaves the tenant pair")
		})
	}
}

func TestRequireSession(t *testing.T) {
	ctx := context.Background()
	store := credential.NewMemoryStore()

	_, err := credential.RequireSession(ctx, store)
	assert.ErrorIs(t, err, credential.ErrNoSession)

	require.NoError(t, store.SetTenant(ctx, "acme"))
	_, err = credential.RequireSession(ctx, store)
	assert.ErrorIs(t, err, credential.ErrNoSession, "tenant without token is no session")

	require.NoError(t, store.Set(ctx, "tok", ""))
	_, err = credential.RequireSession(ctx, store)
	assert.ErrorIs(t, err, credential.ErrNoSession, "token without tenant is no session")

	require.NoError(t, store.Set(ctx, "tok", "acme"))
	cred, err := credential.RequireSession(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "tok", cred.Token)
}

func TestRedisStoreKeysAndTTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := credential.NewRedisStore(client, "abc", 30*time.Minute)
	require.NoError(t, store.Set(ctx, "tok", "acme"))

	key := credential.RedisKey("abc")
	assert.Equal(t, "tok", mr.HGet(key, credential.KeyToken))
	assert.Equal(t, "acme", mr.HGet(key, credential.KeyTenant))
	assert.Equal(t, 30*time.Minute, mr.TTL(key))

	other := credential.NewRedisStore(client, "xyz", time.Hour)
	cred, err := other.Get(ctx)
	require.NoError(t, err)
	assert.False(t, cred.Valid(), "sessions are isolated by id")

	require.NoError(t, store.Destroy(ctx))
	assert.False(t, mr.Exists(key))
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.json")

	require.NoError(t, credential.NewFileStore(path).Set(ctx, "tok", "acme"))

	cred, err := credential.NewFileStore(path).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok", cred.Token)
	assert.Equal(t, "acme", cred.Tenant)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := credential.NewFileStore(path).Get(context.Background())
	assert.Error(t, err)
}
