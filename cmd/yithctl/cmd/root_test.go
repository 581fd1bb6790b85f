package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/srus/yith-library-server/cache"
	rediscache "github.com/srus/yith-library-server/cache/redis"
	"github.com/srus/yith-library-server/config"
	"github.com/srus/yith-library-server/domain"
	"github.com/srus/yith-library-server/memory"
	"github.com/srus/yith-library-server/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func useStore(t *testing.T) *memory.Store {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CLIENT_SECRET_HASH_COST", "4")

	store := memory.NewStore()
	orig := openRepositories
	openRepositories = func(context.Context, *config.ServerConfig) (services.RepositoryProvider, func(context.Context), error) {
		return services.NewStoreProvider(store), func(context.Context) {}, nil
	}
	t.Cleanup(func() { openRepositories = orig })
	return store
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestClientCommands(t *testing.T) {
	store := useStore(t)

	out, err := run(t, "client", "create",
		"--owner", "dev-1",
		"--name", "Example",
		"--main-url", "https://example.com",
		"--callback-url", "https://example.com/callback",
		"--origin", "https://example.com",
	)
	require.NoError(t, err)

	var created clientView
	require.NoError(t, yaml.Unmarshal([]byte(out), &created))
	assert.NotEmpty(t, created.ID)
	assert.Len(t, created.Secret, 32)
	assert.Equal(t, []string{"https://example.com"}, created.AuthorizedOrigins)

	out, err = run(t, "client", "list", "--owner", "dev-1")
	require.NoError(t, err)
	var listed []clientView
	require.NoError(t, yaml.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)
	assert.Empty(t, listed[0].Secret)

	_, err = run(t, "client", "list")
	assert.Error(t, err)

	_, err = run(t, "client", "delete", created.ID)
	require.NoError(t, err)

	_, err = store.GetClient(context.Background(), created.ID)
	assert.Error(t, err)
}

func TestClientUpdateCommand(t *testing.T) {
	store := useStore(t)
	ctx := context.Background()

	out, err := run(t, "client", "create",
		"--owner", "dev-1",
		"--name", "Example",
		"--main-url", "https://example.com",
		"--callback-url", "https://example.com/callback",
		"--origin", "https://example.com",
	)
	require.NoError(t, err)
	var created clientView
	require.NoError(t, yaml.Unmarshal([]byte(out), &created))

	before, err := store.GetClient(ctx, created.ID)
	require.NoError(t, err)

	out, err = run(t, "client", "update", created.ID,
		"--callback-url", "https://example.com/new-callback",
		"--production-ready",
	)
	require.NoError(t, err)

	var updated clientView
	require.NoError(t, yaml.Unmarshal([]byte(out), &updated))
	assert.Equal(t, created.ID, updated.ID)
	assert.Empty(t, updated.Secret)
	assert.Equal(t, "https://example.com/new-callback", updated.CallbackURL)
	assert.True(t, updated.ProductionReady)
	// Unset flags keep what was stored.
	assert.Equal(t, "Example", updated.Name)
	assert.Equal(t, "https://example.com", updated.MainURL)
	assert.Equal(t, []string{"https://example.com"}, updated.AuthorizedOrigins)

	after, err := store.GetClient(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, before.SecretHash, after.SecretHash)
	assert.Equal(t, "dev-1", after.OwnerID)

	_, err = run(t, "client", "update", created.ID, "--callback-url", "/relative")
	assert.Error(t, err)

	_, err = run(t, "client", "update", "00000000-0000-0000-0000-000000000000", "--name", "x")
	assert.Error(t, err)
}

func TestClientCreate_RequiresOwner(t *testing.T) {
	useStore(t)
	_, err := run(t, "client", "create", "--name", "Example")
	assert.Error(t, err)
}

func TestConsentCommands(t *testing.T) {
	store := useStore(t)
	ctx := context.Background()

	for _, clientID := range []string{"app-1", "app-2"} {
		require.NoError(t, store.UpsertAuthorizedApplication(ctx, &domain.AuthorizedApplication{
			UserID: "u1", ClientID: clientID, Scopes: []string{domain.ScopeReadPasswords},
			RedirectURI: "https://example.com/callback", ResponseType: "code",
		}))
	}

	out, err := run(t, "consent", "list", "u1")
	require.NoError(t, err)
	var listed []consentView
	require.NoError(t, yaml.Unmarshal([]byte(out), &listed))
	assert.Len(t, listed, 2)

	_, err = run(t, "consent", "revoke", "u1", "app-1")
	require.NoError(t, err)

	_, err = run(t, "consent", "revoke", "u1", "app-1")
	assert.ErrorIs(t, err, domain.ErrAuthorizedApplicationNotFound)

	out, err = run(t, "consent", "revoke-all", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "1 consents revoked")
}

func TestReapCommand(t *testing.T) {
	store := useStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	require.NoError(t, store.SaveAuthorizationCode(ctx, &domain.AuthorizationCode{Code: "c1", ClientID: "app", ExpiresAt: past}))
	require.NoError(t, store.SaveAccessCode(ctx, &domain.AccessCode{Code: "t1", ExpiresAt: past}))

	out, err := run(t, "reap")
	require.NoError(t, err)

	var res map[string]int64
	require.NoError(t, yaml.Unmarshal([]byte(out), &res))
	assert.Equal(t, int64(1), res["authorization_codes"])
	assert.Equal(t, int64(1), res["access_codes"])
}

func TestSharedTokenCacheEviction(t *testing.T) {
	store := useStore(t)
	ctx := context.Background()

	mr := miniredis.RunT(t)
	t.Setenv("TOKEN_CACHE", "redis")
	t.Setenv("REDIS_ADDR", mr.Addr())

	out, err := run(t, "client", "create",
		"--owner", "dev-1",
		"--name", "Example",
		"--callback-url", "https://example.com/callback",
	)
	require.NoError(t, err)
	var created clientView
	require.NoError(t, yaml.Unmarshal([]byte(out), &created))

	rc := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	shared := rediscache.NewTokenStore(rc, "yith", time.Hour)
	require.NoError(t, shared.Set(ctx, cache.NewTokenEntry(&domain.AccessCode{
		Code: "tok", ClientID: created.ID, ExpiresAt: time.Now().Add(time.Hour),
	})))
	mr.HSet("yith:token:stale", "expires_at", "1")

	_, err = run(t, "reap")
	require.NoError(t, err)
	assert.False(t, mr.Exists("yith:token:stale"))
	assert.Equal(t, 1, shared.Count(ctx))

	_, err = run(t, "client", "delete", created.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, shared.Count(ctx))

	_, err = store.GetClient(ctx, created.ID)
	assert.Error(t, err)
}

func TestMigrate_RequiresPostgres(t *testing.T) {
	useStore(t)
	_, err := run(t, "migrate", "up", "--storage-backend", "memory")
	assert.Error(t, err)
}
