package validator_test

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/srus/yith-library-server/cache"
	rediscache "github.com/srus/yith-library-server/cache/redis"
	"github.com/srus/yith-library-server/client"
	"github.com/srus/yith-library-server/domain"
	"github.com/srus/yith-library-server/internal/auth"
	"github.com/srus/yith-library-server/memory"
	"github.com/srus/yith-library-server/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const callback = "https://example.com/callback"

type fixture struct {
	store   *memory.Store
	clients *client.ClientService
	v       *validator.RequestValidator
	client  *client.Client
	secret  string
	now     time.Time
}

func (f *fixture) clock() time.Time { return f.now }

func newFixture(t *testing.T, opts ...validator.Option) *fixture {
	t.Helper()
	log.Logger = zerolog.Nop()

	f := &fixture{
		store: memory.NewStore(),
		now:   time.Date(2012, 1, 10, 15, 31, 11, 0, time.UTC),
	}
	f.clients = client.NewClientService(f.store, client.WithSecretHasher(auth.NewBcryptSecretHasher(bcrypt.MinCost)))

	c, secret, err := f.clients.CreateClient(context.Background(), gofakeit.UUID(), client.Registration{
		Name:        gofakeit.AppName(),
		CallbackURL: callback,
	})
	require.NoError(t, err)
	f.client, f.secret = c, secret

	opts = append([]validator.Option{validator.WithClock(f.clock)}, opts...)
	f.v = validator.NewRequestValidator(f.clients, f.store, f.store, opts...)
	return f
}

func basic(id, secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(id+":"+secret))
}

func TestValidateClientID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := &validator.Request{}
	assert.True(t, f.v.ValidateClientID(ctx, f.client.ID, req))
	assert.Equal(t, f.client.ID, req.Client.ID)

	for _, id := range []string{"", "1234", gofakeit.UUID()} {
		req := &validator.Request{}
		assert.False(t, f.v.ValidateClientID(ctx, id, req), id)
		assert.Nil(t, req.Client)
	}
}

func TestValidateRedirectURI_Exact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		uri   string
		valid bool
	}{
		{uri: "https://example.com/callback", valid: true},
		{uri: "https://example.com/callback/", valid: false},
		{uri: "http://example.com/callback", valid: false},
		{uri: "https://EXAMPLE.com/callback", valid: false},
		{uri: "https://example.com/callback?x=1", valid: false},
		{uri: "", valid: false},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			assert.Equal(t, tt.valid, f.v.ValidateRedirectURI(ctx, f.client.ID, tt.uri, &validator.Request{}))
		})
	}

	assert.False(t, f.v.ValidateRedirectURI(ctx, gofakeit.UUID(), callback, &validator.Request{}))
	assert.Equal(t, callback, f.v.GetDefaultRedirectURI(ctx, f.client.ID, &validator.Request{}))
	assert.Equal(t, "", f.v.GetDefaultRedirectURI(ctx, "nope", &validator.Request{}))
}

func TestValidateRedirectURI_FollowsClientUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	moved := "https://example.com/moved"
	updated, err := f.clients.UpdateClient(ctx, f.client.ID, client.Registration{
		Name:        f.client.Name,
		CallbackURL: moved,
	})
	require.NoError(t, err)
	assert.Equal(t, f.client.ID, updated.ID)
	assert.Equal(t, f.client.SecretHash, updated.SecretHash)

	assert.False(t, f.v.ValidateRedirectURI(ctx, f.client.ID, callback, &validator.Request{}))
	assert.True(t, f.v.ValidateRedirectURI(ctx, f.client.ID, moved, &validator.Request{}))
	assert.Equal(t, moved, f.v.GetDefaultRedirectURI(ctx, f.client.ID, &validator.Request{}))

	// The secret issued at registration still authenticates.
	_, ok := f.clients.Authenticate(ctx, f.client.ID, f.secret)
	assert.True(t, ok)
}

func TestScopesAndTypes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := &validator.Request{}

	assert.True(t, f.v.ValidateScopes(ctx, f.client.ID, []string{"read-passwords", "write-passwords", "read-userinfo"}, req))
	assert.True(t, f.v.ValidateScopes(ctx, f.client.ID, nil, req))
	assert.False(t, f.v.ValidateScopes(ctx, f.client.ID, []string{"read-passwords", "admin"}, req))

	assert.Equal(t, []string{"read-passwords"}, f.v.GetDefaultScopes(ctx, f.client.ID, req))

	custom := validator.NewRequestValidator(f.clients, f.store, f.store, validator.WithDefaultScopes([]string{"read-userinfo"}))
	assert.Equal(t, []string{"read-userinfo"}, custom.GetDefaultScopes(ctx, f.client.ID, req))

	assert.True(t, f.v.ValidateResponseType(ctx, f.client.ID, "code", req))
	assert.True(t, f.v.ValidateResponseType(ctx, f.client.ID, "token", req))
	assert.False(t, f.v.ValidateResponseType(ctx, f.client.ID, "id_token", req))

	assert.True(t, f.v.ValidateGrantType(ctx, f.client.ID, "authorization_code", req))
	for _, gt := range []string{"", "password", "client_credentials", "refresh_token"} {
		assert.False(t, f.v.ValidateGrantType(ctx, f.client.ID, gt, req), gt)
	}
}

func TestAuthenticateClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		creds validator.Credentials
		ok    bool
	}{
		{name: "basic header", creds: validator.Credentials{Authorization: basic(f.client.ID, f.secret)}, ok: true},
		{name: "body fields", creds: validator.Credentials{ClientID: f.client.ID, ClientSecret: f.secret}, ok: true},
		{name: "header wins over body", creds: validator.Credentials{Authorization: basic(f.client.ID, "bad"), ClientID: f.client.ID, ClientSecret: f.secret}, ok: false},
		{name: "non basic scheme", creds: validator.Credentials{Authorization: "Bearer abc", ClientID: f.client.ID, ClientSecret: f.secret}, ok: false},
		{name: "bad base64", creds: validator.Credentials{Authorization: "Basic !!!"}, ok: false},
		{name: "no colon", creds: validator.Credentials{Authorization: "Basic " + base64.StdEncoding.EncodeToString([]byte(f.client.ID))}, ok: false},
		{name: "wrong secret", creds: validator.Credentials{Authorization: basic(f.client.ID, "wrong")}, ok: false},
		{name: "unknown client", creds: validator.Credentials{Authorization: basic(gofakeit.UUID(), f.secret)}, ok: false},
		{name: "nothing", creds: validator.Credentials{}, ok: false},
		{name: "missing secret", creds: validator.Credentials{ClientID: f.client.ID}, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &validator.Request{}
			assert.Equal(t, tt.ok, f.v.AuthenticateClient(ctx, tt.creds, req))
			if tt.ok {
				assert.Equal(t, f.client.ID, req.Client.ID)
			} else {
				assert.Nil(t, req.Client)
			}
		})
	}
}

func TestAuthorizationCodeLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := &validator.Request{UserID: "user-1", Scopes: []string{"read-passwords"}, RedirectURI: callback}
	require.NoError(t, f.v.SaveAuthorizationCode(ctx, f.client.ID, "code-1", req))

	t.Run("bound to client", func(t *testing.T) {
		assert.False(t, f.v.ValidateCode(ctx, gofakeit.UUID(), "code-1", &validator.Request{}))
	})

	t.Run("valid just before expiry", func(t *testing.T) {
		f.now = f.now.Add(10*time.Minute - time.Second)
		got := &validator.Request{}
		assert.True(t, f.v.ValidateCode(ctx, f.client.ID, "code-1", got))
		assert.Equal(t, "user-1", got.UserID)
		assert.Equal(t, []string{"read-passwords"}, got.Scopes)
	})

	t.Run("confirm redirect uri", func(t *testing.T) {
		assert.True(t, f.v.ConfirmRedirectURI(ctx, f.client.ID, "code-1", "", nil))
		assert.True(t, f.v.ConfirmRedirectURI(ctx, f.client.ID, "code-1", callback, nil))
		assert.False(t, f.v.ConfirmRedirectURI(ctx, f.client.ID, "code-1", callback+"/", nil))
		assert.False(t, f.v.ConfirmRedirectURI(ctx, f.client.ID, "missing", callback, nil))
	})

	t.Run("invalid just after expiry", func(t *testing.T) {
		f.now = f.now.Add(2 * time.Second)
		assert.False(t, f.v.ValidateCode(ctx, f.client.ID, "code-1", &validator.Request{}))
	})

	t.Run("invalidate once", func(t *testing.T) {
		require.NoError(t, f.v.InvalidateAuthorizationCode(ctx, f.client.ID, "code-1", nil))
		assert.ErrorIs(t, f.v.InvalidateAuthorizationCode(ctx, f.client.ID, "code-1", nil), domain.ErrAuthorizationCodeNotFound)
	})
}

func TestSaveAuthorizationCode_RequiresUser(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.v.SaveAuthorizationCode(context.Background(), f.client.ID, "c", &validator.Request{}))
}

func TestBearerToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := &validator.Request{Client: f.client, UserID: "user-1", Scopes: []string{"read-passwords", "write-passwords"}}
	require.NoError(t, f.v.SaveBearerToken(ctx, &validator.BearerToken{
		AccessToken:  "tok",
		RefreshToken: "ref",
		TokenType:    "Bearer",
		ExpiresIn:    3600,
	}, req))

	stored, err := f.store.GetAccessCode(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "ref", stored.RefreshToken)
	assert.True(t, f.now.Add(time.Hour).Equal(stored.ExpiresAt))

	t.Run("superset succeeds", func(t *testing.T) {
		got := &validator.Request{}
		assert.True(t, f.v.ValidateBearerToken(ctx, "tok", []string{"read-passwords"}, got))
		assert.Equal(t, "user-1", got.UserID)
		assert.Equal(t, f.client.ID, got.ClientID)
		assert.Equal(t, []string{"read-passwords"}, got.Scopes)
	})

	t.Run("no scopes required", func(t *testing.T) {
		assert.True(t, f.v.ValidateBearerToken(ctx, "tok", nil, &validator.Request{}))
	})

	t.Run("missing scope fails", func(t *testing.T) {
		assert.False(t, f.v.ValidateBearerToken(ctx, "tok", []string{"read-userinfo"}, &validator.Request{}))
	})

	t.Run("unknown or empty token fails", func(t *testing.T) {
		assert.False(t, f.v.ValidateBearerToken(ctx, "nope", nil, &validator.Request{}))
		assert.False(t, f.v.ValidateBearerToken(ctx, "", nil, &validator.Request{}))
	})

	t.Run("expiry boundary", func(t *testing.T) {
		f.now = stored.ExpiresAt.Add(-time.Second)
		assert.True(t, f.v.ValidateBearerToken(ctx, "tok", nil, &validator.Request{}))
		f.now = stored.ExpiresAt.Add(time.Second)
		assert.False(t, f.v.ValidateBearerToken(ctx, "tok", nil, &validator.Request{}))
	})
}

func TestBearerToken_NarrowScopeFailsWiderRequirement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := &validator.Request{Client: f.client, UserID: "user-1", Scopes: []string{"read-passwords"}}
	require.NoError(t, f.v.SaveBearerToken(ctx, &validator.BearerToken{AccessToken: "tok", ExpiresIn: 3600}, req))

	assert.False(t, f.v.ValidateBearerToken(ctx, "tok", []string{"read-passwords", "write-passwords"}, &validator.Request{}))
}

func TestBearerToken_UsesCache(t *testing.T) {
	tokenCache := cache.NewMemoryTokenStore(time.Minute)
	defer tokenCache.Close()

	f := newFixture(t, validator.WithTokenCache(tokenCache))
	ctx := context.Background()
	f.now = time.Now()

	req := &validator.Request{Client: f.client, UserID: "user-1", Scopes: []string{"read-passwords"}}
	require.NoError(t, f.v.SaveBearerToken(ctx, &validator.BearerToken{AccessToken: "tok", ExpiresIn: 3600}, req))
	assert.Equal(t, 0, tokenCache.Count(ctx))

	assert.True(t, f.v.ValidateBearerToken(ctx, "tok", []string{"read-passwords"}, &validator.Request{}))
	assert.Equal(t, 1, tokenCache.Count(ctx))

	// Deleting the client evicts its cached tokens along with the rows.
	evicting := client.NewClientService(f.store, client.WithTokenEvictor(tokenCache))
	require.NoError(t, evicting.DeleteClient(ctx, f.client.ID))
	assert.Equal(t, 0, tokenCache.Count(ctx))
	assert.False(t, f.v.ValidateBearerToken(ctx, "tok", []string{"read-passwords"}, &validator.Request{}))
}

func TestBearerToken_RedisCacheKeepsSubSecondExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	tokenCache := rediscache.NewTokenStore(rc, "yith", time.Hour)

	f := newFixture(t, validator.WithTokenCache(tokenCache))
	ctx := context.Background()
	f.now = time.Now().Truncate(time.Second).Add(500 * time.Millisecond)

	req := &validator.Request{Client: f.client, UserID: "user-1", Scopes: []string{"read-passwords"}}
	require.NoError(t, f.v.SaveBearerToken(ctx, &validator.BearerToken{AccessToken: "tok", ExpiresIn: 3600}, req))
	expiresAt := f.now.Add(time.Hour)

	// First lookup loads from the store and fills the cache.
	assert.True(t, f.v.ValidateBearerToken(ctx, "tok", nil, &validator.Request{}))
	require.Equal(t, 1, tokenCache.Count(ctx))

	f.now = expiresAt.Add(-100 * time.Millisecond)
	assert.True(t, f.v.ValidateBearerToken(ctx, "tok", nil, &validator.Request{}), "cached token rejected before its expiration")

	f.now = expiresAt.Add(time.Millisecond)
	assert.False(t, f.v.ValidateBearerToken(ctx, "tok", nil, &validator.Request{}))
}

func TestSaveBearerToken_RequiresClientAndUser(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.v.SaveBearerToken(context.Background(), &validator.BearerToken{AccessToken: "t"}, &validator.Request{UserID: "u"}))
	assert.Error(t, f.v.SaveBearerToken(context.Background(), &validator.BearerToken{AccessToken: "t"}, &validator.Request{Client: f.client}))
}

func TestGetOriginalScopes(t *testing.T) {
	f := newFixture(t)
	_, err := f.v.GetOriginalScopes(context.Background(), "refresh", &validator.Request{})
	assert.ErrorIs(t, err, validator.ErrNotSupported)
}
