package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/srus/yith-library-server/client"
	"github.com/srus/yith-library-server/consent"
	serrors "github.com/srus/yith-library-server/errors"
	"github.com/srus/yith-library-server/internal/audit"
	"github.com/srus/yith-library-server/internal/auth"
	applog "github.com/srus/yith-library-server/log"
	"github.com/srus/yith-library-server/memory"
	"github.com/srus/yith-library-server/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const callback = "https://example.com/callback"

type env struct {
	store     *memory.Store
	validator *validator.RequestValidator
	authz     *AuthorizationService
	tokens    *TokenService
	client    *client.Client
	secret    string
	user      string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log.Logger = zerolog.Nop()
	audit.SetOutput(io.Discard)

	store := memory.NewStore()
	clients := client.NewClientService(store, client.WithSecretHasher(auth.NewBcryptSecretHasher(bcrypt.MinCost)))
	c, secret, err := clients.CreateClient(context.Background(), gofakeit.UUID(), client.Registration{
		Name:        "Example",
		MainURL:     "https://example.com",
		CallbackURL: callback,
		OwnerEmail:  "owner@example.com",
	})
	require.NoError(t, err)

	v := validator.NewRequestValidator(clients, store, store)
	return &env{
		store:     store,
		validator: v,
		authz:     NewAuthorizationService(v, consent.NewTracker(store, nil), store, time.Hour, applog.NewNopLogger()),
		tokens:    NewTokenService(v, store, time.Hour, applog.NewNopLogger()),
		client:    c,
		secret:    secret,
		user:      gofakeit.UUID(),
	}
}

func (e *env) request() AuthorizationRequest {
	return AuthorizationRequest{
		ClientID:     e.client.ID,
		RedirectURI:  callback,
		ResponseType: "code",
		Scope:        "read-passwords",
		State:        "xyz",
	}
}

func (e *env) credentials() validator.Credentials {
	return validator.Credentials{ClientID: e.client.ID, ClientSecret: e.secret}
}

func (e *env) consentCount(t *testing.T) int {
	t.Helper()
	apps, err := e.store.ListAuthorizedApplications(context.Background(), e.user)
	require.NoError(t, err)
	return len(apps)
}

func parse(t *testing.T, uri string) *url.URL {
	t.Helper()
	u, err := url.Parse(uri)
	require.NoError(t, err)
	return u
}

func TestAuthorize_FatalErrors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(r *AuthorizationRequest)
		detail string
	}{
		{name: "missing client id", mutate: func(r *AuthorizationRequest) { r.ClientID = "" }, detail: serrors.InvalidClientID},
		{name: "malformed client id", mutate: func(r *AuthorizationRequest) { r.ClientID = "1234" }, detail: serrors.InvalidClientID},
		{name: "unknown client id", mutate: func(r *AuthorizationRequest) { r.ClientID = gofakeit.UUID() }, detail: serrors.InvalidClientID},
		{name: "relative redirect", mutate: func(r *AuthorizationRequest) { r.RedirectURI = "/callback" }, detail: serrors.InvalidRedirectURI},
		{name: "mismatching redirect", mutate: func(r *AuthorizationRequest) { r.RedirectURI = callback + "/" }, detail: serrors.MismatchingRedirectURI},
		{name: "mismatch wins over missing response type", mutate: func(r *AuthorizationRequest) {
			r.RedirectURI = "https://evil.example.com/"
			r.ResponseType = ""
		}, detail: serrors.MismatchingRedirectURI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := e.request()
			tt.mutate(&r)

			resp, err := e.authz.Authorize(ctx, e.user, r)
			assert.Nil(t, resp)

			var fatal *serrors.FatalClientError
			require.ErrorAs(t, err, &fatal)
			assert.Equal(t, tt.detail, fatal.Detail)
			assert.Equal(t, "Evil client is unable to send a proper request. Error is: "+tt.detail, fatal.Message())
		})
	}
}

func TestAuthorize_RecoverableErrors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		mutate      func(r *AuthorizationRequest)
		code        string
		description string
	}{
		{name: "missing response type", mutate: func(r *AuthorizationRequest) { r.ResponseType = "" }, code: "invalid_request", description: "Missing response_type parameter."},
		{name: "unsupported response type", mutate: func(r *AuthorizationRequest) { r.ResponseType = "id_token" }, code: "unsupported_response_type"},
		{name: "unknown scope", mutate: func(r *AuthorizationRequest) { r.Scope = "read-passwords admin" }, code: "invalid_scope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := e.request()
			tt.mutate(&r)

			resp, err := e.authz.Authorize(ctx, e.user, r)
			require.NoError(t, err)
			require.Nil(t, resp.Prompt)

			u := parse(t, resp.RedirectURI)
			assert.Equal(t, "https", u.Scheme)
			assert.Equal(t, "example.com", u.Host)
			assert.Equal(t, "/callback", u.Path)
			assert.Equal(t, tt.code, u.Query().Get("error"))
			assert.Equal(t, tt.description, u.Query().Get("error_description"))
			assert.Equal(t, "xyz", u.Query().Get("state"))
		})
	}
}

func TestAuthorize_Prompt(t *testing.T) {
	e := newEnv(t)
	r := e.request()
	r.Scope = ""
	r.RedirectURI = ""

	resp, err := e.authz.Authorize(context.Background(), e.user, r)
	require.NoError(t, err)
	require.NotNil(t, resp.Prompt)
	assert.Empty(t, resp.RedirectURI)

	p := resp.Prompt
	assert.Equal(t, e.client.ID, p.Application.ID)
	assert.Equal(t, "Example", p.Application.Name)
	assert.Equal(t, "owner@example.com", p.Application.OwnerEmail)
	require.Len(t, p.Scopes, 1)
	assert.Equal(t, "read-passwords", p.Scopes[0].Name)
	assert.Equal(t, "Access your passwords", p.Scopes[0].Description)
	assert.Equal(t, HiddenFields{
		ClientID:     e.client.ID,
		RedirectURI:  callback,
		ResponseType: "code",
		State:        "xyz",
		Scope:        "read-passwords",
	}, p.HiddenFields)
}

// Scenario A: authorize, then exchange the code.
func TestAuthorizationCodeFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	uri, err := e.authz.Approve(ctx, e.user, e.request())
	require.NoError(t, err)

	u := parse(t, uri)
	assert.Equal(t, "https://example.com/callback", u.Scheme+"://"+u.Host+u.Path)
	code := u.Query().Get("code")
	require.Len(t, code, 30)
	assert.Equal(t, "xyz", u.Query().Get("state"))
	assert.Equal(t, 1, e.consentCount(t))

	resp, oauthErr := e.tokens.CreateTokenResponse(ctx, TokenRequest{
		GrantType:   "authorization_code",
		Code:        code,
		RedirectURI: callback,
		Credentials: validator.Credentials{Authorization: basicAuth(e.client.ID, e.secret)},
	})
	require.Nil(t, oauthErr)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, 3600, resp.ExpiresIn)
	assert.Equal(t, "read-passwords", resp.Scope)
	assert.Len(t, resp.AccessToken, 30)
	assert.Len(t, resp.RefreshToken, 30)

	req := &validator.Request{}
	assert.True(t, e.validator.ValidateBearerToken(ctx, resp.AccessToken, []string{"read-passwords"}, req))
	assert.Equal(t, e.user, req.UserID)
	assert.False(t, e.validator.ValidateBearerToken(ctx, resp.AccessToken, []string{"write-passwords"}, &validator.Request{}))

	_, err = e.store.GetAuthorizationCode(ctx, e.client.ID, code)
	assert.Error(t, err)

	t.Run("code is single use", func(t *testing.T) {
		_, oauthErr := e.tokens.CreateTokenResponse(ctx, TokenRequest{
			GrantType:   "authorization_code",
			Code:        code,
			Credentials: e.credentials(),
		})
		require.NotNil(t, oauthErr)
		assert.Equal(t, "invalid_grant", oauthErr.Code)
		assert.Equal(t, 401, oauthErr.StatusCode())
	})
}

// Scenario B: the user cancels.
func TestDeny(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	var trail bytes.Buffer
	audit.SetOutput(&trail)
	t.Cleanup(func() { audit.SetOutput(io.Discard) })

	uri, err := e.authz.Deny(ctx, e.user, e.request())
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/callback?error=access_denied&state=xyz", uri)
	assert.Equal(t, 0, e.consentCount(t))

	var event audit.Event
	require.NoError(t, json.Unmarshal(trail.Bytes(), &event))
	assert.Equal(t, audit.ActionConsentDenied, event.Action)
	assert.Equal(t, e.user, event.User)
	assert.Equal(t, e.client.ID, event.Client)

	r := e.request()
	r.State = ""
	uri, err = e.authz.Deny(ctx, e.user, r)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/callback?error=access_denied", uri)

	r.RedirectURI = "https://evil.example.com/"
	_, err = e.authz.Deny(ctx, e.user, r)
	var fatal *serrors.FatalClientError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, serrors.MismatchingRedirectURI, fatal.Detail)
}

// Scenario D: a consented request redirects straight from the GET.
func TestAuthorize_SkipsPromptAfterConsent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.request()
	r.Scope = "write-passwords read-passwords"

	first, err := e.authz.Approve(ctx, e.user, r)
	require.NoError(t, err)

	r.Scope = "read-passwords write-passwords"
	resp, err := e.authz.Authorize(ctx, e.user, r)
	require.NoError(t, err)
	require.Nil(t, resp.Prompt)

	second := parse(t, resp.RedirectURI).Query().Get("code")
	require.NotEmpty(t, second)
	assert.NotEqual(t, parse(t, first).Query().Get("code"), second)
	assert.Equal(t, 1, e.consentCount(t))

	// Both codes stay redeemable.
	for _, code := range []string{parse(t, first).Query().Get("code"), second} {
		assert.True(t, e.validator.ValidateCode(ctx, e.client.ID, code, &validator.Request{}))
	}

	t.Run("different scope prompts again", func(t *testing.T) {
		r.Scope = "read-passwords"
		resp, err := e.authz.Authorize(ctx, e.user, r)
		require.NoError(t, err)
		assert.NotNil(t, resp.Prompt)
	})

	t.Run("other user prompts", func(t *testing.T) {
		r.Scope = "read-passwords write-passwords"
		resp, err := e.authz.Authorize(ctx, gofakeit.UUID(), r)
		require.NoError(t, err)
		assert.NotNil(t, resp.Prompt)
	})
}

func TestApprove_Implicit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.request()
	r.ResponseType = "token"

	uri, err := e.authz.Approve(ctx, e.user, r)
	require.NoError(t, err)

	u := parse(t, uri)
	assert.Empty(t, u.RawQuery)
	fragment, err := url.ParseQuery(u.Fragment)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", fragment.Get("token_type"))
	assert.Equal(t, "3600", fragment.Get("expires_in"))
	assert.Equal(t, "read-passwords", fragment.Get("scope"))
	assert.Equal(t, "xyz", fragment.Get("state"))
	assert.True(t, e.validator.ValidateBearerToken(ctx, fragment.Get("access_token"), []string{"read-passwords"}, &validator.Request{}))

	t.Run("errors go in the fragment", func(t *testing.T) {
		r := r
		r.Scope = "bogus"
		resp, err := e.authz.Authorize(ctx, e.user, r)
		require.NoError(t, err)
		u := parse(t, resp.RedirectURI)
		fragment, err := url.ParseQuery(u.Fragment)
		require.NoError(t, err)
		assert.Equal(t, "invalid_scope", fragment.Get("error"))
	})
}

func TestCreateTokenResponse_Errors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	uri, err := e.authz.Approve(ctx, e.user, e.request())
	require.NoError(t, err)
	code := parse(t, uri).Query().Get("code")

	other, otherSecret, err := client.NewClientService(e.store, client.WithSecretHasher(auth.NewBcryptSecretHasher(bcrypt.MinCost))).
		CreateClient(ctx, gofakeit.UUID(), client.Registration{Name: "Other", CallbackURL: callback})
	require.NoError(t, err)

	tests := []struct {
		name        string
		req         TokenRequest
		code        string
		description string
		status      int
	}{
		{
			name: "password grant with bad credentials",
			req:  TokenRequest{GrantType: "password", Code: code, Credentials: validator.Credentials{ClientID: e.client.ID, ClientSecret: "nope"}},
			code: "unsupported_grant_type", status: 400,
		},
		{
			name: "password grant with good credentials",
			req:  TokenRequest{GrantType: "password", Code: code, Credentials: e.credentials()},
			code: "unsupported_grant_type", status: 400,
		},
		{
			name: "missing grant type",
			req:  TokenRequest{Code: code, Credentials: e.credentials()},
			code: "unsupported_grant_type", status: 400,
		},
		{
			name: "refresh token grant",
			req:  TokenRequest{GrantType: "refresh_token", Credentials: e.credentials()},
			code: "unsupported_grant_type", status: 400,
		},
		{
			name: "no client credentials",
			req:  TokenRequest{GrantType: "authorization_code", Code: code},
			code: "invalid_client", status: 401,
		},
		{
			name: "wrong secret",
			req:  TokenRequest{GrantType: "authorization_code", Code: code, Credentials: validator.Credentials{Authorization: basicAuth(e.client.ID, "nope")}},
			code: "invalid_client", status: 401,
		},
		{
			name: "missing code",
			req:  TokenRequest{GrantType: "authorization_code", Credentials: e.credentials()},
			code: "invalid_request", description: "Missing code parameter.", status: 400,
		},
		{
			name: "unknown code",
			req:  TokenRequest{GrantType: "authorization_code", Code: "nope", Credentials: e.credentials()},
			code: "invalid_grant", status: 401,
		},
		{
			name: "code of another client",
			req:  TokenRequest{GrantType: "authorization_code", Code: code, Credentials: validator.Credentials{ClientID: other.ID, ClientSecret: otherSecret}},
			code: "invalid_grant", status: 401,
		},
		{
			name: "redirect uri mismatch",
			req:  TokenRequest{GrantType: "authorization_code", Code: code, RedirectURI: "https://example.com/other", Credentials: e.credentials()},
			code: "invalid_grant", status: 401,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, oauthErr := e.tokens.CreateTokenResponse(ctx, tt.req)
			assert.Nil(t, resp)
			require.NotNil(t, oauthErr)
			assert.Equal(t, tt.code, oauthErr.Code)
			assert.Equal(t, tt.description, oauthErr.Description)
			assert.Equal(t, tt.status, oauthErr.StatusCode())
		})
	}

	// None of the failures consumed the code.
	_, oauthErr := e.tokens.CreateTokenResponse(ctx, TokenRequest{GrantType: "authorization_code", Code: code, Credentials: e.credentials()})
	assert.Nil(t, oauthErr)
}

func TestCreateTokenResponse_ExpiredCode(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	now := time.Now()
	clients := client.NewClientService(e.store)
	v := validator.NewRequestValidator(clients, e.store, e.store, validator.WithClock(func() time.Time { return now }))
	tokens := NewTokenService(v, e.store, time.Hour, applog.NewNopLogger())

	require.NoError(t, v.SaveAuthorizationCode(ctx, e.client.ID, "old-code", &validator.Request{UserID: e.user, Scopes: []string{"read-passwords"}}))
	now = now.Add(10*time.Minute + time.Second)

	_, oauthErr := tokens.CreateTokenResponse(ctx, TokenRequest{GrantType: "authorization_code", Code: "old-code", Credentials: e.credentials()})
	require.NotNil(t, oauthErr)
	assert.Equal(t, "invalid_grant", oauthErr.Code)
}

func TestCreateTokenResponse_ConcurrentRedemption(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	uri, err := e.authz.Approve(ctx, e.user, e.request())
	require.NoError(t, err)
	code := parse(t, uri).Query().Get("code")

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		grants    int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, oauthErr := e.tokens.CreateTokenResponse(ctx, TokenRequest{GrantType: "authorization_code", Code: code, Credentials: e.credentials()})
			mu.Lock()
			defer mu.Unlock()
			if oauthErr == nil {
				successes++
			} else if oauthErr.Code == "invalid_grant" {
				grants++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, grants)
}

type failingSaveValidator struct {
	*validator.RequestValidator
}

func (failingSaveValidator) SaveBearerToken(context.Context, *validator.BearerToken, *validator.Request) error {
	return errors.New("disk full")
}

func TestCreateTokenResponse_RollsBackOnSaveFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	uri, err := e.authz.Approve(ctx, e.user, e.request())
	require.NoError(t, err)
	code := parse(t, uri).Query().Get("code")

	tokens := NewTokenService(failingSaveValidator{e.validator}, e.store, time.Hour, applog.NewNopLogger())
	_, oauthErr := tokens.CreateTokenResponse(ctx, TokenRequest{GrantType: "authorization_code", Code: code, Credentials: e.credentials()})
	require.NotNil(t, oauthErr)
	assert.Equal(t, "server_error", oauthErr.Code)
	assert.Equal(t, 500, oauthErr.StatusCode())

	// The code survived the failed exchange.
	_, err = e.store.GetAuthorizationCode(ctx, e.client.ID, code)
	assert.NoError(t, err)
}

func basicAuth(id, secret string) string {
	return "Basic " + base64Encode(id+":"+secret)
}

func base64Encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}
