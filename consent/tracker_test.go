package consent_test

import (
	"context"
	"testing"
	"time"

	"github.com/srus/yith-library-server/consent"
	"github.com/srus/yith-library-server/domain"
	"github.com/srus/yith-library-server/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const redirect = "https://example.com/callback"

func TestTracker_IsAuthorized(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2012, 1, 10, 15, 31, 11, 0, time.UTC)
	tracker := consent.NewTracker(memory.NewStore(), func() time.Time { return now })

	assert.False(t, tracker.IsAuthorized(ctx, "user", "client", []string{"read-passwords"}, redirect, "code"))

	require.NoError(t, tracker.Store(ctx, "user", "client", []string{"write-passwords", "read-passwords"}, redirect, "code"))

	tests := []struct {
		name         string
		user         string
		scopes       []string
		redirect     string
		responseType string
		want         bool
	}{
		{name: "exact", user: "user", scopes: []string{"read-passwords", "write-passwords"}, redirect: redirect, responseType: "code", want: true},
		{name: "scope order ignored", user: "user", scopes: []string{"write-passwords", "read-passwords"}, redirect: redirect, responseType: "code", want: true},
		{name: "subset", user: "user", scopes: []string{"read-passwords"}, redirect: redirect, responseType: "code", want: false},
		{name: "superset", user: "user", scopes: []string{"read-passwords", "write-passwords", "read-userinfo"}, redirect: redirect, responseType: "code", want: false},
		{name: "other redirect", user: "user", scopes: []string{"read-passwords", "write-passwords"}, redirect: redirect + "/", responseType: "code", want: false},
		{name: "other response type", user: "user", scopes: []string{"read-passwords", "write-passwords"}, redirect: redirect, responseType: "token", want: false},
		{name: "other user", user: "someone", scopes: []string{"read-passwords", "write-passwords"}, redirect: redirect, responseType: "code", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tracker.IsAuthorized(ctx, tt.user, "client", tt.scopes, tt.redirect, tt.responseType))
		})
	}
}

func TestTracker_StoreReplaces(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	tracker := consent.NewTracker(store, nil)

	require.NoError(t, tracker.Store(ctx, "user", "client", []string{"read-passwords"}, redirect, "code"))
	require.NoError(t, tracker.Store(ctx, "user", "client", []string{"read-userinfo"}, redirect, "token"))

	apps, err := tracker.List(ctx, "user")
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, []string{"read-userinfo"}, apps[0].Scopes)
	assert.Equal(t, "token", apps[0].ResponseType)
	assert.False(t, apps[0].UpdatedAt.IsZero())
}

func TestTracker_Revoke(t *testing.T) {
	ctx := context.Background()
	tracker := consent.NewTracker(memory.NewStore(), nil)

	for _, c := range []string{"a", "b", "c"} {
		require.NoError(t, tracker.Store(ctx, "user", c, []string{"read-passwords"}, redirect, "code"))
	}
	require.NoError(t, tracker.Store(ctx, "other", "a", []string{"read-passwords"}, redirect, "code"))

	require.NoError(t, tracker.Revoke(ctx, "user", "a"))
	assert.ErrorIs(t, tracker.Revoke(ctx, "user", "a"), domain.ErrAuthorizedApplicationNotFound)
	assert.False(t, tracker.IsAuthorized(ctx, "user", "a", []string{"read-passwords"}, redirect, "code"))

	n, err := tracker.RevokeAll(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	apps, err := tracker.List(ctx, "user")
	require.NoError(t, err)
	assert.Empty(t, apps)
	assert.True(t, tracker.IsAuthorized(ctx, "other", "a", []string{"read-passwords"}, redirect, "code"))
}
