// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mayankbarode/OpenChat/internal/auth"
	"github.com/mayankbarode/OpenChat/internal/backend"
	"github.com/mayankbarode/OpenChat/internal/backend/fakebackend"
)

func newManager(t *testing.T) (*auth.Manager, *backend.Client, *auth.Store, *fakebackend.Server) {
	t.Helper()
	srv := fakebackend.New(t)
	client := backend.NewClient(srv.URL)
	store := auth.NewStore(filepath.Join(t.TempDir(), auth.SessionFile))
	return auth.NewManager(client, store), client, store, srv
}

func TestLogin_PersistsSession(t *testing.T) {
	m, client, store, _ := newManager(t)

	sess, err := m.Login(context.Background(), "alice", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "alice", sess.Username)
	assert.False(t, sess.ExpiresAt.IsZero())
	assert.Equal(t, sess.Token, client.Token())
	assert.Equal(t, "alice", m.Username())

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, sess.Token, saved.Token)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(store.Path())
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	m, client, store, _ := newManager(t)

	_, err := m.Login(context.Background(), "alice", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Incorrect username or password")
	assert.NotErrorIs(t, err, backend.ErrAuthExpired)
	assert.False(t, client.IsAuthenticated())

	_, err = store.Load()
	assert.ErrorIs(t, err, auth.ErrNoSession)
}

func TestLogin_FormValidation(t *testing.T) {
	m, _, _, _ := newManager(t)

	_, err := m.Login(context.Background(), " ", "secret1")
	var formErr *auth.FormError
	require.True(t, errors.As(err, &formErr))
	assert.Equal(t, "username", formErr.Field)

	_, err = m.Login(context.Background(), "alice", "")
	require.True(t, errors.As(err, &formErr))
	assert.Equal(t, "password", formErr.Field)
}

func TestSignup(t *testing.T) {
	m, client, _, _ := newManager(t)
	ctx := context.Background()

	sess, err := m.Signup(ctx, auth.SignupForm{Username: "bob", Password: "hunter22", Confirm: "hunter22"})
	require.NoError(t, err)
	assert.Equal(t, "bob", sess.Username)
	assert.True(t, client.IsAuthenticated())

	_, err = m.Signup(ctx, auth.SignupForm{Username: "bob", Password: "hunter22", Confirm: "hunter22"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already taken")
}

func TestSignupForm_Validate(t *testing.T) {
	tests := []struct {
		name  string
		form  auth.SignupForm
		field string
	}{
		{"missing username", auth.SignupForm{Password: "abcdef", Confirm: "abcdef"}, "username"},
		{"missing confirm", auth.SignupForm{Username: "bob", Password: "abcdef"}, "password"},
		{"mismatch", auth.SignupForm{Username: "bob", Password: "abcdef", Confirm: "abcdeg"}, "confirm"},
		{"too short", auth.SignupForm{Username: "bob", Password: "abc", Confirm: "abc"}, "password"},
		{"valid", auth.SignupForm{Username: "bob", Password: "abcdef", Confirm: "abcdef"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.form.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var formErr *auth.FormError
			require.True(t, errors.As(err, &formErr))
			assert.Equal(t, tt.field, formErr.Field)
		})
	}
}

func TestPasswordStrength(t *testing.T) {
	tests := []struct {
		password string
		want     auth.Strength
	}{
		{"", auth.StrengthNone},
		{"abc", auth.StrengthWeak},
		{"abcdef", auth.StrengthMedium},
		{"abcdefgh", auth.StrengthMedium},
		{"Abcdefg1", auth.StrengthStrong},
		{"Abc1", auth.StrengthWeak},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, auth.PasswordStrength(tt.password), tt.password)
	}
	assert.Equal(t, "strong", auth.StrengthStrong.String())
}

func TestCheckUsername(t *testing.T) {
	m, _, _, _ := newManager(t)
	ctx := context.Background()

	got, err := m.CheckUsername(ctx, "al")
	require.NoError(t, err)
	assert.Equal(t, auth.AvailabilityUnknown, got)

	got, err = m.CheckUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, auth.AvailabilityTaken, got)

	got, err = m.CheckUsername(ctx, "zelda")
	require.NoError(t, err)
	assert.Equal(t, auth.AvailabilityAvailable, got)
}

func TestRestore(t *testing.T) {
	m, client, store, srv := newManager(t)

	_, err := m.Restore()
	assert.ErrorIs(t, err, auth.ErrNoSession)

	token := srv.IssueToken("alice")
	require.NoError(t, store.Save(&auth.Session{Token: token, Username: "alice", ExpiresAt: time.Now().Add(time.Hour)}))

	sess, err := m.Restore()
	require.NoError(t, err)
	assert.Equal(t, "alice", sess.Username)
	assert.Equal(t, token, client.Token())
}

func TestRestore_ExpiredSessionIsCleared(t *testing.T) {
	srv := fakebackend.New(t)
	client := backend.NewClient(srv.URL)
	store := auth.NewStore(filepath.Join(t.TempDir(), auth.SessionFile))
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := auth.NewManager(client, store, auth.WithClock(func() time.Time { return now }))

	require.NoError(t, store.Save(&auth.Session{Token: "t", Username: "alice", ExpiresAt: now.Add(-time.Minute)}))

	_, err := m.Restore()
	assert.ErrorIs(t, err, backend.ErrAuthExpired)
	assert.False(t, client.IsAuthenticated())
	_, err = store.Load()
	assert.ErrorIs(t, err, auth.ErrNoSession)
}

func TestLogout(t *testing.T) {
	m, client, store, _ := newManager(t)
	_, err := m.Login(context.Background(), "alice", "secret1")
	require.NoError(t, err)

	calls := 0
	m.OnLogout(func() { calls++ })
	m.Logout()

	assert.Equal(t, 1, calls)
	assert.False(t, client.IsAuthenticated())
	assert.Nil(t, m.Session())
	_, err = store.Load()
	assert.ErrorIs(t, err, auth.ErrNoSession)

	// Logging out twice is harmless.
	m.Logout()
	assert.Equal(t, 1, calls)
}

func TestRejectedTokenLogsOut(t *testing.T) {
	m, client, store, srv := newManager(t)
	ctx := context.Background()
	_, err := m.Login(ctx, "alice", "secret1")
	require.NoError(t, err)

	calls := 0
	m.OnLogout(func() { calls++ })
	srv.RevokeAll()

	_, err = client.ListConversations(ctx)
	assert.ErrorIs(t, err, backend.ErrAuthExpired)
	assert.Equal(t, 1, calls)
	assert.False(t, client.IsAuthenticated())
	assert.Nil(t, m.Session())
	_, err = store.Load()
	assert.ErrorIs(t, err, auth.ErrNoSession)

	// A second rejection has no token left to report.
	_, err = client.GetSettings(ctx)
	assert.Error(t, err)
	m.Logout()
	assert.Equal(t, 1, calls)
}

func TestLogin_BadCredentialsKeepsSession(t *testing.T) {
	m, client, _, _ := newManager(t)
	ctx := context.Background()
	sess, err := m.Login(ctx, "alice", "secret1")
	require.NoError(t, err)

	_, err = m.Login(ctx, "alice", "wrong")
	require.Error(t, err)
	assert.Equal(t, sess.Token, client.Token())
	assert.NotNil(t, m.Session())
}

func TestChangePassword(t *testing.T) {
	m, _, _, _ := newManager(t)
	ctx := context.Background()

	assert.ErrorIs(t, m.ChangePassword(ctx, "secret1", "newpass", "newpass"), backend.ErrNotAuthenticated)

	_, err := m.Login(ctx, "alice", "secret1")
	require.NoError(t, err)

	var formErr *auth.FormError
	require.True(t, errors.As(m.ChangePassword(ctx, "secret1", "newpass", "other"), &formErr))

	require.NoError(t, m.ChangePassword(ctx, "secret1", "newpass", "newpass"))
	_, err = m.Login(ctx, "alice", "newpass")
	assert.NoError(t, err)
}

func TestTokenExpiry(t *testing.T) {
	srv := fakebackend.New(t)

	exp, err := auth.TokenExpiry(srv.IssueToken("alice"))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), exp, 25*time.Hour)
	assert.True(t, exp.After(time.Now()))

	exp, err = auth.TokenExpiry(srv.IssueExpiredToken("alice"))
	require.NoError(t, err)
	assert.True(t, exp.Before(time.Now()))

	_, err = auth.TokenExpiry("not-a-token")
	assert.Error(t, err)
}
