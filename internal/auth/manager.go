// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/mayankbarode/OpenChat/internal/backend"
)

// TokenExpiry reads the exp claim of a bearer token without verifying its
// signature. The zero time means the token carries no expiry.
func TokenExpiry(token string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}

// Availability is the result of a username lookup.
type Availability int

const (
	// AvailabilityUnknown means the name was too short to look up.
	AvailabilityUnknown Availability = iota
	AvailabilityAvailable
	AvailabilityTaken
)

// Manager owns the login state: the token on the backend client and its
// persisted copy. It satisfies chat.AuthHandler.
type Manager struct {
	client *backend.Client
	store  *Store
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	session  *Session
	onLogout []func()
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock replaces the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager for client persisting to store.
func NewManager(client *backend.Client, store *Store, opts ...Option) *Manager {
	m := &Manager{
		client: client,
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	client.WithUnauthorizedHandler(m.expire)
	return m
}

// OnLogout registers fn to run after every logout.
func (m *Manager) OnLogout(fn func()) {
	m.mu.Lock()
	m.onLogout = append(m.onLogout, fn)
	m.mu.Unlock()
}

// Restore loads the saved session and installs its token. A token past its
// expiry is discarded and backend.ErrAuthExpired returned.
func (m *Manager) Restore() (*Session, error) {
	sess, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	if sess.Expired(m.now()) {
		m.logger.Info("saved session expired", "username", sess.Username, "expired_at", sess.ExpiresAt)
		if err := m.store.Clear(); err != nil {
			m.logger.Warn("failed to clear expired session", "error", err)
		}
		return nil, backend.ErrAuthExpired
	}

	m.mu.Lock()
	m.session = sess
	m.mu.Unlock()
	m.client.SetToken(sess.Token)
	m.logger.Debug("session restored", "username", sess.Username, "token", backend.Fingerprint(sess.Token))
	return sess, nil
}

// Login exchanges credentials for a token and persists it.
func (m *Manager) Login(ctx context.Context, username, password string) (*Session, error) {
	if err := validateLogin(username, password); err != nil {
		return nil, err
	}
	resp, err := m.client.Login(ctx, strings.TrimSpace(username), password)
	if err != nil {
		return nil, loginError(err)
	}
	return m.establish(resp, username)
}

// Signup validates the form, creates the account and logs in.
func (m *Manager) Signup(ctx context.Context, form SignupForm) (*Session, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}
	resp, err := m.client.Signup(ctx, backend.SignupRequest{
		Username: strings.TrimSpace(form.Username),
		Email:    strings.TrimSpace(form.Email),
		Password: form.Password,
	})
	if err != nil {
		return nil, loginError(err)
	}
	return m.establish(resp, form.Username)
}

// CheckUsername looks up whether a username is free. Names shorter than
// MinCheckedUsernameLength are not looked up.
func (m *Manager) CheckUsername(ctx context.Context, username string) (Availability, error) {
	username = strings.TrimSpace(username)
	if len([]rune(username)) < MinCheckedUsernameLength {
		return AvailabilityUnknown, nil
	}
	ok, err := m.client.CheckUsername(ctx, username)
	if err != nil {
		return AvailabilityUnknown, err
	}
	if ok {
		return AvailabilityAvailable, nil
	}
	return AvailabilityTaken, nil
}

// ChangePassword changes the password of the logged-in user.
func (m *Manager) ChangePassword(ctx context.Context, current, next, confirm string) error {
	if current == "" {
		return &FormError{Field: "current", Reason: "current password is required"}
	}
	if err := validateNewPassword(next, confirm); err != nil {
		return err
	}
	if !m.client.IsAuthenticated() {
		return backend.ErrNotAuthenticated
	}
	return m.client.ChangePassword(ctx, current, next)
}

// Logout forgets the token locally. It never contacts the backend. The
// logout hooks run once per login; logging out again only clears the store.
func (m *Manager) Logout() {
	m.end("")
}

// expire ends the session after the backend rejected token. A token that is
// no longer current was already replaced or logged out and is ignored.
func (m *Manager) expire(token string) {
	m.end(token)
}

func (m *Manager) end(rejected string) {
	m.mu.Lock()
	current := m.client.Token()
	if rejected != "" && rejected != current {
		m.mu.Unlock()
		return
	}
	active := m.session != nil || current != ""
	username := ""
	if m.session != nil {
		username = m.session.Username
	}
	m.session = nil
	m.client.SetToken("")
	hooks := append([]func(){}, m.onLogout...)
	m.mu.Unlock()

	if err := m.store.Clear(); err != nil {
		m.logger.Warn("failed to remove saved session", "error", err)
	}
	if !active {
		return
	}
	if rejected != "" {
		m.logger.Info("session rejected by backend", "username", username, "token", backend.Fingerprint(rejected))
	} else {
		m.logger.Info("logged out", "username", username)
	}

	for _, fn := range hooks {
		fn()
	}
}

// Session returns the current login, or nil.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	sess := *m.session
	return &sess
}

// Username returns the logged-in user's name, empty when logged out.
func (m *Manager) Username() string {
	if sess := m.Session(); sess != nil {
		return sess.Username
	}
	return ""
}

func (m *Manager) establish(resp *backend.TokenResponse, username string) (*Session, error) {
	sess := &Session{Token: resp.AccessToken, Username: resp.Username}
	if sess.Username == "" {
		sess.Username = strings.TrimSpace(username)
	}
	if exp, err := TokenExpiry(resp.AccessToken); err != nil {
		m.logger.Debug("token expiry unreadable", "error", err)
	} else {
		sess.ExpiresAt = exp
	}

	if err := m.store.Save(sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	m.mu.Lock()
	m.session = sess
	m.mu.Unlock()
	m.client.SetToken(sess.Token)
	m.logger.Info("logged in", "username", sess.Username, "token", backend.Fingerprint(sess.Token))
	return sess, nil
}

// loginError drops the session-expired meaning a 401 carries elsewhere: on
// the auth endpoints it means bad credentials.
func loginError(err error) error {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return errors.New(apiErr.Message())
	}
	return err
}
