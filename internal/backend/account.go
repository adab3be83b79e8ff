// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// =============================================================================
// AUTHENTICATION
// =============================================================================

// TokenResponse is returned by login and signup.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Username    string `json:"username"`
}

// SignupRequest is the body of POST /auth/signup.
type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

// UsernameAvailability is returned by GET /auth/check-username/{username}.
type UsernameAvailability struct {
	Available bool   `json:"available"`
	Username  string `json:"username"`
}

// Login exchanges credentials for a token. The backend expects an OAuth2
// password form, not JSON. The client token is not changed.
func (c *Client) Login(ctx context.Context, username, password string) (*TokenResponse, error) {
	form := url.Values{
		"username": {username},
		"password": {password},
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/login", nil, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	// Login is unauthenticated; never send a stale token along.
	req.Header.Del("Authorization")

	var out TokenResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Signup creates an account and returns a token for it.
func (c *Client) Signup(ctx context.Context, signup SignupRequest) (*TokenResponse, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/auth/signup", nil, signup)
	if err != nil {
		return nil, err
	}
	req.Header.Del("Authorization")

	var out TokenResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckUsername reports whether a username is still free.
func (c *Client) CheckUsername(ctx context.Context, username string) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/auth/check-username/"+url.PathEscape(username), nil, nil)
	if err != nil {
		return false, err
	}
	var out UsernameAvailability
	if err := c.do(req, &out); err != nil {
		return false, err
	}
	return out.Available, nil
}

// ChangePassword replaces the current user's password.
func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	body := map[string]string{
		"current_password": current,
		"new_password":     next,
	}
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/auth/change-password", nil, body)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// =============================================================================
// USER SETTINGS
// =============================================================================

// Settings are the per-user preferences stored on the backend.
type Settings struct {
	APIKeys          map[string]string `json:"api_keys"`
	BaseURLs         map[string]string `json:"base_urls"`
	SelectedProvider string            `json:"selected_provider"`
	SelectedModel    string            `json:"selected_model"`
}

// SettingsUpdate is a partial update; nil or empty fields are left unchanged.
// Map entries are merged into the stored maps by the backend.
type SettingsUpdate struct {
	APIKeys          map[string]string `json:"api_keys,omitempty"`
	BaseURLs         map[string]string `json:"base_urls,omitempty"`
	SelectedProvider *string           `json:"selected_provider,omitempty"`
	SelectedModel    *string           `json:"selected_model,omitempty"`
}

// GetSettings fetches the current user's stored settings.
func (c *Client) GetSettings(ctx context.Context) (*Settings, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/user/settings", nil, nil)
	if err != nil {
		return nil, err
	}
	var out Settings
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateSettings applies a partial settings update.
func (c *Client) UpdateSettings(ctx context.Context, update SettingsUpdate) error {
	req, err := c.newJSONRequest(ctx, http.MethodPatch, "/user/settings", nil, update)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// =============================================================================
// MODELS
// =============================================================================

// modelsResponse is the response of GET /models.
type modelsResponse struct {
	Models []string `json:"models"`
}

// ListModels returns the model ids the provider offers for the given key.
func (c *Client) ListModels(ctx context.Context, provider, apiKey, baseURL string) ([]string, error) {
	query := url.Values{"provider": {provider}}
	if apiKey != "" {
		query.Set("apiKey", apiKey)
	}
	if baseURL != "" {
		query.Set("baseUrl", baseURL)
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/models", query, nil)
	if err != nil {
		return nil, err
	}
	var out modelsResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}
