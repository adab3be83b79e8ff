// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"github.com/mayankbarode/OpenChat/internal/backend"
	"github.com/mayankbarode/OpenChat/internal/model"
)

// MergeRemote folds the settings stored on the backend into c. Non-empty
// remote values win. When c holds an API key the backend lacks, the full
// merged key and URL maps are returned for pushing back; otherwise the
// result is nil.
func (c *Config) MergeRemote(remote *backend.Settings) *backend.SettingsUpdate {
	needsPush := false
	for _, p := range model.Providers {
		pc := c.Providers.For(p)
		name := p.String()

		if key := remote.APIKeys[name]; key != "" {
			pc.APIKey = key
		} else if pc.APIKey != "" {
			needsPush = true
		}
		if u := remote.BaseURLs[name]; u != "" {
			pc.BaseURL = u
		}
	}

	if remote.SelectedProvider != "" {
		if p, err := model.ParseProvider(remote.SelectedProvider); err == nil {
			c.Chat.Provider = p.String()
		}
	}
	if remote.SelectedModel != "" {
		c.Chat.Model = remote.SelectedModel
	}

	if !needsPush {
		return nil
	}
	update := c.credentialsUpdate()
	return &update
}

// RemoteUpdate returns every local setting in the form the backend stores.
func (c *Config) RemoteUpdate() backend.SettingsUpdate {
	update := c.credentialsUpdate()
	provider := c.Chat.Provider
	update.SelectedProvider = &provider
	if c.Chat.Model != "" {
		m := c.Chat.Model
		update.SelectedModel = &m
	}
	return update
}

func (c *Config) credentialsUpdate() backend.SettingsUpdate {
	update := backend.SettingsUpdate{
		APIKeys:  map[string]string{},
		BaseURLs: map[string]string{},
	}
	for _, p := range model.Providers {
		pc := c.Providers.For(p)
		if pc.APIKey != "" {
			update.APIKeys[p.String()] = pc.APIKey
		}
		if pc.BaseURL != "" {
			update.BaseURLs[p.String()] = pc.BaseURL
		}
	}
	return update
}
