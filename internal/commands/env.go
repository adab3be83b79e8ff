// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/atotto/clipboard"

	"github.com/mayankbarode/OpenChat/internal/attachment"
	"github.com/mayankbarode/OpenChat/internal/backend"
	"github.com/mayankbarode/OpenChat/internal/cache"
	"github.com/mayankbarode/OpenChat/internal/chat"
	"github.com/mayankbarode/OpenChat/internal/config"
	"github.com/mayankbarode/OpenChat/internal/model"
	"github.com/mayankbarode/OpenChat/internal/sidebar"
)

// =============================================================================
// ENVIRONMENT
// =============================================================================

// Env is the state commands operate on. It is shared by the line REPL and
// the full-screen interface and is safe for concurrent use, so /cancel can
// run while another command is streaming.
type Env struct {
	chat      *chat.Controller
	client    *backend.Client
	sidebar   *sidebar.Sidebar
	models    *cache.ModelCache
	clipboard func(string) error
	save      func(*config.Config) error
	logger    *slog.Logger

	mu      sync.Mutex
	cfg     *config.Config
	pending *attachment.PendingAttachment
}

// EnvOption configures an Env.
type EnvOption func(*Env)

// WithSidebar shares an existing conversation list.
func WithSidebar(s *sidebar.Sidebar) EnvOption {
	return func(e *Env) { e.sidebar = s }
}

// WithModelCache serves model lists from c.
func WithModelCache(c *cache.ModelCache) EnvOption {
	return func(e *Env) { e.models = c }
}

// WithClipboard replaces the system clipboard writer.
func WithClipboard(write func(string) error) EnvOption {
	return func(e *Env) { e.clipboard = write }
}

// WithConfigSaver persists configuration changes made by commands.
func WithConfigSaver(save func(*config.Config) error) EnvOption {
	return func(e *Env) { e.save = save }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) EnvOption {
	return func(e *Env) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEnv creates an environment around a controller and backend client.
func NewEnv(cfg *config.Config, ctrl *chat.Controller, client *backend.Client, opts ...EnvOption) *Env {
	e := &Env{
		chat:      ctrl,
		client:    client,
		cfg:       cfg.Clone(),
		clipboard: clipboard.WriteAll,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.sidebar == nil {
		e.sidebar = sidebar.New(client, sidebar.WithLogger(e.logger))
	}
	return e
}

// Chat returns the controller.
func (e *Env) Chat() *chat.Controller { return e.chat }

// Sidebar returns the conversation list.
func (e *Env) Sidebar() *sidebar.Sidebar { return e.sidebar }

// Config returns a copy of the current configuration.
func (e *Env) Config() *config.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Clone()
}

// SetConfig replaces the configuration, as after a reload from disk.
func (e *Env) SetConfig(cfg *config.Config) {
	e.mu.Lock()
	e.cfg = cfg.Clone()
	e.mu.Unlock()
}

// UpdateConfig applies fn to a copy of the configuration, validates and
// saves it, and makes it current. Nothing changes if any step fails.
func (e *Env) UpdateConfig(fn func(*config.Config)) error {
	next := e.Config()
	fn(next)
	if err := next.Validate(); err != nil {
		return err
	}
	if e.save != nil {
		if err := e.save(next); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
	}
	e.SetConfig(next)
	return nil
}

// Attachment returns the image waiting to be sent, if any.
func (e *Env) Attachment() *attachment.PendingAttachment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// SetAttachment sets the image sent with the next message.
func (e *Env) SetAttachment(att *attachment.PendingAttachment) {
	e.mu.Lock()
	e.pending = att
	e.mu.Unlock()
}

// Detach drops the pending attachment and reports whether there was one.
func (e *Env) Detach() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	had := e.pending != nil
	e.pending = nil
	return had
}

// Send sends text, with the pending attachment, as a new turn. The
// attachment is consumed once the turn is part of the session, even if the
// reply then fails.
func (e *Env) Send(ctx context.Context, text string) error {
	att := e.Attachment()
	err := e.chat.SendTurn(ctx, text, att, e.Config().SendConfig())
	if att != nil && !chat.IsPreflight(err) {
		e.mu.Lock()
		if e.pending == att {
			e.pending = nil
		}
		e.mu.Unlock()
	}
	return err
}

// Title returns the display title of the current chat.
func (e *Env) Title() string {
	snap := e.chat.Snapshot()
	if snap.ConversationID != "" {
		for _, it := range e.sidebar.Items() {
			if it.ID == snap.ConversationID && it.Title != "" {
				return it.Label()
			}
		}
	}
	return (&model.Session{Messages: snap.Messages}).Title()
}

// Models returns the model list of the configured provider.
func (e *Env) Models(ctx context.Context, refresh bool) ([]string, error) {
	cfg := e.Config()
	p := cfg.Provider()
	pc := cfg.Providers.For(p)
	return e.models.Models(ctx, e.client, p, pc.APIKey, pc.BaseURL, refresh)
}

// CachedModels returns the provider's model list only if it is already
// cached, without a request.
func (e *Env) CachedModels(ctx context.Context) []string {
	if e.models == nil {
		return nil
	}
	cfg := e.Config()
	p := cfg.Provider()
	pc := cfg.Providers.For(p)
	entry, ok, err := e.models.Get(ctx, p, pc.APIKey, pc.BaseURL)
	if err != nil || !ok {
		return nil
	}
	return entry.Models
}
