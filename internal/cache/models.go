// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache keeps provider model lists in a local SQLite database so
// pickers open without a round trip to the provider.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/mayankbarode/OpenChat/internal/backend"
	"github.com/mayankbarode/OpenChat/internal/model"
	"github.com/mayankbarode/OpenChat/internal/util"
)

// FileName is the cache database inside the state directory.
const FileName = "cache.db"

// ModelLister fetches the models a provider offers. *backend.Client
// satisfies it.
type ModelLister interface {
	ListModels(ctx context.Context, provider, apiKey, baseURL string) ([]string, error)
}

// Entry is one cached model list.
type Entry struct {
	Models    []string
	FetchedAt time.Time
}

// ModelCache stores model lists keyed by provider, base URL and a
// fingerprint of the API key. Keys themselves are never stored.
type ModelCache struct {
	db     *sql.DB
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a ModelCache.
type Option func(*ModelCache)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *ModelCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(c *ModelCache) { c.now = now }
}

// Open opens or creates the cache at path. Entries older than ttl are
// treated as missing; a ttl of zero disables expiry.
func Open(path string, ttl time.Duration, opts ...Option) (*ModelCache, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), util.PrivateDirMode); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// shared.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure cache (%s): %w", pragma, err)
		}
	}

	c := &ModelCache{
		db:     db,
		ttl:    ttl,
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *ModelCache) initSchema() error {
	const query = `
	CREATE TABLE IF NOT EXISTS model_lists (
		provider   TEXT NOT NULL,
		base_url   TEXT NOT NULL,
		key_hash   TEXT NOT NULL,
		models     TEXT NOT NULL,
		fetched_at INTEGER NOT NULL,
		PRIMARY KEY (provider, base_url, key_hash)
	);
	CREATE INDEX IF NOT EXISTS idx_model_lists_fetched ON model_lists(fetched_at);
	`
	if _, err := c.db.Exec(query); err != nil {
		return fmt.Errorf("create cache schema: %w", err)
	}
	return nil
}

// Close releases the database.
func (c *ModelCache) Close() error {
	return c.db.Close()
}

func keyHash(apiKey string) string {
	if apiKey == "" {
		return ""
	}
	return backend.Fingerprint(apiKey)
}

// Get returns the cached list, if present and fresh.
func (c *ModelCache) Get(ctx context.Context, provider model.Provider, apiKey, baseURL string) (*Entry, bool, error) {
	var raw string
	var fetched int64
	err := c.db.QueryRowContext(ctx,
		`SELECT models, fetched_at FROM model_lists WHERE provider = ? AND base_url = ? AND key_hash = ?`,
		provider.String(), baseURL, keyHash(apiKey),
	).Scan(&raw, &fetched)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache: %w", err)
	}

	entry := &Entry{FetchedAt: time.Unix(0, fetched)}
	if c.ttl > 0 && c.now().Sub(entry.FetchedAt) >= c.ttl {
		return nil, false, nil
	}
	if err := json.Unmarshal([]byte(raw), &entry.Models); err != nil {
		return nil, false, fmt.Errorf("decode cached models: %w", err)
	}
	return entry, true, nil
}

// Put stores a model list.
func (c *ModelCache) Put(ctx context.Context, provider model.Provider, apiKey, baseURL string, models []string) error {
	raw, err := json.Marshal(models)
	if err != nil {
		return fmt.Errorf("encode models: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO model_lists (provider, base_url, key_hash, models, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (provider, base_url, key_hash)
		DO UPDATE SET models = excluded.models, fetched_at = excluded.fetched_at`,
		provider.String(), baseURL, keyHash(apiKey), string(raw), c.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}

// Invalidate drops every list for provider.
func (c *ModelCache) Invalidate(ctx context.Context, provider model.Provider) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM model_lists WHERE provider = ?`, provider.String()); err != nil {
		return fmt.Errorf("invalidate cache: %w", err)
	}
	return nil
}

// Purge deletes expired entries and reports how many were removed.
func (c *ModelCache) Purge(ctx context.Context) (int64, error) {
	if c.ttl <= 0 {
		return 0, nil
	}
	cutoff := c.now().Add(-c.ttl).UnixNano()
	res, err := c.db.ExecContext(ctx, `DELETE FROM model_lists WHERE fetched_at <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge cache: %w", err)
	}
	return res.RowsAffected()
}

// Models returns the provider's model list, serving from the cache unless
// refresh is set. A provider that needs a key and has none yields an empty
// list without a request. c may be nil, in which case every call fetches.
func (c *ModelCache) Models(ctx context.Context, lister ModelLister, provider model.Provider, apiKey, baseURL string, refresh bool) ([]string, error) {
	if provider.RequiresAPIKey() && apiKey == "" {
		return nil, nil
	}

	if c != nil && !refresh {
		entry, ok, err := c.Get(ctx, provider, apiKey, baseURL)
		if err != nil {
			c.logger.Warn("model cache read failed", "error", err)
		} else if ok {
			c.logger.Debug("model list from cache", "provider", provider, "count", len(entry.Models))
			return entry.Models, nil
		}
	}

	models, err := lister.ListModels(ctx, provider.String(), apiKey, baseURL)
	if err != nil {
		return nil, err
	}
	if c != nil {
		if err := c.Put(ctx, provider, apiKey, baseURL, models); err != nil {
			c.logger.Warn("model cache write failed", "error", err)
		}
	}
	return models, nil
}
