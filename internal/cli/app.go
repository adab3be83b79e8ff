// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mayankbarode/OpenChat/internal/auth"
	"github.com/mayankbarode/OpenChat/internal/backend"
	"github.com/mayankbarode/OpenChat/internal/cache"
	"github.com/mayankbarode/OpenChat/internal/config"
	"github.com/mayankbarode/OpenChat/internal/logging"
	"github.com/mayankbarode/OpenChat/internal/util"
)

// Version information, set at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// App holds what every command needs: configuration, logger, backend
// client and login state. Commands reach it through the root command.
type App struct {
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer

	// Flags
	configPath string
	backendURL string
	verbose    bool
	logFormat  string

	cfg        *config.Config
	cfgPath    string
	logger     *slog.Logger
	logFile    *os.File
	client     *backend.Client
	store      *auth.Store
	auth       *auth.Manager
	models     *cache.ModelCache
	modelsOpen bool
}

// setup loads configuration and builds the shared services.
func (a *App) setup() error {
	cfg, path, err := a.loadConfig()
	if err != nil {
		return err
	}
	if a.backendURL != "" {
		cfg.Backend.URL = a.backendURL
	}
	a.cfg, a.cfgPath = cfg, path

	level := cfg.Log.Level
	if a.verbose {
		level = "debug"
	}
	a.logger, err = logging.New(logging.Options{
		Level:  level,
		Format: logging.Format(a.logFormat),
		Output: a.errOut,
	})
	if err != nil {
		return err
	}

	lipgloss.SetColorProfile(GetColorProfile())

	a.client = backend.NewClient(cfg.Backend.URL).
		WithTimeout(cfg.Backend.Timeout).
		WithLogger(a.logger)

	if a.store, err = auth.DefaultStore(); err != nil {
		return err
	}
	a.auth = auth.NewManager(a.client, a.store, auth.WithLogger(a.logger))
	return nil
}

func (a *App) loadConfig() (*config.Config, string, error) {
	if a.configPath != "" {
		cfg, err := config.LoadFromPath(a.configPath)
		return cfg, a.configPath, err
	}
	path, err := config.Path()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load()
	return cfg, path, err
}

// saveConfig writes cfg to the file it was loaded from and makes it current.
func (a *App) saveConfig(cfg *config.Config) error {
	if err := config.SaveTOML(cfg, a.cfgPath); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// logToFile sends logs to the log file, for when the terminal belongs to
// the full-screen interface. Call it before requireLogin.
func (a *App) logToFile() error {
	path, err := a.cfg.LogPath()
	if err != nil {
		return err
	}
	f, err := logging.OpenFile(path)
	if err != nil {
		return err
	}
	level := a.cfg.Log.Level
	if a.verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Options{Level: level, Format: logging.Format(a.logFormat), Output: f, Timestamps: true})
	if err != nil {
		f.Close()
		return err
	}
	a.logFile = f
	a.logger = logger
	a.client.WithLogger(logger)
	a.auth = auth.NewManager(a.client, a.store, auth.WithLogger(logger))
	return nil
}

// requireLogin restores the saved session.
func (a *App) requireLogin() error {
	_, err := a.auth.Restore()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrNoSession):
		return fmt.Errorf("%w: run `openchat login` first", backend.ErrNotAuthenticated)
	case errors.Is(err, backend.ErrAuthExpired):
		return fmt.Errorf("%w (run `openchat login`)", backend.ErrAuthExpired)
	default:
		return err
	}
}

// modelCache opens the model-list cache once. A cache that cannot be
// opened is logged and skipped; nil is a valid cache that always fetches.
func (a *App) modelCache() *cache.ModelCache {
	if a.modelsOpen {
		return a.models
	}
	a.modelsOpen = true
	if !a.cfg.Cache.Enabled {
		return nil
	}
	dir, err := util.StateDir()
	if err != nil {
		a.logger.Warn("model cache disabled", "error", err)
		return nil
	}
	c, err := cache.Open(filepath.Join(dir, cache.FileName), a.cfg.Cache.ModelsTTL, cache.WithLogger(a.logger))
	if err != nil {
		a.logger.Warn("model cache disabled", "error", err)
		return nil
	}
	a.models = c
	return c
}

// watchConfig calls apply with the new configuration whenever the config
// file changes on disk, until ctx ends.
func (a *App) watchConfig(ctx context.Context, apply func(*config.Config)) {
	w, err := config.NewWatcher(a.cfgPath, a.cfg, config.WithWatchLogger(a.logger))
	if err != nil {
		a.logger.Debug("config watcher unavailable", "error", err)
		return
	}
	w.OnChange(apply)
	go func() {
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("config watcher stopped", "error", err)
		}
	}()
}

// close releases files opened by setup.
func (a *App) close() {
	if a.models != nil {
		if err := a.models.Close(); err != nil {
			a.logger.Warn("close model cache", "error", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}

// =============================================================================
// PROMPTS
// =============================================================================

// prompt reads one line after printing label.
func (a *App) prompt(label string) (string, error) {
	fmt.Fprint(a.errOut, label)
	line, err := a.in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// promptSecret reads a password without echo on a terminal.
func (a *App) promptSecret(label string) (string, error) {
	if a.in == stdinReader && IsTTY() {
		return readPassword(label)
	}
	line, err := a.prompt(label)
	return line, err
}

// stdinReader is the reader used when a command runs against os.Stdin.
var stdinReader = bufio.NewReader(os.Stdin)
