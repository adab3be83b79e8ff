// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/mayankbarode/OpenChat/internal/backend"
	"github.com/mayankbarode/OpenChat/internal/chat"
	"github.com/mayankbarode/OpenChat/internal/model"
	"github.com/mayankbarode/OpenChat/internal/util"
)

// FileName is the config file inside the state directory.
const FileName = "config.toml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "OPENCHAT_"

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete client configuration.
type Config struct {
	Backend   BackendConfig   `toml:"backend" envPrefix:"BACKEND_"`
	Chat      ChatConfig      `toml:"chat"`
	Providers ProvidersConfig `toml:"providers"`
	UI        UIConfig        `toml:"ui" envPrefix:"UI_"`
	Cache     CacheConfig     `toml:"cache" envPrefix:"CACHE_"`
	Log       LogConfig       `toml:"log" envPrefix:"LOG_"`
}

// BackendConfig locates the OpenChat backend.
type BackendConfig struct {
	URL     string        `toml:"url" env:"URL"`
	Timeout time.Duration `toml:"timeout" env:"TIMEOUT"`
}

// ChatConfig holds the provider and model used for new turns.
type ChatConfig struct {
	Provider string `toml:"provider" env:"PROVIDER"`
	Model    string `toml:"model" env:"MODEL"`

	// Parameters are passed through to the provider unchanged.
	Parameters map[string]any `toml:"parameters,omitempty"`
}

// ProviderConfig holds the credentials for one provider.
type ProviderConfig struct {
	APIKey  string `toml:"api_key" env:"API_KEY"`
	BaseURL string `toml:"base_url" env:"BASE_URL"`
}

// ProvidersConfig has one entry per supported provider.
type ProvidersConfig struct {
	OpenAI    ProviderConfig `toml:"openai" envPrefix:"OPENAI_"`
	Anthropic ProviderConfig `toml:"anthropic" envPrefix:"ANTHROPIC_"`
	Gemini    ProviderConfig `toml:"gemini" envPrefix:"GEMINI_"`
	VLLM      ProviderConfig `toml:"vllm" envPrefix:"VLLM_"`
}

// UIConfig controls presentation.
type UIConfig struct {
	// Theme is "auto", "dark" or "light". Auto asks the terminal.
	Theme string `toml:"theme" env:"THEME"`
	// ShowThinking expands reasoning blocks instead of folding them.
	ShowThinking bool `toml:"show_thinking" env:"SHOW_THINKING"`
	// RefreshRate caps redraws per second while a reply streams.
	RefreshRate int `toml:"refresh_rate" env:"REFRESH_RATE"`
	// SidebarWidth is the conversation list width in the full-screen UI.
	SidebarWidth int `toml:"sidebar_width" env:"SIDEBAR_WIDTH"`
}

// CacheConfig controls the model list cache.
type CacheConfig struct {
	Enabled   bool          `toml:"enabled" env:"ENABLED"`
	ModelsTTL time.Duration `toml:"models_ttl" env:"MODELS_TTL"`
}

// LogConfig controls diagnostics.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `toml:"level" env:"LEVEL"`
	// File receives logs while the full-screen UI owns the terminal. Empty
	// means openchat.log in the state directory.
	File string `toml:"file" env:"FILE"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:     backend.DefaultBaseURL,
			Timeout: backend.DefaultTimeout,
		},
		Chat: ChatConfig{
			Provider: string(model.ProviderOpenAI),
			Model:    "gpt-4o",
		},
		Providers: ProvidersConfig{
			VLLM: ProviderConfig{BaseURL: model.DefaultVLLMBaseURL},
		},
		UI: UIConfig{
			Theme:        "auto",
			RefreshRate:  30,
			SidebarWidth: 32,
		},
		Cache: CacheConfig{
			Enabled:   true,
			ModelsTTL: time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// SetDefaults fills zero values left by a partial file.
func (c *Config) SetDefaults() {
	d := Default()
	if c.Backend.URL == "" {
		c.Backend.URL = d.Backend.URL
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = d.Backend.Timeout
	}
	if c.Chat.Provider == "" {
		c.Chat.Provider = d.Chat.Provider
	}
	if c.UI.Theme == "" {
		c.UI.Theme = d.UI.Theme
	}
	if c.UI.RefreshRate == 0 {
		c.UI.RefreshRate = d.UI.RefreshRate
	}
	if c.UI.SidebarWidth == 0 {
		c.UI.SidebarWidth = d.UI.SidebarWidth
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// =============================================================================
// PATHS
// =============================================================================

// Dir returns the state directory holding the config file.
func Dir() (string, error) {
	return util.StateDir()
}

// Path returns the default config file location.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// LogPath returns the log file used by the full-screen UI.
func (c *Config) LogPath() (string, error) {
	if c.Log.File != "" {
		return c.Log.File, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "openchat.log"), nil
}

// ensureSecurePermissions tightens a config file that holds API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != util.PrivateFileMode {
		if err := os.Chmod(path, util.PrivateFileMode); err != nil {
			return fmt.Errorf("fix permissions on %s (was %o): %w", path, mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the default config file, applying a .env file from the working
// directory and OPENCHAT_* environment overrides. A missing file yields the
// defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath reads the config at path. Environment overrides are applied
// after the file, then defaults fill the gaps and the result is validated.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, statErr := os.Stat(path); statErr == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	} else if !errors.Is(statErr, os.ErrNotExist) {
		return nil, fmt.Errorf("stat config: %w", statErr)
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadTOML decodes the file at path over cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not secure %s: %v\n", path, err)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// ApplyEnvOverrides overwrites fields whose OPENCHAT_* variable is set.
func (c *Config) ApplyEnvOverrides() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// =============================================================================
// SAVING
// =============================================================================

// Save writes cfg to the default location.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg to path atomically with owner-only permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# OpenChat client configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), util.PrivateFileMode); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if err := validateURL(c.Backend.URL); err != nil {
		errs = append(errs, ValidationError{Field: "backend.url", Message: err.Error()})
	}
	if c.Backend.Timeout < 0 {
		errs = append(errs, ValidationError{Field: "backend.timeout", Message: "must not be negative"})
	}

	if _, err := model.ParseProvider(c.Chat.Provider); err != nil {
		errs = append(errs, ValidationError{Field: "chat.provider", Message: err.Error()})
	}

	for _, p := range model.Providers {
		pc := c.Providers.For(p)
		if pc.BaseURL == "" {
			continue
		}
		if err := validateURL(pc.BaseURL); err != nil {
			errs = append(errs, ValidationError{
				Field:   "providers." + p.String() + ".base_url",
				Message: err.Error(),
			})
		}
	}

	switch strings.ToLower(c.UI.Theme) {
	case "", "auto", "dark", "light":
	default:
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("invalid theme '%s', must be one of: auto, dark, light", c.UI.Theme),
		})
	}
	if c.UI.RefreshRate < 0 || c.UI.RefreshRate > 240 {
		errs = append(errs, ValidationError{Field: "ui.refresh_rate", Message: "must be between 0 and 240"})
	}

	if c.Cache.ModelsTTL < 0 {
		errs = append(errs, ValidationError{Field: "cache.models_ttl", Message: "must not be negative"})
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("URL has no host")
	}
	return nil
}

// =============================================================================
// PROVIDER ACCESS
// =============================================================================

// For returns the settings for provider p.
func (pc *ProvidersConfig) For(p model.Provider) *ProviderConfig {
	switch p {
	case model.ProviderAnthropic:
		return &pc.Anthropic
	case model.ProviderGemini:
		return &pc.Gemini
	case model.ProviderVLLM:
		return &pc.VLLM
	default:
		return &pc.OpenAI
	}
}

// Provider returns the selected provider. An invalid name falls back to the
// default provider; Validate reports it.
func (c *Config) Provider() model.Provider {
	p, err := model.ParseProvider(c.Chat.Provider)
	if err != nil {
		return model.ProviderOpenAI
	}
	return p
}

// SendConfig returns the settings for the next send.
func (c *Config) SendConfig() chat.SendConfig {
	p := c.Provider()
	pc := c.Providers.For(p)
	return chat.SendConfig{
		Provider:   p,
		Model:      c.Chat.Model,
		APIKey:     pc.APIKey,
		BaseURL:    pc.BaseURL,
		Parameters: c.Chat.Parameters,
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get returns a value by its TOML key path, e.g. "providers.openai.api_key".
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set assigns a value by its TOML key path. Strings are converted to the
// field's type.
func (c *Config) Set(key string, value any) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

// lookup walks the struct by toml tag names.
func (c *Config) lookup(key string) (reflect.Value, error) {
	if strings.TrimSpace(key) == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown key: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct {
				return reflect.Value{}, fmt.Errorf("%s is a section, not a value", key)
			}
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("%s is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("toml"), ",")
		if strings.EqualFold(tag, name) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue sets a reflect.Value from a value with type conversion.
func setFieldValue(field reflect.Value, value any) error {
	if strVal, ok := value.(string); ok {
		switch {
		case field.Type() == durationType:
			d, err := time.ParseDuration(strVal)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.SetInt(int64(d))
			return nil
		case field.Kind() == reflect.String:
			field.SetString(strVal)
			return nil
		case field.Kind() == reflect.Int:
			n, err := strconv.Atoi(strVal)
			if err != nil {
				return fmt.Errorf("invalid integer value: %w", err)
			}
			field.SetInt(int64(n))
			return nil
		case field.Kind() == reflect.Bool:
			b, err := strconv.ParseBool(strVal)
			if err != nil {
				return fmt.Errorf("invalid boolean value: %w", err)
			}
			field.SetBool(b)
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) && val.Kind() != reflect.String {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// Keys returns every settable key in dot notation.
func Keys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			tag, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
			if tag == "" || f.Type.Kind() == reflect.Map {
				continue
			}
			if f.Type.Kind() == reflect.Struct {
				walk(f.Type, prefix+tag+".")
				continue
			}
			keys = append(keys, prefix+tag)
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return keys
}

// IsSecret reports whether key holds a credential.
func IsSecret(key string) bool {
	return strings.HasSuffix(key, ".api_key")
}

// =============================================================================
// HELPERS
// =============================================================================

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Chat.Parameters != nil {
		clone.Chat.Parameters = make(map[string]any, len(c.Chat.Parameters))
		for k, v := range c.Chat.Parameters {
			clone.Chat.Parameters[k] = v
		}
	}
	return &clone
}

// String renders the config as TOML with API keys redacted.
func (c *Config) String() string {
	safe := c.Clone()
	for _, p := range model.Providers {
		if pc := safe.Providers.For(p); pc.APIKey != "" {
			pc.APIKey = "[REDACTED " + backend.Fingerprint(pc.APIKey) + "]"
		}
	}
	var buf bytes.Buffer
	_ = toml.NewEncoder(&buf).Encode(safe)
	return buf.String()
}
