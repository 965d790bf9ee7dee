// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/relaychat/internal/util"
)

// Default values.
const (
	DefaultPort               = 8080
	DefaultCORSOrigin         = "http://localhost:5173"
	DefaultRateLimitPerMinute = 120
	DefaultMaxBodyBytes       = 2 << 20
	DefaultReadTimeoutSecs    = 30
	DefaultIdleTimeoutSecs    = 120

	DefaultOllamaURL          = "http://127.0.0.1:11434"
	DefaultModel              = "llama3.2:3b"
	DefaultConnectTimeoutSecs = 5

	DefaultRelayURL    = "http://localhost:8080"
	DefaultTitleMaxLen = 40
	DefaultStorage     = "json"
)

// DefaultSystemPrompt is sent ahead of every relayed history.
const DefaultSystemPrompt = `You are an advanced assistant.
Be clear, structured and professional.
Use examples when they help.
When asked for code, return it well formatted.`

// =============================================================================
// CONFIG TYPES
// =============================================================================

// Config is the relaychat configuration.
type Config struct {
	Server   ServerConfig   `toml:"server" json:"server"`
	Upstream UpstreamConfig `toml:"upstream" json:"upstream"`
	Client   ClientConfig   `toml:"client" json:"client"`
}

// ServerConfig configures the relay listener.
type ServerConfig struct {
	Port               int    `toml:"port" json:"port"`
	CORSOrigin         string `toml:"cors_origin" json:"cors_origin"`
	RateLimitPerMinute int    `toml:"rate_limit_per_minute" json:"rate_limit_per_minute"`
	MaxBodyBytes       int64  `toml:"max_body_bytes" json:"max_body_bytes"`
	ReadTimeoutSecs    int    `toml:"read_timeout" json:"read_timeout"`
	IdleTimeoutSecs    int    `toml:"idle_timeout" json:"idle_timeout"`
}

// UpstreamConfig configures the model service the relay forwards to.
type UpstreamConfig struct {
	OllamaURL          string `toml:"ollama_url" json:"ollama_url"`
	Model              string `toml:"model" json:"model"`
	SystemPrompt       string `toml:"system_prompt" json:"system_prompt"`
	ConnectTimeoutSecs int    `toml:"connect_timeout" json:"connect_timeout"`
}

// ClientConfig configures the terminal chat client.
type ClientConfig struct {
	RelayURL    string `toml:"relay_url" json:"relay_url"`
	TitleMaxLen int    `toml:"title_max_len" json:"title_max_len"`
	DataDir     string `toml:"data_dir" json:"data_dir"`
	Storage     string `toml:"storage" json:"storage"` // json, sqlite or none
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               DefaultPort,
			CORSOrigin:         DefaultCORSOrigin,
			RateLimitPerMinute: DefaultRateLimitPerMinute,
			MaxBodyBytes:       DefaultMaxBodyBytes,
			ReadTimeoutSecs:    DefaultReadTimeoutSecs,
			IdleTimeoutSecs:    DefaultIdleTimeoutSecs,
		},
		Upstream: UpstreamConfig{
			OllamaURL:          DefaultOllamaURL,
			Model:              DefaultModel,
			SystemPrompt:       DefaultSystemPrompt,
			ConnectTimeoutSecs: DefaultConnectTimeoutSecs,
		},
		Client: ClientConfig{
			RelayURL:    DefaultRelayURL,
			TitleMaxLen: DefaultTitleMaxLen,
			Storage:     DefaultStorage,
		},
	}
}

// ReadTimeout returns the server read timeout.
func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSecs) * time.Second
}

// IdleTimeout returns the server idle timeout.
func (s ServerConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSecs) * time.Second
}

// ConnectTimeout returns the upstream dial timeout.
func (u UpstreamConfig) ConnectTimeout() time.Duration {
	return time.Duration(u.ConnectTimeoutSecs) * time.Second
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the relaychat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".relaychat"), nil
}

// ConfigPath returns the path to the default config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DataDir returns the directory conversations are stored in: the configured
// one, or ~/.relaychat/data.
func (c *Config) DataDir() (string, error) {
	if c.Client.DataDir != "" {
		return expandHome(c.Client.DataDir)
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "data"), nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the default config file if it exists, then applies
// environment overrides and validates the result.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path, false)
}

// LoadFromPath loads a config file that must exist.
func LoadFromPath(path string) (*Config, error) {
	return LoadFile(path, true)
}

// LoadFile loads path over the defaults. A missing file is an error only
// when required is set.
func LoadFile(path string, required bool) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	} else if required || !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes the TOML file at path into cfg. Keys the file does not
// set keep their current values.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		fmt.Fprintf(os.Stderr, "Warning: unknown config keys in %s: %s\n", path, strings.Join(keys, ", "))
	}
	return nil
}

// SetDefaults fills zero values left by a partial file.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.CORSOrigin == "" {
		c.Server.CORSOrigin = d.Server.CORSOrigin
	}
	if c.Server.RateLimitPerMinute == 0 {
		c.Server.RateLimitPerMinute = d.Server.RateLimitPerMinute
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = d.Server.MaxBodyBytes
	}
	if c.Server.ReadTimeoutSecs == 0 {
		c.Server.ReadTimeoutSecs = d.Server.ReadTimeoutSecs
	}
	if c.Server.IdleTimeoutSecs == 0 {
		c.Server.IdleTimeoutSecs = d.Server.IdleTimeoutSecs
	}

	if c.Upstream.OllamaURL == "" {
		c.Upstream.OllamaURL = d.Upstream.OllamaURL
	}
	if c.Upstream.Model == "" {
		c.Upstream.Model = d.Upstream.Model
	}
	if c.Upstream.ConnectTimeoutSecs == 0 {
		c.Upstream.ConnectTimeoutSecs = d.Upstream.ConnectTimeoutSecs
	}

	if c.Client.RelayURL == "" {
		c.Client.RelayURL = d.Client.RelayURL
	}
	if c.Client.TitleMaxLen == 0 {
		c.Client.TitleMaxLen = d.Client.TitleMaxLen
	}
	if c.Client.Storage == "" {
		c.Client.Storage = d.Client.Storage
	}
	c.Client.Storage = strings.ToLower(c.Client.Storage)
}

// ApplyEnvOverrides applies environment variables over file values.
func (c *Config) ApplyEnvOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			c.Server.Port = n
		} else {
			fmt.Fprintf(os.Stderr, "Warning: ignoring PORT=%q: not a number\n", port)
		}
	}
	if origin := os.Getenv("CORS_ORIGIN"); origin != "" {
		c.Server.CORSOrigin = origin
	}
	if model := os.Getenv("OLLAMA_MODEL"); model != "" {
		c.Upstream.Model = model
	}
	if u := os.Getenv("RELAYCHAT_OLLAMA_URL"); u != "" {
		c.Upstream.OllamaURL = u
	}
	if u := os.Getenv("RELAYCHAT_RELAY_URL"); u != "" {
		c.Client.RelayURL = u
	}
	if s := os.Getenv("RELAYCHAT_STORAGE"); s != "" {
		c.Client.Storage = s
	}
	if dir := os.Getenv("RELAYCHAT_DATA_DIR"); dir != "" {
		c.Client.DataDir = dir
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg to the default config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg to path atomically with owner-only permissions.
func SaveTOML(cfg *Config, path string) error {
	var sb strings.Builder
	sb.WriteString("# relaychat configuration file\n")
	sb.WriteString("# Environment variables (PORT, CORS_ORIGIN, OLLAMA_MODEL, RELAYCHAT_*) override these values.\n\n")

	if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(sb.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
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
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every field and returns all problems found.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{"server.port", fmt.Sprintf("must be between 1 and 65535, got %d", c.Server.Port)})
	}
	if c.Server.CORSOrigin != "*" {
		if err := checkURL(c.Server.CORSOrigin); err != nil {
			errs = append(errs, ValidationError{"server.cors_origin", err.Error()})
		}
	}
	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, ValidationError{"server.rate_limit_per_minute", "must not be negative"})
	}
	if c.Server.MaxBodyBytes < 1024 {
		errs = append(errs, ValidationError{"server.max_body_bytes", "must be at least 1024"})
	}
	if c.Server.ReadTimeoutSecs < 0 || c.Server.IdleTimeoutSecs < 0 {
		errs = append(errs, ValidationError{"server.read_timeout", "timeouts must not be negative"})
	}

	if err := checkURL(c.Upstream.OllamaURL); err != nil {
		errs = append(errs, ValidationError{"upstream.ollama_url", err.Error()})
	}
	if strings.TrimSpace(c.Upstream.Model) == "" {
		errs = append(errs, ValidationError{"upstream.model", "must not be empty"})
	}
	if strings.TrimSpace(c.Upstream.SystemPrompt) == "" {
		errs = append(errs, ValidationError{"upstream.system_prompt", "must not be empty"})
	}
	if c.Upstream.ConnectTimeoutSecs < 0 {
		errs = append(errs, ValidationError{"upstream.connect_timeout", "must not be negative"})
	}

	if err := checkURL(c.Client.RelayURL); err != nil {
		errs = append(errs, ValidationError{"client.relay_url", err.Error()})
	}
	if c.Client.TitleMaxLen < 4 {
		errs = append(errs, ValidationError{"client.title_max_len", "must be at least 4"})
	}
	switch c.Client.Storage {
	case "json", "sqlite", "none":
	default:
		errs = append(errs, ValidationError{"client.storage", fmt.Sprintf("invalid backend '%s', must be one of: json, sqlite, none", c.Client.Storage)})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL '%s'", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL '%s', scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid URL '%s', missing host", raw)
	}
	return nil
}

// =============================================================================
// DISPLAY
// =============================================================================

// String renders the effective configuration as TOML.
func (c *Config) String() string {
	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(c); err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return sb.String()
}
