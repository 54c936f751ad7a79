package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration for nestor.
//
// Secrets (API keys, passwords) never live here; they belong in secrets.json (see internal/settings).
type Config struct {
	// StateDir holds the database, audit log, secrets and lock file. Defaults to ~/.nestor.
	StateDir string `yaml:"state_dir,omitempty"`

	// LogFormat is "json" or "text".
	LogFormat string `yaml:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `yaml:"log_level,omitempty"`

	LLM          LLMConfig          `yaml:"llm"`
	Assistant    AssistantConfig    `yaml:"assistant,omitempty"`
	Confirmation ConfirmationConfig `yaml:"confirmation,omitempty"`
	Storage      StorageConfig      `yaml:"storage,omitempty"`
	Redis        RedisConfig        `yaml:"redis,omitempty"`
	Notes        NotesConfig        `yaml:"notes,omitempty"`
	Email        EmailConfig        `yaml:"email,omitempty"`
	WebSearch    WebSearchConfig    `yaml:"web_search,omitempty"`

	// ShutdownGrace bounds how long in-flight turns may finish on shutdown.
	ShutdownGrace time.Duration `yaml:"shutdown_grace,omitempty"`
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("invalid llm: %w", err)
	}
	if err := c.Assistant.Validate(); err != nil {
		return fmt.Errorf("invalid assistant: %w", err)
	}
	if err := c.Confirmation.Validate(); err != nil {
		return fmt.Errorf("invalid confirmation: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage: %w", err)
	}
	if c.Confirmation.EffectiveStore() == PendingStoreRedis && strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("confirmation.store is redis but redis.addr is empty")
	}
	if err := c.WebSearch.Validate(); err != nil {
		return fmt.Errorf("invalid web_search: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.ShutdownGrace < 0 {
		return errors.New("shutdown_grace must not be negative")
	}
	return nil
}

const defaultShutdownGrace = 10 * time.Second

func (c *Config) EffectiveShutdownGrace() time.Duration {
	if c == nil || c.ShutdownGrace <= 0 {
		return defaultShutdownGrace
	}
	return c.ShutdownGrace
}

// EffectiveStateDir returns the configured state dir or ~/.nestor.
func (c *Config) EffectiveStateDir() string {
	if c != nil {
		if dir := strings.TrimSpace(c.StateDir); dir != "" {
			return expandHome(dir)
		}
	}
	return DefaultStateDir()
}

// DefaultStateDir returns ~/.nestor, or ./.nestor when the home dir is unknown.
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return ".nestor"
	}
	return filepath.Join(home, ".nestor")
}

// DefaultConfigPath returns the default config path:
//
//	~/.nestor/config.yaml
func DefaultConfigPath() string {
	return filepath.Join(DefaultStateDir(), "config.yaml")
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// Write atomically.
	tmp := path + ".tmp"
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
