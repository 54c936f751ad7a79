package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// LLMConfig selects the model backend.
type LLMConfig struct {
	// Provider is "anthropic" or "openai".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// BaseURL overrides the provider endpoint.
	BaseURL   string `yaml:"base_url,omitempty"`
	MaxTokens int    `yaml:"max_tokens,omitempty"`
}

func (c LLMConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Provider)) {
	case ProviderAnthropic, ProviderOpenAI:
	case "":
		return errors.New("missing provider")
	default:
		return fmt.Errorf("unsupported provider %q", c.Provider)
	}
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("missing model")
	}
	if c.MaxTokens < 0 {
		return errors.New("max_tokens must not be negative")
	}
	return nil
}

func (c LLMConfig) EffectiveProvider() string {
	return strings.ToLower(strings.TrimSpace(c.Provider))
}

const (
	defaultTimezone     = "UTC"
	defaultMaxRounds    = 5
	defaultHistoryLimit = 50
	defaultToolTimeout  = 30 * time.Second
	defaultUserID       = int64(1)
	defaultDisplayName  = "User"
)

// AssistantConfig tunes the conversation loop.
type AssistantConfig struct {
	// Timezone is an IANA name used for the prompt clock and get_current_datetime.
	Timezone     string `yaml:"timezone,omitempty"`
	MaxRounds    int    `yaml:"max_rounds,omitempty"`
	HistoryLimit int    `yaml:"history_limit,omitempty"`
	// SystemPromptFile replaces the built-in persona. It may contain {current_datetime}.
	SystemPromptFile string        `yaml:"system_prompt_file,omitempty"`
	ToolTimeout      time.Duration `yaml:"tool_timeout,omitempty"`

	// UserID and DisplayName identify the local console user.
	UserID      int64  `yaml:"user_id,omitempty"`
	DisplayName string `yaml:"display_name,omitempty"`
}

func (c AssistantConfig) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.MaxRounds < 0 || c.HistoryLimit < 0 || c.ToolTimeout < 0 {
		return errors.New("max_rounds, history_limit and tool_timeout must not be negative")
	}
	return nil
}

func (c AssistantConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		name = defaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	return loc, nil
}

func (c AssistantConfig) EffectiveMaxRounds() int {
	if c.MaxRounds <= 0 {
		return defaultMaxRounds
	}
	return c.MaxRounds
}

func (c AssistantConfig) EffectiveHistoryLimit() int {
	if c.HistoryLimit <= 0 {
		return defaultHistoryLimit
	}
	return c.HistoryLimit
}

func (c AssistantConfig) EffectiveToolTimeout() time.Duration {
	if c.ToolTimeout <= 0 {
		return defaultToolTimeout
	}
	return c.ToolTimeout
}

func (c AssistantConfig) EffectiveUserID() int64 {
	if c.UserID == 0 {
		return defaultUserID
	}
	return c.UserID
}

func (c AssistantConfig) EffectiveDisplayName() string {
	if name := strings.TrimSpace(c.DisplayName); name != "" {
		return name
	}
	return defaultDisplayName
}

const (
	PendingStoreSQL    = "sql"
	PendingStoreMemory = "memory"
	PendingStoreRedis  = "redis"

	defaultConfirmTTL = 15 * time.Minute
)

// ConfirmationConfig controls how sensitive tool batches are staged.
type ConfirmationConfig struct {
	// TTL is how long a staged batch stays confirmable.
	TTL time.Duration `yaml:"ttl,omitempty"`
	// Store is "sql" (default), "memory" or "redis".
	Store string `yaml:"store,omitempty"`
	// ExtraSensitiveTools adds tool names that always require confirmation.
	ExtraSensitiveTools []string `yaml:"extra_sensitive_tools,omitempty"`
}

func (c ConfirmationConfig) Validate() error {
	if c.TTL < 0 {
		return errors.New("ttl must not be negative")
	}
	switch c.EffectiveStore() {
	case PendingStoreSQL, PendingStoreMemory, PendingStoreRedis:
		return nil
	default:
		return fmt.Errorf("unsupported store %q", c.Store)
	}
}

func (c ConfirmationConfig) EffectiveTTL() time.Duration {
	if c.TTL <= 0 {
		return defaultConfirmTTL
	}
	return c.TTL
}

func (c ConfirmationConfig) EffectiveStore() string {
	s := strings.ToLower(strings.TrimSpace(c.Store))
	if s == "" {
		return PendingStoreSQL
	}
	return s
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultRetentionDays = 30
)

// StorageConfig selects the conversation database.
type StorageConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `yaml:"driver,omitempty"`
	// Path is the SQLite file. Defaults to <state_dir>/nestor.sqlite.
	Path string `yaml:"path,omitempty"`
	// DSN is the Postgres connection string.
	DSN string `yaml:"dsn,omitempty"`
	// RetentionDays bounds conversation history age. Defaults to 30.
	RetentionDays int `yaml:"retention_days,omitempty"`
}

func (c StorageConfig) Validate() error {
	switch c.EffectiveDriver() {
	case DriverSQLite:
	case DriverPostgres:
		if strings.TrimSpace(c.DSN) == "" {
			return errors.New("postgres driver requires dsn")
		}
	default:
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}
	if c.RetentionDays < 0 {
		return errors.New("retention_days must not be negative")
	}
	return nil
}

func (c StorageConfig) EffectiveDriver() string {
	d := strings.ToLower(strings.TrimSpace(c.Driver))
	if d == "" {
		return DriverSQLite
	}
	return d
}

func (c StorageConfig) EffectivePath(stateDir string) string {
	if p := strings.TrimSpace(c.Path); p != "" {
		return expandHome(p)
	}
	return filepath.Join(stateDir, "nestor.sqlite")
}

func (c StorageConfig) EffectiveRetention() time.Duration {
	days := c.RetentionDays
	if days <= 0 {
		days = defaultRetentionDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// RedisConfig locates the redis server used by the redis pending store.
type RedisConfig struct {
	Addr   string `yaml:"addr,omitempty"`
	DB     int    `yaml:"db,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
}

// NotesConfig enables the note tools on an S3-compatible bucket.
type NotesConfig struct {
	// Endpoint is host[:port]. Empty disables the note tools.
	Endpoint string `yaml:"endpoint,omitempty"`
	Bucket   string `yaml:"bucket,omitempty"`
	Region   string `yaml:"region,omitempty"`
	UseSSL   bool   `yaml:"use_ssl,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

func (c NotesConfig) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != "" && strings.TrimSpace(c.Bucket) != ""
}

// EmailConfig enables send_email. The app password lives in secrets.json.
type EmailConfig struct {
	// Address is the sending account. Empty disables send_email.
	Address  string `yaml:"address,omitempty"`
	SMTPHost string `yaml:"smtp_host,omitempty"`
	SMTPPort int    `yaml:"smtp_port,omitempty"`
}

func (c EmailConfig) Enabled() bool {
	return strings.TrimSpace(c.Address) != ""
}

const (
	WebSearchBrave    = "brave"
	WebSearchDisabled = "disabled"
)

// WebSearchConfig controls the web_search tool. It is enabled when a Brave key is available.
type WebSearchConfig struct {
	// Provider is "brave" (default) or "disabled".
	Provider string `yaml:"provider,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

func (c WebSearchConfig) Validate() error {
	switch c.EffectiveProvider() {
	case WebSearchBrave, WebSearchDisabled:
		return nil
	default:
		return fmt.Errorf("unsupported provider %q", c.Provider)
	}
}

func (c WebSearchConfig) EffectiveProvider() string {
	p := strings.ToLower(strings.TrimSpace(c.Provider))
	if p == "" {
		return WebSearchBrave
	}
	return p
}
