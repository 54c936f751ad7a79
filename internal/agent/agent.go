// Package agent assembles the assistant from configuration.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashbert/nestor/internal/ai"
	"github.com/ashbert/nestor/internal/ai/builtin"
	"github.com/ashbert/nestor/internal/ai/historystore"
	"github.com/ashbert/nestor/internal/ai/llm"
	"github.com/ashbert/nestor/internal/ai/pending"
	"github.com/ashbert/nestor/internal/ai/tools"
	"github.com/ashbert/nestor/internal/auditlog"
	"github.com/ashbert/nestor/internal/config"
	"github.com/ashbert/nestor/internal/objectstore"
	"github.com/ashbert/nestor/internal/settings"
	"github.com/ashbert/nestor/internal/websearch"
)

type Options struct {
	Config *config.Config
	// Secrets defaults to <state_dir>/secrets.json.
	Secrets *settings.SecretsStore
	// Logger defaults to config.NewLogger(log_format, log_level).
	Logger *slog.Logger

	// Provider overrides the configured model backend (tests).
	Provider llm.Provider
}

// Agent owns every long-lived component of a running assistant.
type Agent struct {
	cfg      *config.Config
	log      *slog.Logger
	stateDir string

	history *historystore.Store
	pending pending.Store
	redis   *redis.Client
	audit   *auditlog.Store
	tools   *tools.Registry
	svc     *ai.Service
}

func New(ctx context.Context, opts Options) (*Agent, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("missing config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		l, err := config.NewLogger(cfg.LogFormat, cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		logger = l
	}

	stateDir := cfg.EffectiveStateDir()
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	secrets := opts.Secrets
	if secrets == nil {
		secrets = settings.NewSecretsStore(SecretsPath(stateDir))
	}

	a := &Agent{cfg: cfg, log: logger, stateDir: stateDir}
	ok := false
	defer func() {
		if !ok {
			a.closeStores()
		}
	}()

	history, err := historystore.Open(historystore.Options{
		Driver: cfg.Storage.EffectiveDriver(),
		Path:   cfg.Storage.EffectivePath(stateDir),
		DSN:    cfg.Storage.DSN,
	})
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	a.history = history

	if err := a.openPending(ctx, secrets); err != nil {
		return nil, err
	}

	audit, err := auditlog.New(auditlog.Options{Logger: logger, StateDir: stateDir})
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	a.audit = audit

	provider := opts.Provider
	if provider == nil {
		provider, err = newProvider(cfg.LLM, secrets, logger)
		if err != nil {
			return nil, err
		}
	}

	a.tools = tools.NewRegistry(tools.RegistryOptions{
		Logger:         logger,
		Timeout:        cfg.Assistant.EffectiveToolTimeout(),
		ExtraSensitive: cfg.Confirmation.ExtraSensitiveTools,
	})
	deps, err := a.toolDeps(secrets)
	if err != nil {
		return nil, err
	}
	if _, err := builtin.Register(a.tools, deps); err != nil {
		return nil, err
	}

	prompt := ""
	if p := strings.TrimSpace(cfg.Assistant.SystemPromptFile); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read system prompt: %w", err)
		}
		prompt = string(b)
	}
	loc, err := cfg.Assistant.Location()
	if err != nil {
		return nil, err
	}

	svc, err := ai.New(ai.Options{
		Logger:       logger,
		Provider:     provider,
		Tools:        a.tools,
		History:      history,
		Pending:      a.pending,
		Audit:        audit,
		SystemPrompt: prompt,
		Location:     loc,
		MaxRounds:    cfg.Assistant.EffectiveMaxRounds(),
		HistoryLimit: cfg.Assistant.EffectiveHistoryLimit(),
		ConfirmTTL:   cfg.Confirmation.EffectiveTTL(),
	})
	if err != nil {
		return nil, err
	}
	a.svc = svc

	ok = true
	logger.Info("assistant ready",
		"provider", cfg.LLM.EffectiveProvider(),
		"model", cfg.LLM.Model,
		"storage", history.Dialect(),
		"pending_store", cfg.Confirmation.EffectiveStore(),
		"tools", a.tools.Names(),
	)
	return a, nil
}

// SecretsPath returns the secrets file inside stateDir.
func SecretsPath(stateDir string) string {
	return filepath.Join(stateDir, "secrets.json")
}

// LockPath returns the single-instance lock file inside stateDir.
func LockPath(stateDir string) string {
	return filepath.Join(stateDir, "nestor.lock")
}

func (a *Agent) Service() *ai.Service { return a.svc }

func (a *Agent) Logger() *slog.Logger { return a.log }

func (a *Agent) StateDir() string { return a.stateDir }

// ToolNames lists the tools offered to the model.
func (a *Agent) ToolNames() []string { return a.tools.Names() }

// Close drains in-flight turns for the configured grace period, then releases every store.
func (a *Agent) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.EffectiveShutdownGrace())
	defer cancel()
	var errs []error
	if a.svc != nil {
		if err := a.svc.Close(ctx); err != nil {
			a.log.Warn("shutdown grace exceeded", "error", err)
			errs = append(errs, err)
		}
	}
	if err := a.closeStores(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *Agent) closeStores() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
		a.redis = nil
	}
	if a.audit != nil {
		errs = append(errs, a.audit.Close())
		a.audit = nil
	}
	if a.history != nil {
		errs = append(errs, a.history.Close())
		a.history = nil
	}
	return errors.Join(errs...)
}

func (a *Agent) openPending(ctx context.Context, secrets *settings.SecretsStore) error {
	switch a.cfg.Confirmation.EffectiveStore() {
	case config.PendingStoreMemory:
		a.pending = pending.NewMemoryStore()
		return nil
	case config.PendingStoreRedis:
		client, err := newRedisClient(a.cfg.Redis, secrets)
		if err != nil {
			return err
		}
		a.redis = client
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		store, err := pending.NewRedisStore(pending.RedisOptions{
			Client: client,
			Prefix: a.cfg.Redis.Prefix,
			TTL:    a.cfg.Confirmation.EffectiveTTL(),
		})
		if err != nil {
			return err
		}
		a.pending = store
		return nil
	default:
		store, err := pending.NewSQLStore(a.history)
		if err != nil {
			return err
		}
		a.pending = store
		return nil
	}
}

func newRedisClient(cfg config.RedisConfig, secrets *settings.SecretsStore) (*redis.Client, error) {
	password, _, err := secrets.Get(settings.SecretRedisPassword)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(cfg.Addr),
		Password: password,
		DB:       cfg.DB,
	}), nil
}

func newProvider(cfg config.LLMConfig, secrets *settings.SecretsStore, logger *slog.Logger) (llm.Provider, error) {
	keyName, err := settings.ProviderKeyName(cfg.EffectiveProvider())
	if err != nil {
		return nil, err
	}
	key, ok, err := secrets.Get(keyName)
	if err != nil {
		return nil, err
	}
	if !ok {
		env, _ := settings.EnvVar(keyName)
		return nil, fmt.Errorf("no api key for %s: run `nestor secrets set %s` or export %s", cfg.EffectiveProvider(), keyName, env)
	}
	p, err := llm.NewProvider(llm.Options{
		Type:      cfg.EffectiveProvider(),
		Model:     cfg.Model,
		APIKey:    key,
		BaseURL:   cfg.BaseURL,
		MaxTokens: int64(cfg.MaxTokens),
	})
	if err != nil {
		return nil, err
	}
	policy := llm.DefaultRetryPolicy()
	policy.Logger = logger
	return llm.WithRetry(p, policy), nil
}

func (a *Agent) toolDeps(secrets *settings.SecretsStore) (builtin.Deps, error) {
	loc, err := a.cfg.Assistant.Location()
	if err != nil {
		return builtin.Deps{}, err
	}
	deps := builtin.Deps{Logger: a.log, Location: loc, Memory: a.history}

	if a.cfg.WebSearch.EffectiveProvider() != config.WebSearchDisabled {
		key, ok, err := secrets.Get(settings.SecretBraveAPIKey)
		if err != nil {
			return deps, err
		}
		if ok {
			client, err := websearch.NewClient(websearch.Options{
				Provider: a.cfg.WebSearch.EffectiveProvider(),
				APIKey:   key,
				Endpoint: a.cfg.WebSearch.Endpoint,
			})
			if err != nil {
				return deps, err
			}
			deps.Search = client
		} else {
			a.log.Info("web_search disabled: no brave api key")
		}
	}

	if a.cfg.Notes.Enabled() {
		store, err := newObjectStore(a.cfg.Notes, secrets)
		if err != nil {
			return deps, err
		}
		deps.Objects = store
		deps.NotesPrefix = a.cfg.Notes.Prefix
	}

	if a.cfg.Email.Enabled() {
		password, ok, err := secrets.Get(settings.SecretGmailAppPassword)
		if err != nil {
			return deps, err
		}
		if ok {
			mailer, err := builtin.NewSMTPMailer(builtin.SMTPOptions{
				Host:     a.cfg.Email.SMTPHost,
				Port:     a.cfg.Email.SMTPPort,
				Username: a.cfg.Email.Address,
				Password: password,
			})
			if err != nil {
				return deps, err
			}
			deps.Mailer = mailer
		} else {
			a.log.Warn("send_email disabled: no app password", "secret", settings.SecretGmailAppPassword)
		}
	}
	return deps, nil
}

func newObjectStore(cfg config.NotesConfig, secrets *settings.SecretsStore) (*objectstore.MinioStore, error) {
	access, _, err := secrets.Get(settings.SecretS3AccessKey)
	if err != nil {
		return nil, err
	}
	secret, _, err := secrets.Get(settings.SecretS3SecretKey)
	if err != nil {
		return nil, err
	}
	return objectstore.NewMinioStore(objectstore.MinioOptions{
		Endpoint:  cfg.Endpoint,
		AccessKey: access,
		SecretKey: secret,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		UseSSL:    cfg.UseSSL,
	})
}
