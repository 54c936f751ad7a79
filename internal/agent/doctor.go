package agent

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ashbert/nestor/internal/ai/historystore"
	"github.com/ashbert/nestor/internal/config"
	"github.com/ashbert/nestor/internal/settings"
)

// Check is one doctor finding.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

// Doctor inspects the configuration, the state directory and every reachable backend.
//
// It never mutates state beyond opening (and migrating) the conversation database.
func Doctor(ctx context.Context, cfg *config.Config, secrets *settings.SecretsStore) []Check {
	var out []Check
	add := func(name string, err error, okDetail string) {
		if err != nil {
			out = append(out, Check{Name: name, Detail: err.Error()})
			return
		}
		out = append(out, Check{Name: name, OK: true, Detail: okDetail})
	}

	if err := cfg.Validate(); err != nil {
		add("config", err, "")
		return out
	}
	add("config", nil, "valid")

	stateDir := cfg.EffectiveStateDir()
	add("state_dir", checkDir(stateDir), stateDir)

	if secrets == nil {
		secrets = settings.NewSecretsStore(SecretsPath(stateDir))
	}
	if _, err := os.Stat(secrets.Path()); err == nil {
		add("secrets_file", checkPrivate(secrets.Path()), "mode 0600")
	}

	keyName, err := settings.ProviderKeyName(cfg.LLM.EffectiveProvider())
	if err == nil {
		var ok bool
		_, ok, err = secrets.Get(keyName)
		if err == nil && !ok {
			err = fmt.Errorf("%s is not set", keyName)
		}
	}
	add("provider_key", err, keyName)

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dbPath := cfg.Storage.EffectivePath(stateDir)
	hs, err := historystore.Open(historystore.Options{
		Driver: cfg.Storage.EffectiveDriver(),
		Path:   dbPath,
		DSN:    cfg.Storage.DSN,
	})
	if err == nil {
		err = hs.Ping(checkCtx)
		_ = hs.Close()
	}
	add("database", err, cfg.Storage.EffectiveDriver())
	if cfg.Storage.EffectiveDriver() == config.DriverSQLite && err == nil {
		add("database_file", checkPrivate(dbPath), "mode 0600")
	}

	if cfg.Confirmation.EffectiveStore() == config.PendingStoreRedis {
		client, err := newRedisClient(cfg.Redis, secrets)
		if err == nil {
			err = client.Ping(checkCtx).Err()
			_ = client.Close()
		}
		add("redis", err, cfg.Redis.Addr)
	}

	if cfg.Notes.Enabled() {
		store, err := newObjectStore(cfg.Notes, secrets)
		if err == nil {
			err = store.Ping(checkCtx)
		}
		add("notes_bucket", err, cfg.Notes.Bucket)
	}

	if cfg.Email.Enabled() {
		_, ok, err := secrets.Get(settings.SecretGmailAppPassword)
		if err == nil && !ok {
			err = fmt.Errorf("%s is not set", settings.SecretGmailAppPassword)
		}
		add("email", err, cfg.Email.Address)
	}

	if cfg.WebSearch.EffectiveProvider() != config.WebSearchDisabled {
		_, ok, err := secrets.Get(settings.SecretBraveAPIKey)
		if err == nil && !ok {
			err = fmt.Errorf("%s is not set; web_search stays disabled", settings.SecretBraveAPIKey)
		}
		add("web_search", err, cfg.WebSearch.EffectiveProvider())
	}
	return out
}

// Healthy reports whether every check passed.
func Healthy(checks []Check) bool {
	for _, c := range checks {
		if !c.OK {
			return false
		}
	}
	return true
}

func checkDir(p string) error {
	st, err := os.Stat(p)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("%s is not a directory", p)
	}
	return nil
}

func checkPrivate(p string) error {
	st, err := os.Stat(p)
	if err != nil {
		return err
	}
	if perm := st.Mode().Perm(); perm&0o077 != 0 {
		return fmt.Errorf("%s has mode %o, want 0600", p, perm)
	}
	return nil
}
