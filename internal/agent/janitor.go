package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ashbert/nestor/internal/ai/historystore"
	"github.com/ashbert/nestor/internal/config"
	"github.com/ashbert/nestor/internal/settings"
)

// DefaultJanitorInterval is how often RunJanitor prunes old state.
const DefaultJanitorInterval = time.Hour

// PruneStats reports what one Prune pass removed.
type PruneStats struct {
	Messages int64
	Pending  int
}

// Prune removes conversation rows past the retention window and expired pending actions.
func (a *Agent) Prune(ctx context.Context, now time.Time) (PruneStats, error) {
	var stats PruneStats
	n, err := a.history.PruneMessages(ctx, now.Add(-a.cfg.Storage.EffectiveRetention()))
	if err != nil {
		return stats, err
	}
	stats.Messages = n

	p, err := a.pending.PurgeExpired(ctx, now, a.cfg.Confirmation.EffectiveTTL())
	if err != nil {
		return stats, err
	}
	stats.Pending = p
	return stats, nil
}

// RunJanitor prunes once immediately and then every interval until ctx is done.
func (a *Agent) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		stats, err := a.Prune(ctx, time.Now())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.log.Warn("janitor pass failed", "error", err)
		} else if stats.Messages > 0 || stats.Pending > 0 {
			a.log.Info("janitor pruned state", "messages", stats.Messages, "pending", stats.Pending)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// PruneOnce opens only the stores and runs a single Prune pass.
func PruneOnce(ctx context.Context, cfg *config.Config, secrets *settings.SecretsStore, logger *slog.Logger, now time.Time) (PruneStats, error) {
	if err := cfg.Validate(); err != nil {
		return PruneStats{}, err
	}
	a := &Agent{cfg: cfg, log: logger, stateDir: cfg.EffectiveStateDir()}
	if a.log == nil {
		a.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if secrets == nil {
		secrets = settings.NewSecretsStore(SecretsPath(a.stateDir))
	}
	defer a.closeStores()

	history, err := historystore.Open(historystore.Options{
		Driver: cfg.Storage.EffectiveDriver(),
		Path:   cfg.Storage.EffectivePath(a.stateDir),
		DSN:    cfg.Storage.DSN,
	})
	if err != nil {
		return PruneStats{}, fmt.Errorf("open history store: %w", err)
	}
	a.history = history
	if err := a.openPending(ctx, secrets); err != nil {
		return PruneStats{}, err
	}
	return a.Prune(ctx, now)
}
