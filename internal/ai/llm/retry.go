package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	openai "github.com/openai/openai-go"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// RetryPolicy bounds how many times a backend call is attempted.
//
// The delay before attempt k (k >= 2) is BaseDelay * 2^(k-2).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// Sleep waits for d or until ctx is done. Defaults to a timer-based wait.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// DefaultRetryPolicy returns the 3-attempt, 1s/2s policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

// Delay returns the wait before the given 1-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	return base << (attempt - 2)
}

// Do runs fn until it succeeds, fails with a non-transient error, or the attempt budget is spent.
// On exhaustion the last transient error is returned.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := p.Delay(attempt)
			if p.Logger != nil {
				p.Logger.Warn("backend call failed, retrying", "attempt", attempt, "delay", delay, "error", lastErr)
			}
			if err := sleep(ctx, delay); err != nil {
				return lastErr
			}
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// IsTransient reports rate limiting (429) and server-side (5xx) failures from either SDK.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var aerr *anthropic.Error
	if errors.As(err, &aerr) {
		return isTransientStatus(aerr.StatusCode)
	}
	var oerr *openai.Error
	if errors.As(err, &oerr) {
		return isTransientStatus(oerr.StatusCode)
	}
	return false
}

func isTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// WithRetry wraps a Provider so each Chat call follows policy.
func WithRetry(p Provider, policy RetryPolicy) Provider {
	return &retryingProvider{next: p, policy: policy}
}

type retryingProvider struct {
	next   Provider
	policy RetryPolicy
}

func (r *retryingProvider) Chat(ctx context.Context, req ChatRequest) (Response, error) {
	var out Response
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		resp, err := r.next.Chat(ctx, req)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		return Response{}, err
	}
	return out, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
