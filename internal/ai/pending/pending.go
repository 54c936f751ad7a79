// Package pending stores staged tool batches awaiting user confirmation.
//
// A user has at most one pending action. Put replaces whatever was staged before.
// Stores do not enforce expiry on read; callers decide with Action.Expired so an expired
// action can still be observed, reported and cleared.
package pending

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ashbert/nestor/internal/ai/llm"
)

const (
	DefaultTTL = 15 * time.Minute

	// TokenDigits is the length of a confirmation token (10^6 possible values).
	TokenDigits = 6
)

// Action is a staged tool batch.
type Action struct {
	ID        string         `json:"id"`
	UserID    int64          `json:"user_id"`
	Token     string         `json:"token"`
	ToolCalls []llm.ToolCall `json:"tool_calls"`
	CreatedAt time.Time      `json:"created_at"`
}

// Expired reports whether the action is older than ttl at now.
func (a *Action) Expired(now time.Time, ttl time.Duration) bool {
	if a == nil {
		return true
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return now.Sub(a.CreatedAt) >= ttl
}

// Store is the persistence contract for pending actions.
type Store interface {
	// Get returns the user's action, or (nil, nil) when none is staged.
	Get(ctx context.Context, userID int64) (*Action, error)
	// Put stores a, replacing any action the user already has.
	Put(ctx context.Context, a Action) error
	// Delete removes the user's action and reports whether one existed.
	Delete(ctx context.Context, userID int64) (bool, error)
	// PurgeExpired removes actions created before now-ttl.
	PurgeExpired(ctx context.Context, now time.Time, ttl time.Duration) (int, error)
}

var errInvalidAction = errors.New("invalid pending action")

func validate(a Action) error {
	if a.Token == "" {
		return fmt.Errorf("%w: missing token", errInvalidAction)
	}
	if len(a.ToolCalls) == 0 {
		return fmt.Errorf("%w: no tool calls", errInvalidAction)
	}
	return nil
}

// NewToken returns a uniformly random numeric token of TokenDigits digits.
func NewToken() (string, error) {
	max := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", TokenDigits, n.Int64()), nil
}
