package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashbert/nestor/internal/ai/historystore"
	"github.com/ashbert/nestor/internal/ai/llm"
)

// SQLStore persists pending actions in the history database so they survive restarts.
type SQLStore struct {
	db *historystore.Store
}

func NewSQLStore(db *historystore.Store) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("nil history store")
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Get(ctx context.Context, userID int64) (*Action, error) {
	rec, err := s.db.GetPending(ctx, userID)
	if err != nil || rec == nil {
		return nil, err
	}
	var calls []llm.ToolCall
	if err := json.Unmarshal([]byte(rec.ToolCallsJSON), &calls); err != nil {
		return nil, fmt.Errorf("decode pending tool calls: %w", err)
	}
	return &Action{
		ID:        rec.ActionID,
		UserID:    rec.UserID,
		Token:     rec.Token,
		ToolCalls: calls,
		CreatedAt: time.UnixMilli(rec.CreatedAtUnixMs),
	}, nil
}

func (s *SQLStore) Put(ctx context.Context, a Action) error {
	if err := validate(a); err != nil {
		return err
	}
	b, err := json.Marshal(a.ToolCalls)
	if err != nil {
		return fmt.Errorf("encode pending tool calls: %w", err)
	}
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return s.db.PutPending(ctx, historystore.PendingRecord{
		UserID:          a.UserID,
		ActionID:        a.ID,
		Token:           a.Token,
		ToolCallsJSON:   string(b),
		CreatedAtUnixMs: created.UnixMilli(),
	})
}

func (s *SQLStore) Delete(ctx context.Context, userID int64) (bool, error) {
	return s.db.DeletePending(ctx, userID)
}

func (s *SQLStore) PurgeExpired(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	n, err := s.db.PurgePendingBefore(ctx, now.Add(-ttl))
	return int(n), err
}
