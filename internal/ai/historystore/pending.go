package historystore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// PendingRecord is the persisted form of a staged, unconfirmed tool batch.
type PendingRecord struct {
	UserID          int64  `json:"user_id"`
	ActionID        string `json:"action_id"`
	Token           string `json:"token"`
	ToolCallsJSON   string `json:"tool_calls_json"`
	CreatedAtUnixMs int64  `json:"created_at_unix_ms"`
}

// GetPending returns the user's record, or nil when none is stored.
func (s *Store) GetPending(ctx context.Context, userID int64) (*PendingRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrNilStore
	}
	var r PendingRecord
	err := s.db.QueryRowContext(ctx, s.rebind(`
SELECT user_id, action_id, token, tool_calls_json, created_at_unix_ms
FROM pending_actions
WHERE user_id = ?
`), userID).Scan(&r.UserID, &r.ActionID, &r.Token, &r.ToolCallsJSON, &r.CreatedAtUnixMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// PutPending stores r, replacing any record the user already has.
func (s *Store) PutPending(ctx context.Context, r PendingRecord) error {
	if s == nil || s.db == nil {
		return ErrNilStore
	}
	if strings.TrimSpace(r.Token) == "" {
		return errors.New("missing token")
	}
	if r.CreatedAtUnixMs <= 0 {
		r.CreatedAtUnixMs = nowUnixMs()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO pending_actions (user_id, action_id, token, tool_calls_json, created_at_unix_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
  action_id = excluded.action_id,
  token = excluded.token,
  tool_calls_json = excluded.tool_calls_json,
  created_at_unix_ms = excluded.created_at_unix_ms
`), r.UserID, r.ActionID, r.Token, r.ToolCallsJSON, r.CreatedAtUnixMs)
	return err
}

// DeletePending removes the user's record and reports whether one existed.
func (s *Store) DeletePending(ctx context.Context, userID int64) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrNilStore
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM pending_actions WHERE user_id = ?`), userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PurgePendingBefore deletes records created before the cutoff.
func (s *Store) PurgePendingBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrNilStore
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM pending_actions WHERE created_at_unix_ms < ?`), before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
