package historystore

import (
	"context"
	"errors"
	"strings"
	"time"
)

type Message struct {
	ID              int64  `json:"id"`
	UserID          int64  `json:"user_id"`
	Role            string `json:"role"`
	Content         string `json:"content"`
	ToolName        string `json:"tool_name,omitempty"`
	CreatedAtUnixMs int64  `json:"created_at_unix_ms"`
}

func validRole(role string) bool {
	switch role {
	case "user", "assistant", "tool":
		return true
	default:
		return false
	}
}

// AppendMessage stores one message and returns its id.
func (s *Store) AppendMessage(ctx context.Context, m Message) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrNilStore
	}
	m.Role = strings.TrimSpace(m.Role)
	if !validRole(m.Role) {
		return 0, errors.New("invalid role")
	}
	if m.CreatedAtUnixMs <= 0 {
		m.CreatedAtUnixMs = nowUnixMs()
	}
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
INSERT INTO conversations (user_id, role, content, tool_name, created_at_unix_ms)
VALUES (?, ?, ?, ?, ?)
RETURNING id
`), m.UserID, m.Role, m.Content, strings.TrimSpace(m.ToolName), m.CreatedAtUnixMs).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AppendExchange stores a user turn and its reply in one transaction.
func (s *Store) AppendExchange(ctx context.Context, userID int64, userText string, reply string) error {
	if s == nil || s.db == nil {
		return ErrNilStore
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := nowUnixMs()
	q := s.rebind(`INSERT INTO conversations (user_id, role, content, tool_name, created_at_unix_ms) VALUES (?, ?, ?, '', ?)`)
	if _, err := tx.ExecContext(ctx, q, userID, "user", userText, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, q, userID, "assistant", reply, now); err != nil {
		return err
	}
	return tx.Commit()
}

// RecentMessages returns up to limit of the user's newest messages, oldest first.
func (s *Store) RecentMessages(ctx context.Context, userID int64, limit int) ([]Message, error) {
	if s == nil || s.db == nil {
		return nil, ErrNilStore
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT id, user_id, role, content, tool_name, created_at_unix_ms
FROM conversations
WHERE user_id = ?
ORDER BY id DESC
LIMIT ?
`), userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.UserID, &m.Role, &m.Content, &m.ToolName, &m.CreatedAtUnixMs); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// PruneMessages deletes every message created before the cutoff and reports how many were removed.
func (s *Store) PruneMessages(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrNilStore
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM conversations WHERE created_at_unix_ms < ?`), before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
