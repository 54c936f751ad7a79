package historystore

import (
	"context"
	"errors"
	"strings"
)

type Note struct {
	ID              int64  `json:"id"`
	UserID          int64  `json:"user_id"`
	Title           string `json:"title"`
	Content         string `json:"content"`
	CreatedAtUnixMs int64  `json:"created_at_unix_ms"`
	UpdatedAtUnixMs int64  `json:"updated_at_unix_ms"`
}

func (s *Store) SaveNote(ctx context.Context, n Note) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrNilStore
	}
	n.Title = strings.TrimSpace(n.Title)
	n.Content = strings.TrimSpace(n.Content)
	if n.Content == "" {
		return 0, errors.New("empty note content")
	}
	if n.Title == "" {
		n.Title = "Memory"
	}
	now := nowUnixMs()
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
INSERT INTO notes (user_id, title, content, created_at_unix_ms, updated_at_unix_ms)
VALUES (?, ?, ?, ?, ?)
RETURNING id
`), n.UserID, n.Title, n.Content, now, now).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ListNotes returns the user's notes, newest first, optionally filtered by a case-insensitive substring.
func (s *Store) ListNotes(ctx context.Context, userID int64, query string, limit int) ([]Note, error) {
	if s == nil || s.db == nil {
		return nil, ErrNilStore
	}
	if limit <= 0 {
		limit = 10
	}
	args := []any{userID}
	q := `
SELECT id, user_id, title, content, created_at_unix_ms, updated_at_unix_ms
FROM notes
WHERE user_id = ?`
	if query = strings.TrimSpace(query); query != "" {
		like := "%" + strings.ToLower(query) + "%"
		q += ` AND (LOWER(title) LIKE ? OR LOWER(content) LIKE ?)`
		args = append(args, like, like)
	}
	q += `
ORDER BY updated_at_unix_ms DESC, id DESC
LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &n.CreatedAtUnixMs, &n.UpdatedAtUnixMs); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
