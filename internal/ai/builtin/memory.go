package builtin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ashbert/nestor/internal/ai/historystore"
	"github.com/ashbert/nestor/internal/ai/tools"
)

const (
	defaultRecallLimit = 10
	maxRecallLimit     = 20
	recallPreviewRunes = 240
)

// MemoryStore persists long-term notes per user.
type MemoryStore interface {
	SaveNote(ctx context.Context, n historystore.Note) (int64, error)
	ListNotes(ctx context.Context, userID int64, query string, limit int) ([]historystore.Note, error)
}

type rememberTool struct {
	store MemoryStore
}

func (t *rememberTool) Name() string { return "remember_thought" }

func (t *rememberTool) Description() string {
	return "Save a long-term private memory note for future recall."
}

func (t *rememberTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"content": prop("string", "The memory text to store."),
		"title":   prop("string", "Optional short title for the memory."),
	}, "content")
}

func (t *rememberTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	var in struct {
		Content string `json:"content"`
		Title   string `json:"title"`
	}
	if err := tools.DecodeArgs(args, &in); err != nil {
		return "", err
	}
	in.Content = strings.TrimSpace(in.Content)
	if in.Content == "" {
		return "", tools.InvalidArgs("cannot store an empty memory")
	}
	uid, err := userID(tools.UserIDFromContext(ctx))
	if err != nil {
		return "", err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = "Memory"
	}
	id, err := t.store.SaveNote(ctx, historystore.Note{UserID: uid, Title: title, Content: in.Content})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Memory saved (id=%d, title=%q).", id, title), nil
}

type recallTool struct {
	store MemoryStore
}

func (t *recallTool) Name() string { return "recall_thoughts" }

func (t *recallTool) Description() string {
	return "Recall previously saved long-term memory notes, optionally filtered by a query."
}

func (t *recallTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"query": prop("string", "Optional text filter to search within saved memories."),
		"limit": prop("integer", "Maximum number of notes to return (default 10, max 20)."),
	})
}

func (t *recallTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	var in struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := tools.DecodeArgs(args, &in); err != nil {
		return "", err
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultRecallLimit
	}
	if limit > maxRecallLimit {
		limit = maxRecallLimit
	}
	uid, err := userID(tools.UserIDFromContext(ctx))
	if err != nil {
		return "", err
	}
	query := strings.TrimSpace(in.Query)
	notes, err := t.store.ListNotes(ctx, uid, query, limit)
	if err != nil {
		return "", err
	}
	if len(notes) == 0 {
		if query != "" {
			return fmt.Sprintf("No saved memories matched %q.", query), nil
		}
		return "No memories are stored yet.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d memory note(s):", len(notes))
	for _, n := range notes {
		content := strings.TrimSpace(n.Content)
		if r := []rune(content); len(r) > recallPreviewRunes {
			content = string(r[:recallPreviewRunes]) + "... [truncated]"
		}
		stamp := time.UnixMilli(n.UpdatedAtUnixMs).UTC().Format("2006-01-02 15:04")
		fmt.Fprintf(&sb, "\n- [%d] %s (%s)\n  %s", n.ID, n.Title, stamp, content)
	}
	return sb.String(), nil
}
