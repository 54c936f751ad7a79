package builtin

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/ashbert/nestor/internal/ai/tools"
	"github.com/ashbert/nestor/internal/objectstore"
)

const (
	defaultNotesPrefix = "notes"
	noteSuffix         = ".txt"
	maxNoteListing     = 50
	maxNoteReadRunes   = 6000
)

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// noteBook stores notes as text objects under <prefix>/<user_id>/<note_id>.txt.
type noteBook struct {
	store  objectstore.Store
	prefix string
}

func newNoteBook(store objectstore.Store, prefix string) *noteBook {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = defaultNotesPrefix
	}
	return &noteBook{store: store, prefix: prefix}
}

func (b *noteBook) userPrefix(userID int64) string {
	return fmt.Sprintf("%s/%d/", b.prefix, userID)
}

func (b *noteBook) key(userID int64, noteID string) (string, error) {
	noteID = strings.TrimSuffix(strings.TrimSpace(noteID), noteSuffix)
	if noteID == "" || strings.ContainsAny(noteID, "/\\") || noteID == "." || noteID == ".." {
		return "", tools.InvalidArgs("invalid note_id %q", noteID)
	}
	return b.userPrefix(userID) + noteID + noteSuffix, nil
}

func newNoteID(title string) string {
	slug := strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if r := []rune(slug); len(r) > 40 {
		slug = strings.Trim(string(r[:40]), "-")
	}
	if slug == "" {
		slug = "note"
	}
	return slug + "-" + uuid.NewString()[:8]
}

func noteUser(ctx context.Context) (int64, error) {
	return userID(tools.UserIDFromContext(ctx))
}

type createNoteTool struct{ book *noteBook }

func (t *createNoteTool) Name() string { return "create_note" }

func (t *createNoteTool) Description() string {
	return "Create a new note document with a title and initial content."
}

func (t *createNoteTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"title":   prop("string", "Note title."),
		"content": prop("string", "Initial plain-text content for the note."),
	}, "title", "content")
}

func (t *createNoteTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	var in struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := tools.DecodeArgs(args, &in); err != nil {
		return "", err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return "", tools.InvalidArgs("title is required")
	}
	uid, err := noteUser(ctx)
	if err != nil {
		return "", err
	}
	id := newNoteID(title)
	key, err := t.book.key(uid, id)
	if err != nil {
		return "", err
	}
	body := title + "\n\n" + strings.TrimSpace(in.Content)
	if err := t.book.store.Put(ctx, key, []byte(body)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Created note %q (note_id: %s).", title, id), nil
}

type listNotesTool struct{ book *noteBook }

func (t *listNotesTool) Name() string { return "list_notes" }

func (t *listNotesTool) Description() string {
	return "List note documents, newest first, optionally filtered by a name query."
}

func (t *listNotesTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"query": prop("string", "Text the note id must contain (optional)."),
	})
}

func (t *listNotesTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	var in struct {
		Query string `json:"query"`
	}
	if err := tools.DecodeArgs(args, &in); err != nil {
		return "", err
	}
	uid, err := noteUser(ctx)
	if err != nil {
		return "", err
	}
	objs, err := t.book.store.List(ctx, t.book.userPrefix(uid))
	if err != nil {
		return "", err
	}
	query := strings.ToLower(strings.TrimSpace(in.Query))
	var lines []string
	for _, o := range objs {
		id := strings.TrimSuffix(path.Base(o.Key), noteSuffix)
		if query != "" && !strings.Contains(strings.ToLower(id), query) {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s (modified: %s, %d bytes)", id, o.LastModified.UTC().Format("2006-01-02 15:04"), o.Size))
		if len(lines) >= maxNoteListing {
			break
		}
	}
	if len(lines) == 0 {
		return "No notes found.", nil
	}
	return fmt.Sprintf("Found %d note(s):\n%s", len(lines), strings.Join(lines, "\n")), nil
}

type readNoteTool struct{ book *noteBook }

func (t *readNoteTool) Name() string { return "read_note" }

func (t *readNoteTool) Description() string {
	return "Read and return the plain-text content of a note."
}

func (t *readNoteTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"note_id": prop("string", "The note id returned by create_note or list_notes."),
	}, "note_id")
}

func (t *readNoteTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	var in struct {
		NoteID string `json:"note_id"`
	}
	if err := tools.DecodeArgs(args, &in); err != nil {
		return "", err
	}
	uid, err := noteUser(ctx)
	if err != nil {
		return "", err
	}
	key, err := t.book.key(uid, in.NoteID)
	if err != nil {
		return "", err
	}
	data, err := t.book.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return "", &tools.ToolError{Code: tools.ErrorCodeNotFound, Message: fmt.Sprintf("note %q not found", in.NoteID)}
		}
		return "", err
	}
	text := string(data)
	if r := []rune(text); len(r) > maxNoteReadRunes {
		text = string(r[:maxNoteReadRunes]) + "\n\n[...truncated]"
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Sprintf("Note %q is empty.", in.NoteID), nil
	}
	return fmt.Sprintf("--- %s ---\n%s", in.NoteID, text), nil
}

type appendNoteTool struct{ book *noteBook }

func (t *appendNoteTool) Name() string { return "append_note" }

func (t *appendNoteTool) Description() string {
	return "Append text content to the end of an existing note."
}

func (t *appendNoteTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"note_id": prop("string", "The note id."),
		"content": prop("string", "Text to append to the note."),
	}, "note_id", "content")
}

func (t *appendNoteTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	var in struct {
		NoteID  string `json:"note_id"`
		Content string `json:"content"`
	}
	if err := tools.DecodeArgs(args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Content) == "" {
		return "", tools.InvalidArgs("content is required")
	}
	uid, err := noteUser(ctx)
	if err != nil {
		return "", err
	}
	key, err := t.book.key(uid, in.NoteID)
	if err != nil {
		return "", err
	}
	current, err := t.book.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return "", &tools.ToolError{Code: tools.ErrorCodeNotFound, Message: fmt.Sprintf("note %q not found", in.NoteID)}
		}
		return "", err
	}
	body := strings.TrimRight(string(current), "\n")
	if body != "" {
		body += "\n"
	}
	body += in.Content
	if err := t.book.store.Put(ctx, key, []byte(body)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Appended %d characters to note %q.", len([]rune(in.Content)), in.NoteID), nil
}
