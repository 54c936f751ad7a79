// Package builtin holds the tools the assistant ships with.
package builtin

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashbert/nestor/internal/ai/tools"
	"github.com/ashbert/nestor/internal/objectstore"
	"github.com/ashbert/nestor/internal/websearch"
)

// Deps selects which tools are available. Nil dependencies disable their tools.
type Deps struct {
	Logger *slog.Logger
	// Location is the timezone reported by get_current_datetime.
	Location *time.Location

	Memory  MemoryStore
	Search  *websearch.Client
	Objects objectstore.Store
	// NotesPrefix is the key prefix of note objects. Defaults to "notes".
	NotesPrefix string
	Mailer      Mailer
}

// Register adds every tool whose dependencies are present and returns their names.
func Register(reg *tools.Registry, deps Deps) ([]string, error) {
	if reg == nil {
		return nil, errors.New("nil registry")
	}
	list := []tools.Tool{newDateTimeTool(deps.Location)}
	if deps.Memory != nil {
		list = append(list, &rememberTool{store: deps.Memory}, &recallTool{store: deps.Memory})
	}
	if deps.Search != nil {
		list = append(list, &webSearchTool{client: deps.Search})
	}
	if deps.Objects != nil {
		notes := newNoteBook(deps.Objects, deps.NotesPrefix)
		list = append(list,
			&createNoteTool{book: notes},
			&listNotesTool{book: notes},
			&readNoteTool{book: notes},
			&appendNoteTool{book: notes},
		)
	}
	if deps.Mailer != nil {
		list = append(list, &sendEmailTool{mailer: deps.Mailer})
	}

	names := make([]string, 0, len(list))
	for _, t := range list {
		if err := reg.Register(t); err != nil {
			return nil, fmt.Errorf("register %s: %w", t.Name(), err)
		}
		names = append(names, t.Name())
	}
	if deps.Logger != nil {
		deps.Logger.Info("builtin tools registered", "tools", names)
	}
	return names, nil
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func prop(typ string, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

func userID(ctxUser int64, ok bool) (int64, error) {
	if !ok {
		return 0, errors.New("no user bound to this tool call")
	}
	return ctxUser, nil
}
