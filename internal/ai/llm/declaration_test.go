package llm

import (
	"testing"
)

func TestParseDeclaration_AcceptsAllShapes(t *testing.T) {
	t.Parallel()

	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"query": map[string]any{"type": "string"}},
		"required":   []any{"query"},
	}
	cases := []struct {
		name string
		raw  map[string]any
	}{
		{name: "canonical", raw: map[string]any{"name": "web_search", "description": "Search.", "parameters": schema}},
		{name: "anthropic", raw: map[string]any{"name": "web_search", "description": "Search.", "input_schema": schema}},
		{name: "openai", raw: map[string]any{"type": "function", "function": map[string]any{"name": "web_search", "description": "Search.", "parameters": schema}}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d, err := ParseDeclaration(tc.raw)
			if err != nil {
				t.Fatalf("ParseDeclaration: %v", err)
			}
			if d.Name != "web_search" {
				t.Fatalf("Name=%q, want web_search", d.Name)
			}
			if d.Description != "Search." {
				t.Fatalf("Description=%q, want Search.", d.Description)
			}
			req := schemaRequired(d.Parameters)
			if len(req) != 1 || req[0] != "query" {
				t.Fatalf("required=%v, want [query]", req)
			}
		})
	}
}

func TestParseDeclaration_Errors(t *testing.T) {
	t.Parallel()

	if _, err := ParseDeclaration(nil); err == nil {
		t.Fatalf("expected error for empty declaration")
	}
	if _, err := ParseDeclaration(map[string]any{"description": "x"}); err == nil {
		t.Fatalf("expected error for missing name")
	}
	if _, err := ParseDeclaration(map[string]any{"type": "function"}); err == nil {
		t.Fatalf("expected error for missing function object")
	}
	if _, err := ParseDeclaration(map[string]any{"name": "x", "parameters": "nope"}); err == nil {
		t.Fatalf("expected error for non-object schema")
	}
}

func TestParseDeclaration_DefaultsEmptySchema(t *testing.T) {
	t.Parallel()

	d, err := ParseDeclaration(map[string]any{"name": "get_current_datetime"})
	if err != nil {
		t.Fatalf("ParseDeclaration: %v", err)
	}
	if d.Parameters["type"] != "object" {
		t.Fatalf("type=%v, want object", d.Parameters["type"])
	}
	if _, ok := d.Parameters["properties"].(map[string]any); !ok {
		t.Fatalf("properties=%T, want map", d.Parameters["properties"])
	}
}

func TestSanitizeToolName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"web_search":  "web_search",
		"notes.read":  "notes_read",
		"  spaced  ":  "spaced",
		"...":         "tool",
		"send-email!": "send-email",
	}
	for in, want := range cases {
		if got := sanitizeToolName(in); got != want {
			t.Fatalf("sanitizeToolName(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestToolAliases_SuffixesCollisions(t *testing.T) {
	t.Parallel()

	realToAlias, aliasToReal := toolAliases([]Declaration{
		{Name: "notes.read"},
		{Name: "notes_read"},
		{Name: "notes/read"},
		{Name: "notes_read_2"},
	})
	want := map[string]string{
		"notes.read":   "notes_read",
		"notes_read":   "notes_read_2",
		"notes/read":   "notes_read_3",
		"notes_read_2": "notes_read_2_2",
	}
	for name, alias := range want {
		if got := realToAlias[name]; got != alias {
			t.Fatalf("alias(%q)=%q, want %q", name, got, alias)
		}
		if got := aliasToReal[alias]; got != name {
			t.Fatalf("real(%q)=%q, want %q", alias, got, name)
		}
	}
}

func TestDecodeArguments(t *testing.T) {
	t.Parallel()

	if args, msg := decodeArguments(nil); msg != "" || len(args) != 0 || args == nil {
		t.Fatalf("empty input=(%v, %q), want empty map", args, msg)
	}
	if args, msg := decodeArguments([]byte("null")); msg != "" || args == nil {
		t.Fatalf("null=(%v, %q), want empty map", args, msg)
	}
	if args, msg := decodeArguments([]byte(`{"a":1}`)); msg != "" || args["a"] != float64(1) {
		t.Fatalf("object=(%v, %q)", args, msg)
	}
	if _, msg := decodeArguments([]byte(`[1]`)); msg == "" {
		t.Fatalf("array accepted, want error")
	}
	if _, msg := decodeArguments([]byte(`{"a":`)); msg == "" {
		t.Fatalf("truncated object accepted, want error")
	}
}
