package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Declaration describes one tool offered to the model.
//
// Parameters is a JSON-schema object ({"type":"object","properties":{...},"required":[...]}).
type Declaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ParseDeclaration accepts a tool declaration in any of the supported shapes:
//
//	canonical: {"name", "description", "parameters"}
//	anthropic: {"name", "description", "input_schema"}
//	openai:    {"type": "function", "function": {"name", "description", "parameters"}}
func ParseDeclaration(raw map[string]any) (Declaration, error) {
	if len(raw) == 0 {
		return Declaration{}, errors.New("empty tool declaration")
	}
	src := raw
	if strings.TrimSpace(stringValue(raw["type"])) == "function" {
		fn, ok := raw["function"].(map[string]any)
		if !ok {
			return Declaration{}, errors.New("function declaration missing function object")
		}
		src = fn
	}

	name := strings.TrimSpace(stringValue(src["name"]))
	if name == "" {
		return Declaration{}, errors.New("tool declaration missing name")
	}
	var schema map[string]any
	switch {
	case src["parameters"] != nil:
		schema, _ = src["parameters"].(map[string]any)
	case src["input_schema"] != nil:
		schema, _ = src["input_schema"].(map[string]any)
	}
	if schema == nil && (src["parameters"] != nil || src["input_schema"] != nil) {
		return Declaration{}, fmt.Errorf("tool %q: schema must be an object", name)
	}
	return Declaration{
		Name:        name,
		Description: strings.TrimSpace(stringValue(src["description"])),
		Parameters:  normalizeSchema(schema),
	}, nil
}

func normalizeSchema(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema)+2)
	for k, v := range schema {
		out[k] = v
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	return out
}

func schemaRequired(schema map[string]any) []string {
	switch v := schema["required"].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, it := range v {
			if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// decodeArguments parses the argument object of a tool call.
func decodeArguments(raw []byte) (map[string]any, string) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, ""
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return map[string]any{}, err.Error()
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, ""
}

// schemaExtras returns the top-level schema keywords other than type, properties and required.
func schemaExtras(schema map[string]any) map[string]any {
	var out map[string]any
	for k, v := range schema {
		switch k {
		case "type", "properties", "required":
			continue
		}
		if out == nil {
			out = make(map[string]any)
		}
		out[k] = v
	}
	return out
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

// sanitizeToolName maps a tool name onto the character set both vendors accept.
func sanitizeToolName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var sb strings.Builder
	for _, ch := range name {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
			sb.WriteRune(ch)
		case ch == '_' || ch == '-':
			sb.WriteRune(ch)
		default:
			sb.WriteRune('_')
		}
	}
	out := strings.Trim(sb.String(), "_-")
	if out == "" {
		return "tool"
	}
	return out
}

// toolAliases gives every declared tool a distinct vendor-safe name. Names that sanitize to an
// alias already in use get a numeric suffix.
func toolAliases(decls []Declaration) (realToAlias map[string]string, aliasToReal map[string]string) {
	realToAlias = make(map[string]string, len(decls))
	aliasToReal = make(map[string]string, len(decls))
	for _, d := range decls {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			continue
		}
		if _, seen := realToAlias[name]; seen {
			continue
		}
		base := sanitizeToolName(name)
		alias := base
		for n := 2; ; n++ {
			if _, taken := aliasToReal[alias]; !taken {
				break
			}
			alias = fmt.Sprintf("%s_%d", base, n)
		}
		realToAlias[name] = alias
		aliasToReal[alias] = name
	}
	return realToAlias, aliasToReal
}

func aliasFor(realToAlias map[string]string, name string) string {
	if alias, ok := realToAlias[strings.TrimSpace(name)]; ok {
		return alias
	}
	return sanitizeToolName(name)
}
