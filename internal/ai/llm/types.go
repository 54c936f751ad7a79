package llm

import (
	"context"
	"strings"
)

// Role is the author of a canonical conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the canonical conversation.
//
// Notes:
//   - Assistant messages may carry ToolCalls alongside (or instead of) Content.
//   - Tool messages must carry the ToolCallID of the call they answer.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	// IsError marks a tool message that reports a failed call.
	IsError bool `json:"is_error,omitempty"`
}

// ToolCall is a model request to invoke a named tool.
//
// ArgumentsError is set when the backend sent arguments that are not a JSON object; Arguments is
// then empty and the call must not run.
type ToolCall struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Arguments      map[string]any `json:"arguments"`
	ArgumentsError string         `json:"-"`
}

// Response is the normalized result of one backend call.
//
// ToolCalls is nil when the model requested no tools; adapters never return an empty non-nil slice.
type Response struct {
	Text      string     `json:"text,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Empty reports a turn that produced neither text nor tool calls.
func (r Response) Empty() bool {
	return strings.TrimSpace(r.Text) == "" && len(r.ToolCalls) == 0
}

// ChatRequest is the per-call input of a Provider.
//
// System is passed on every call so adapters hold no per-conversation state.
type ChatRequest struct {
	System   string
	Messages []Message
	Tools    []Declaration
}

// Provider is a model backend speaking the canonical protocol.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (Response, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req ChatRequest) (Response, error)

func (f ProviderFunc) Chat(ctx context.Context, req ChatRequest) (Response, error) {
	return f(ctx, req)
}

func cloneArgs(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
