package tools

import (
	"context"
	"encoding/json"
	"strings"
)

// Tool is one capability the model may invoke.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON-schema object describing the arguments.
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Declared is implemented by tools that ship their own declaration in canonical, Anthropic
// (input_schema) or OpenAI ({"type":"function",...}) shape. The registry prefers it over
// Description and Parameters.
type Declared interface {
	Declaration() map[string]any
}

// ErrorCode is a stable, machine-readable tool error code.
type ErrorCode string

const (
	ErrorCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrorCodeInvalidArguments ErrorCode = "INVALID_ARGUMENTS"
	ErrorCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrorCodeTimeout          ErrorCode = "TIMEOUT"
	ErrorCodeCanceled         ErrorCode = "CANCELED"
	ErrorCodeInternal         ErrorCode = "INTERNAL"
	ErrorCodeUnknown          ErrorCode = "UNKNOWN"
)

// ToolError carries structured tool failure metadata.
type ToolError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"error"`
	Retryable bool      `json:"retryable,omitempty"`
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Code) + ": " + e.Message
}

func (e *ToolError) Normalize() {
	if e == nil {
		return
	}
	e.Message = strings.TrimSpace(e.Message)
	if e.Message == "" {
		e.Message = "Tool failed"
	}
	if e.Code == "" {
		e.Code = ErrorCodeUnknown
	}
}

// Result is the outcome of one tool invocation. Exactly one of Content or Err is meaningful.
type Result struct {
	ToolName string
	Content  string
	Err      *ToolError
}

func (r Result) OK() bool { return r.Err == nil }

// Text renders the result for the model. Failures become {"error": ..., "code": ...}.
func (r Result) Text() string {
	if r.Err == nil {
		return r.Content
	}
	e := *r.Err
	e.Normalize()
	b, err := json.Marshal(map[string]any{"error": e.Message, "code": e.Code})
	if err != nil {
		return `{"error":"Tool failed"}`
	}
	return string(b)
}
