package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// ErrInvalidArguments marks argument validation failures.
var ErrInvalidArguments = errors.New("invalid arguments")

// InvalidArgs wraps a message as an ErrInvalidArguments failure.
func InvalidArgs(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArguments, fmt.Sprintf(format, a...))
}

// ClassifyError maps an execution error onto a ToolError.
func ClassifyError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) && te != nil {
		out := *te
		out.Normalize()
		return &out
	}

	msg := strings.TrimSpace(err.Error())
	out := &ToolError{Code: ErrorCodeUnknown, Message: msg}
	lower := strings.ToLower(msg)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		out.Code = ErrorCodeTimeout
		out.Message = "tool timed out"
		out.Retryable = true
	case errors.Is(err, context.Canceled):
		out.Code = ErrorCodeCanceled
		out.Message = "tool canceled"
	case errors.Is(err, ErrInvalidArguments):
		out.Code = ErrorCodeInvalidArguments
	case strings.Contains(lower, "permission denied"):
		out.Code = ErrorCodePermissionDenied
	case strings.Contains(lower, "not found"), strings.Contains(lower, "no such"):
		out.Code = ErrorCodeNotFound
	case strings.Contains(lower, "timed out"):
		out.Code = ErrorCodeTimeout
		out.Retryable = true
	}
	out.Normalize()
	return out
}

// DecodeArgs decodes model-supplied arguments into out, using the json tags of out's fields.
// Loosely typed values (e.g. "5" for an int) are accepted.
func DecodeArgs(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("create argument decoder: %w", err)
	}
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}
