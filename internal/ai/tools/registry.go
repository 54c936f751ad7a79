package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ashbert/nestor/internal/ai/llm"
)

const DefaultTimeout = 30 * time.Second

type RegistryOptions struct {
	Logger *slog.Logger
	// Timeout bounds a single tool invocation. If <= 0, DefaultTimeout is used.
	Timeout time.Duration
	// ExtraSensitive adds tool names to the confirmation-gated set.
	ExtraSensitive []string
}

// Registry maps tool names to implementations and runs them in isolation.
//
// Execute never returns a Go error: unknown tools, argument problems, panics and timeouts all
// come back as a Result carrying a ToolError.
type Registry struct {
	log     *slog.Logger
	timeout time.Duration

	mu        sync.RWMutex
	tools     map[string]Tool
	sensitive map[string]struct{}
}

func NewRegistry(opts RegistryOptions) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	sensitive := make(map[string]struct{})
	for _, name := range SensitiveNames() {
		sensitive[name] = struct{}{}
	}
	for _, name := range opts.ExtraSensitive {
		if name = strings.TrimSpace(name); name != "" {
			sensitive[name] = struct{}{}
		}
	}
	return &Registry{
		log:       logger,
		timeout:   timeout,
		tools:     make(map[string]Tool),
		sensitive: sensitive,
	}
}

func (r *Registry) Register(t Tool) error {
	if r == nil {
		return fmt.Errorf("nil registry")
	}
	if t == nil {
		return fmt.Errorf("nil tool")
	}
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return fmt.Errorf("tool name is empty")
	}
	if d, ok := t.(Declared); ok {
		decl, err := llm.ParseDeclaration(d.Declaration())
		if err != nil {
			return fmt.Errorf("tool %q: %w", name, err)
		}
		if decl.Name != name {
			return fmt.Errorf("tool %q declares name %q", name, decl.Name)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	return nil
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[strings.TrimSpace(name)]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Declarations returns the canonical schema of every registered tool, sorted by name.
func (r *Registry) Declarations() []llm.Declaration {
	names := r.Names()
	out := make([]llm.Declaration, 0, len(names))
	for _, name := range names {
		t, ok := r.Lookup(name)
		if !ok {
			continue
		}
		out = append(out, r.declare(name, t))
	}
	return out
}

func (r *Registry) declare(name string, t Tool) llm.Declaration {
	if d, ok := t.(Declared); ok {
		decl, err := llm.ParseDeclaration(d.Declaration())
		if err == nil {
			decl.Name = name
			return decl
		}
		r.log.Warn("tool declaration rejected", "tool", name, "error", err)
	}
	return llm.Declaration{
		Name:        name,
		Description: strings.TrimSpace(t.Description()),
		Parameters:  t.Parameters(),
	}
}

func (r *Registry) RequiresConfirmation(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.sensitive[strings.TrimSpace(name)]
	return ok
}

// Execute runs the named tool under the registry deadline.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) Result {
	name = strings.TrimSpace(name)
	t, ok := r.Lookup(name)
	if !ok {
		return Result{ToolName: name, Err: &ToolError{
			Code:    ErrorCodeNotFound,
			Message: fmt.Sprintf("Unknown tool: %s. Available tools: %s", name, strings.Join(r.Names(), ", ")),
		}}
	}
	if args == nil {
		args = map[string]any{}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		content string
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: &ToolError{Code: ErrorCodeInternal, Message: fmt.Sprintf("tool panicked: %v", p)}}
			}
		}()
		content, err := t.Execute(callCtx, args)
		done <- outcome{content: content, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		out = outcome{err: callCtx.Err()}
	}

	if out.err != nil {
		toolErr := ClassifyError(out.err)
		r.log.Warn("tool execution failed", "tool", name, "code", toolErr.Code, "error", toolErr.Message)
		return Result{ToolName: name, Err: toolErr}
	}
	return Result{ToolName: name, Content: out.content}
}
