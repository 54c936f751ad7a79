package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ashbert/nestor/internal/ai/historystore"
	"github.com/ashbert/nestor/internal/ai/llm"
	"github.com/ashbert/nestor/internal/ai/pending"
	"github.com/ashbert/nestor/internal/ai/tools"
	"github.com/ashbert/nestor/internal/auditlog"
)

const (
	DefaultMaxRounds    = 5
	DefaultHistoryLimit = 50
	DefaultDisplayName  = "User"
)

// Fixed replies.
const (
	ReplyBackendFailure = "I do beg your pardon, an unforeseen difficulty has arisen on my end. Please try again in a moment."
	ReplyFallback       = "I do beg your pardon, I seem to have lost my train of thought."
	ReplyNothingPending = "There is nothing awaiting your confirmation at present."
	ReplyCanceled       = "Very well, I have set that aside. Nothing was done."
	ReplyShuttingDown   = "I am afraid I am just closing up for the moment. Please try again shortly."
)

const (
	todayPrompt = "Please check today's calendar and give me a concise summary of the day's schedule. If there is nothing scheduled, let me know."
	weekPrompt  = "Please check the calendar for the next seven days and give me a concise overview of the week ahead. Highlight anything that needs preparation."
)

// History is the conversation persistence used by the orchestrator.
type History interface {
	RecentMessages(ctx context.Context, userID int64, limit int) ([]historystore.Message, error)
	AppendExchange(ctx context.Context, userID int64, userText string, reply string) error
}

// ToolRunner exposes the tools offered to the model.
type ToolRunner interface {
	Declarations() []llm.Declaration
	RequiresConfirmation(name string) bool
	Execute(ctx context.Context, name string, args map[string]any) tools.Result
}

// AuditSink records confirmation and tool events.
type AuditSink interface {
	Append(e auditlog.Entry)
}

type Options struct {
	Logger *slog.Logger

	Provider llm.Provider
	Tools    ToolRunner
	History  History
	Pending  pending.Store
	// Audit is optional.
	Audit AuditSink

	// SystemPrompt may contain {current_datetime}. Empty uses the built-in prompt.
	SystemPrompt string
	// Location is the timezone injected into the system prompt. Nil means UTC.
	Location *time.Location

	MaxRounds    int
	HistoryLimit int
	ConfirmTTL   time.Duration

	// Now and NewToken are test seams.
	Now      func() time.Time
	NewToken func() (string, error)
}

// Service is the conversation orchestrator.
//
// HandleMessage is safe for concurrent use. Turns of one user are serialized; different users
// proceed in parallel.
type Service struct {
	log *slog.Logger

	provider llm.Provider
	tools    ToolRunner
	history  History
	pending  pending.Store
	auditor  AuditSink

	systemPrompt string
	loc          *time.Location

	maxRounds    int
	historyLimit int
	confirmTTL   time.Duration

	clock    func() time.Time
	newToken func() (string, error)

	gate *userGate

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

func New(opts Options) (*Service, error) {
	if opts.Provider == nil {
		return nil, errors.New("missing Provider")
	}
	if opts.Tools == nil {
		return nil, errors.New("missing Tools")
	}
	if opts.History == nil {
		return nil, errors.New("missing History")
	}
	if opts.Pending == nil {
		return nil, errors.New("missing Pending")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	prompt := opts.SystemPrompt
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultSystemPrompt()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	historyLimit := opts.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	ttl := opts.ConfirmTTL
	if ttl <= 0 {
		ttl = pending.DefaultTTL
	}
	newToken := opts.NewToken
	if newToken == nil {
		newToken = pending.NewToken
	}

	return &Service{
		log:          logger,
		provider:     opts.Provider,
		tools:        opts.Tools,
		history:      opts.History,
		pending:      opts.Pending,
		auditor:      opts.Audit,
		systemPrompt: prompt,
		loc:          loc,
		maxRounds:    maxRounds,
		historyLimit: historyLimit,
		confirmTTL:   ttl,
		clock:        opts.Now,
		newToken:     newToken,
		gate:         newUserGate(),
	}, nil
}

// HandleMessage runs one conversational turn and returns the reply.
//
// It never fails: backend and storage problems degrade to a fixed apology.
func (s *Service) HandleMessage(ctx context.Context, userID int64, displayName string, text string) (reply string) {
	if !s.enter() {
		return ReplyShuttingDown
	}
	defer s.inflight.Done()

	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = DefaultDisplayName
	}
	text = strings.TrimSpace(text)
	userTurn := userTurnText(displayName, text)

	release, err := s.gate.acquire(ctx, userID)
	if err != nil {
		s.log.Warn("turn abandoned while waiting", "user_id", userID, "error", err)
		return s.finish(ctx, userID, userTurn, ReplyBackendFailure)
	}
	defer release()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("turn panicked", "user_id", userID, "panic", fmt.Sprint(r))
			reply = s.finish(ctx, userID, userTurn, ReplyBackendFailure)
		}
	}()

	ctx = tools.WithUserID(ctx, userID)

	if out, handled := s.checkPending(ctx, userID, userTurn, text); handled {
		return out
	}
	return s.finish(ctx, userID, userTurn, s.converse(ctx, userID, userTurn, text))
}

// TodaySummary asks for an overview of today's schedule.
func (s *Service) TodaySummary(ctx context.Context, userID int64) string {
	return s.HandleMessage(ctx, userID, DefaultDisplayName, todayPrompt)
}

// WeekSummary asks for an overview of the coming seven days.
func (s *Service) WeekSummary(ctx context.Context, userID int64) string {
	return s.HandleMessage(ctx, userID, DefaultDisplayName, weekPrompt)
}

// Close stops accepting turns and waits for in-flight ones until ctx is done.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain in-flight turns: %w", ctx.Err())
	}
}

func (s *Service) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.inflight.Add(1)
	return true
}

// converse runs the model/tool round loop.
func (s *Service) converse(ctx context.Context, userID int64, userTurn string, rawText string) string {
	messages := s.loadHistory(ctx, userID)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userTurn})
	decls := s.tools.Declarations()

	for round := 1; round <= s.maxRounds; round++ {
		resp, err := s.provider.Chat(ctx, llm.ChatRequest{
			System:   renderSystemPrompt(s.systemPrompt, s.now(), s.loc),
			Messages: messages,
			Tools:    decls,
		})
		if err != nil {
			s.log.Error("model call failed", "user_id", userID, "round", round, "error", err)
			return ReplyBackendFailure
		}

		if resp.Empty() {
			return ReplyFallback
		}
		if len(resp.ToolCalls) == 0 {
			return strings.TrimSpace(resp.Text)
		}

		// A batch with undecodable arguments is neither staged nor run.
		if malformedBatch(resp.ToolCalls) {
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls})
			for _, call := range resp.ToolCalls {
				messages = append(messages, toolMessage(call, s.rejectMalformed(userID, call)))
			}
			continue
		}

		for _, call := range resp.ToolCalls {
			if s.tools.RequiresConfirmation(call.Name) {
				return s.stage(ctx, userID, resp)
			}
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			messages = append(messages, toolMessage(call, s.runTool(ctx, userID, call)))
		}
	}

	s.log.Warn("round budget exhausted", "user_id", userID, "rounds", s.maxRounds, "message", truncateRunes(oneLine(rawText), 120))
	return ReplyFallback
}

func (s *Service) loadHistory(ctx context.Context, userID int64) []llm.Message {
	rows, err := s.history.RecentMessages(ctx, userID, s.historyLimit)
	if err != nil {
		s.log.Warn("load history failed", "user_id", userID, "error", err)
		return nil
	}
	out := make([]llm.Message, 0, len(rows))
	for _, row := range rows {
		switch row.Role {
		case string(llm.RoleUser):
			out = append(out, llm.Message{Role: llm.RoleUser, Content: row.Content})
		case string(llm.RoleAssistant):
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: row.Content})
		}
	}
	// Both backends expect the conversation to open with a user turn.
	for len(out) > 0 && out[0].Role != llm.RoleUser {
		out = out[1:]
	}
	return out
}

func (s *Service) runTool(ctx context.Context, userID int64, call llm.ToolCall) tools.Result {
	res := s.tools.Execute(ctx, call.Name, call.Arguments)
	entry := auditlog.Entry{Action: auditlog.ActionToolExecuted, UserID: userID, Tools: []string{call.Name}}
	if !res.OK() {
		entry.Status = auditlog.StatusFailure
		entry.Error = string(res.Err.Code)
		s.log.Warn("tool call failed", "user_id", userID, "tool", call.Name, "code", res.Err.Code)
	}
	s.audit(entry)
	return res
}

func toolMessage(call llm.ToolCall, res tools.Result) llm.Message {
	return llm.Message{
		Role:       llm.RoleTool,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    res.Text(),
		IsError:    !res.OK(),
	}
}

func malformedBatch(calls []llm.ToolCall) bool {
	for _, c := range calls {
		if c.ArgumentsError != "" {
			return true
		}
	}
	return false
}

func (s *Service) rejectMalformed(userID int64, call llm.ToolCall) tools.Result {
	msg := "Not executed: another call in this batch had malformed arguments."
	if call.ArgumentsError != "" {
		msg = "Malformed arguments: " + call.ArgumentsError
		s.log.Warn("malformed tool arguments", "user_id", userID, "tool", call.Name, "error", call.ArgumentsError)
	}
	return tools.Result{ToolName: call.Name, Err: &tools.ToolError{Code: tools.ErrorCodeInvalidArguments, Message: msg}}
}

// finish persists the exchange and returns reply.
func (s *Service) finish(ctx context.Context, userID int64, userTurn string, reply string) string {
	// The exchange is stored even when the caller has gone away.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.history.AppendExchange(saveCtx, userID, userTurn, reply); err != nil {
		s.log.Error("persist exchange failed", "user_id", userID, "error", err)
	}
	return reply
}

func (s *Service) audit(e auditlog.Entry) {
	if s.auditor == nil {
		return
	}
	s.auditor.Append(e)
}
