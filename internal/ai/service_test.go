package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashbert/nestor/internal/ai/historystore"
	"github.com/ashbert/nestor/internal/ai/llm"
	"github.com/ashbert/nestor/internal/ai/pending"
	"github.com/ashbert/nestor/internal/ai/tools"
	"github.com/ashbert/nestor/internal/auditlog"
)

type stubTool struct {
	name  string
	calls atomic.Int32
	run   func(ctx context.Context, args map[string]any) (string, error)
}

func (t *stubTool) Name() string        { return t.name }
func (t *stubTool) Description() string { return "stub " + t.name }
func (t *stubTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *stubTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	t.calls.Add(1)
	if t.run == nil {
		return t.name + " ok", nil
	}
	return t.run(ctx, args)
}

// scriptedProvider replays responses in order and records every request.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []llm.Response
	errs      []error
	requests  []llm.ChatRequest
}

func (p *scriptedProvider) Chat(_ context.Context, req llm.ChatRequest) (llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := len(p.requests)
	p.requests = append(p.requests, req)
	if idx < len(p.errs) && p.errs[idx] != nil {
		return llm.Response{}, p.errs[idx]
	}
	if idx < len(p.responses) {
		return p.responses[idx], nil
	}
	return llm.Response{Text: "done"}, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []auditlog.Entry
}

func (a *recordingAudit) Append(e auditlog.Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type harness struct {
	svc      *Service
	provider *scriptedProvider
	history  *historystore.Store
	pending  *pending.MemoryStore
	audit    *recordingAudit
	email    *stubTool
	lookup   *stubTool
	now      time.Time
	mu       sync.Mutex
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	h.now = h.now.Add(d)
	h.mu.Unlock()
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func newHarness(t *testing.T, provider *scriptedProvider, extra ...tools.Tool) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := historystore.Open(historystore.Options{Path: filepath.Join(t.TempDir(), "nestor.sqlite")})
	if err != nil {
		t.Fatalf("historystore.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		provider: provider,
		history:  db,
		pending:  pending.NewMemoryStore(),
		audit:    &recordingAudit{},
		email:    &stubTool{name: "send_email"},
		lookup:   &stubTool{name: "lookup"},
		now:      time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
	}

	reg := tools.NewRegistry(tools.RegistryOptions{Logger: logger, Timeout: time.Second})
	for _, tool := range append([]tools.Tool{h.email, h.lookup}, extra...) {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	svc, err := New(Options{
		Logger:   logger,
		Provider: provider,
		Tools:    reg,
		History:  db,
		Pending:  h.pending,
		Audit:    h.audit,
		Now:      h.clock,
		NewToken: func() (string, error) { return "482913", nil },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.svc = svc
	return h
}

func emailCall() llm.ToolCall {
	return llm.ToolCall{ID: "call_1", Name: "send_email", Arguments: map[string]any{"to": "a@b.com", "subject": "Hi"}}
}

func TestHandleMessage_TextOnlyPersistsTwoRows(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{responses: []llm.Response{{Text: "It is half past nine."}}}
	h := newHarness(t, p)
	ctx := context.Background()

	reply := h.svc.HandleMessage(ctx, 1, "Ada", "What time is it?")
	if reply != "It is half past nine." {
		t.Fatalf("reply=%q", reply)
	}
	if p.callCount() != 1 {
		t.Fatalf("backend calls=%d, want 1", p.callCount())
	}
	if h.lookup.calls.Load() != 0 || h.email.calls.Load() != 0 {
		t.Fatalf("tools ran on a text-only turn")
	}

	rows, err := h.history.RecentMessages(ctx, 1, 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows=%d, want 2", len(rows))
	}
	if rows[0].Role != "user" || rows[0].Content != "[Ada]: What time is it?" {
		t.Fatalf("user row=%+v", rows[0])
	}
	if rows[1].Role != "assistant" || rows[1].Content != reply {
		t.Fatalf("assistant row=%+v", rows[1])
	}

	req := p.requests[0]
	if !strings.Contains(req.System, "Monday, 02 March 2026, 09:30") {
		t.Fatalf("system prompt missing current time: %q", req.System)
	}
	if strings.Contains(req.System, datetimePlaceholder) {
		t.Fatalf("placeholder left in system prompt")
	}
	if len(req.Tools) != 2 {
		t.Fatalf("tools offered=%d, want 2", len(req.Tools))
	}
}

func TestHandleMessage_EmptyTextUsesFallback(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &scriptedProvider{responses: []llm.Response{{Text: "  "}}})
	if reply := h.svc.HandleMessage(context.Background(), 1, "", "hello"); reply != ReplyFallback {
		t.Fatalf("reply=%q, want fallback", reply)
	}
}

func TestHandleMessage_SensitiveCallIsStaged(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{responses: []llm.Response{{Text: "I shall draft it.", ToolCalls: []llm.ToolCall{emailCall()}}}}
	h := newHarness(t, p)
	ctx := context.Background()

	reply := h.svc.HandleMessage(ctx, 1, "Ada", "Email a@b.com to say hi")
	if !strings.Contains(reply, "confirm 482913") {
		t.Fatalf("reply missing token: %q", reply)
	}
	if !strings.Contains(reply, "send_email (subject: Hi, to: a@b.com)") {
		t.Fatalf("reply missing call description: %q", reply)
	}
	if h.email.calls.Load() != 0 {
		t.Fatalf("email sent before confirmation")
	}
	action, err := h.pending.Get(ctx, 1)
	if err != nil || action == nil {
		t.Fatalf("pending action=%v err=%v, want staged", action, err)
	}
	if action.Token != "482913" || len(action.ToolCalls) != 1 {
		t.Fatalf("action=%+v", action)
	}
	if got := h.audit.actions(); len(got) != 1 || got[0] != auditlog.ActionPendingStaged {
		t.Fatalf("audit=%v", got)
	}
}

func TestHandleMessage_MixedBatchIsStagedWhole(t *testing.T) {
	t.Parallel()

	lookupCall := llm.ToolCall{ID: "call_0", Name: "lookup", Arguments: map[string]any{}}
	p := &scriptedProvider{responses: []llm.Response{{ToolCalls: []llm.ToolCall{lookupCall, emailCall()}}}}
	h := newHarness(t, p)
	ctx := context.Background()

	h.svc.HandleMessage(ctx, 1, "Ada", "look it up and email it")
	if h.lookup.calls.Load() != 0 {
		t.Fatalf("non-sensitive sibling ran before confirmation")
	}
	action, _ := h.pending.Get(ctx, 1)
	if action == nil || len(action.ToolCalls) != 2 {
		t.Fatalf("action=%+v, want both calls staged", action)
	}

	reply := h.svc.HandleMessage(ctx, 1, "Ada", "confirm 482913")
	if h.lookup.calls.Load() != 1 || h.email.calls.Load() != 1 {
		t.Fatalf("lookup=%d email=%d, want 1 each", h.lookup.calls.Load(), h.email.calls.Load())
	}
	if !strings.HasPrefix(reply, "Very good. It is done:") {
		t.Fatalf("reply=%q", reply)
	}
}

func TestHandleMessage_ConfirmExecutesExactlyOnce(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{responses: []llm.Response{{ToolCalls: []llm.ToolCall{emailCall()}}}}
	h := newHarness(t, p)
	ctx := context.Background()

	h.svc.HandleMessage(ctx, 1, "Ada", "Email a@b.com")
	reply := h.svc.HandleMessage(ctx, 1, "Ada", "confirm 482913")
	if h.email.calls.Load() != 1 {
		t.Fatalf("email calls=%d, want 1", h.email.calls.Load())
	}
	if !strings.Contains(reply, "send_email: send_email ok") {
		t.Fatalf("reply=%q", reply)
	}
	if action, _ := h.pending.Get(ctx, 1); action != nil {
		t.Fatalf("pending action survived confirmation: %+v", action)
	}
	if p.callCount() != 1 {
		t.Fatalf("backend calls=%d, confirmation must not call the model", p.callCount())
	}

	again := h.svc.HandleMessage(ctx, 1, "Ada", "confirm 482913")
	if again != ReplyNothingPending {
		t.Fatalf("second confirm=%q, want %q", again, ReplyNothingPending)
	}
	if h.email.calls.Load() != 1 {
		t.Fatalf("email calls=%d after replayed confirm, want 1", h.email.calls.Load())
	}
}

func TestHandleMessage_WrongTokenIsRejected(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{responses: []llm.Response{{ToolCalls: []llm.ToolCall{emailCall()}}}}
	h := newHarness(t, p)
	ctx := context.Background()

	h.svc.HandleMessage(ctx, 1, "Ada", "Email a@b.com")
	before, _ := h.pending.Get(ctx, 1)

	for _, input := range []string{"confirm 000000", "confirm", "CONFIRM 1"} {
		reply := h.svc.HandleMessage(ctx, 1, "Ada", input)
		if !strings.Contains(reply, "confirm 482913") {
			t.Fatalf("%q: reply=%q, want correct form named", input, reply)
		}
	}
	after, _ := h.pending.Get(ctx, 1)
	if after == nil || after.ID != before.ID || after.Token != before.Token {
		t.Fatalf("pending action changed: before=%+v after=%+v", before, after)
	}
	if h.email.calls.Load() != 0 {
		t.Fatalf("email sent on mismatched token")
	}
	if p.callCount() != 1 {
		t.Fatalf("backend calls=%d, rejections must not call the model", p.callCount())
	}
}

func TestHandleMessage_CancelDropsPending(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{responses: []llm.Response{{ToolCalls: []llm.ToolCall{emailCall()}}}}
	h := newHarness(t, p)
	ctx := context.Background()

	h.svc.HandleMessage(ctx, 1, "Ada", "Email a@b.com")
	if reply := h.svc.HandleMessage(ctx, 1, "Ada", "/cancel"); reply != ReplyCanceled {
		t.Fatalf("reply=%q, want %q", reply, ReplyCanceled)
	}
	if action, _ := h.pending.Get(ctx, 1); action != nil {
		t.Fatalf("pending action survived cancel")
	}
	if h.email.calls.Load() != 0 {
		t.Fatalf("email sent on cancel")
	}
}

func TestHandleMessage_OtherTextLeavesPendingAlone(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{emailCall()}},
		{Text: "The weather is fine."},
	}}
	h := newHarness(t, p)
	ctx := context.Background()

	h.svc.HandleMessage(ctx, 1, "Ada", "Email a@b.com")
	reply := h.svc.HandleMessage(ctx, 1, "Ada", "how is the weather?")
	if reply != "The weather is fine." {
		t.Fatalf("reply=%q", reply)
	}
	if action, _ := h.pending.Get(ctx, 1); action == nil {
		t.Fatalf("pending action dropped by an unrelated turn")
	}
}

func TestHandleMessage_ExpiredPendingIsDropped(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{emailCall()}},
		{Text: "Confirm what, exactly?"},
	}}
	h := newHarness(t, p)
	ctx := context.Background()

	h.svc.HandleMessage(ctx, 1, "Ada", "Email a@b.com")
	h.advance(15 * time.Minute)

	reply := h.svc.HandleMessage(ctx, 1, "Ada", "confirm 482913")
	if reply != "Confirm what, exactly?" {
		t.Fatalf("reply=%q, want fresh model turn", reply)
	}
	if h.email.calls.Load() != 0 {
		t.Fatalf("expired action executed")
	}
	if action, _ := h.pending.Get(ctx, 1); action != nil {
		t.Fatalf("expired action kept")
	}
	found := false
	for _, a := range h.audit.actions() {
		if a == auditlog.ActionPendingExpired {
			found = true
		}
	}
	if !found {
		t.Fatalf("audit=%v, want %s", h.audit.actions(), auditlog.ActionPendingExpired)
	}
}

func TestHandleMessage_ConfirmWithNothingPending(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{}
	h := newHarness(t, p)
	if reply := h.svc.HandleMessage(context.Background(), 1, "Ada", "confirm 123456"); reply != ReplyNothingPending {
		t.Fatalf("reply=%q", reply)
	}
	if p.callCount() != 0 {
		t.Fatalf("backend calls=%d, want 0", p.callCount())
	}
}

func TestHandleMessage_RestageReplacesPrevious(t *testing.T) {
	t.Parallel()

	second := llm.ToolCall{ID: "call_2", Name: "send_email", Arguments: map[string]any{"to": "c@d.com"}}
	p := &scriptedProvider{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{emailCall()}},
		{ToolCalls: []llm.ToolCall{second}},
	}}
	h := newHarness(t, p)
	ctx := context.Background()

	tokens := []string{"111111", "222222"}
	var n atomic.Int32
	h.svc.newToken = func() (string, error) { return tokens[n.Add(1)-1], nil }

	h.svc.HandleMessage(ctx, 1, "Ada", "Email a@b.com")
	first, _ := h.pending.Get(ctx, 1)
	h.svc.HandleMessage(ctx, 1, "Ada", "actually email c@d.com instead")
	got, _ := h.pending.Get(ctx, 1)

	if got == nil || got.ID == first.ID || got.Token != "222222" {
		t.Fatalf("pending=%+v, want replacement with new token", got)
	}
	if got.ToolCalls[0].Arguments["to"] != "c@d.com" {
		t.Fatalf("staged calls=%+v", got.ToolCalls)
	}
	if reply := h.svc.HandleMessage(ctx, 1, "Ada", "confirm 111111"); !strings.Contains(reply, "confirm 222222") {
		t.Fatalf("old token accepted: %q", reply)
	}
}

func TestHandleMessage_BackendFailureApologizes(t *testing.T) {
	t.Parallel()

	rateLimited := errors.New("429 rate limited")
	p := &scriptedProvider{errs: []error{rateLimited}}
	h := newHarness(t, p)
	ctx := context.Background()

	reply := h.svc.HandleMessage(ctx, 1, "Ada", "hello")
	if reply != ReplyBackendFailure {
		t.Fatalf("reply=%q, want apology", reply)
	}
	rows, _ := h.history.RecentMessages(ctx, 1, 10)
	if len(rows) != 2 || rows[1].Content != ReplyBackendFailure {
		t.Fatalf("rows=%+v, want exchange persisted", rows)
	}
}

func TestHandleMessage_ExhaustedRetriesApologize(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "rate_limit_error", "message": "slow down"},
		})
	}))
	t.Cleanup(srv.Close)

	base, err := llm.NewProvider(llm.Options{Type: llm.ProviderAnthropic, Model: "claude-test", APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	policy := llm.DefaultRetryPolicy()
	policy.Sleep = func(ctx context.Context, d time.Duration) error { return nil }

	h := newHarness(t, &scriptedProvider{})
	h.svc.provider = llm.WithRetry(base, policy)

	if reply := h.svc.HandleMessage(context.Background(), 1, "Ada", "hello"); reply != ReplyBackendFailure {
		t.Fatalf("reply=%q, want apology", reply)
	}
	if attempts.Load() != 3 {
		t.Fatalf("attempts=%d, want 3", attempts.Load())
	}
}

func TestHandleMessage_ToolFaultIsContained(t *testing.T) {
	t.Parallel()

	boom := &stubTool{name: "flaky", run: func(ctx context.Context, args map[string]any) (string, error) {
		panic("kaboom")
	}}
	p := &scriptedProvider{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{
			{ID: "call_a", Name: "flaky", Arguments: map[string]any{}},
			{ID: "call_b", Name: "lookup", Arguments: map[string]any{}},
			{ID: "call_c", Name: "missing", Arguments: map[string]any{}},
		}},
		{Text: "One of those failed, I am afraid."},
	}}
	h := newHarness(t, p, boom)

	reply := h.svc.HandleMessage(context.Background(), 1, "Ada", "do three things")
	if reply != "One of those failed, I am afraid." {
		t.Fatalf("reply=%q", reply)
	}
	if p.callCount() != 2 {
		t.Fatalf("backend calls=%d, want 2", p.callCount())
	}

	msgs := p.requests[1].Messages
	byID := map[string]llm.Message{}
	for _, m := range msgs {
		if m.Role == llm.RoleTool {
			byID[m.ToolCallID] = m
		}
	}
	if len(byID) != 3 {
		t.Fatalf("tool results=%d, want 3", len(byID))
	}
	if !strings.Contains(byID["call_a"].Content, `"error"`) {
		t.Fatalf("panic result=%q, want error marker", byID["call_a"].Content)
	}
	if byID["call_b"].Content != "lookup ok" {
		t.Fatalf("sibling result=%q", byID["call_b"].Content)
	}
	if !strings.Contains(byID["call_c"].Content, "Unknown tool: missing") {
		t.Fatalf("unknown tool result=%q", byID["call_c"].Content)
	}
	if !byID["call_a"].IsError || byID["call_b"].IsError || !byID["call_c"].IsError {
		t.Fatalf("error flags a=%v b=%v c=%v, want true false true",
			byID["call_a"].IsError, byID["call_b"].IsError, byID["call_c"].IsError)
	}
}

func TestHandleMessage_RoundBudgetExhausted(t *testing.T) {
	t.Parallel()

	loop := llm.Response{ToolCalls: []llm.ToolCall{{ID: "call_x", Name: "lookup", Arguments: map[string]any{}}}}
	p := &scriptedProvider{responses: []llm.Response{loop, loop, loop, loop, loop, loop, loop}}
	h := newHarness(t, p)

	reply := h.svc.HandleMessage(context.Background(), 1, "Ada", "keep going")
	if reply != ReplyFallback {
		t.Fatalf("reply=%q, want fallback", reply)
	}
	if p.callCount() != DefaultMaxRounds {
		t.Fatalf("backend calls=%d, want %d", p.callCount(), DefaultMaxRounds)
	}
	if h.lookup.calls.Load() != DefaultMaxRounds {
		t.Fatalf("tool calls=%d, want %d", h.lookup.calls.Load(), DefaultMaxRounds)
	}
}

func TestHandleMessage_HistoryIsReplayed(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{responses: []llm.Response{{Text: "first"}, {Text: "second"}}}
	h := newHarness(t, p)
	ctx := context.Background()

	h.svc.HandleMessage(ctx, 1, "Ada", "one")
	h.svc.HandleMessage(ctx, 1, "Ada", "two")

	msgs := p.requests[1].Messages
	want := []string{"[Ada]: one", "first", "[Ada]: two"}
	if len(msgs) != len(want) {
		t.Fatalf("messages=%d, want %d", len(msgs), len(want))
	}
	for i, m := range msgs {
		if m.Content != want[i] {
			t.Fatalf("messages[%d]=%q, want %q", i, m.Content, want[i])
		}
	}
}

func TestHandleMessage_SerializesPerUser(t *testing.T) {
	t.Parallel()

	var active, peak atomic.Int32
	slowProvider := llm.ProviderFunc(func(ctx context.Context, req llm.ChatRequest) (llm.Response, error) {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return llm.Response{Text: "ok"}, nil
	})

	h := newHarness(t, &scriptedProvider{})
	h.svc.provider = slowProvider

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.svc.HandleMessage(context.Background(), 1, "Ada", fmt.Sprintf("msg %d", i))
		}(i)
	}
	wg.Wait()

	if peak.Load() != 1 {
		t.Fatalf("peak concurrent turns for one user=%d, want 1", peak.Load())
	}
	if h.svc.gate.size() != 0 {
		t.Fatalf("gate leaked %d locks", h.svc.gate.size())
	}
}

func TestHandleMessage_UsersProceedInParallel(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var started atomic.Int32
	blocking := llm.ProviderFunc(func(ctx context.Context, req llm.ChatRequest) (llm.Response, error) {
		started.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		}
		return llm.Response{Text: "ok"}, nil
	})

	h := newHarness(t, &scriptedProvider{})
	h.svc.provider = blocking

	var wg sync.WaitGroup
	for _, uid := range []int64{1, 2} {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			h.svc.HandleMessage(context.Background(), uid, "", "hi")
		}(uid)
	}

	deadline := time.Now().Add(2 * time.Second)
	for started.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	close(release)
	wg.Wait()

	if started.Load() != 2 {
		t.Fatalf("started=%d, want both users in flight", started.Load())
	}
}

func TestService_CloseRejectsNewTurns(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &scriptedProvider{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.svc.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if reply := h.svc.HandleMessage(context.Background(), 1, "Ada", "hello"); reply != ReplyShuttingDown {
		t.Fatalf("reply=%q", reply)
	}
}

func TestService_SummariesUseDefaultName(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{responses: []llm.Response{{Text: "Nothing today."}, {Text: "A quiet week."}}}
	h := newHarness(t, p)
	ctx := context.Background()

	if got := h.svc.TodaySummary(ctx, 1); got != "Nothing today." {
		t.Fatalf("TodaySummary=%q", got)
	}
	if got := h.svc.WeekSummary(ctx, 1); got != "A quiet week." {
		t.Fatalf("WeekSummary=%q", got)
	}
	first := p.requests[0].Messages
	if last := first[len(first)-1].Content; !strings.HasPrefix(last, "[User]: Please check today's calendar") {
		t.Fatalf("today prompt=%q", last)
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error for missing Provider")
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in    string
		kind  commandKind
		token string
	}{
		{"confirm 482913", commandConfirm, "482913"},
		{"/Confirm 1", commandConfirm, "1"},
		{"confirm", commandConfirm, ""},
		{"cancel", commandCancel, ""},
		{" /CANCEL ", commandCancel, ""},
		{"please confirm 1", commandNone, ""},
		{"confirm the meeting tomorrow", commandNone, ""},
	}
	for _, tc := range cases {
		got := parseCommand(tc.in)
		if got.kind != tc.kind || got.token != tc.token {
			t.Fatalf("parseCommand(%q)=%+v, want kind=%d token=%q", tc.in, got, tc.kind, tc.token)
		}
	}
}

func TestHandleMessage_MalformedArgumentsAreNeitherStagedNorRun(t *testing.T) {
	t.Parallel()

	bad := llm.ToolCall{ID: "call_bad", Name: "send_email", Arguments: map[string]any{}, ArgumentsError: "unexpected end of JSON input"}
	sibling := llm.ToolCall{ID: "call_ok", Name: "lookup", Arguments: map[string]any{}}
	p := &scriptedProvider{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{bad, sibling}},
		{Text: "I could not read those details, sir."},
	}}
	h := newHarness(t, p)
	ctx := context.Background()

	reply := h.svc.HandleMessage(ctx, 1, "Ada", "email someone")
	if reply != "I could not read those details, sir." {
		t.Fatalf("reply=%q", reply)
	}
	if action, _ := h.pending.Get(ctx, 1); action != nil {
		t.Fatalf("malformed batch was staged: %+v", action)
	}
	if h.email.calls.Load() != 0 || h.lookup.calls.Load() != 0 {
		t.Fatalf("email=%d lookup=%d, want no tool runs", h.email.calls.Load(), h.lookup.calls.Load())
	}
	if p.callCount() != 2 {
		t.Fatalf("backend calls=%d, want 2", p.callCount())
	}
	for _, m := range p.requests[1].Messages {
		if m.Role != llm.RoleTool {
			continue
		}
		if !m.IsError || !strings.Contains(m.Content, string(tools.ErrorCodeInvalidArguments)) {
			t.Fatalf("tool message=%+v, want INVALID_ARGUMENTS error", m)
		}
		if m.ToolCallID == "call_bad" && !strings.Contains(m.Content, "unexpected end of JSON input") {
			t.Fatalf("malformed call result=%q, want decode error", m.Content)
		}
	}
}

func TestHandleMessage_LockWaitFailureIsPersisted(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &scriptedProvider{})
	release, err := h.svc.gate.acquire(context.Background(), 1)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if reply := h.svc.HandleMessage(ctx, 1, "Ada", "are you there?"); reply != ReplyBackendFailure {
		t.Fatalf("reply=%q, want %q", reply, ReplyBackendFailure)
	}
	rows, err := h.history.RecentMessages(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(rows) != 2 || rows[0].Content != "[Ada]: are you there?" || rows[1].Content != ReplyBackendFailure {
		t.Fatalf("rows=%+v, want the abandoned exchange", rows)
	}
}

func TestHandleMessage_PanicIsPersisted(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &scriptedProvider{})
	h.svc.provider = llm.ProviderFunc(func(context.Context, llm.ChatRequest) (llm.Response, error) {
		panic("backend exploded")
	})
	ctx := context.Background()

	if reply := h.svc.HandleMessage(ctx, 1, "Ada", "hello"); reply != ReplyBackendFailure {
		t.Fatalf("reply=%q, want %q", reply, ReplyBackendFailure)
	}
	rows, err := h.history.RecentMessages(ctx, 1, 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(rows) != 2 || rows[1].Role != "assistant" || rows[1].Content != ReplyBackendFailure {
		t.Fatalf("rows=%+v, want the failed exchange", rows)
	}
	if h.svc.gate.size() != 0 {
		t.Fatalf("gate leaked %d locks", h.svc.gate.size())
	}
}

func TestHandleMessage_ConcurrentConfirmRunsOnce(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{responses: []llm.Response{{ToolCalls: []llm.ToolCall{emailCall()}}}}
	h := newHarness(t, p)
	ctx := context.Background()
	h.svc.HandleMessage(ctx, 1, "Ada", "Email a@b.com")

	const callers = 4
	replies := make([]string, callers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			replies[i] = h.svc.HandleMessage(ctx, 1, "Ada", "confirm 482913")
		}(i)
	}
	close(start)
	wg.Wait()

	if h.email.calls.Load() != 1 {
		t.Fatalf("email calls=%d, want 1", h.email.calls.Load())
	}
	done, nothing := 0, 0
	for _, r := range replies {
		switch {
		case strings.HasPrefix(r, "Very good. It is done:"):
			done++
		case r == ReplyNothingPending:
			nothing++
		}
	}
	if done != 1 || nothing != callers-1 {
		t.Fatalf("replies=%q, want one execution and %d nothing-pending", replies, callers-1)
	}
}

func TestExecuteConfirmed_RacingCallersRunBatchOnce(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{responses: []llm.Response{{ToolCalls: []llm.ToolCall{emailCall()}}}}
	h := newHarness(t, p)
	ctx := context.Background()
	h.svc.HandleMessage(ctx, 1, "Ada", "Email a@b.com")
	action, err := h.pending.Get(ctx, 1)
	if err != nil || action == nil {
		t.Fatalf("pending action=%v err=%v, want staged", action, err)
	}

	// Both callers hold the same loaded action, bypassing the per-user gate.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.svc.executeConfirmed(ctx, action)
		}()
	}
	wg.Wait()

	if h.email.calls.Load() != 1 {
		t.Fatalf("email calls=%d, want 1", h.email.calls.Load())
	}
}
