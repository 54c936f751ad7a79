package ai

import (
	"context"
	"crypto/subtle"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashbert/nestor/internal/ai/llm"
	"github.com/ashbert/nestor/internal/ai/pending"
	"github.com/ashbert/nestor/internal/ai/tools"
	"github.com/ashbert/nestor/internal/auditlog"
)

type commandKind int

const (
	commandNone commandKind = iota
	commandConfirm
	commandCancel
)

type command struct {
	kind  commandKind
	token string
}

var (
	confirmPattern = regexp.MustCompile(`(?i)^/?confirm(?:\s+(\S+))?$`)
	cancelPattern  = regexp.MustCompile(`(?i)^/?cancel$`)
	digitsPattern  = regexp.MustCompile(`^[0-9]+$`)
)

func parseCommand(text string) command {
	text = strings.TrimSpace(text)
	if cancelPattern.MatchString(text) {
		return command{kind: commandCancel}
	}
	if m := confirmPattern.FindStringSubmatch(text); m != nil {
		return command{kind: commandConfirm, token: strings.TrimSpace(m[1])}
	}
	return command{kind: commandNone}
}

func tokensEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// checkPending applies the confirmation protocol.
//
// It returns handled=false when text must continue as an ordinary conversational turn.
func (s *Service) checkPending(ctx context.Context, userID int64, userTurn string, text string) (string, bool) {
	cmd := parseCommand(text)

	action, err := s.pending.Get(ctx, userID)
	if err != nil {
		s.log.Error("load pending action failed", "user_id", userID, "error", err)
		if cmd.kind == commandNone {
			return "", false
		}
		return s.finish(ctx, userID, userTurn, ReplyBackendFailure), true
	}

	if action != nil && action.Expired(s.now(), s.confirmTTL) {
		if _, err := s.pending.Delete(ctx, userID); err != nil {
			s.log.Warn("delete expired pending action failed", "user_id", userID, "error", err)
		}
		s.audit(auditlog.Entry{Action: auditlog.ActionPendingExpired, UserID: userID, ActionID: action.ID, Tools: callNames(action.ToolCalls)})
		s.log.Info("pending action expired", "user_id", userID, "action_id", action.ID)
		return "", false
	}

	if action == nil {
		if cmd.kind == commandConfirm && digitsPattern.MatchString(cmd.token) {
			return s.finish(ctx, userID, userTurn, ReplyNothingPending), true
		}
		return "", false
	}

	switch cmd.kind {
	case commandCancel:
		if _, err := s.pending.Delete(ctx, userID); err != nil {
			s.log.Error("delete pending action failed", "user_id", userID, "error", err)
			return s.finish(ctx, userID, userTurn, ReplyBackendFailure), true
		}
		s.audit(auditlog.Entry{Action: auditlog.ActionPendingCanceled, UserID: userID, ActionID: action.ID, Tools: callNames(action.ToolCalls)})
		return s.finish(ctx, userID, userTurn, ReplyCanceled), true

	case commandConfirm:
		if cmd.token == "" || !tokensEqual(cmd.token, action.Token) {
			s.audit(auditlog.Entry{Action: auditlog.ActionPendingTokenMismatch, Status: auditlog.StatusFailure, UserID: userID, ActionID: action.ID})
			reply := fmt.Sprintf("That does not match the pending request. To proceed, reply \"confirm %s\", or \"cancel\" to abandon it.", action.Token)
			return s.finish(ctx, userID, userTurn, reply), true
		}
		return s.finish(ctx, userID, userTurn, s.executeConfirmed(ctx, action)), true

	default:
		return "", false
	}
}

// executeConfirmed deletes the pending action and then runs its batch, so a batch runs at most once.
func (s *Service) executeConfirmed(ctx context.Context, action *pending.Action) string {
	deleted, err := s.pending.Delete(ctx, action.UserID)
	if err != nil {
		s.log.Error("delete confirmed pending action failed", "user_id", action.UserID, "error", err)
		return ReplyBackendFailure
	}
	if !deleted {
		return ReplyNothingPending
	}

	results := make([]tools.Result, 0, len(action.ToolCalls))
	for _, call := range action.ToolCalls {
		results = append(results, s.runTool(ctx, action.UserID, call))
	}
	s.audit(auditlog.Entry{
		Action:   auditlog.ActionPendingConfirmed,
		Status:   batchStatus(results),
		UserID:   action.UserID,
		ActionID: action.ID,
		Tools:    callNames(action.ToolCalls),
	})
	return renderResultSummary(results)
}

// stage stores calls as the user's pending action, replacing any earlier one.
func (s *Service) stage(ctx context.Context, userID int64, resp llm.Response) string {
	token, err := s.newToken()
	if err != nil {
		s.log.Error("generate confirmation token failed", "user_id", userID, "error", err)
		return ReplyBackendFailure
	}
	action := pending.Action{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     token,
		ToolCalls: resp.ToolCalls,
		CreatedAt: s.now(),
	}
	if err := s.pending.Put(ctx, action); err != nil {
		s.log.Error("stage pending action failed", "user_id", userID, "error", err)
		return ReplyBackendFailure
	}
	s.audit(auditlog.Entry{Action: auditlog.ActionPendingStaged, UserID: userID, ActionID: action.ID, Tools: callNames(action.ToolCalls)})
	s.log.Info("pending action staged", "user_id", userID, "action_id", action.ID, "tools", callNames(action.ToolCalls))
	return renderStagedPrompt(resp.Text, action.ToolCalls, token, s.confirmTTL)
}

func callNames(calls []llm.ToolCall) []string {
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Name)
	}
	return out
}

func batchStatus(results []tools.Result) string {
	for _, r := range results {
		if !r.OK() {
			return auditlog.StatusFailure
		}
	}
	return auditlog.StatusSuccess
}

func (s *Service) now() time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return time.Now()
}
