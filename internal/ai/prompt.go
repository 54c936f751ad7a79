package ai

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ashbert/nestor/internal/ai/llm"
	"github.com/ashbert/nestor/internal/ai/tools"
)

//go:embed prompts/system.txt
var defaultSystemPrompt string

const datetimePlaceholder = "{current_datetime}"

// DefaultSystemPrompt returns the built-in persona prompt.
func DefaultSystemPrompt() string {
	return defaultSystemPrompt
}

// renderSystemPrompt replaces the date placeholder with the current local time.
func renderSystemPrompt(tmpl string, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	stamp := now.In(loc).Format("Monday, 02 January 2006, 15:04") + " " + loc.String()
	return strings.ReplaceAll(tmpl, datetimePlaceholder, stamp)
}

func userTurnText(displayName string, text string) string {
	return fmt.Sprintf("[%s]: %s", displayName, text)
}

// renderStagedPrompt describes a staged batch and how to approve it.
func renderStagedPrompt(modelText string, calls []llm.ToolCall, token string, ttl time.Duration) string {
	var sb strings.Builder
	if txt := strings.TrimSpace(modelText); txt != "" {
		sb.WriteString(txt)
		sb.WriteString("\n\n")
	}
	sb.WriteString("I shall need your approval before proceeding with the following:\n")
	for i, call := range calls {
		fmt.Fprintf(&sb, "%d. %s", i+1, describeCall(call))
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "\nReply \"confirm %s\" to proceed, or \"cancel\" to abandon it. The request lapses after %s.", token, humanDuration(ttl))
	return sb.String()
}

func describeCall(call llm.ToolCall) string {
	if len(call.Arguments) == 0 {
		return call.Name
	}
	keys := make([]string, 0, len(call.Arguments))
	for k := range call.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+truncateRunes(renderArg(call.Arguments[k]), 200))
	}
	return call.Name + " (" + strings.Join(parts, ", ") + ")"
}

func renderArg(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// renderResultSummary reports the outcome of a confirmed batch.
func renderResultSummary(results []tools.Result) string {
	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	var sb strings.Builder
	switch {
	case failed == 0:
		sb.WriteString("Very good. It is done:\n")
	case failed == len(results):
		sb.WriteString("I regret that I could not carry this out:\n")
	default:
		sb.WriteString("Partly done, I am afraid:\n")
	}
	for i, r := range results {
		if r.OK() {
			fmt.Fprintf(&sb, "%d. %s: %s\n", i+1, r.ToolName, truncateRunes(oneLine(r.Content), 300))
			continue
		}
		fmt.Fprintf(&sb, "%d. %s failed (%s): %s\n", i+1, r.ToolName, r.Err.Code, truncateRunes(oneLine(r.Err.Message), 300))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func humanDuration(d time.Duration) string {
	if d%time.Minute == 0 && d >= time.Minute {
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	return d.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
