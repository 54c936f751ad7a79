package llm

import (
	"context"
	"errors"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
)

type anthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func (p *anthropicProvider) Chat(ctx context.Context, req ChatRequest) (Response, error) {
	if p == nil {
		return Response{}, errors.New("nil anthropic provider")
	}
	realToAlias, aliasToReal := toolAliases(req.Tools)
	tools := buildAnthropicTools(req.Tools, realToAlias)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: p.maxTokens,
		Messages:  buildAnthropicMessages(req.Messages, realToAlias),
	}
	if system := strings.TrimSpace(req.System); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		params.Tools = tools
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, err
	}
	return parseAnthropicMessage(msg, aliasToReal), nil
}

func buildAnthropicTools(decls []Declaration, realToAlias map[string]string) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(decls))
	emitted := make(map[string]struct{}, len(decls))
	for _, d := range decls {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			continue
		}
		if _, dup := emitted[name]; dup {
			continue
		}
		emitted[name] = struct{}{}
		schema := normalizeSchema(d.Parameters)
		param := anthropic.ToolParam{
			Name:        aliasFor(realToAlias, name),
			Description: anthropic.String(strings.TrimSpace(d.Description)),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:        "object",
				Properties:  schema["properties"],
				Required:    schemaRequired(schema),
				ExtraFields: schemaExtras(schema),
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

// buildAnthropicMessages converts canonical history into Messages API turns.
//
// Consecutive tool messages collapse into a single user turn of tool_result blocks, which is the
// shape the API requires right after an assistant turn with tool_use blocks.
func buildAnthropicMessages(messages []Message, realToAlias map[string]string) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	var pendingResults []anthropic.ContentBlockParamUnion
	flushResults := func() {
		if len(pendingResults) == 0 {
			return
		}
		out = append(out, anthropic.NewUserMessage(pendingResults...))
		pendingResults = nil
	}

	for _, msg := range messages {
		switch msg.Role {
		case RoleTool:
			callID := strings.TrimSpace(msg.ToolCallID)
			if callID == "" {
				continue
			}
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(callID, msg.Content, msg.IsError))
		case RoleAssistant:
			flushResults()
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
			if txt := strings.TrimSpace(msg.Content); txt != "" {
				blocks = append(blocks, anthropic.NewTextBlock(txt))
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, anthropic.ContentBlockParamUnion{OfToolUse: &anthropic.ToolUseBlockParam{
					ID:    call.ID,
					Name:  aliasFor(realToAlias, call.Name),
					Input: cloneArgs(call.Arguments),
				}})
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			flushResults()
			txt := strings.TrimSpace(msg.Content)
			if txt == "" {
				continue
			}
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(txt)))
		}
	}
	flushResults()
	return out
}

func parseAnthropicMessage(msg *anthropic.Message, aliasToReal map[string]string) Response {
	if msg == nil {
		return Response{}
	}
	var texts []string
	var calls []ToolCall
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			if txt := strings.TrimSpace(variant.Text); txt != "" {
				texts = append(texts, txt)
			}
		case anthropic.ToolUseBlock:
			args, argsErr := decodeArguments(variant.Input)
			name := strings.TrimSpace(variant.Name)
			if realName, ok := aliasToReal[name]; ok {
				name = realName
			}
			calls = append(calls, ToolCall{ID: ensureCallID(variant.ID), Name: name, Arguments: args, ArgumentsError: argsErr})
		}
	}
	return Response{Text: strings.Join(texts, "\n"), ToolCalls: calls}
}
