package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	openai "github.com/openai/openai-go"
	oresponses "github.com/openai/openai-go/responses"
	oshared "github.com/openai/openai-go/shared"
)

type openAIProvider struct {
	client    openai.Client
	model     string
	maxTokens int64
}

func (p *openAIProvider) Chat(ctx context.Context, req ChatRequest) (Response, error) {
	if p == nil {
		return Response{}, errors.New("nil openai provider")
	}
	realToAlias, aliasToReal := toolAliases(req.Tools)
	tools := buildOpenAITools(req.Tools, realToAlias)
	params := oresponses.ResponseNewParams{
		Model:           oshared.ResponsesModel(p.model),
		MaxOutputTokens: openai.Int(p.maxTokens),
		Input:           oresponses.ResponseNewParamsInputUnion{OfInputItemList: buildOpenAIInput(req.Messages, realToAlias)},
	}
	if system := strings.TrimSpace(req.System); system != "" {
		params.Instructions = openai.String(system)
	}
	if len(tools) > 0 {
		params.Tools = tools
	}

	resp, err := p.client.Responses.New(ctx, params)
	if err != nil {
		return Response{}, err
	}
	return parseOpenAIResponse(resp, aliasToReal), nil
}

func buildOpenAITools(decls []Declaration, realToAlias map[string]string) []oresponses.ToolUnionParam {
	out := make([]oresponses.ToolUnionParam, 0, len(decls))
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
		tool := oresponses.ToolParamOfFunction(aliasFor(realToAlias, name), normalizeSchema(d.Parameters), false)
		if desc := strings.TrimSpace(d.Description); desc != "" && tool.OfFunction != nil {
			tool.OfFunction.Description = openai.String(desc)
		}
		out = append(out, tool)
	}
	return out
}

func buildOpenAIInput(messages []Message, realToAlias map[string]string) oresponses.ResponseInputParam {
	items := make(oresponses.ResponseInputParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleTool:
			callID := strings.TrimSpace(msg.ToolCallID)
			if callID == "" {
				continue
			}
			items = append(items, oresponses.ResponseInputItemParamOfFunctionCallOutput(callID, msg.Content))
		case RoleAssistant:
			if txt := strings.TrimSpace(msg.Content); txt != "" {
				items = append(items, oresponses.ResponseInputItemParamOfMessage(txt, oresponses.EasyInputMessageRoleAssistant))
			}
			for _, call := range msg.ToolCalls {
				argsRaw := "{}"
				if b, err := json.Marshal(cloneArgs(call.Arguments)); err == nil {
					argsRaw = string(b)
				}
				items = append(items, oresponses.ResponseInputItemParamOfFunctionCall(argsRaw, call.ID, aliasFor(realToAlias, call.Name)))
			}
		default:
			txt := strings.TrimSpace(msg.Content)
			if txt == "" {
				continue
			}
			items = append(items, oresponses.ResponseInputItemParamOfMessage(txt, oresponses.EasyInputMessageRoleUser))
		}
	}
	return items
}

func parseOpenAIResponse(resp *oresponses.Response, aliasToReal map[string]string) Response {
	if resp == nil {
		return Response{}
	}
	var texts []string
	var calls []ToolCall
	for _, item := range resp.Output {
		switch strings.TrimSpace(item.Type) {
		case "message":
			msg := item.AsMessage()
			for _, part := range msg.Content {
				if strings.TrimSpace(part.Type) != "output_text" {
					continue
				}
				if txt := strings.TrimSpace(part.Text); txt != "" {
					texts = append(texts, txt)
				}
			}
		case "function_call":
			callID := strings.TrimSpace(item.CallID)
			if callID == "" {
				callID = strings.TrimSpace(item.ID)
			}
			name := strings.TrimSpace(item.Name)
			if realName, ok := aliasToReal[name]; ok {
				name = realName
			}
			args, argsErr := decodeArguments([]byte(item.Arguments))
			calls = append(calls, ToolCall{ID: ensureCallID(callID), Name: name, Arguments: args, ArgumentsError: argsErr})
		}
	}
	return Response{Text: strings.Join(texts, "\n"), ToolCalls: calls}
}
