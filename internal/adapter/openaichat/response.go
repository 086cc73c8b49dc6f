package openaichat

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/florianilch/throne-gateway/internal/anthropic"
	"github.com/florianilch/throne-gateway/internal/openaiwire"
)

// toStopReason maps upstream finish reasons onto Anthropic stop reasons.
// Unknown values map to end_turn, the least surprising answer for clients.
func toStopReason(finishReason string) string {
	switch finishReason {
	case "tool_calls", "function_call":
		return anthropic.StopReasonToolUse
	case "length":
		return anthropic.StopReasonMaxTokens
	case "content_filter":
		return anthropic.StopReasonContentFilter
	default:
		return anthropic.StopReasonEndTurn
	}
}

// newMessageID generates an Anthropic-style message id (msg_<uuid>).
func newMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// newToolUseID generates a fallback tool_use id when the upstream omits one.
func newToolUseID() string {
	return "toolu_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// safeArguments validates tool-call arguments as JSON. Malformed arguments
// degrade to the empty object and are logged; they never fail the request.
func (a *Adapter) safeArguments(ctx context.Context, name, arguments string) json.RawMessage {
	if arguments == "" {
		return json.RawMessage("{}")
	}
	if !json.Valid([]byte(arguments)) {
		a.logger.WarnContext(ctx, "malformed tool call arguments, substituting empty object",
			"tool", name, "length", len(arguments))
		return json.RawMessage("{}")
	}
	return json.RawMessage(arguments)
}

// toMessagesResponse translates a buffered chat completion into the Messages
// response shape. The content list is never empty.
func (a *Adapter) toMessagesResponse(
	ctx context.Context,
	req anthropic.MessagesRequest,
	plan requestPlan,
	chatResp openaiwire.ChatResponse,
) *anthropic.MessagesResponse {
	var blocks []anthropic.ContentBlock
	var finishReason string
	var outputText strings.Builder

	if len(chatResp.Choices) > 0 {
		choice := chatResp.Choices[0]
		finishReason = choice.FinishReason

		if thinking := choice.Message.ReasoningText(); thinking != "" {
			blocks = append(blocks, anthropic.ContentBlock{Type: anthropic.BlockTypeThinking, Thinking: thinking})
			outputText.WriteString(thinking)
		}

		if content := choice.Message.Content; content != "" {
			outputText.WriteString(content)
			if plan.xmlTools {
				blocks = append(blocks, a.parser.Parse(content)...)
			} else {
				blocks = append(blocks, anthropic.ContentBlock{Type: anthropic.BlockTypeText, Text: content})
			}
		}

		for _, call := range choice.Message.ToolCalls {
			id := call.ID
			if id == "" {
				id = newToolUseID()
			}
			outputText.WriteString(call.Function.Arguments)
			blocks = append(blocks, anthropic.ContentBlock{
				Type:  anthropic.BlockTypeToolUse,
				ID:    id,
				Name:  call.Function.Name,
				Input: a.safeArguments(ctx, call.Function.Name, call.Function.Arguments),
			})
		}
	}

	hasToolUse := false
	for _, block := range blocks {
		if block.Type == anthropic.BlockTypeToolUse {
			hasToolUse = true
			break
		}
	}
	if len(blocks) == 0 {
		blocks = append(blocks, anthropic.ContentBlock{Type: anthropic.BlockTypeText, Text: ""})
	}

	stopReason := toStopReason(finishReason)
	if hasToolUse {
		stopReason = anthropic.StopReasonToolUse
	}

	usage := anthropic.Usage{}
	if chatResp.Usage != nil {
		usage.InputTokens = chatResp.Usage.PromptTokens
		usage.OutputTokens = chatResp.Usage.CompletionTokens
	} else {
		usage.InputTokens = anthropic.EstimateRequestTokens(req.System, req.Messages)
		usage.OutputTokens = anthropic.EstimateTokens(outputText.String())
	}

	return &anthropic.MessagesResponse{
		ID:         newMessageID(),
		Type:       "message",
		Role:       "assistant",
		Model:      plan.model,
		Content:    blocks,
		StopReason: stopReason,
		Usage:      usage,
	}
}
