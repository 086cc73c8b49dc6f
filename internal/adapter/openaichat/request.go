package openaichat

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/florianilch/throne-gateway/internal/anthropic"
	"github.com/florianilch/throne-gateway/internal/openaiwire"
	"github.com/florianilch/throne-gateway/internal/toolbridge"
)

// buildChatRequest translates a Messages request into the upstream Chat
// Completions shape according to the plan.
func (a *Adapter) buildChatRequest(req anthropic.MessagesRequest, plan requestPlan, stream bool) openaiwire.ChatRequest {
	system := req.System
	if plan.xmlTools {
		names := make([]string, 0, len(req.Tools))
		for _, tool := range req.Tools {
			names = append(names, tool.Name)
		}
		a.tools.Register(names...)
		system = toolbridge.InjectSystem(system, req.Tools)
	}

	messages := make([]openaiwire.ChatMessage, 0, len(req.Messages)+1)
	if text := system.Text(); text != "" {
		messages = append(messages, openaiwire.ChatMessage{Role: "system", Content: text})
	}
	for _, msg := range req.Messages {
		messages = append(messages, a.convertMessage(msg, plan)...)
	}

	out := openaiwire.ChatRequest{
		Model:       plan.model,
		Messages:    messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		Stream:      stream,
	}
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		out.MaxTokens = &maxTokens
	}
	if stream {
		out.StreamOptions = &openaiwire.StreamOptions{IncludeUsage: true}
	}

	// XML mode keeps the native tools field off the wire entirely; the
	// injected system instructions replace it.
	if len(req.Tools) > 0 && !plan.xmlTools {
		out.Tools = a.convertTools(req.Tools)
		out.ToolChoice = convertToolChoice(req.ToolChoice)
	}
	if plan.reasoning {
		out.Reasoning = &openaiwire.ReasoningParam{
			Effort:  effortForBudget(req.Thinking.BudgetTokens),
			Summary: "auto",
		}
	}
	return out
}

// convertMessage maps one conversation turn to upstream entries. Assistant
// turns collapse into a single message; user turns may fan out into tool
// result messages followed by the remaining user text.
func (a *Adapter) convertMessage(msg anthropic.Message, plan requestPlan) []openaiwire.ChatMessage {
	if msg.Role == "assistant" {
		return []openaiwire.ChatMessage{a.convertAssistant(msg, plan)}
	}
	return a.convertUser(msg, plan)
}

func (a *Adapter) convertAssistant(msg anthropic.Message, plan requestPlan) openaiwire.ChatMessage {
	var text strings.Builder
	var toolCalls []openaiwire.ToolCall

	for _, block := range msg.Content.Blocks {
		switch block.Type {
		case anthropic.BlockTypeText:
			text.WriteString(block.Text)
		case anthropic.BlockTypeToolUse:
			if plan.xmlTools {
				// Replay past invocations in the wire form the model emitted
				// them in, since the native field is off.
				if text.Len() > 0 {
					text.WriteString("\n")
				}
				text.WriteString(toolbridge.RenderInvocation(block.Name, block.Input))
				continue
			}
			toolCalls = append(toolCalls, openaiwire.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: openaiwire.FunctionCall{
					Name:      block.Name,
					Arguments: stringifyInput(block.Input),
				},
			})
		case anthropic.BlockTypeThinking:
			// Past thinking is not replayed upstream.
		}
	}

	return openaiwire.ChatMessage{Role: "assistant", Content: text.String(), ToolCalls: toolCalls}
}

func (a *Adapter) convertUser(msg anthropic.Message, plan requestPlan) []openaiwire.ChatMessage {
	var out []openaiwire.ChatMessage
	var text strings.Builder

	for _, block := range msg.Content.Blocks {
		switch block.Type {
		case anthropic.BlockTypeText:
			text.WriteString(block.Text)
		case anthropic.BlockTypeToolResult:
			if plan.xmlTools {
				if text.Len() > 0 {
					text.WriteString("\n")
				}
				text.WriteString("Result of " + block.ToolUseID + ":\n" + block.ResultText())
				continue
			}
			out = append(out, openaiwire.ChatMessage{
				Role:       "tool",
				Content:    block.ResultText(),
				ToolCallID: block.ToolUseID,
			})
		}
	}

	if text.Len() > 0 || len(out) == 0 {
		out = append(out, openaiwire.ChatMessage{Role: "user", Content: text.String()})
	}
	return out
}

// stringifyInput renders tool_use input as the JSON argument string the
// upstream expects. Empty input becomes the empty object.
func stringifyInput(input json.RawMessage) string {
	if len(input) == 0 {
		return "{}"
	}
	return string(input)
}

// convertTools maps tool definitions 1:1; the input schema travels verbatim
// apart from the optional uri-format compatibility strip.
func (a *Adapter) convertTools(tools []anthropic.ToolDefinition) []openaiwire.ChatTool {
	out := make([]openaiwire.ChatTool, 0, len(tools))
	for _, tool := range tools {
		params := tool.InputSchema
		if a.stripURIFormat {
			params = stripURIFormat(params)
		}
		out = append(out, openaiwire.ChatTool{
			Type: "function",
			Function: openaiwire.ChatFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// convertToolChoice maps Anthropic tool_choice onto the upstream dialect:
// auto/none keep their string forms, any becomes required, a named tool
// becomes the function object form.
func convertToolChoice(choice json.RawMessage) json.RawMessage {
	if len(choice) == 0 {
		return nil
	}
	parsed := gjson.ParseBytes(choice)
	switch parsed.Get("type").String() {
	case "auto":
		return json.RawMessage(`"auto"`)
	case "none":
		return json.RawMessage(`"none"`)
	case "any":
		return json.RawMessage(`"required"`)
	case "tool":
		raw, err := json.Marshal(map[string]any{
			"type":     "function",
			"function": map[string]string{"name": parsed.Get("name").String()},
		})
		if err != nil {
			return nil
		}
		return raw
	}
	return nil
}

// effortForBudget buckets a thinking token budget into the upstream effort
// scale. No budget means medium.
func effortForBudget(budget int) string {
	switch {
	case budget <= 0:
		return "medium"
	case budget < 4096:
		return "low"
	case budget < 16384:
		return "medium"
	default:
		return "high"
	}
}

// stripURIFormat removes every format:"uri" annotation from a JSON schema,
// at any nesting depth. Some upstream validators reject the annotation.
func stripURIFormat(schema json.RawMessage) json.RawMessage {
	if !gjson.ValidBytes(schema) {
		return schema
	}
	var paths []string
	collectURIFormats(gjson.ParseBytes(schema), "", &paths)

	out := []byte(schema)
	for _, path := range paths {
		if cleaned, err := sjson.DeleteBytes(out, path); err == nil {
			out = cleaned
		}
	}
	return out
}

func collectURIFormats(value gjson.Result, prefix string, paths *[]string) {
	value.ForEach(func(key, child gjson.Result) bool {
		path := escapePathKey(key.String())
		if prefix != "" {
			path = prefix + "." + path
		}
		if key.String() == "format" && child.Type == gjson.String && child.String() == "uri" {
			*paths = append(*paths, path)
			return true
		}
		if child.IsObject() || child.IsArray() {
			collectURIFormats(child, path, paths)
		}
		return true
	})
}

func escapePathKey(key string) string {
	replacer := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return replacer.Replace(key)
}
