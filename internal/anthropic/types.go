package anthropic

import (
	"encoding/json"
	"fmt"
)

// Content block types used on both request and response sides.
const (
	BlockTypeText       = "text"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
	BlockTypeThinking   = "thinking"
)

// Stop reasons returned to clients.
const (
	StopReasonEndTurn       = "end_turn"
	StopReasonMaxTokens     = "max_tokens"
	StopReasonToolUse       = "tool_use"
	StopReasonStopSequence  = "stop_sequence"
	StopReasonContentFilter = "content_filter"
)

// MessagesRequest is the inbound POST /v1/messages payload.
type MessagesRequest struct {
	Model         string          `json:"model,omitempty"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	Messages      []Message       `json:"messages"`
	System        SystemPrompt    `json:"system,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Tools         []ToolDefinition `json:"tools,omitempty"`
	ToolChoice    json.RawMessage `json:"tool_choice,omitempty"`
	Thinking      *ThinkingConfig `json:"thinking,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// Message is one conversation turn with ordered content blocks.
type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent accepts the string shorthand or the block-array form.
type MessageContent struct {
	Blocks []ContentBlock
}

// UnmarshalJSON normalizes both accepted shapes into a block list.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Blocks = []ContentBlock{{Type: BlockTypeText, Text: s}}
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("message content must be a string or block array: %w", err)
	}
	c.Blocks = blocks
	return nil
}

// MarshalJSON always emits the block-array form.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Blocks == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Blocks)
}

// Text concatenates all text blocks, used where upstream wants a flat string.
func (c MessageContent) Text() string {
	var out string
	for _, b := range c.Blocks {
		if b.Type == BlockTypeText {
			out += b.Text
		}
	}
	return out
}

// ContentBlock is the variant unit of message content. Type discriminates
// which of the remaining fields are meaningful.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// thinking
	Thinking string `json:"thinking,omitempty"`
}

// ResultText flattens a tool_result content payload (string or block array)
// into plain text for tool-role upstream messages.
func (b ContentBlock) ResultText() string {
	if len(b.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(b.Content, &blocks); err == nil {
		var out string
		for _, inner := range blocks {
			if inner.Type == BlockTypeText {
				out += inner.Text
			}
		}
		if out != "" {
			return out
		}
	}
	return string(b.Content)
}

// SystemPrompt accepts a plain string or an array of text blocks.
type SystemPrompt struct {
	Blocks []ContentBlock
}

// UnmarshalJSON normalizes both accepted system shapes.
func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if str == "" {
			s.Blocks = nil
			return nil
		}
		s.Blocks = []ContentBlock{{Type: BlockTypeText, Text: str}}
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("system must be a string or block array: %w", err)
	}
	s.Blocks = blocks
	return nil
}

// MarshalJSON emits the block-array form when present.
func (s SystemPrompt) MarshalJSON() ([]byte, error) {
	if len(s.Blocks) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(s.Blocks)
}

// Text joins all system text blocks with blank lines.
func (s SystemPrompt) Text() string {
	var out string
	for _, b := range s.Blocks {
		if b.Type != BlockTypeText || b.Text == "" {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += b.Text
	}
	return out
}

// IsZero reports whether no system content was supplied.
func (s SystemPrompt) IsZero() bool { return len(s.Blocks) == 0 }

// ToolDefinition is a client-declared tool, schema kept verbatim.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ThinkingConfig accepts Anthropic's object form ({"type":"enabled",
// "budget_tokens":n}) and the boolean shorthand some clients send.
type ThinkingConfig struct {
	Enabled      bool
	BudgetTokens int
}

// UnmarshalJSON normalizes both accepted thinking shapes.
func (t *ThinkingConfig) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		t.Enabled = b
		return nil
	}
	var obj struct {
		Type         string `json:"type"`
		BudgetTokens int    `json:"budget_tokens"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("thinking must be a bool or config object: %w", err)
	}
	t.Enabled = obj.Type == "enabled"
	t.BudgetTokens = obj.BudgetTokens
	return nil
}

// MarshalJSON emits the canonical object form.
func (t ThinkingConfig) MarshalJSON() ([]byte, error) {
	if !t.Enabled {
		return []byte(`{"type":"disabled"}`), nil
	}
	obj := map[string]any{"type": "enabled"}
	if t.BudgetTokens > 0 {
		obj["budget_tokens"] = t.BudgetTokens
	}
	return json.Marshal(obj)
}

// MessagesResponse is the non-streaming POST /v1/messages reply.
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model,omitempty"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason,omitempty"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// Usage carries token accounting back to the client.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CountTokensRequest is the POST /v1/messages/count_tokens payload.
type CountTokensRequest struct {
	Model    string       `json:"model,omitempty"`
	Messages []Message    `json:"messages"`
	System   SystemPrompt `json:"system,omitempty"`
}

// CountTokensResponse mirrors Anthropic's count_tokens reply shape.
type CountTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}
