package anthropic

// SSE event names of the Messages streaming protocol.
const (
	EventMessageStart      = "message_start"
	EventPing              = "ping"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventError             = "error"
)

// StreamEvent is one SSE frame: the event name plus its JSON payload.
type StreamEvent struct {
	Event string
	Data  any
}

// MessageStartEvent opens the stream with the message skeleton.
type MessageStartEvent struct {
	Type    string           `json:"type"`
	Message MessagesResponse `json:"message"`
}

// PingEvent is the keepalive sent right after message_start.
type PingEvent struct {
	Type string `json:"type"`
}

// ContentBlockStartEvent opens one content block at a stream index.
type ContentBlockStartEvent struct {
	Type         string       `json:"type"`
	Index        int          `json:"index"`
	ContentBlock ContentBlock `json:"content_block"`
}

// Delta is the incremental payload of a content_block_delta. Type selects
// text_delta, input_json_delta, or thinking_delta.
type Delta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
}

// ContentBlockDeltaEvent appends to an open content block.
type ContentBlockDeltaEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta Delta  `json:"delta"`
}

// ContentBlockStopEvent closes one content block.
type ContentBlockStopEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// MessageDeltaEvent carries the final stop reason and output usage.
type MessageDeltaEvent struct {
	Type  string           `json:"type"`
	Delta MessageDeltaBody `json:"delta"`
	Usage DeltaUsage       `json:"usage"`
}

// MessageDeltaBody is the delta object of a message_delta event.
type MessageDeltaBody struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

// DeltaUsage is the usage object of a message_delta event.
type DeltaUsage struct {
	OutputTokens int `json:"output_tokens"`
}

// MessageStopEvent terminates a successful stream.
type MessageStopEvent struct {
	Type string `json:"type"`
}

// NewMessageStart builds the opening event for a stream.
func NewMessageStart(msg MessagesResponse) *StreamEvent {
	return &StreamEvent{Event: EventMessageStart, Data: MessageStartEvent{Type: EventMessageStart, Message: msg}}
}

// NewPing builds the keepalive event.
func NewPing() *StreamEvent {
	return &StreamEvent{Event: EventPing, Data: PingEvent{Type: EventPing}}
}

// NewContentBlockStart opens a block at index.
func NewContentBlockStart(index int, block ContentBlock) *StreamEvent {
	return &StreamEvent{Event: EventContentBlockStart, Data: ContentBlockStartEvent{
		Type: EventContentBlockStart, Index: index, ContentBlock: block,
	}}
}

// NewContentBlockDelta appends delta to the block at index.
func NewContentBlockDelta(index int, delta Delta) *StreamEvent {
	return &StreamEvent{Event: EventContentBlockDelta, Data: ContentBlockDeltaEvent{
		Type: EventContentBlockDelta, Index: index, Delta: delta,
	}}
}

// NewContentBlockStop closes the block at index.
func NewContentBlockStop(index int) *StreamEvent {
	return &StreamEvent{Event: EventContentBlockStop, Data: ContentBlockStopEvent{
		Type: EventContentBlockStop, Index: index,
	}}
}

// NewMessageDelta carries stopReason and output token usage.
func NewMessageDelta(stopReason string, outputTokens int) *StreamEvent {
	return &StreamEvent{Event: EventMessageDelta, Data: MessageDeltaEvent{
		Type:  EventMessageDelta,
		Delta: MessageDeltaBody{StopReason: stopReason},
		Usage: DeltaUsage{OutputTokens: outputTokens},
	}}
}

// NewMessageStop terminates the stream.
func NewMessageStop() *StreamEvent {
	return &StreamEvent{Event: EventMessageStop, Data: MessageStopEvent{Type: EventMessageStop}}
}

// NewStreamError wraps an error envelope as the terminal error event.
func NewStreamError(envelope *ErrorResponse) *StreamEvent {
	return &StreamEvent{Event: EventError, Data: envelope}
}
