package openaichat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/florianilch/throne-gateway/internal/anthropic"
	"github.com/florianilch/throne-gateway/internal/openaiwire"
	"github.com/florianilch/throne-gateway/internal/toolbridge"
)

const doneMarker = "[DONE]"

// streamEvents adapts the upstream SSE body into Anthropic stream events.
// The returned iterator owns the response body.
func (a *Adapter) streamEvents(
	ctx context.Context,
	resp *http.Response,
	req anthropic.MessagesRequest,
	plan requestPlan,
) iter.Seq2[*anthropic.StreamEvent, error] {
	return func(yield func(*anthropic.StreamEvent, error) bool) {
		defer func() { _ = resp.Body.Close() }()

		conv := newStreamConverter(req, plan, a.parser, a.logger)
		emit := func(ev *anthropic.StreamEvent) bool { return yield(ev, nil) }

		dec := &sseDecoder{}
		buf := make([]byte, 4096)
		for {
			if ctx.Err() != nil {
				return
			}

			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				for _, payload := range dec.Feed(buf[:n]) {
					if payload == doneMarker {
						// A frame split right before [DONE] may still be
						// buffered; give it one best-effort parse.
						if rest, ok := dec.Remainder(); ok {
							if cont, err := conv.Handle(rest, emit); err != nil {
								yield(nil, err)
								return
							} else if !cont {
								return
							}
						}
						conv.Finalize(emit)
						return
					}
					cont, err := conv.Handle(payload, emit)
					if err != nil {
						yield(nil, err)
						return
					}
					if !cont {
						return
					}
				}
			}

			if readErr != nil {
				if rest, ok := dec.Remainder(); ok {
					if cont, err := conv.Handle(rest, emit); err != nil {
						yield(nil, err)
						return
					} else if !cont {
						return
					}
				}
				if errors.Is(readErr, io.EOF) {
					// Upstreams that close without [DONE] still get a clean
					// Anthropic termination.
					conv.Finalize(emit)
					return
				}
				yield(nil, readErr)
				return
			}
		}
	}
}

// sseDecoder reassembles SSE data lines from arbitrarily split byte chunks.
// A line is only surfaced once its newline has arrived, so frames split at
// any byte offset decode identically to unsplit ones.
type sseDecoder struct {
	buf []byte
}

// Feed appends p and returns every data payload completed by it.
func (d *sseDecoder) Feed(p []byte) []string {
	d.buf = append(d.buf, p...)

	var payloads []string
	for {
		nl := bytes.IndexByte(d.buf, '\n')
		if nl < 0 {
			return payloads
		}
		line := strings.TrimRight(string(d.buf[:nl]), "\r")
		d.buf = d.buf[nl+1:]
		if payload, ok := strings.CutPrefix(line, "data:"); ok {
			payloads = append(payloads, strings.TrimSpace(payload))
		}
	}
}

// Remainder returns a buffered data payload that never got its newline.
func (d *sseDecoder) Remainder() (string, bool) {
	line := strings.TrimSpace(string(d.buf))
	d.buf = nil
	if payload, ok := strings.CutPrefix(line, "data:"); ok {
		payload = strings.TrimSpace(payload)
		if payload != "" && payload != doneMarker {
			return payload, true
		}
	}
	return "", false
}

type emitFunc func(*anthropic.StreamEvent) bool

// toolCallAccumulator tracks one upstream tool call across deltas. args
// grows as fragments arrive; flushed is the length already emitted, so only
// the new suffix ever goes out as input_json_delta.
type toolCallAccumulator struct {
	index   int // content block index (upstream index + 1)
	id      string
	name    string
	args    string
	flushed int
	open    bool
}

// accumulate merges one arguments fragment. Providers disagree on whether
// fragments are cumulative or incremental; a fragment that extends the
// current value is treated as cumulative, anything else is appended.
func (t *toolCallAccumulator) accumulate(fragment string) {
	if fragment == "" {
		return
	}
	if len(fragment) >= len(t.args) && strings.HasPrefix(fragment, t.args) {
		t.args = fragment
		return
	}
	t.args += fragment
}

// streamConverter is the NOT_STARTED -> STREAMING -> DONE|ERROR state
// machine turning chat completion chunks into Anthropic stream events.
// Text and thinking share content index 0; upstream tool index i maps to
// content index i+1.
type streamConverter struct {
	model       string
	inputTokens int
	xmlTools    bool
	parser      *toolbridge.Parser
	logger      *slog.Logger

	started    bool
	block0Type string // type opened at index 0, empty while closed
	xmlBuf     strings.Builder
	outputBuf  strings.Builder
	tools      map[int]*toolCallAccumulator
	finish     string
	usage      *openaiwire.ChatUsage
	finished   bool
}

func newStreamConverter(req anthropic.MessagesRequest, plan requestPlan, parser *toolbridge.Parser, logger *slog.Logger) *streamConverter {
	return &streamConverter{
		model:       plan.model,
		inputTokens: anthropic.EstimateRequestTokens(req.System, req.Messages),
		xmlTools:    plan.xmlTools,
		parser:      parser,
		logger:      logger,
		tools:       make(map[int]*toolCallAccumulator),
	}
}

// Handle applies one upstream data payload. It returns false when the
// consumer stopped taking events, and an error for in-band upstream errors
// that must surface as the stream's error event.
func (c *streamConverter) Handle(payload string, emit emitFunc) (bool, error) {
	var chunk openaiwire.StreamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		c.logger.Debug("dropping unparseable stream frame", "length", len(payload), "error", err)
		return true, nil
	}

	if chunk.Error != nil {
		c.finished = true
		return false, anthropic.NewErrorResponse(anthropic.ErrTypeAPI, chunk.Error.Message)
	}
	if chunk.Usage != nil {
		c.usage = chunk.Usage
	}

	for _, choice := range chunk.Choices {
		if thinking := choice.Delta.ReasoningText(); thinking != "" {
			if !c.emitThinking(thinking, emit) {
				return false, nil
			}
		}
		if choice.Delta.Content != "" {
			if !c.emitText(choice.Delta.Content, emit) {
				return false, nil
			}
		}
		for _, call := range choice.Delta.ToolCalls {
			if !c.emitToolCall(call, emit) {
				return false, nil
			}
		}
		if choice.FinishReason != "" {
			c.finish = choice.FinishReason
		}
	}
	return true, nil
}

// ensureStarted emits message_start and ping exactly once.
func (c *streamConverter) ensureStarted(emit emitFunc) bool {
	if c.started {
		return true
	}
	c.started = true
	msg := anthropic.MessagesResponse{
		ID:      newMessageID(),
		Type:    "message",
		Role:    "assistant",
		Model:   c.model,
		Content: []anthropic.ContentBlock{},
		Usage:   anthropic.Usage{InputTokens: c.inputTokens},
	}
	return emit(anthropic.NewMessageStart(msg)) && emit(anthropic.NewPing())
}

func (c *streamConverter) emitThinking(thinking string, emit emitFunc) bool {
	c.outputBuf.WriteString(thinking)
	if !c.ensureStarted(emit) {
		return false
	}
	if c.block0Type == "" {
		c.block0Type = anthropic.BlockTypeThinking
		if !emit(anthropic.NewContentBlockStart(0, anthropic.ContentBlock{Type: anthropic.BlockTypeThinking})) {
			return false
		}
	}
	return emit(anthropic.NewContentBlockDelta(0, anthropic.Delta{Type: "thinking_delta", Thinking: thinking}))
}

func (c *streamConverter) emitText(text string, emit emitFunc) bool {
	c.outputBuf.WriteString(text)
	if c.xmlTools {
		// Text may contain an XML invocation that only parses complete, so
		// it is withheld and emitted as parsed blocks at finalize.
		c.xmlBuf.WriteString(text)
		return true
	}
	if !c.ensureStarted(emit) {
		return false
	}
	if c.block0Type == "" {
		c.block0Type = anthropic.BlockTypeText
		if !emit(anthropic.NewContentBlockStart(0, anthropic.ContentBlock{Type: anthropic.BlockTypeText})) {
			return false
		}
	}
	return emit(anthropic.NewContentBlockDelta(0, anthropic.Delta{Type: "text_delta", Text: text}))
}

func (c *streamConverter) emitToolCall(call openaiwire.ToolCall, emit emitFunc) bool {
	upstreamIndex := 0
	if call.Index != nil {
		upstreamIndex = *call.Index
	}
	acc, ok := c.tools[upstreamIndex]
	if !ok {
		acc = &toolCallAccumulator{index: upstreamIndex + 1}
		c.tools[upstreamIndex] = acc
	}

	if call.ID != "" {
		acc.id = call.ID
	}
	if call.Function.Name != "" && acc.name == "" {
		acc.name = call.Function.Name
	}

	if !acc.open && acc.name != "" {
		if acc.id == "" {
			acc.id = newToolUseID()
		}
		if !c.ensureStarted(emit) {
			return false
		}
		if !emit(anthropic.NewContentBlockStart(acc.index, anthropic.ContentBlock{
			Type:  anthropic.BlockTypeToolUse,
			ID:    acc.id,
			Name:  acc.name,
			Input: json.RawMessage("{}"),
		})) {
			return false
		}
		acc.open = true
	}

	c.outputBuf.WriteString(call.Function.Arguments)
	acc.accumulate(call.Function.Arguments)
	return c.flushToolArgs(acc, emit)
}

// flushToolArgs emits the unflushed argument suffix of an open accumulator.
func (c *streamConverter) flushToolArgs(acc *toolCallAccumulator, emit emitFunc) bool {
	if !acc.open || len(acc.args) <= acc.flushed {
		return true
	}
	suffix := acc.args[acc.flushed:]
	acc.flushed = len(acc.args)
	return emit(anthropic.NewContentBlockDelta(acc.index, anthropic.Delta{Type: "input_json_delta", PartialJSON: suffix}))
}

// Finalize closes every open block, emits message_delta and message_stop,
// exactly once. XML-withheld text is parsed and emitted here.
func (c *streamConverter) Finalize(emit emitFunc) bool {
	if c.finished {
		return true
	}
	c.finished = true

	if !c.ensureStarted(emit) {
		return false
	}

	hasToolUse := false
	nextIndex := 0
	if c.block0Type != "" {
		if !emit(anthropic.NewContentBlockStop(0)) {
			return false
		}
		nextIndex = 1
	}

	if c.xmlTools && c.xmlBuf.Len() > 0 {
		for _, block := range c.parser.Parse(c.xmlBuf.String()) {
			if block.Type == anthropic.BlockTypeToolUse {
				hasToolUse = true
			}
			if !c.emitWholeBlock(nextIndex, block, emit) {
				return false
			}
			nextIndex++
		}
	}

	for _, upstreamIndex := range c.sortedToolIndexes() {
		acc := c.tools[upstreamIndex]
		if !acc.open {
			c.logger.Warn("discarding tool call without a name", "upstream_index", upstreamIndex)
			continue
		}
		hasToolUse = true
		if !c.flushToolArgs(acc, emit) {
			return false
		}
		if !emit(anthropic.NewContentBlockStop(acc.index)) {
			return false
		}
	}

	// The protocol promises at least one content block.
	if nextIndex == 0 && !hasToolUse {
		if !emit(anthropic.NewContentBlockStart(0, anthropic.ContentBlock{Type: anthropic.BlockTypeText})) ||
			!emit(anthropic.NewContentBlockStop(0)) {
			return false
		}
	}

	stopReason := toStopReason(c.finish)
	if hasToolUse {
		stopReason = anthropic.StopReasonToolUse
	}

	outputTokens := 0
	if c.usage != nil {
		outputTokens = c.usage.CompletionTokens
	} else if c.outputBuf.Len() > 0 {
		outputTokens = anthropic.EstimateTokens(c.outputBuf.String())
	}

	return emit(anthropic.NewMessageDelta(stopReason, outputTokens)) && emit(anthropic.NewMessageStop())
}

// emitWholeBlock emits one complete block as start, single delta, stop.
func (c *streamConverter) emitWholeBlock(index int, block anthropic.ContentBlock, emit emitFunc) bool {
	switch block.Type {
	case anthropic.BlockTypeToolUse:
		if !emit(anthropic.NewContentBlockStart(index, anthropic.ContentBlock{
			Type:  anthropic.BlockTypeToolUse,
			ID:    block.ID,
			Name:  block.Name,
			Input: json.RawMessage("{}"),
		})) {
			return false
		}
		if len(block.Input) > 0 {
			if !emit(anthropic.NewContentBlockDelta(index, anthropic.Delta{Type: "input_json_delta", PartialJSON: string(block.Input)})) {
				return false
			}
		}
	default:
		if !emit(anthropic.NewContentBlockStart(index, anthropic.ContentBlock{Type: anthropic.BlockTypeText})) {
			return false
		}
		if block.Text != "" {
			if !emit(anthropic.NewContentBlockDelta(index, anthropic.Delta{Type: "text_delta", Text: block.Text})) {
				return false
			}
		}
	}
	return emit(anthropic.NewContentBlockStop(index))
}

func (c *streamConverter) sortedToolIndexes() []int {
	indexes := make([]int, 0, len(c.tools))
	for i := range c.tools {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	return indexes
}
