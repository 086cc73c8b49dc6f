package toolbridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/florianilch/throne-gateway/internal/anthropic"
)

// bodyParams carry multi-line payloads where inner whitespace matters; they
// are trimmed of leading/trailing newlines only. Every other parameter is
// fully trimmed.
var bodyParams = map[string]bool{
	"content": true,
	"text":    true,
	"body":    true,
	"code":    true,
	"diff":    true,
	"script":  true,
}

// Parser scans model output for XML tool invocations. It owns an explicit
// position-based scanner over the immutable input string; the tool registry
// is a field, not a global. Safe for concurrent use.
type Parser struct {
	registry *Registry
	logger   *slog.Logger
	seq      atomic.Uint64
}

// NewParser builds a parser over the shared registry.
func NewParser(registry *Registry, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{registry: registry, logger: logger}
}

// Parse scans text once, left to right. Registered tool tags become
// tool_use blocks with fresh monotonic ids; surrounding text becomes text
// blocks; unknown tool-like tags are logged and kept as text. When nothing
// matches, the whole input comes back as a single text block.
func (p *Parser) Parse(text string) []anthropic.ContentBlock {
	var blocks []anthropic.ContentBlock
	i, textStart := 0, 0

	for i < len(text) {
		rel := strings.IndexByte(text[i:], '<')
		if rel < 0 {
			break
		}
		tagStart := i + rel

		name, ok := tagNameAt(text, tagStart)
		if !ok {
			i = tagStart + 1
			continue
		}
		if !p.registry.Contains(name) {
			p.logger.Debug("skipping unknown tool-like tag", "tag", name)
			i = tagStart + 1
			continue
		}

		bodyStart := tagStart + len(name) + 2
		closeStart := findClosing(text, bodyStart, name)
		if closeStart < 0 {
			// Unterminated invocation stays text.
			i = tagStart + 1
			continue
		}

		if pre := strings.TrimSpace(text[textStart:tagStart]); pre != "" {
			blocks = append(blocks, anthropic.ContentBlock{Type: anthropic.BlockTypeText, Text: pre})
		}
		blocks = append(blocks, anthropic.ContentBlock{
			Type:  anthropic.BlockTypeToolUse,
			ID:    p.nextID(),
			Name:  name,
			Input: parseParams(text[bodyStart:closeStart]),
		})

		i = closeStart + len(name) + 3
		textStart = i
	}

	if len(blocks) == 0 {
		return []anthropic.ContentBlock{{Type: anthropic.BlockTypeText, Text: text}}
	}
	if trailing := strings.TrimSpace(text[textStart:]); trailing != "" {
		blocks = append(blocks, anthropic.ContentBlock{Type: anthropic.BlockTypeText, Text: trailing})
	}
	return blocks
}

// nextID issues ids that are unique and sort in emission order.
func (p *Parser) nextID() string {
	n := p.seq.Add(1)
	return fmt.Sprintf("toolu_%03d_%s", n, strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

// parseParams extracts same-level <param>value</param> pairs. A value may
// itself contain one level of nested tags, which stay part of the string.
func parseParams(body string) json.RawMessage {
	params := make(map[string]string)
	i := 0
	for i < len(body) {
		rel := strings.IndexByte(body[i:], '<')
		if rel < 0 {
			break
		}
		start := i + rel
		name, ok := tagNameAt(body, start)
		if !ok {
			i = start + 1
			continue
		}
		valStart := start + len(name) + 2
		closeStart := findClosing(body, valStart, name)
		if closeStart < 0 {
			i = start + 1
			continue
		}

		value := body[valStart:closeStart]
		if bodyParams[name] {
			value = strings.Trim(value, "\r\n")
		} else {
			value = strings.TrimSpace(value)
		}
		params[name] = value

		i = closeStart + len(name) + 3
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return json.RawMessage("{}")
	}
	return raw
}

// tagNameAt parses an opening tag at position start and returns its name.
// Only bare names are recognized; attributes and closing tags are not.
func tagNameAt(text string, start int) (string, bool) {
	j := start + 1
	for j < len(text) && isNameChar(text[j]) {
		j++
	}
	if j == start+1 || j >= len(text) || text[j] != '>' {
		return "", false
	}
	return text[start+1 : j], true
}

func isNameChar(c byte) bool {
	return c == '_' || c == '-' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// findClosing returns the index of the matching </name> for a tag whose
// body starts at from, depth-counting same-name nesting. -1 when the tag
// never closes.
func findClosing(text string, from int, name string) int {
	openTok := "<" + name + ">"
	closeTok := "</" + name + ">"
	depth := 1
	i := from
	for i < len(text) {
		nextClose := strings.Index(text[i:], closeTok)
		if nextClose < 0 {
			return -1
		}
		nextOpen := strings.Index(text[i:], openTok)
		if nextOpen >= 0 && nextOpen < nextClose {
			depth++
			i += nextOpen + len(openTok)
			continue
		}
		depth--
		if depth == 0 {
			return i + nextClose
		}
		i += nextClose + len(closeTok)
	}
	return -1
}
