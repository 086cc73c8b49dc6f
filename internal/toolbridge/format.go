package toolbridge

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/florianilch/throne-gateway/internal/anthropic"
)

// Sentinel marks injected instruction blocks. Injection checks for it
// before appending, so re-running injection over a multi-turn conversation
// never duplicates the protocol text.
const Sentinel = "=== XML TOOL INVOCATION PROTOCOL v1 ==="

// Instructions renders the XML protocol description plus one block per
// tool: name, description, required/optional parameters, and a canonical
// invocation skeleton.
func Instructions(tools []anthropic.ToolDefinition) string {
	var b strings.Builder
	b.WriteString(Sentinel)
	b.WriteString("\n\n")
	b.WriteString("You have access to the tools listed below. To invoke a tool, emit an XML\n")
	b.WriteString("block exactly in the form shown for it, with parameter values as tag bodies.\n")
	b.WriteString("Emit at most one tool invocation per reply and no text after it. Do not\n")
	b.WriteString("wrap the block in code fences.\n")

	for _, tool := range tools {
		b.WriteString("\n## ")
		b.WriteString(tool.Name)
		b.WriteString("\n")
		if tool.Description != "" {
			b.WriteString(tool.Description)
			b.WriteString("\n")
		}

		schema := gjson.ParseBytes(tool.InputSchema)
		required := make(map[string]bool)
		schema.Get("required").ForEach(func(_, v gjson.Result) bool {
			required[v.String()] = true
			return true
		})

		var params []string
		props := schema.Get("properties")
		if props.IsObject() {
			b.WriteString("Parameters:\n")
			props.ForEach(func(key, prop gjson.Result) bool {
				params = append(params, key.String())
				b.WriteString("- ")
				b.WriteString(key.String())
				if required[key.String()] {
					b.WriteString(" (required)")
				} else {
					b.WriteString(" (optional)")
				}
				if desc := prop.Get("description").String(); desc != "" {
					b.WriteString(": ")
					b.WriteString(desc)
				}
				b.WriteString("\n")
				return true
			})
		}

		b.WriteString("Invocation:\n")
		b.WriteString(fmt.Sprintf("<%s>\n", tool.Name))
		for _, p := range params {
			b.WriteString(fmt.Sprintf("<%s>value</%s>\n", p, p))
		}
		b.WriteString(fmt.Sprintf("</%s>\n", tool.Name))
	}

	return b.String()
}

// RenderInvocation renders a past tool_use block back into its XML wire
// form, for assistant history replayed to models on the XML protocol.
func RenderInvocation(name string, input []byte) string {
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(name)
	b.WriteString(">\n")
	gjson.ParseBytes(input).ForEach(func(key, value gjson.Result) bool {
		fmt.Fprintf(&b, "<%s>%s</%s>\n", key.String(), value.String(), key.String())
		return true
	})
	b.WriteString("</")
	b.WriteString(name)
	b.WriteString(">")
	return b.String()
}

// InjectSystem appends the tool instructions to the system prompt as one
// text block. Idempotent: when any existing system block already carries
// the sentinel, the prompt is returned unchanged.
func InjectSystem(system anthropic.SystemPrompt, tools []anthropic.ToolDefinition) anthropic.SystemPrompt {
	if len(tools) == 0 {
		return system
	}
	for _, block := range system.Blocks {
		if block.Type == anthropic.BlockTypeText && strings.Contains(block.Text, Sentinel) {
			return system
		}
	}

	blocks := make([]anthropic.ContentBlock, 0, len(system.Blocks)+1)
	blocks = append(blocks, system.Blocks...)
	blocks = append(blocks, anthropic.ContentBlock{
		Type: anthropic.BlockTypeText,
		Text: Instructions(tools),
	})
	return anthropic.SystemPrompt{Blocks: blocks}
}
