package anthropic

import "strings"

// EstimateTokens approximates a token count from whole words. English prose
// averages roughly 3 words per 4 tokens; this is a deliberate heuristic, not
// a tokenizer, and is only used where the upstream reports no usage.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	tokens := (words*4 + 2) / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// EstimateRequestTokens sums the estimate over system and message content,
// including tool_result payloads.
func EstimateRequestTokens(system SystemPrompt, messages []Message) int {
	total := EstimateTokens(system.Text())
	for _, m := range messages {
		for _, b := range m.Content.Blocks {
			switch b.Type {
			case BlockTypeText:
				total += EstimateTokens(b.Text)
			case BlockTypeThinking:
				total += EstimateTokens(b.Thinking)
			case BlockTypeToolResult:
				total += EstimateTokens(b.ResultText())
			case BlockTypeToolUse:
				total += EstimateTokens(string(b.Input))
			}
		}
	}
	return total
}
