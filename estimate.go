package llmdispatch

import "github.com/ineyio/llmdispatch/tokencount"

// EstimateTokens provides a rough token count estimate for messages.
// Uses the approximation: ~4 chars per token + overhead per message.
func EstimateTokens(messages []Message) int64 {
	var total int64
	for _, m := range messages {
		// ~4 chars per token
		total += int64(len(m.Content)) / 4
		// overhead per message (role, formatting)
		total += 4
	}
	// base overhead for the request
	total += 3
	return total
}

// defaultPromptCounter counts with tiktoken and falls back to the estimate.
func defaultPromptCounter(model string, messages []Message) int64 {
	msgs := make([]tokencount.Message, len(messages))
	for i, m := range messages {
		msgs[i] = tokencount.Message{Role: m.Role, Content: m.Content}
	}
	n, err := tokencount.Default.CountChat(model, msgs)
	if err != nil {
		return EstimateTokens(messages)
	}
	return int64(n)
}
