// Package tokens implements the token accountant: deterministic token
// estimation and budget-driven truncation of composed message lists.
//
// Estimates are used only for local budgeting, never for billing. When a
// tiktoken encoding can be resolved for the configured model it is used for
// accuracy; otherwise estimation falls back to a whitespace-normalized
// four-characters-per-token approximation, which never undercounts by much
// for chat-sized English text.
package tokens

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/whisperengine/whisperengine/pkg/provider/llm"
)

// Budget policy defaults. The final LLM request may be smaller.
const (
	// SystemPromptMaxTokens bounds the combined system block.
	SystemPromptMaxTokens = 16_000

	// ConversationMaxTokens bounds the conversation history block.
	ConversationMaxTokens = 8_000

	// TotalMaxTokens bounds the entire composed request.
	TotalMaxTokens = 24_000
)

// truncationMarker is appended when a system prompt must be cut mid-text.
const truncationMarker = "... [system prompt truncated to fit token budget]"

// Counter estimates token counts. The zero value is usable and applies the
// four-characters-per-token approximation. Safe for concurrent use.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// NewCounter resolves a tiktoken encoding for model. Resolution failures
// (unknown model, no encoding data available) degrade to the approximation
// rather than erroring; the accountant must work offline.
func NewCounter(model string) *Counter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return &Counter{}
		}
	}
	return &Counter{enc: enc}
}

// Estimate returns the token count for text: the encoding length when an
// encoding is loaded, else max(1, len(whitespace-normalized text) / 4).
func (c *Counter) Estimate(text string) int {
	if c.enc != nil {
		return len(c.enc.Encode(text, nil, nil))
	}
	collapsed := strings.Join(strings.Fields(text), " ")
	n := len(collapsed) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// EstimateMessages sums Estimate over the content of messages plus a small
// per-message role overhead.
func (c *Counter) EstimateMessages(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += c.Estimate(m.Content) + 3
	}
	return total
}

// Truncate fits messages into the conversation budget. System messages are
// never dropped here unless they alone exceed [SystemPromptMaxTokens], in
// which case trailing system messages are dropped and the last survivor is
// character-truncated with a marker. Conversation messages are walked newest
// to oldest: the newest minRecentTurns are kept unconditionally, older ones
// only while the running total stays within maxConversationTokens minus the
// system cost. Output preserves original order. The second return value is
// the estimated token count removed.
func (c *Counter) Truncate(messages []llm.Message, maxConversationTokens, minRecentTurns int) ([]llm.Message, int) {
	if maxConversationTokens <= 0 {
		maxConversationTokens = ConversationMaxTokens
	}

	var system, conv []llm.Message
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m)
		} else {
			conv = append(conv, m)
		}
	}

	removed := 0
	system, cut := c.fitSystem(system)
	removed += cut

	systemTokens := 0
	for _, m := range system {
		systemTokens += c.Estimate(m.Content)
	}

	budget := maxConversationTokens - systemTokens
	keep := make([]bool, len(conv))
	running := 0
	for i := len(conv) - 1; i >= 0; i-- {
		cost := c.Estimate(conv[i].Content)
		recent := len(conv)-1-i < minRecentTurns
		if recent || running+cost <= budget {
			keep[i] = true
			running += cost
		} else {
			removed += cost
		}
	}

	out := make([]llm.Message, 0, len(messages))
	out = append(out, system...)
	for i, m := range conv {
		if keep[i] {
			out = append(out, m)
		}
	}
	return out, removed
}

// fitSystem enforces [SystemPromptMaxTokens] on the system block. Trailing
// system messages are dropped first; if a single message still exceeds the
// budget it is cut from the tail and marked.
func (c *Counter) fitSystem(system []llm.Message) ([]llm.Message, int) {
	total := 0
	for _, m := range system {
		total += c.Estimate(m.Content)
	}
	if total <= SystemPromptMaxTokens {
		return system, 0
	}

	removed := 0
	for len(system) > 1 && total > SystemPromptMaxTokens {
		last := c.Estimate(system[len(system)-1].Content)
		total -= last
		removed += last
		system = system[:len(system)-1]
	}

	if len(system) == 1 && total > SystemPromptMaxTokens {
		msg := system[0]
		before := c.Estimate(msg.Content)

		// Four chars per token keeps the cut deterministic regardless of
		// which estimator is loaded.
		maxChars := SystemPromptMaxTokens*4 - len(truncationMarker)
		if len(msg.Content) > maxChars {
			msg.Content = msg.Content[:maxChars] + truncationMarker
		}
		system = []llm.Message{msg}
		removed += before - c.Estimate(msg.Content)
	}
	return system, removed
}
