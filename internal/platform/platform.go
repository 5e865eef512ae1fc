// Package platform defines the chat platform abstraction the pipeline
// controller consumes. An adapter (Discord, CLI, tests) converts platform
// events into [Message] values, hands them to a [Handler], and delivers the
// resulting [Reply] back to the platform.
package platform

import (
	"context"
	"strings"
	"time"
)

// DiscordMessageLimit is the hard per-message character limit on Discord.
// Replies longer than this are split by [Chunk].
const DiscordMessageLimit = 2000

// Message is one inbound user message, platform-agnostic.
type Message struct {
	// Platform names the source adapter ("discord", "cli").
	Platform string

	// UserID identifies the author on the platform.
	UserID string

	// ChannelID identifies the conversation channel (or DM).
	ChannelID string

	// MessageID is the platform message identifier.
	MessageID string

	// Content is the raw message text.
	Content string

	// Attachments are textual descriptors of non-text content.
	Attachments []string

	// Timestamp is when the platform received the message.
	Timestamp time.Time
}

// Reply is the outbound response for one message.
type Reply struct {
	// Text is the full reply text.
	Text string

	// Chunks is the platform-sized split of Text. Never empty when Text is
	// non-empty.
	Chunks []string
}

// NewReply builds a Reply with chunks sized for limit.
func NewReply(text string, limit int) *Reply {
	return &Reply{Text: text, Chunks: Chunk(text, limit)}
}

// Handler processes one inbound message and produces a reply. A nil reply
// with nil error means the message was intentionally ignored.
type Handler interface {
	Handle(ctx context.Context, msg Message) (*Reply, error)
}

// Adapter is a running platform connection.
type Adapter interface {
	// Run blocks until ctx is cancelled or the connection fails.
	Run(ctx context.Context) error

	// Close releases the platform connection.
	Close() error
}

// Chunk splits text into pieces no longer than limit characters, preferring
// paragraph breaks, then sentence ends, then word boundaries. A hard cut is
// the last resort for unbroken runs.
func Chunk(text string, limit int) []string {
	if limit <= 0 {
		limit = DiscordMessageLimit
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := splitPoint(text, limit)
		chunks = append(chunks, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// splitPoint finds the best break position within limit.
func splitPoint(text string, limit int) int {
	window := text[:limit]

	if i := strings.LastIndex(window, "\n\n"); i > 0 {
		return i
	}
	if i := strings.LastIndex(window, "\n"); i > 0 {
		return i
	}
	// Sentence end inside the window.
	best := -1
	for _, sep := range []string{". ", "! ", "? "} {
		if i := strings.LastIndex(window, sep); i > best {
			best = i + len(sep) - 1
		}
	}
	if best > 0 {
		return best
	}
	if i := strings.LastIndex(window, " "); i > 0 {
		return i
	}
	return limit
}
