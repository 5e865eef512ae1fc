// Package discord provides the Discord adapter for a character service. It
// owns the discordgo.Session lifecycle, converts MessageCreate events into
// platform messages, and delivers pipeline replies back as one or more
// Discord messages.
//
// The adapter answers direct messages unconditionally and guild messages
// that mention the bot or address it by character name. Each channel gets a
// bounded inbound queue with a dedicated worker so a slow turn in one
// channel never blocks another; when a queue fills, new messages for that
// channel are dropped with a warning.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/whisperengine/whisperengine/internal/platform"
)

// channelQueueSize bounds the per-channel inbound queue.
const channelQueueSize = 16

// Config holds Discord adapter configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string

	// CharacterName is used for name-addressing in guild channels.
	CharacterName string
}

// Bot owns the Discord gateway connection and dispatches messages to the
// pipeline handler.
type Bot struct {
	session *discordgo.Session
	handler platform.Handler
	name    string
	log     *slog.Logger

	mu      sync.Mutex
	queues  map[string]chan platform.Message
	wg      sync.WaitGroup
	runCtx  context.Context
	stopped chan struct{}

	closeOnce sync.Once
}

// Compile-time interface assertion.
var _ platform.Adapter = (*Bot)(nil)

// New creates a Bot and connects to Discord.
func New(cfg Config, handler platform.Handler, log *slog.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	if log == nil {
		log = slog.Default()
	}
	b := &Bot{
		session: session,
		handler: handler,
		name:    strings.ToLower(cfg.CharacterName),
		log:     log,
		queues:  make(map[string]chan platform.Message),
		stopped: make(chan struct{}),
	}

	session.AddHandler(b.onMessageCreate)

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	return b, nil
}

// Run blocks until ctx is cancelled. Channel workers inherit ctx for their
// pipeline calls.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.Lock()
	b.runCtx = ctx
	b.mu.Unlock()

	b.log.Info("discord adapter running", "character", b.name)
	<-ctx.Done()
	close(b.stopped)
	b.wg.Wait()
	return ctx.Err()
}

// Close disconnects from Discord.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		if err := b.session.Close(); err != nil {
			closeErr = fmt.Errorf("discord: close session: %w", err)
		}
		b.log.Info("discord adapter closed")
	})
	return closeErr
}

// onMessageCreate filters and enqueues inbound messages.
func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}

	isDM := m.GuildID == ""
	if !isDM && !b.addressed(s, m) {
		return
	}

	content := m.Content
	if s.State != nil && s.State.User != nil {
		content = strings.ReplaceAll(content, "<@"+s.State.User.ID+">", "")
		content = strings.ReplaceAll(content, "<@!"+s.State.User.ID+">", "")
	}
	content = strings.TrimSpace(content)
	if content == "" && len(m.Attachments) == 0 {
		return
	}

	msg := platform.Message{
		Platform:  "discord",
		UserID:    m.Author.ID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		Content:   content,
		Timestamp: m.Timestamp,
	}
	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, describeAttachment(a))
	}

	b.enqueue(msg)
}

// addressed reports whether a guild message targets this bot, either via a
// mention or by leading character name.
func (b *Bot) addressed(s *discordgo.Session, m *discordgo.MessageCreate) bool {
	if s.State != nil && s.State.User != nil {
		for _, u := range m.Mentions {
			if u.ID == s.State.User.ID {
				return true
			}
		}
	}
	if b.name == "" {
		return false
	}
	lower := strings.ToLower(strings.TrimSpace(m.Content))
	return strings.HasPrefix(lower, b.name+" ") ||
		strings.HasPrefix(lower, b.name+",") ||
		strings.HasPrefix(lower, b.name+":")
}

// enqueue places msg on its channel queue, starting a worker on first use.
// A full queue drops the message.
func (b *Bot) enqueue(msg platform.Message) {
	b.mu.Lock()
	q, ok := b.queues[msg.ChannelID]
	if !ok {
		q = make(chan platform.Message, channelQueueSize)
		b.queues[msg.ChannelID] = q
		b.wg.Add(1)
		go b.worker(q)
	}
	b.mu.Unlock()

	select {
	case q <- msg:
	default:
		b.log.Warn("channel queue full, dropping message",
			"channel", msg.ChannelID, "user", msg.UserID)
	}
}

// worker drains one channel queue sequentially, preserving per-channel
// message order.
func (b *Bot) worker(q chan platform.Message) {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopped:
			return
		case msg := <-q:
			b.process(msg)
		}
	}
}

func (b *Bot) process(msg platform.Message) {
	b.mu.Lock()
	ctx := b.runCtx
	b.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	b.typing(msg.ChannelID)

	reply, err := b.handler.Handle(ctx, msg)
	if err != nil {
		b.log.Error("pipeline failed", "channel", msg.ChannelID, "error", err)
		return
	}
	if reply == nil {
		return
	}

	for _, chunk := range reply.Chunks {
		if _, err := b.session.ChannelMessageSend(msg.ChannelID, chunk); err != nil {
			b.log.Warn("discord: send failed", "channel", msg.ChannelID, "error", err)
			return
		}
	}
}

// typing sends the typing indicator; failures are ignored.
func (b *Bot) typing(channelID string) {
	_ = b.session.ChannelTyping(channelID)
}

// describeAttachment renders an attachment as a textual descriptor for the
// prompt assembler.
func describeAttachment(a *discordgo.MessageAttachment) string {
	if a == nil {
		return ""
	}
	if a.ContentType != "" {
		return fmt.Sprintf("%s (%s)", a.Filename, a.ContentType)
	}
	return a.Filename
}
