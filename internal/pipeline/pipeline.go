// Package pipeline implements the top-level turn controller: one inbound
// platform message in, one reply out.
//
// The controller wires the safety filter, session boundary manager, query
// classifier, retrieval fan-out, intelligence orchestrator, prompt assembler,
// and the chat completion backend. Every failure below the controller is
// recovered locally; the worst case for the user is a short persona-styled
// apology, never an error. Persistence runs after the reply on a detached
// context so a slow store can never hold a response hostage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	oai "github.com/openai/openai-go"
	"golang.org/x/sync/errgroup"

	"github.com/whisperengine/whisperengine/internal/boundary"
	"github.com/whisperengine/whisperengine/internal/character"
	"github.com/whisperengine/whisperengine/internal/classify"
	"github.com/whisperengine/whisperengine/internal/contextswitch"
	"github.com/whisperengine/whisperengine/internal/empathy"
	"github.com/whisperengine/whisperengine/internal/intelligence"
	"github.com/whisperengine/whisperengine/internal/observe"
	"github.com/whisperengine/whisperengine/internal/platform"
	"github.com/whisperengine/whisperengine/internal/prompt"
	"github.com/whisperengine/whisperengine/internal/safety"
	"github.com/whisperengine/whisperengine/pkg/memory"
	"github.com/whisperengine/whisperengine/pkg/provider/emotion"
	"github.com/whisperengine/whisperengine/pkg/provider/llm"
)

// Turn limits.
const (
	defaultTurnTimeout = 45 * time.Second
	persistTimeout     = 10 * time.Second

	historyLimit    = 10
	memoryLimit     = 10
	factLimit       = 15
	preferenceLimit = 10
	recentUserTurns = 5

	replyMaxTokens = 1024
)

// Fixed degraded replies. Wording is deliberately in-world; a character
// never talks about servers.
const (
	rejectionReply = "I'd rather not follow that request. I'm here as myself, " +
		"and I'd be glad to talk about something else."
	connectionReply = "Something in the ether resists me right now; the pathways " +
		"have grown dim. Could you try me again in a little while?"
	timeoutReply = "Forgive me, time moves strangely for me at the moment and my " +
		"thoughts would not gather. Ask me once more?"
	rateLimitReply = "There are too many seekers at my door just now. Give me a " +
		"moment to breathe, then ask again."
	genericApology = "I'm sorry, my thoughts slipped away from me just now. " +
		"Could you say that again?"
)

// Config carries the controller's collaborators. Vectors, Knowledge,
// Intelligence, and Empathy may be nil; the pipeline degrades around them.
type Config struct {
	Character    *character.Character
	Boundary     *boundary.Manager
	Vectors      memory.VectorStore
	Knowledge    memory.KnowledgeStore
	Intelligence *intelligence.Orchestrator
	Empathy      *empathy.Calibrator
	Assembler    *prompt.Assembler
	Chat         llm.Provider
	Metrics      *observe.Metrics
	Log          *slog.Logger
}

// pendingStyle remembers the styled reply awaiting feedback from the user's
// next turn.
type pendingStyle struct {
	emotion string
	style   empathy.Style
}

// Controller is the per-character turn handler. Safe for concurrent use;
// concurrent turns for distinct channels proceed independently.
type Controller struct {
	cfg         Config
	scanner     safety.Scanner
	turnTimeout time.Duration

	// pending holds one awaiting-feedback style per user, bounded and
	// expiring so stale styles are never graded against unrelated turns.
	pending *expirable.LRU[string, pendingStyle]

	// sessionCount mirrors the boundary manager's session count so the
	// up-down gauge receives deltas.
	sessionCount atomic.Int64

	// persisted, when set, is invoked after the post-reply persistence pass.
	// Test hook.
	persisted func()
}

// Compile-time interface assertion.
var _ platform.Handler = (*Controller)(nil)

// Option is a functional option for Controller.
type Option func(*Controller)

// WithTurnTimeout overrides the global per-turn deadline.
func WithTurnTimeout(d time.Duration) Option {
	return func(c *Controller) { c.turnTimeout = d }
}

// New constructs the controller. Character, Boundary, Assembler, and Chat are
// required; everything else degrades to a reduced turn when absent.
func New(cfg Config, opts ...Option) (*Controller, error) {
	switch {
	case cfg.Character == nil:
		return nil, errors.New("pipeline: character is required")
	case cfg.Boundary == nil:
		return nil, errors.New("pipeline: boundary manager is required")
	case cfg.Assembler == nil:
		return nil, errors.New("pipeline: prompt assembler is required")
	case cfg.Chat == nil:
		return nil, errors.New("pipeline: chat provider is required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	c := &Controller{
		cfg:         cfg,
		turnTimeout: defaultTurnTimeout,
		pending:     expirable.NewLRU[string, pendingStyle](10_000, nil, time.Hour),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Handle processes one inbound message and returns the reply. A nil reply
// with nil error means the message was intentionally ignored. Errors are
// never returned for turn-level failures; every failure kind maps to a reply.
func (c *Controller) Handle(ctx context.Context, msg platform.Message) (*platform.Reply, error) {
	content := strings.TrimSpace(msg.Content)
	if content == "" && len(msg.Attachments) == 0 {
		return nil, nil
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.turnTimeout)
	defer cancel()

	status := "ok"
	defer func() {
		c.cfg.Metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
		c.cfg.Metrics.RecordMessage(ctx, c.cfg.Character.NormalizedName, status)
	}()

	if ok, pattern := safety.CheckInput(content); !ok {
		c.cfg.Log.Info("unsafe input rejected", "user", msg.UserID, "pattern", pattern)
		status = "rejected"
		return platform.NewReply(rejectionReply, platform.DiscordMessageLimit), nil
	}

	// The previous styled reply is graded by this message's surface signals.
	c.learnFromFollowUp(msg.UserID, content)

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = start
	}
	sess, _ := c.cfg.Boundary.ProcessMessage(msg.UserID, msg.ChannelID, msg.MessageID, content, ts)
	c.updateSessionGauge(ctx)

	intensity := emotion.Intensity(content)
	classification := classify.Classify(content, intensity, isTemporalQuery(content))

	state := c.retrieve(ctx, msg, content, classification)

	if state.retrievalFailed && c.cfg.Intelligence != nil && state.bundle.Empty() {
		c.cfg.Log.Warn("retrieval and analysis both failed, degrading",
			"user", msg.UserID, "channel", msg.ChannelID)
		status = "degraded"
		return platform.NewReply(genericApology, platform.DiscordMessageLimit), nil
	}

	emotionLabel := "neutral"
	if primary := state.bundle.PrimaryEmotion(); primary != nil {
		emotionLabel = contextLabel(primary.PrimaryEmotion)
		c.cfg.Boundary.NoteEmotion(msg.UserID, msg.ChannelID, emotionLabel)
	}

	req := c.cfg.Assembler.Assemble(prompt.Input{
		Character:    c.cfg.Character,
		UserID:       msg.UserID,
		Context:      c.cfg.Boundary.ConversationContext(msg.UserID, msg.ChannelID, true),
		Intelligence: state.bundle,
		Memories:     state.memories,
		Facts:        state.facts,
		Preferences:  state.preferences,
		PriorTurns:   priorTurns(state.history),
		Message:      content,
		Attachments:  msg.Attachments,
	})

	llmStart := time.Now()
	resp, err := c.cfg.Chat.Complete(ctx, llm.CompletionRequest{
		Messages:  req.Messages,
		MaxTokens: replyMaxTokens,
	})
	c.cfg.Metrics.LLMDuration.Record(ctx, time.Since(llmStart).Seconds())
	if err != nil {
		kind := classifyLLMError(err)
		c.cfg.Log.Warn("chat completion failed", "kind", kind, "error", err)
		c.cfg.Metrics.RecordProviderError(ctx, "chat", kind)
		status = "degraded"
		return platform.NewReply(apologyFor(kind), platform.DiscordMessageLimit), nil
	}

	text := ""
	if resp != nil {
		text = strings.TrimSpace(resp.Content)
	}
	if text == "" {
		status = "degraded"
		return platform.NewReply(genericApology, platform.DiscordMessageLimit), nil
	}

	clean, redactions := c.scanner.Scan(text)
	if redactions > 0 {
		c.cfg.Log.Error("leakage redacted from outbound reply",
			"user", msg.UserID, "redactions", redactions)
		c.cfg.Metrics.RecordLeakage(ctx, redactions)
	}

	c.rememberStyle(msg.UserID, state.bundle)

	go c.persist(context.WithoutCancel(ctx), msg, sess, content, clean, emotionLabel, intensity)

	reply := platform.NewReply(clean, platform.DiscordMessageLimit)
	c.cfg.Metrics.RecordReplyChunks(ctx, len(reply.Chunks))
	return reply, nil
}

// turnState is the fan-in of the retrieval and analysis phase.
type turnState struct {
	history     []memory.Record
	memories    []memory.Record
	facts       []memory.Fact
	preferences []memory.Preference
	bundle      *intelligence.Bundle

	// retrievalFailed is set when the memory search itself errored, as
	// opposed to returning nothing.
	retrievalFailed bool
}

// retrieve runs memory search, knowledge lookups, and the intelligence
// fan-out concurrently. History is fetched first because both the prompt and
// the analysis turn depend on it. Every failure degrades to empty results.
func (c *Controller) retrieve(ctx context.Context, msg platform.Message, content string, cls classify.Result) *turnState {
	retrievalStart := time.Now()
	state := &turnState{bundle: &intelligence.Bundle{}}

	if c.cfg.Vectors != nil {
		var err error
		state.history, err = c.cfg.Vectors.History(ctx, msg.UserID, historyLimit)
		if err != nil {
			c.cfg.Log.Warn("history retrieval failed", "user", msg.UserID, "error", err)
			c.cfg.Metrics.RecordProviderError(ctx, "vector_store", "history")
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if c.cfg.Vectors != nil {
		g.Go(func() error {
			var err error
			if cls.Strategy.Temporal() {
				state.memories, err = c.cfg.Vectors.ScrollRecent(gctx, msg.UserID, memoryLimit)
			} else {
				state.memories, err = c.cfg.Vectors.Search(gctx, memory.SearchQuery{
					Text:     content,
					UserID:   msg.UserID,
					Strategy: cls.Strategy,
					Limit:    memoryLimit,
				})
			}
			if err != nil {
				c.cfg.Log.Warn("memory retrieval failed",
					"user", msg.UserID, "category", cls.Category, "error", err)
				c.cfg.Metrics.RecordProviderError(gctx, "vector_store", "search")
				state.retrievalFailed = true
			}
			return nil
		})
	}

	if c.cfg.Knowledge != nil {
		g.Go(func() error {
			var err error
			if state.facts, err = c.cfg.Knowledge.UserFacts(gctx, msg.UserID, factLimit); err != nil {
				c.cfg.Log.Warn("fact retrieval failed", "user", msg.UserID, "error", err)
				c.cfg.Metrics.RecordProviderError(gctx, "knowledge_store", "facts")
			}
			return nil
		})
		g.Go(func() error {
			var err error
			if state.preferences, err = c.cfg.Knowledge.UserPreferences(gctx, msg.UserID, preferenceLimit); err != nil {
				c.cfg.Log.Warn("preference retrieval failed", "user", msg.UserID, "error", err)
				c.cfg.Metrics.RecordProviderError(gctx, "knowledge_store", "preferences")
			}
			return nil
		})
	}

	if c.cfg.Intelligence != nil {
		g.Go(func() error {
			intelStart := time.Now()
			state.bundle = c.cfg.Intelligence.Analyze(gctx, intelligence.Turn{
				UserID:              msg.UserID,
				Message:             content,
				RecentUserMessages:  recentUserMessages(state.history),
				RecentEmotionLabels: intelligence.EmotionLabelsFrom(state.history, recentUserTurns),
				ConversationMode:    contextswitch.ClassifyMode(content),
			})
			c.cfg.Metrics.IntelligenceDuration.Record(gctx, time.Since(intelStart).Seconds())
			return nil
		})
	}

	// Tasks swallow their own failures; Wait never sees an error.
	_ = g.Wait()
	c.cfg.Metrics.RetrievalDuration.Record(ctx, time.Since(retrievalStart).Seconds())
	return state
}

// persist appends both turns to the vector store, upserts extracted
// knowledge, and arms the empathy feedback loop. Best effort throughout.
func (c *Controller) persist(ctx context.Context, msg platform.Message, sess boundary.Session,
	userText, replyText, emotionLabel string, intensity float64) {

	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	defer func() {
		if c.persisted != nil {
			c.persisted()
		}
	}()

	sessionID := fmt.Sprintf("%s-%s-%d", msg.UserID, msg.ChannelID, sess.Start.Unix())
	var topics []string
	if sess.CurrentTopic != nil {
		topics = sess.CurrentTopic.Keywords
	}
	now := time.Now().UTC()

	kn := extracted{}
	if c.cfg.Knowledge != nil {
		kn = extractKnowledge(msg.UserID, c.cfg.Character.NormalizedName,
			sessionID, userText, emotionLabel, now)
		for _, f := range kn.facts {
			if err := c.cfg.Knowledge.UpsertFact(ctx, f); err != nil {
				c.cfg.Log.Warn("fact upsert failed", "user", msg.UserID, "error", err)
				continue
			}
			c.cfg.Metrics.FactsExtracted.Add(ctx, 1)
		}
		for _, p := range kn.prefs {
			if err := c.cfg.Knowledge.UpsertPreference(ctx, p); err != nil {
				c.cfg.Log.Warn("preference upsert failed", "user", msg.UserID, "error", err)
				continue
			}
			c.cfg.Metrics.FactsExtracted.Add(ctx, 1)
		}
	}

	if c.cfg.Vectors == nil {
		return
	}

	importance := 0.3 + 0.5*intensity
	if len(kn.facts)+len(kn.prefs) > 0 {
		importance += 0.1
	}
	if importance > 1 {
		importance = 1
	}

	records := []memory.Record{
		{
			ID:           uuid.NewString(),
			UserID:       msg.UserID,
			Role:         memory.RoleUser,
			Content:      userText,
			SessionID:    sessionID,
			ChannelID:    msg.ChannelID,
			Timestamp:    now,
			EmotionLabel: emotionLabel,
			Importance:   importance,
			Topics:       topics,
		},
		{
			ID:         uuid.NewString(),
			UserID:     msg.UserID,
			Role:       memory.RoleAssistant,
			Content:    replyText,
			SessionID:  sessionID,
			ChannelID:  msg.ChannelID,
			Timestamp:  now.Add(time.Millisecond),
			Importance: 0.3,
			Topics:     topics,
		},
	}
	for _, rec := range records {
		if err := c.cfg.Vectors.Store(ctx, rec); err != nil {
			c.cfg.Log.Warn("memory store failed",
				"user", msg.UserID, "role", rec.Role, "error", err)
			continue
		}
		c.cfg.Metrics.MemoriesStored.Add(ctx, 1)
	}
}

// learnFromFollowUp grades the previous styled reply against this message.
func (c *Controller) learnFromFollowUp(userID, content string) {
	if c.cfg.Empathy == nil {
		return
	}
	p, ok := c.pending.Get(userID)
	if !ok {
		return
	}
	c.pending.Remove(userID)
	c.cfg.Empathy.Learn(userID, p.emotion, p.style, surfaceFeedback(content))
}

// rememberStyle arms the feedback loop for the style just used.
func (c *Controller) rememberStyle(userID string, bundle *intelligence.Bundle) {
	if c.cfg.Empathy == nil || bundle.HumanLike == nil {
		return
	}
	primary := bundle.PrimaryEmotion()
	if primary == nil {
		return
	}
	c.pending.Add(userID, pendingStyle{
		emotion: primary.PrimaryEmotion,
		style:   bundle.HumanLike.Calibration.RecommendedStyle,
	})
}

// updateSessionGauge feeds the active-session gauge with deltas.
func (c *Controller) updateSessionGauge(ctx context.Context) {
	current := int64(c.cfg.Boundary.ActiveSessions())
	previous := c.sessionCount.Swap(current)
	if delta := current - previous; delta != 0 {
		c.cfg.Metrics.ActiveSessions.Add(ctx, delta)
	}
}

// priorTurns converts stored history (newest first) into an oldest-first
// message list for the prompt assembler.
func priorTurns(history []memory.Record) []llm.Message {
	msgs := make([]llm.Message, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		msgs = append(msgs, llm.Message{
			Role:    string(history[i].Role),
			Content: history[i].Content,
		})
	}
	return msgs
}

// recentUserMessages extracts the latest user turns, newest first, for the
// external emotion analyzer.
func recentUserMessages(history []memory.Record) []string {
	var out []string
	for _, r := range history {
		if r.Role != memory.RoleUser {
			continue
		}
		out = append(out, r.Content)
		if len(out) == recentUserTurns {
			break
		}
	}
	return out
}

// classifyLLMError buckets a completion failure into the reply taxonomy:
// timeout, rate_limit, connection, or generic.
func classifyLLMError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return "rate_limit"
		case apiErr.StatusCode == http.StatusBadGateway,
			apiErr.StatusCode == http.StatusServiceUnavailable,
			apiErr.StatusCode == http.StatusGatewayTimeout:
			return "connection"
		}
		return "generic"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout"
		}
		return "connection"
	}
	if strings.Contains(err.Error(), "connection refused") {
		return "connection"
	}
	return "generic"
}

// apologyFor maps an error kind to its fixed in-character reply.
func apologyFor(kind string) string {
	switch kind {
	case "connection":
		return connectionReply
	case "timeout":
		return timeoutReply
	case "rate_limit":
		return rateLimitReply
	default:
		return genericApology
	}
}
