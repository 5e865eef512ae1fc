// Package boundary implements conversation session and topic lifecycle
// management.
//
// Sessions are process-local, keyed by (user, channel), and bounded by an
// expiring LRU; durable conversation history lives in the vector memory
// store, so losing a session on restart costs only boundary metadata. Each
// turn is classified into a transition (new session, natural flow, explicit
// topic change, resumption) which drives topic rotation and resumption
// bridging.
package boundary

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// SessionState is the lifecycle state of a conversation session.
type SessionState string

const (
	StateActive      SessionState = "active"
	StatePaused      SessionState = "paused"
	StateResumed     SessionState = "resumed"
	StateInterrupted SessionState = "interrupted"
	StateCompleted   SessionState = "completed"
)

// Transition classifies what one incoming message did to the session.
type Transition string

const (
	TransitionNewSession     Transition = "new_session"
	TransitionNaturalFlow    Transition = "natural_flow"
	TransitionExplicitChange Transition = "explicit_change"
	TransitionResumption     Transition = "resumption"
)

// Topic resolution states. Ended topics are immutable.
const (
	ResolutionActive      = "active"
	ResolutionResolved    = "resolved"
	ResolutionInterrupted = "interrupted"
	ResolutionEnded       = "ended"
)

// Topic is one conversational thread within a session.
type Topic struct {
	Keywords      []string
	Start         time.Time
	End           time.Time
	MessageCount  int
	EmotionalTone string
	Resolution    string
}

// Session is the boundary state for one (user, channel) pair. Fields are
// owned by the Manager; callers must treat returned sessions as snapshots.
type Session struct {
	UserID    string
	ChannelID string
	State     SessionState

	Start        time.Time
	LastActivity time.Time
	MessageCount int

	CurrentTopic   *Topic
	TopicHistory   []Topic
	ContextSummary string
}

// ContextView is the bounded read surface handed to the prompt assembler.
type ContextView struct {
	State         SessionState
	SessionStart  time.Time
	MessageCount  int
	CurrentTopic  *Topic
	TopicHistory  []Topic
	Summary       string
	ResumedBridge string
}

// Defaults. All three are overridable with options.
const (
	defaultKeepalive       = 15 * time.Minute
	defaultAbsoluteTimeout = 90 * time.Minute
	defaultSummarizeAfter  = 50
	maxSessions            = 10_000
	topicHistoryLimit      = 5
)

// Summarizer optionally condenses recent topics into a context summary.
// A nil or failing summarizer falls back to a deterministic string.
type Summarizer interface {
	Summarize(topics []Topic) (string, error)
}

// Manager owns all sessions for one character service.
type Manager struct {
	mu       sync.Mutex
	sessions *expirable.LRU[string, *Session]

	// lastUserPerChannel detects a different user taking over a channel,
	// which interrupts the previous user's session.
	lastUserPerChannel map[string]string

	keepalive       time.Duration
	absoluteTimeout time.Duration
	summarizeAfter  int
	summarizer      Summarizer
}

// Option is a functional option for Manager.
type Option func(*Manager)

// WithKeepalive overrides the idle timeout that pauses a session.
func WithKeepalive(d time.Duration) Option {
	return func(m *Manager) { m.keepalive = d }
}

// WithAbsoluteTimeout overrides the hard session lifetime.
func WithAbsoluteTimeout(d time.Duration) Option {
	return func(m *Manager) { m.absoluteTimeout = d }
}

// WithSummarizeAfter overrides the message count that triggers context
// summarization.
func WithSummarizeAfter(n int) Option {
	return func(m *Manager) { m.summarizeAfter = n }
}

// WithSummarizer installs an LLM-backed topic summarizer.
func WithSummarizer(s Summarizer) Option {
	return func(m *Manager) { m.summarizer = s }
}

// NewManager constructs a Manager with bounded session storage.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		lastUserPerChannel: make(map[string]string),
		keepalive:          defaultKeepalive,
		absoluteTimeout:    defaultAbsoluteTimeout,
		summarizeAfter:     defaultSummarizeAfter,
	}
	for _, o := range opts {
		o(m)
	}
	// Entries expire a keepalive past the absolute timeout so that a stale
	// session is still present to be flipped to resumed.
	m.sessions = expirable.NewLRU[string, *Session](maxSessions, nil, m.absoluteTimeout+m.keepalive)
	return m
}

func sessionKey(userID, channelID string) string {
	return userID + "\x00" + channelID
}

// ProcessMessage advances the session for (user, channel) with one incoming
// message and returns a snapshot plus the detected transition. It never
// fails; detector problems degrade to natural flow.
func (m *Manager) ProcessMessage(userID, channelID, messageID, content string, ts time.Time) (Session, Transition) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.interruptDisplaced(userID, channelID, ts)

	key := sessionKey(userID, channelID)
	sess, ok := m.sessions.Get(key)

	// The pre-update activity time marks when the break began. Topic
	// closure on resumption must use it, not the resuming message's ts.
	var prevActivity time.Time
	if ok {
		prevActivity = sess.LastActivity
		switch {
		case ts.Sub(sess.LastActivity) > m.keepalive:
			sess.State = StatePaused
		case ts.Sub(sess.Start) > m.absoluteTimeout:
			sess.State = StatePaused
		}
	}

	transition := TransitionNaturalFlow
	fresh := false

	switch {
	case !ok || sess.State == StateCompleted:
		sess = &Session{
			UserID:    userID,
			ChannelID: channelID,
			State:     StateActive,
			Start:     ts,
		}
		m.sessions.Add(key, sess)
		transition = TransitionNewSession
		fresh = true

	case sess.State == StatePaused || sess.State == StateInterrupted:
		sess.State = StateResumed
		transition = TransitionResumption

	case sess.State == StateResumed:
		sess.State = StateActive
	}

	sess.LastActivity = ts
	sess.MessageCount++

	if !fresh && transition == TransitionNaturalFlow {
		transition = detectTransition(content)
	}

	m.applyTransition(sess, transition, content, ts, prevActivity)

	if sess.MessageCount >= m.summarizeAfter && sess.MessageCount%m.summarizeAfter == 0 {
		sess.ContextSummary = m.summarize(sess)
	}

	return snapshot(sess), transition
}

// interruptDisplaced marks the previous user's active session in a channel
// as interrupted when a different user takes over.
func (m *Manager) interruptDisplaced(userID, channelID string, ts time.Time) {
	prev, ok := m.lastUserPerChannel[channelID]
	m.lastUserPerChannel[channelID] = userID
	if !ok || prev == userID {
		return
	}
	if sess, ok := m.sessions.Get(sessionKey(prev, channelID)); ok && sess.State == StateActive {
		sess.State = StateInterrupted
		if sess.CurrentTopic != nil {
			closeTopic(sess, ts, ResolutionInterrupted)
		}
	}
}

// applyTransition rotates or extends the current topic. prevActivity is the
// last activity before this message; an interrupted topic ends there, so the
// resumption bridge can report the real length of the break.
func (m *Manager) applyTransition(sess *Session, tr Transition, content string, ts, prevActivity time.Time) {
	switch tr {
	case TransitionNewSession:
		startTopic(sess, content, ts)

	case TransitionExplicitChange:
		closeTopic(sess, ts, ResolutionEnded)
		startTopic(sess, content, ts)

	case TransitionResumption:
		end := prevActivity
		if end.IsZero() {
			end = ts
		}
		closeTopic(sess, end, ResolutionInterrupted)
		startTopic(sess, content, ts)

	default:
		if sess.CurrentTopic == nil {
			startTopic(sess, content, ts)
		} else {
			sess.CurrentTopic.MessageCount++
		}
	}
}

// Complete marks the session done and archives its topic. Explicit signal
// only; message flow never completes a session.
func (m *Manager) Complete(userID, channelID string, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions.Get(sessionKey(userID, channelID)); ok {
		sess.State = StateCompleted
		if sess.CurrentTopic != nil {
			closeTopic(sess, ts, ResolutionResolved)
		}
	}
}

// NoteEmotion tags the current topic with an emotional tone label.
func (m *Manager) NoteEmotion(userID, channelID, label string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions.Get(sessionKey(userID, channelID)); ok && sess.CurrentTopic != nil {
		sess.CurrentTopic.EmotionalTone = label
	}
}

// ConversationContext returns the bounded context view for the prompt
// assembler. A zero view is returned when no session exists.
func (m *Manager) ConversationContext(userID, channelID string, includeSummary bool) ContextView {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions.Get(sessionKey(userID, channelID))
	if !ok {
		return ContextView{}
	}

	view := ContextView{
		State:        sess.State,
		SessionStart: sess.Start,
		MessageCount: sess.MessageCount,
		TopicHistory: append([]Topic(nil), sess.TopicHistory...),
	}
	if sess.CurrentTopic != nil {
		topic := *sess.CurrentTopic
		view.CurrentTopic = &topic
	}
	if includeSummary {
		view.Summary = sess.ContextSummary
	}
	if sess.State == StateResumed {
		view.ResumedBridge = resumptionBridge(sess)
	}
	return view
}

// ActiveSessions reports how many sessions are currently held. Exposed for
// metrics.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions.Len()
}

// summarize regenerates the context summary from the last three topics,
// preferring the installed summarizer and falling back to a deterministic
// sentence.
func (m *Manager) summarize(sess *Session) string {
	topics := recentTopics(sess, 3)
	if m.summarizer != nil {
		if s, err := m.summarizer.Summarize(topics); err == nil && s != "" {
			return s
		}
	}
	return fallbackSummary(sess, topics)
}

// fallbackSummary is the deterministic "N topics over M minutes" string.
func fallbackSummary(sess *Session, topics []Topic) string {
	minutes := int(sess.LastActivity.Sub(sess.Start).Minutes())
	names := make([]string, 0, len(topics))
	for _, t := range topics {
		if len(t.Keywords) > 0 {
			names = append(names, t.Keywords[0])
		}
	}
	n := len(sess.TopicHistory)
	if sess.CurrentTopic != nil {
		n++
	}
	return fmt.Sprintf("%d topics over %d minutes, topics: %s",
		n, minutes, joinOr(names, "(none)"))
}

// resumptionBridge produces a short reconnecting line for a resumed session.
// The break length is the gap between the interrupted topic's end and the
// resuming message, taken from session timestamps rather than the wall clock.
func resumptionBridge(sess *Session) string {
	last := lastClosedTopic(sess)
	if last == nil {
		return "Resuming an earlier conversation."
	}
	return fmt.Sprintf("Resuming after a break (%s ago). Earlier we were on: %s.",
		humanizeDuration(sess.LastActivity.Sub(last.End)), joinOr(last.Keywords, "general chat"))
}

func startTopic(sess *Session, content string, ts time.Time) {
	sess.CurrentTopic = &Topic{
		Keywords:     ExtractKeywords(content, topicKeywordLimit),
		Start:        ts,
		MessageCount: 1,
		Resolution:   ResolutionActive,
	}
}

// closeTopic ends the current topic and archives it. The history keeps the
// last five.
func closeTopic(sess *Session, ts time.Time, resolution string) {
	if sess.CurrentTopic == nil {
		return
	}
	t := *sess.CurrentTopic
	t.End = ts
	t.Resolution = resolution
	sess.TopicHistory = append(sess.TopicHistory, t)
	if len(sess.TopicHistory) > topicHistoryLimit {
		sess.TopicHistory = sess.TopicHistory[len(sess.TopicHistory)-topicHistoryLimit:]
	}
	sess.CurrentTopic = nil
}

func recentTopics(sess *Session, n int) []Topic {
	topics := append([]Topic(nil), sess.TopicHistory...)
	if sess.CurrentTopic != nil {
		topics = append(topics, *sess.CurrentTopic)
	}
	if len(topics) > n {
		topics = topics[len(topics)-n:]
	}
	return topics
}

func lastClosedTopic(sess *Session) *Topic {
	if len(sess.TopicHistory) == 0 {
		return nil
	}
	t := sess.TopicHistory[len(sess.TopicHistory)-1]
	return &t
}

func snapshot(sess *Session) Session {
	out := *sess
	out.TopicHistory = append([]Topic(nil), sess.TopicHistory...)
	if sess.CurrentTopic != nil {
		topic := *sess.CurrentTopic
		out.CurrentTopic = &topic
	}
	return out
}

func humanizeDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "moments"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%d hours", int(d.Hours()))
	default:
		return fmt.Sprintf("%d days", int(d.Hours()/24))
	}
}

func joinOr(items []string, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	out := items[0]
	for _, s := range items[1:] {
		out += ", " + s
	}
	return out
}
