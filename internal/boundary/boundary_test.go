package boundary

import (
	"strings"
	"testing"
	"time"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func TestProcessMessage_NewSession(t *testing.T) {
	m := NewManager()
	sess, tr := m.ProcessMessage("u1", "c1", "m1", "tell me about coral reefs", t0)

	if tr != TransitionNewSession {
		t.Fatalf("expected new_session, got %s", tr)
	}
	if sess.State != StateActive {
		t.Errorf("expected active state, got %s", sess.State)
	}
	if sess.CurrentTopic == nil || len(sess.CurrentTopic.Keywords) == 0 {
		t.Fatal("expected a topic with keywords on session start")
	}
}

func TestProcessMessage_NaturalFlowIncrementsTopic(t *testing.T) {
	m := NewManager()
	m.ProcessMessage("u1", "c1", "m1", "coral reefs are fascinating", t0)
	sess, tr := m.ProcessMessage("u1", "c1", "m2", "and what lives in them?", t0.Add(time.Minute))

	if tr != TransitionNaturalFlow {
		t.Fatalf("expected natural_flow, got %s", tr)
	}
	if sess.CurrentTopic.MessageCount != 2 {
		t.Errorf("expected topic message count 2, got %d", sess.CurrentTopic.MessageCount)
	}
	if sess.MessageCount != 2 {
		t.Errorf("expected session message count 2, got %d", sess.MessageCount)
	}
}

func TestProcessMessage_ExplicitChangeRotatesTopic(t *testing.T) {
	m := NewManager()
	m.ProcessMessage("u1", "c1", "m1", "coral reefs are fascinating", t0)
	sess, tr := m.ProcessMessage("u1", "c1", "m2",
		"by the way, do you know any good italian restaurants?", t0.Add(time.Minute))

	if tr != TransitionExplicitChange {
		t.Fatalf("expected explicit_change, got %s", tr)
	}
	if len(sess.TopicHistory) != 1 {
		t.Fatalf("expected 1 archived topic, got %d", len(sess.TopicHistory))
	}
	ended := sess.TopicHistory[0]
	if ended.Resolution != ResolutionEnded {
		t.Errorf("expected ended resolution, got %s", ended.Resolution)
	}
	if ended.End.IsZero() {
		t.Error("archived topic must carry an end time")
	}
	if sess.CurrentTopic == nil {
		t.Fatal("expected a fresh current topic")
	}
}

func TestProcessMessage_KeepaliveIdlePausesAndResumes(t *testing.T) {
	m := NewManager()
	m.ProcessMessage("u1", "c1", "m1", "hello there", t0)
	sess, tr := m.ProcessMessage("u1", "c1", "m2", "are you still around?", t0.Add(20*time.Minute))

	if tr != TransitionResumption {
		t.Fatalf("expected resumption after idle gap, got %s", tr)
	}
	if sess.State != StateResumed {
		t.Errorf("expected resumed, got %s", sess.State)
	}

	// Next message settles back to active.
	sess, _ = m.ProcessMessage("u1", "c1", "m3", "great", t0.Add(21*time.Minute))
	if sess.State != StateActive {
		t.Errorf("expected active after resumed turn, got %s", sess.State)
	}
}

func TestProcessMessage_AbsoluteTimeout(t *testing.T) {
	m := NewManager(WithAbsoluteTimeout(30 * time.Minute))
	m.ProcessMessage("u1", "c1", "m1", "hello", t0)
	// Stay under keepalive but exceed session lifetime.
	for i := 1; i <= 4; i++ {
		m.ProcessMessage("u1", "c1", "m", "still chatting", t0.Add(time.Duration(i)*10*time.Minute))
	}
	sess, tr := m.ProcessMessage("u1", "c1", "m6", "and more", t0.Add(50*time.Minute))

	if tr != TransitionResumption {
		t.Fatalf("expected resumption after absolute timeout, got %s", tr)
	}
	if sess.State != StateResumed {
		t.Errorf("expected resumed, got %s", sess.State)
	}
}

func TestProcessMessage_InterruptedByOtherUser(t *testing.T) {
	m := NewManager()
	m.ProcessMessage("u1", "c1", "m1", "talking about reefs", t0)
	m.ProcessMessage("u2", "c1", "m2", "hi everyone", t0.Add(time.Minute))

	view := m.ConversationContext("u1", "c1", false)
	if view.State != StateInterrupted {
		t.Errorf("expected interrupted, got %s", view.State)
	}
}

func TestComplete(t *testing.T) {
	m := NewManager()
	m.ProcessMessage("u1", "c1", "m1", "quick question about tides", t0)
	m.Complete("u1", "c1", t0.Add(time.Minute))

	view := m.ConversationContext("u1", "c1", false)
	if view.State != StateCompleted {
		t.Errorf("expected completed, got %s", view.State)
	}

	// A later message starts a brand new session.
	_, tr := m.ProcessMessage("u1", "c1", "m2", "hello again", t0.Add(2*time.Minute))
	if tr != TransitionNewSession {
		t.Errorf("expected new_session after completion, got %s", tr)
	}
}

func TestSummarization_FallbackString(t *testing.T) {
	m := NewManager(WithSummarizeAfter(3))
	m.ProcessMessage("u1", "c1", "m1", "whale migration routes", t0)
	m.ProcessMessage("u1", "c1", "m2", "by the way, squid camouflage", t0.Add(time.Minute))
	sess, _ := m.ProcessMessage("u1", "c1", "m3", "more on squid", t0.Add(2*time.Minute))

	if sess.ContextSummary == "" {
		t.Fatal("expected a context summary at the threshold")
	}
	if !strings.Contains(sess.ContextSummary, "topics over") {
		t.Errorf("expected deterministic fallback form, got %q", sess.ContextSummary)
	}
}

type fixedSummarizer struct{ out string }

func (f fixedSummarizer) Summarize([]Topic) (string, error) { return f.out, nil }

func TestSummarization_UsesInstalledSummarizer(t *testing.T) {
	m := NewManager(WithSummarizeAfter(2), WithSummarizer(fixedSummarizer{out: "deep sea chat"}))
	m.ProcessMessage("u1", "c1", "m1", "anglerfish light organs", t0)
	sess, _ := m.ProcessMessage("u1", "c1", "m2", "more anglerfish", t0.Add(time.Minute))

	if sess.ContextSummary != "deep sea chat" {
		t.Errorf("expected summarizer output, got %q", sess.ContextSummary)
	}
}

func TestConversationContext_ResumptionBridge(t *testing.T) {
	m := NewManager()
	m.ProcessMessage("u1", "c1", "m1", "we were discussing kelp forests", t0)
	m.ProcessMessage("u1", "c1", "m2", "hello again", t0.Add(30*time.Minute))

	view := m.ConversationContext("u1", "c1", false)
	if view.ResumedBridge == "" {
		t.Fatal("expected a resumption bridge for a resumed session")
	}
	if !strings.Contains(view.ResumedBridge, "kelp") {
		t.Errorf("bridge should carry prior topic keywords, got %q", view.ResumedBridge)
	}
	// The interrupted topic ends when the break began, so the bridge
	// reports the full idle gap.
	if !strings.Contains(view.ResumedBridge, "30 minutes ago") {
		t.Errorf("bridge should carry the break length, got %q", view.ResumedBridge)
	}
	if strings.Contains(view.ResumedBridge, "moments") {
		t.Errorf("a 30 minute break is not moments ago: %q", view.ResumedBridge)
	}
}

func TestExtractKeywords(t *testing.T) {
	got := ExtractKeywords("The coral reefs near the coast are coral colored", 3)
	if len(got) == 0 || got[0] != "coral" {
		t.Fatalf("expected coral first by frequency, got %v", got)
	}
	for _, w := range got {
		if stopwords[w] {
			t.Errorf("stopword %q leaked into keywords", w)
		}
	}
}

func TestExtractKeywords_Limit(t *testing.T) {
	text := "alpha bravo charlie delta echo foxtrot golf hotel india juliett kilo lima"
	if got := ExtractKeywords(text, 10); len(got) != 10 {
		t.Errorf("expected 10 keywords, got %d", len(got))
	}
}

func TestDetectTransition(t *testing.T) {
	cases := []struct {
		content string
		want    Transition
	}{
		{"anyway, how was your day", TransitionExplicitChange},
		{"back to what we were saying", TransitionResumption},
		{"thanks, that makes sense", TransitionNaturalFlow},
		{"the tide comes in at noon", TransitionNaturalFlow},
	}
	for _, tc := range cases {
		if got := detectTransition(tc.content); got != tc.want {
			t.Errorf("detectTransition(%q) = %s, want %s", tc.content, got, tc.want)
		}
	}
}
