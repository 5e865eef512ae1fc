package contextswitch

import (
	"context"
	"testing"

	"github.com/whisperengine/whisperengine/pkg/memory"
)

// stubStore provides labeled history for the emotional baseline.
type stubStore struct {
	memory.VectorStore
	records []memory.Record
	err     error
}

func (s *stubStore) History(ctx context.Context, userID string, limit int) ([]memory.Record, error) {
	return s.records, s.err
}

func TestDetect_TopicShiftWithJuxtaposition(t *testing.T) {
	d := NewDetector(nil, Thresholds{})
	d.Prime("u1", "marine")

	msg := "I've been researching ocean acidification and its impact on coral reefs. " +
		"By the way, could you recommend a good Italian restaurant in Seattle?"
	switches := d.Detect(context.Background(), "u1", msg, "")

	var topicShift *Switch
	for i := range switches {
		if switches[i].Kind == KindTopicShift {
			topicShift = &switches[i]
		}
	}
	if topicShift == nil {
		t.Fatal("expected a topic_shift switch")
	}
	if topicShift.Previous != "marine" || topicShift.Current != "food" {
		t.Errorf("expected marine -> food, got %s -> %s", topicShift.Previous, topicShift.Current)
	}
	if topicShift.Confidence < 0.8 {
		t.Errorf("expected confidence >= 0.8, got %f", topicShift.Confidence)
	}
	if topicShift.Adaptation != "acknowledge_transition" {
		t.Errorf("wrong adaptation: %s", topicShift.Adaptation)
	}
}

func TestDetect_NoSwitchesOnFirstContact(t *testing.T) {
	d := NewDetector(nil, Thresholds{})
	switches := d.Detect(context.Background(), "new-user", "hello there!", "")
	if len(switches) != 0 {
		t.Errorf("expected no switches without a prior snapshot, got %d", len(switches))
	}
	if _, ok := d.SnapshotFor("new-user"); !ok {
		t.Error("expected a snapshot to be created")
	}
}

func TestDetect_EmotionalShiftFromHistory(t *testing.T) {
	store := &stubStore{records: []memory.Record{
		{Role: memory.RoleUser, EmotionLabel: "positive"},
		{Role: memory.RoleUser, EmotionLabel: "positive"},
		{Role: memory.RoleUser, EmotionLabel: "very_positive"},
	}}
	d := NewDetector(store, Thresholds{})
	d.Prime("u1", "work")

	switches := d.Detect(context.Background(), "u1", "everything went wrong today", "very_negative")

	found := false
	for _, sw := range switches {
		if sw.Kind == KindEmotionalShift {
			found = true
			if sw.Strength != StrengthDramatic {
				t.Errorf("positive->very_negative should be dramatic, got %s", sw.Strength)
			}
		}
	}
	if !found {
		t.Fatal("expected an emotional_shift switch")
	}
}

func TestDetect_StoreFailureIsSwallowed(t *testing.T) {
	store := &stubStore{err: context.DeadlineExceeded}
	d := NewDetector(store, Thresholds{})
	d.Prime("u1", "work")

	// Must not panic or error; store failure just mutes the baseline.
	d.Detect(context.Background(), "u1", "a perfectly normal message", "neutral")
}

func TestDetect_UpdatesSnapshotConfidence(t *testing.T) {
	d := NewDetector(nil, Thresholds{})
	d.Prime("u1", "marine")

	before, _ := d.SnapshotFor("u1")
	d.Detect(context.Background(), "u1", "tell me more about whales in the ocean", "")
	after, _ := d.SnapshotFor("u1")

	if after.Confidence <= before.Confidence {
		t.Errorf("confidence must grow: %f -> %f", before.Confidence, after.Confidence)
	}
	for i := 0; i < 20; i++ {
		d.Detect(context.Background(), "u1", "more ocean talk", "")
	}
	final, _ := d.SnapshotFor("u1")
	if final.Confidence > 1.0 {
		t.Errorf("confidence must cap at 1.0, got %f", final.Confidence)
	}
}

func TestDetect_ModeChange(t *testing.T) {
	d := NewDetector(nil, Thresholds{})
	d.Prime("u1", "tech")
	d.Detect(context.Background(), "u1", "my laptop is a nice computer", "") // casual tech talk

	switches := d.Detect(context.Background(), "u1", "my computer is broken and nothing will fix it", "")
	found := false
	for _, sw := range switches {
		if sw.Kind == KindConversationMode {
			found = true
			if sw.Current != ModeProblemSolving {
				t.Errorf("expected problem_solving, got %s", sw.Current)
			}
		}
	}
	if !found {
		t.Fatal("expected a conversation_mode switch")
	}
}

func TestUrgencyScore(t *testing.T) {
	cases := []struct {
		msg  string
		min  float64
		max  float64
	}{
		{"please respond asap, this is urgent!!!", 0.9, 1.0},
		{"whenever you get a chance, no rush", 0, 0},
		{"this is important", 0.3, 0.3},
		{"wow!", 0.2, 0.2},
	}
	for _, tc := range cases {
		got := UrgencyScore(tc.msg)
		if got < tc.min || got > tc.max {
			t.Errorf("UrgencyScore(%q) = %f, want [%f, %f]", tc.msg, got, tc.min, tc.max)
		}
	}
}

func TestClassifyIntent(t *testing.T) {
	cases := []struct {
		msg  string
		want string
	}{
		{"hey there", IntentGreeting},
		{"can you help me with this form?", IntentSeekingHelp},
		{"what time do tides turn?", IntentQuestion},
		{"guess what happened at the aquarium", IntentSharing},
		{"I'm so stressed about everything!", IntentVenting},
		{"the weather is mild today", IntentGeneral},
	}
	for _, tc := range cases {
		if got := ClassifyIntent(tc.msg); got != tc.want {
			t.Errorf("ClassifyIntent(%q) = %s, want %s", tc.msg, got, tc.want)
		}
	}
}

func TestClassifyMode(t *testing.T) {
	cases := []struct {
		msg  string
		want string
	}{
		{"my code has an error I cannot fix", ModeProblemSolving},
		{"explain how photosynthesis works", ModeEducational},
		{"I've been so anxious lately", ModeSupport},
		{"nice day out", ModeCasual},
	}
	for _, tc := range cases {
		if got := ClassifyMode(tc.msg); got != tc.want {
			t.Errorf("ClassifyMode(%q) = %s, want %s", tc.msg, got, tc.want)
		}
	}
}
