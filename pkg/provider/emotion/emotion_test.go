package emotion

import (
	"context"
	"testing"
)

// TestParseAnalysis_BareJSON verifies plain JSON replies parse.
func TestParseAnalysis_BareJSON(t *testing.T) {
	a, err := parseAnalysis(`{"primary_emotion": "Frustration", "confidence": 0.85, "intensity": 0.7}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.PrimaryEmotion != "frustration" {
		t.Errorf("expected lowercase label, got %q", a.PrimaryEmotion)
	}
	if a.Confidence != 0.85 || a.Intensity != 0.7 {
		t.Errorf("unexpected scores: %+v", a)
	}
}

// TestParseAnalysis_FencedJSON verifies code-fenced replies parse.
func TestParseAnalysis_FencedJSON(t *testing.T) {
	reply := "Here is the analysis:\n```json\n{\"primary_emotion\": \"joy\", \"confidence\": 0.9, \"intensity\": 0.4}\n```"
	a, err := parseAnalysis(reply)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.PrimaryEmotion != "joy" {
		t.Errorf("got %q", a.PrimaryEmotion)
	}
}

// TestParseAnalysis_ClampsRanges verifies out-of-range scores are clamped.
func TestParseAnalysis_ClampsRanges(t *testing.T) {
	a, err := parseAnalysis(`{"primary_emotion": "anger", "confidence": 1.5, "intensity": -0.2}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Confidence != 1 || a.Intensity != 0 {
		t.Errorf("expected clamped values, got %+v", a)
	}
}

// TestParseAnalysis_Invalid rejects replies with no usable JSON.
func TestParseAnalysis_Invalid(t *testing.T) {
	for _, reply := range []string{"", "I cannot analyze that.", `{"confidence": 0.5}`} {
		if _, err := parseAnalysis(reply); err == nil {
			t.Errorf("expected error for %q", reply)
		}
	}
}

// TestLexicon_DetectsFrustration verifies keyword detection with intensity.
func TestLexicon_DetectsFrustration(t *testing.T) {
	a, err := NewLexicon().Analyze(context.Background(), "u1",
		"I'm so frustrated with this stupid computer! Nothing is working!", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.PrimaryEmotion != "frustration" {
		t.Errorf("expected frustration, got %q", a.PrimaryEmotion)
	}
	if a.Intensity < 0.3 {
		t.Errorf("expected elevated intensity, got %f", a.Intensity)
	}
	if a.Confidence <= 0.4 {
		t.Errorf("expected confidence above floor, got %f", a.Confidence)
	}
}

// TestLexicon_NeutralWhenNoMatch verifies the neutral fallback.
func TestLexicon_NeutralWhenNoMatch(t *testing.T) {
	a, err := NewLexicon().Analyze(context.Background(), "u1", "the meeting is at noon", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.PrimaryEmotion != "neutral" {
		t.Errorf("expected neutral, got %q", a.PrimaryEmotion)
	}
	if a.Intensity != 0 {
		t.Errorf("expected zero intensity, got %f", a.Intensity)
	}
}

// TestIntensity_Heuristics verifies the surface-signal components.
func TestIntensity_Heuristics(t *testing.T) {
	calm := Intensity("that sounds fine")
	loud := Intensity("NO NO NO this is BROKEN!!! broken broken everywhere!!!")
	if loud <= calm {
		t.Errorf("expected loud (%f) > calm (%f)", loud, calm)
	}
	if loud > 1 {
		t.Errorf("intensity must be clamped to 1, got %f", loud)
	}
}
