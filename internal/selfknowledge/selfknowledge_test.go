package selfknowledge

import (
	"context"
	"testing"

	"github.com/whisperengine/whisperengine/pkg/memory"
)

// stubStore serves canned traits and records graph writes.
type stubStore struct {
	memory.KnowledgeStore
	traits  []memory.CharacterTrait
	written []memory.TraitRelationship
}

func (s *stubStore) CharacterTraits(ctx context.Context, character string) ([]memory.CharacterTrait, error) {
	return s.traits, nil
}

func (s *stubStore) ReplaceTraitRelationships(ctx context.Context, character string, rels []memory.TraitRelationship) error {
	s.written = rels
	return nil
}

func elenaTraits() []memory.CharacterTrait {
	return []memory.CharacterTrait{
		{Character: "elena", Kind: "value", Name: "honesty", Description: "always speaks the truth", Importance: 0.9},
		{Character: "elena", Kind: "value", Name: "empathy", Description: "deeply caring toward everyone", Importance: 0.9},
		{Character: "elena", Kind: "value", Name: "knowledge", Description: "lifelong learning matters", Importance: 0.8},
		{Character: "elena", Kind: "interest", Name: "marine_biology", Description: "coral reef science and research", Importance: 0.9},
		{Character: "elena", Kind: "ability", Name: "scuba_diving", Description: "certified rescue diver", Importance: 0.6},
		{Character: "elena", Kind: "communication_style", Name: "formality", Description: "warm and informal", Importance: 0.5},
		{Character: "elena", Kind: "personality", Name: "openness", Description: "", Importance: 0.9},
		{Character: "elena", Kind: "behavioral_trigger", Name: "ocean_pollution", Description: "passionate when habitats are threatened", Importance: 0.7},
	}
}

func TestExtract_Profile(t *testing.T) {
	e := NewExtractor(&stubStore{traits: elenaTraits()})
	p, err := e.Extract(context.Background(), "Elena")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if p.Character != "elena" {
		t.Errorf("expected normalized character name, got %q", p.Character)
	}
	if len(p.Values) != 3 || len(p.Interests) != 1 || len(p.Abilities) != 1 {
		t.Errorf("trait partition wrong: %d values, %d interests, %d abilities",
			len(p.Values), len(p.Interests), len(p.Abilities))
	}
	if p.Personality["openness"] != 0.9 {
		t.Errorf("expected openness 0.9, got %f", p.Personality["openness"])
	}
	if p.Style.Formality != "warm and informal" {
		t.Errorf("communication style not applied: %q", p.Style.Formality)
	}
	if p.Confidence <= 0 || p.Confidence > 1 {
		t.Errorf("confidence out of range: %f", p.Confidence)
	}
}

func TestProfileConfidence_Saturation(t *testing.T) {
	low := profileConfidence(2, 1, 0)
	high := profileConfidence(40, 8, 20)
	if low >= high {
		t.Errorf("richer data must score higher: %f vs %f", low, high)
	}
	if high != 1.0 {
		t.Errorf("saturated inputs must hit 1.0, got %f", high)
	}
}

func TestDerive_GraphRules(t *testing.T) {
	e := NewExtractor(&stubStore{traits: elenaTraits()})
	p, _ := e.Extract(context.Background(), "elena")
	rels := Derive(p)

	want := map[string]bool{
		"communication:direct_style":      false, // honesty
		"communication:supportive_tone":   false, // empathy
		"behavior:educational_sharing":    false, // knowledge
		"behavior:scientific_explanations": false, // science interest
		"behavior:compassionate_honesty":  false, // cross rule
	}
	for _, r := range rels {
		if _, ok := want[r.TargetTrait]; ok {
			want[r.TargetTrait] = true
		}
		if r.Strength <= 0 || r.Strength > 1 {
			t.Errorf("strength out of range on %s: %f", r.TargetTrait, r.Strength)
		}
	}
	for target, seen := range want {
		if !seen {
			t.Errorf("expected derived edge to %s", target)
		}
	}
}

func TestBuild_PersistsGraph(t *testing.T) {
	store := &stubStore{traits: elenaTraits()}
	e := NewExtractor(store)
	p, _ := e.Extract(context.Background(), "elena")

	rels, err := NewGraphBuilder(store).Build(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.written) != len(rels) {
		t.Errorf("expected %d persisted edges, got %d", len(rels), len(store.written))
	}
}

func TestMotivations_RankedAndSourced(t *testing.T) {
	e := NewExtractor(&stubStore{traits: elenaTraits()})
	p, _ := e.Extract(context.Background(), "elena")

	motivations := Motivations(p)
	if len(motivations) == 0 {
		t.Fatal("expected motivations from elena's traits")
	}
	for i := 1; i < len(motivations); i++ {
		if motivations[i].Confidence > motivations[i-1].Confidence {
			t.Fatal("motivations must be ranked by confidence descending")
		}
	}
	found := false
	for _, m := range motivations {
		if m.Name == "seeking_truth" && m.Source == "value:honesty" {
			found = true
		}
	}
	if !found {
		t.Error("expected seeking_truth motivation sourced from value:honesty")
	}
}

func TestPatterns_ThresholdAndMinimum(t *testing.T) {
	rels := []memory.TraitRelationship{
		{RelationshipType: memory.RelLeadsTo, Strength: 0.8},
		{RelationshipType: memory.RelLeadsTo, Strength: 0.9},
		{RelationshipType: memory.RelMotivates, Strength: 0.9}, // only one edge
		{RelationshipType: memory.RelSupports, Strength: 0.5},  // below threshold
		{RelationshipType: memory.RelSupports, Strength: 0.6},
	}
	patterns := Patterns(rels)
	if len(patterns) != 1 {
		t.Fatalf("expected exactly one pattern, got %d", len(patterns))
	}
	if patterns[0].RelationType != memory.RelLeadsTo || patterns[0].Relationships != 2 {
		t.Errorf("unexpected pattern: %+v", patterns[0])
	}
}

func TestInsights_CachedPerKind(t *testing.T) {
	store := &stubStore{traits: elenaTraits()}
	e := NewExtractor(store)
	p, _ := e.Extract(context.Background(), "elena")
	rels := Derive(p)

	d := NewDiscovery(store)
	first := d.Insights(context.Background(), p, rels, InsightMotivation)
	if len(first) == 0 || len(first) > 3 {
		t.Fatalf("expected 1..3 motivation insights, got %d", len(first))
	}

	// Mutating the profile must not change the cached result.
	p.Values = nil
	second := d.Insights(context.Background(), p, rels, InsightMotivation)
	if len(second) != len(first) {
		t.Error("expected cached insights on second call")
	}

	d.Invalidate()
	third := d.Insights(context.Background(), p, rels, InsightMotivation)
	if len(third) >= len(first) {
		t.Errorf("after invalidation with values removed, expected fewer insights: %d vs %d", len(third), len(first))
	}
}

func TestInsights_ValueKind(t *testing.T) {
	store := &stubStore{traits: elenaTraits()}
	e := NewExtractor(store)
	p, _ := e.Extract(context.Background(), "elena")

	d := NewDiscovery(store)
	insights := d.Insights(context.Background(), p, nil, InsightValues)
	if len(insights) != 3 {
		t.Fatalf("expected 3 value insights, got %d", len(insights))
	}
	for _, in := range insights {
		if in.Kind != InsightValues || in.Text == "" {
			t.Errorf("malformed insight: %+v", in)
		}
	}
}
