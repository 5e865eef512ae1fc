// Package selfknowledge derives structured self-knowledge for a character
// from its static trait rows: a knowledge profile, a trait relationship
// graph, and discovery outputs (motivations, behavioral patterns, and
// self-awareness insights).
//
// Everything here is deterministic over the relational data. A failing step
// yields empty results; the turn proceeds without self-knowledge.
package selfknowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/whisperengine/whisperengine/pkg/memory"
)

// CommunicationStyle is the profile's rendering of how the character talks.
type CommunicationStyle struct {
	EngagementLevel     string
	Formality           string
	EmotionalExpression string
	ResponseLength      string
}

// Profile is the extracted CharacterKnowledgeProfile.
type Profile struct {
	Character   string
	Personality map[string]float64 // Big-Five dimension -> weight
	Values      []memory.CharacterTrait
	Abilities   []memory.CharacterTrait
	Interests   []memory.CharacterTrait
	Triggers    []memory.CharacterTrait
	Style       CommunicationStyle

	// Confidence reflects how much relational data backed the profile.
	Confidence float64
}

// Extractor builds profiles from the knowledge store.
type Extractor struct {
	store memory.KnowledgeStore
}

// NewExtractor constructs an Extractor.
func NewExtractor(store memory.KnowledgeStore) *Extractor {
	return &Extractor{store: store}
}

// bigFive recognized as personality trait names.
var bigFive = map[string]bool{
	"openness":          true,
	"conscientiousness": true,
	"extraversion":      true,
	"agreeableness":     true,
	"neuroticism":       true,
}

// Extract reads the character's trait rows and assembles a Profile.
func (e *Extractor) Extract(ctx context.Context, character string) (*Profile, error) {
	traits, err := e.store.CharacterTraits(ctx, character)
	if err != nil {
		return nil, fmt.Errorf("self-knowledge: extract profile: %w", err)
	}

	p := &Profile{
		Character:   memory.NormalizeCharacterName(character),
		Personality: map[string]float64{},
		Style: CommunicationStyle{
			EngagementLevel:     "moderate",
			Formality:           "casual",
			EmotionalExpression: "balanced",
			ResponseLength:      "medium",
		},
	}

	kinds := map[string]bool{}
	highImportance := 0
	for _, t := range traits {
		kinds[t.Kind] = true
		if t.Importance >= 0.8 {
			highImportance++
		}

		switch t.Kind {
		case "personality":
			if bigFive[strings.ToLower(t.Name)] {
				p.Personality[strings.ToLower(t.Name)] = t.Importance
			}
		case "value":
			p.Values = append(p.Values, t)
		case "ability":
			p.Abilities = append(p.Abilities, t)
		case "interest":
			p.Interests = append(p.Interests, t)
		case "behavioral_trigger":
			p.Triggers = append(p.Triggers, t)
		case "communication_style":
			applyStyleTrait(&p.Style, t)
		}
	}

	p.Confidence = profileConfidence(len(traits), len(kinds), highImportance)
	return p, nil
}

// applyStyleTrait folds one communication_style row into the style fields.
func applyStyleTrait(s *CommunicationStyle, t memory.CharacterTrait) {
	switch strings.ToLower(t.Name) {
	case "engagement", "engagement_level":
		s.EngagementLevel = t.Description
	case "formality":
		s.Formality = t.Description
	case "emotional_expression":
		s.EmotionalExpression = t.Description
	case "response_length":
		s.ResponseLength = t.Description
	}
}

// profileConfidence saturates at 20 traits, 5 kinds, and rewards
// high-importance rows. Weights sum to 1.
func profileConfidence(traitCount, kindCount, highImportance int) float64 {
	count := float64(traitCount) / 20
	if count > 1 {
		count = 1
	}
	variety := float64(kindCount) / 5
	if variety > 1 {
		variety = 1
	}
	weight := float64(highImportance) / 10
	if weight > 1 {
		weight = 1
	}
	return 0.5*count + 0.3*variety + 0.2*weight
}

// TopValues returns up to n values ordered by importance.
func (p *Profile) TopValues(n int) []memory.CharacterTrait {
	vals := append([]memory.CharacterTrait(nil), p.Values...)
	sort.SliceStable(vals, func(i, j int) bool { return vals[i].Importance > vals[j].Importance })
	if len(vals) > n {
		vals = vals[:n]
	}
	return vals
}
