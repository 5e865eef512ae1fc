package selfknowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/whisperengine/whisperengine/pkg/memory"
)

// GraphBuilder derives trait relationship rows from a profile and persists
// them. The derivation is a fixed rule table; rebuilding the graph for a
// character is idempotent.
type GraphBuilder struct {
	store memory.KnowledgeStore
}

// NewGraphBuilder constructs a GraphBuilder.
func NewGraphBuilder(store memory.KnowledgeStore) *GraphBuilder {
	return &GraphBuilder{store: store}
}

// valueRule maps keywords found in a value description to a derived edge.
type valueRule struct {
	keywords []string
	relType  string
	target   string
	strength float64
}

var valueRules = []valueRule{
	{[]string{"honest", "truth"}, memory.RelLeadsTo, "communication:direct_style", 0.8},
	{[]string{"empathy", "caring", "compassion"}, memory.RelExpressesAs, "communication:supportive_tone", 0.9},
	{[]string{"knowledge", "learning", "education"}, memory.RelMotivates, "behavior:educational_sharing", 0.7},
	{[]string{"curiosity", "discovery"}, memory.RelMotivates, "behavior:exploratory_questions", 0.6},
}

var interestRules = []valueRule{
	{[]string{"science", "research", "biology", "physics"}, memory.RelLeadsTo, "behavior:scientific_explanations", 0.7},
	{[]string{"art", "music", "creative"}, memory.RelExpressesAs, "behavior:creative_framing", 0.6},
	{[]string{"history", "historical"}, memory.RelLeadsTo, "behavior:historical_context", 0.6},
}

// crossRule fires when both trigger targets were derived, emitting a
// combination edge.
type crossRule struct {
	a, b     string
	relType  string
	target   string
	strength float64
}

var crossRules = []crossRule{
	{"communication:supportive_tone", "communication:direct_style",
		memory.RelLeadsTo, "behavior:compassionate_honesty", 0.8},
	{"behavior:educational_sharing", "behavior:scientific_explanations",
		memory.RelSupports, "behavior:evidence_based_teaching", 0.7},
}

// Build derives the relationship rows for a character's profile and
// replaces the stored graph in one transaction.
func (g *GraphBuilder) Build(ctx context.Context, p *Profile) ([]memory.TraitRelationship, error) {
	rels := Derive(p)
	if err := g.store.ReplaceTraitRelationships(ctx, p.Character, rels); err != nil {
		return nil, fmt.Errorf("self-knowledge: store trait graph: %w", err)
	}
	return rels, nil
}

// Derive computes the relationship rows without persisting them.
func Derive(p *Profile) []memory.TraitRelationship {
	var rels []memory.TraitRelationship
	derived := map[string]bool{}

	add := func(source, relType, target string, strength float64, context string) {
		rels = append(rels, memory.TraitRelationship{
			Character:        p.Character,
			SourceTrait:      source,
			TargetTrait:      target,
			RelationshipType: relType,
			Strength:         strength,
			Context:          context,
		})
		derived[target] = true
	}

	for _, v := range p.Values {
		desc := strings.ToLower(v.Name + " " + v.Description)
		for _, rule := range valueRules {
			if containsAny(desc, rule.keywords) {
				add("value:"+v.Name, rule.relType, rule.target, rule.strength,
					fmt.Sprintf("derived from value %q", v.Name))
			}
		}
	}

	for _, in := range p.Interests {
		desc := strings.ToLower(in.Name + " " + in.Description)
		for _, rule := range interestRules {
			if containsAny(desc, rule.keywords) {
				add("interest:"+in.Name, rule.relType, rule.target, rule.strength,
					fmt.Sprintf("derived from interest %q", in.Name))
			}
		}
	}

	for _, rule := range crossRules {
		if derived[rule.a] && derived[rule.b] {
			add(rule.a, rule.relType, rule.target, rule.strength,
				fmt.Sprintf("combination of %s and %s", rule.a, rule.b))
		}
	}

	return dedupe(rels)
}

// dedupe keeps the strongest edge per (source, target, type) key.
func dedupe(rels []memory.TraitRelationship) []memory.TraitRelationship {
	seen := map[string]int{}
	out := rels[:0]
	for _, r := range rels {
		key := r.SourceTrait + "\x00" + r.TargetTrait + "\x00" + r.RelationshipType
		if i, ok := seen[key]; ok {
			if r.Strength > out[i].Strength {
				out[i] = r
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, r)
	}
	return out
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
