package selfknowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/whisperengine/whisperengine/pkg/memory"
)

// InsightKind classifies a self-awareness insight.
type InsightKind string

const (
	InsightMotivation  InsightKind = "motivation"
	InsightBehavior    InsightKind = "behavior"
	InsightPreferences InsightKind = "preferences"
	InsightValues      InsightKind = "values"
)

// Motivation is one ranked driving force.
type Motivation struct {
	Name       string
	Source     string // "value:honesty", "interest:science", ...
	Confidence float64
}

// BehavioralPattern aggregates trait relationships of one type.
type BehavioralPattern struct {
	Name          string
	RelationType  string
	Strength      float64
	Relationships int
}

// Insight is a natural-language self-awareness statement.
type Insight struct {
	Kind       InsightKind
	Text       string
	Confidence float64
}

// motivationVocabulary maps motivation names to indicator keywords scanned
// over value and interest descriptions.
var motivationVocabulary = map[string][]string{
	"helping_others":    {"help", "support", "caring", "empathy", "service"},
	"seeking_truth":     {"honest", "truth", "accuracy", "integrity"},
	"sharing_knowledge": {"knowledge", "teaching", "learning", "education", "explain"},
	"exploration":       {"curiosity", "discovery", "explore", "adventure", "research"},
	"connection":        {"friendship", "community", "belonging", "relationship"},
	"creativity":        {"creative", "art", "imagination", "expression"},
}

// patternThresholds gate behavioral pattern aggregation.
const (
	patternMinStrength = 0.7
	patternMinEdges    = 2
	discoveryCacheTTL  = time.Hour
	maxCacheEntries    = 256
)

// Discovery derives motivations, patterns, and insights from a profile and
// its trait graph, with per-(character, insight kind) caching.
type Discovery struct {
	store memory.KnowledgeStore
	cache *expirable.LRU[string, []Insight]
}

// NewDiscovery constructs a Discovery service with a one-hour cache.
func NewDiscovery(store memory.KnowledgeStore) *Discovery {
	return &Discovery{
		store: store,
		cache: expirable.NewLRU[string, []Insight](maxCacheEntries, nil, discoveryCacheTTL),
	}
}

// Motivations scans value and interest descriptions against the motivation
// vocabulary. Values contribute more confidence than interests.
func Motivations(p *Profile) []Motivation {
	seen := map[string]*Motivation{}

	scan := func(traits []memory.CharacterTrait, sourceKind string, base float64) {
		for _, t := range traits {
			desc := strings.ToLower(t.Name + " " + t.Description)
			for name, keywords := range motivationVocabulary {
				hits := 0
				for _, k := range keywords {
					if strings.Contains(desc, k) {
						hits++
					}
				}
				if hits == 0 {
					continue
				}
				conf := base + 0.1*float64(hits-1) + 0.2*t.Importance
				if conf > 1 {
					conf = 1
				}
				if m, ok := seen[name]; !ok || conf > m.Confidence {
					seen[name] = &Motivation{
						Name:       name,
						Source:     sourceKind + ":" + t.Name,
						Confidence: conf,
					}
				}
			}
		}
	}

	scan(p.Values, "value", 0.5)
	scan(p.Interests, "interest", 0.4)

	out := make([]Motivation, 0, len(seen))
	for _, m := range seen {
		out = append(out, *m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Patterns aggregates trait relationships by relationship type, keeping
// aggregates with at least two strong edges.
func Patterns(rels []memory.TraitRelationship) []BehavioralPattern {
	byType := map[string][]memory.TraitRelationship{}
	for _, r := range rels {
		if r.Strength >= patternMinStrength {
			byType[r.RelationshipType] = append(byType[r.RelationshipType], r)
		}
	}

	var out []BehavioralPattern
	for relType, group := range byType {
		if len(group) < patternMinEdges {
			continue
		}
		sum := 0.0
		for _, r := range group {
			sum += r.Strength
		}
		out = append(out, BehavioralPattern{
			Name:          relType + "_pattern",
			RelationType:  relType,
			Strength:      sum / float64(len(group)),
			Relationships: len(group),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Strength > out[j].Strength })
	return out
}

// Insights derives self-awareness statements for one kind, cached for an
// hour per (character, kind).
func (d *Discovery) Insights(ctx context.Context, p *Profile, rels []memory.TraitRelationship, kind InsightKind) []Insight {
	key := p.Character + "\x00" + string(kind)
	if cached, ok := d.cache.Get(key); ok {
		return cached
	}

	insights := deriveInsights(p, rels, kind)
	d.cache.Add(key, insights)
	return insights
}

// Invalidate drops all cached discovery outputs. Admin action only.
func (d *Discovery) Invalidate() {
	d.cache.Purge()
}

func deriveInsights(p *Profile, rels []memory.TraitRelationship, kind InsightKind) []Insight {
	var out []Insight

	switch kind {
	case InsightMotivation:
		for _, m := range Motivations(p) {
			if len(out) == 3 {
				break
			}
			out = append(out, Insight{
				Kind:       InsightMotivation,
				Text:       fmt.Sprintf("I am driven by %s, rooted in my %s", strings.ReplaceAll(m.Name, "_", " "), m.Source),
				Confidence: m.Confidence,
			})
		}

	case InsightBehavior:
		for _, pat := range Patterns(rels) {
			if len(out) == 5 {
				break
			}
			out = append(out, Insight{
				Kind:       InsightBehavior,
				Text:       fmt.Sprintf("I tend to act through %s (%d related traits)", strings.ReplaceAll(pat.Name, "_", " "), pat.Relationships),
				Confidence: pat.Strength,
			})
		}

	case InsightValues:
		for _, v := range p.TopValues(3) {
			out = append(out, Insight{
				Kind:       InsightValues,
				Text:       fmt.Sprintf("I hold %s as a core value", v.Name),
				Confidence: v.Importance,
			})
		}

	case InsightPreferences:
		s := p.Style
		out = append(out, Insight{
			Kind:       InsightPreferences,
			Text:       fmt.Sprintf("I prefer %s engagement with %s formality and %s responses", s.EngagementLevel, s.Formality, s.ResponseLength),
			Confidence: p.Confidence,
		})
	}

	return out
}
