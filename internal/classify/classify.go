// Package classify implements query classification for memory retrieval.
//
// Each incoming query is mapped to one of five categories, and each category
// to a named-vector search strategy. Classification is fully deterministic:
// literal pattern tables plus the caller-supplied emotion intensity and
// temporal flag. No model call is involved, so classification can never fail
// or add latency to the turn.
package classify

import (
	"strings"

	"github.com/whisperengine/whisperengine/pkg/memory"
)

// Category is the query type driving strategy selection.
type Category string

const (
	Factual        Category = "factual"
	Conversational Category = "conversational"
	Emotional      Category = "emotional"
	Temporal       Category = "temporal"
	General        Category = "general"
)

// emotionalIntensityThreshold routes a query to the emotional strategy even
// without an emotional keyword.
const emotionalIntensityThreshold = 0.3

// Pattern tables. Matching is case-insensitive substring containment.
var (
	factualPatterns = []string{
		"what is", "what are", "define", "definition of", "how to",
		"explain", "calculate", "formula", "tell me about",
	}

	conversationalPatterns = []string{
		"we talked", "we discussed", "our conversation", "remember when",
		"you mentioned", "you said", "what did we", "last time",
	}

	emotionalKeywords = []string{
		"feel", "feeling", "felt", "mood", "how are you", "happy", "sad",
		"angry", "upset", "excited", "anxious", "scared", "worried",
		"frustrated", "lonely", "stressed",
	}
)

// Result pairs the category with its retrieval strategy.
type Result struct {
	Category Category
	Strategy memory.Strategy
}

// Classify maps a query to a category and strategy. emotionalIntensity comes
// from the intrinsic emotion analyzer; isTemporal from the platform adapter
// or a date-phrase heuristic upstream.
//
// Priority is fixed: factual, conversational, emotional, temporal, general.
// Temporal sits after conversational on purpose: "what did we talk about
// yesterday?" is a conversational recall, not a scroll.
func Classify(query string, emotionalIntensity float64, isTemporal bool) Result {
	q := strings.ToLower(strings.TrimSpace(query))

	switch {
	case matchesAny(q, factualPatterns):
		return Result{Factual, memory.Strategy{
			Vectors: []string{memory.VectorContent},
			Weights: []float64{1.0},
		}}

	case matchesAny(q, conversationalPatterns):
		return Result{Conversational, memory.Strategy{
			Vectors: []string{memory.VectorContent, memory.VectorSemantic},
			Weights: []float64{0.5, 0.5},
			Fuse:    true,
		}}

	case matchesAny(q, emotionalKeywords) || emotionalIntensity >= emotionalIntensityThreshold:
		return Result{Emotional, memory.Strategy{
			Vectors: []string{memory.VectorContent, memory.VectorEmotion},
			Weights: []float64{0.4, 0.6},
			Fuse:    true,
		}}

	case isTemporal:
		return Result{Temporal, memory.Strategy{}}

	default:
		return Result{General, memory.Strategy{
			Vectors: []string{memory.VectorContent},
			Weights: []float64{1.0},
		}}
	}
}

func matchesAny(q string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(q, p) {
			return true
		}
	}
	return false
}
