package emotion

import (
	"context"
	"strings"
)

// Compile-time interface check.
var _ Analyzer = (*Lexicon)(nil)

// lexicon maps emotion labels to their indicator words. Matching is done on
// lowercase whole words.
var lexicon = map[string][]string{
	"joy":         {"happy", "glad", "great", "wonderful", "awesome", "love", "loved", "delighted", "fantastic"},
	"excitement":  {"excited", "thrilled", "amazing", "incredible", "stoked", "pumped"},
	"sadness":     {"sad", "unhappy", "depressed", "miserable", "crying", "heartbroken", "lonely", "grief"},
	"frustration": {"frustrated", "frustrating", "annoyed", "annoying", "stuck", "stupid", "useless", "fed"},
	"anger":       {"angry", "furious", "mad", "hate", "rage", "outraged"},
	"anxiety":     {"anxious", "worried", "nervous", "scared", "afraid", "panic", "stressed", "overwhelmed"},
	"curiosity":   {"curious", "wonder", "wondering", "interested", "intrigued", "fascinated"},
}

// Lexicon is the local keyword-based emotion analyzer. It is the intrinsic
// half of the intelligence fan-out and the fallback when the external
// emotion API is unconfigured or failing. It never returns an error for
// a live context.
type Lexicon struct{}

// NewLexicon constructs the local analyzer.
func NewLexicon() *Lexicon {
	return &Lexicon{}
}

// Analyze implements Analyzer. The label with the most keyword hits wins;
// no hits yields "neutral" with zero intensity.
func (l *Lexicon) Analyze(ctx context.Context, userID, text string, history []string) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	words := strings.Fields(strings.ToLower(stripPunct(text)))
	wordSet := make(map[string]int, len(words))
	for _, w := range words {
		wordSet[w]++
	}

	best, bestHits := "neutral", 0
	for label, indicators := range lexicon {
		hits := 0
		for _, ind := range indicators {
			hits += wordSet[ind]
		}
		if hits > bestHits || (hits == bestHits && hits > 0 && label < best) {
			best, bestHits = label, hits
		}
	}

	a := &Analysis{
		PrimaryEmotion: best,
		TierUsed:       "lexicon",
	}
	if bestHits == 0 {
		a.Confidence = 0.2
		return a, nil
	}

	// Confidence grows with hit count, saturating at three matches.
	a.Confidence = min1(0.4 + 0.2*float64(bestHits))
	a.Intensity = Intensity(text)
	return a, nil
}

// Intensity estimates how strongly a message is expressed, in [0, 1]. It
// combines exclamation marks, all-caps words, message length, and repeated
// words. Shared with the empathy calibrator.
func Intensity(text string) float64 {
	var score float64

	score += 0.15 * float64(min(strings.Count(text, "!"), 3))

	words := strings.Fields(text)
	caps := 0
	seen := map[string]int{}
	repeats := 0
	for _, w := range words {
		if len(w) >= 3 && w == strings.ToUpper(w) && w != strings.ToLower(w) {
			caps++
		}
		lw := strings.ToLower(stripPunct(w))
		if lw == "" {
			continue
		}
		seen[lw]++
		if seen[lw] == 2 {
			repeats++
		}
	}
	score += 0.1 * float64(min(caps, 3))
	score += 0.1 * float64(min(repeats, 2))

	if len(words) > 25 {
		score += 0.15
	} else if len(words) > 12 {
		score += 0.1
	}

	return min1(score)
}

func stripPunct(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '!', '?', '.', ',', ';', ':', '"', '\'', '(', ')':
			return ' '
		}
		return r
	}, s)
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
