package boundary

import (
	"sort"
	"strings"
)

// topicKeywordLimit caps keywords kept per topic.
const topicKeywordLimit = 10

// Transition marker tables. Matching is case-insensitive substring
// containment; completion markers end the topic, never the session.
var (
	explicitChangeMarkers = []string{
		"anyway", "by the way", "btw", "new topic", "changing the subject",
		"on another note", "speaking of something else",
	}

	resumptionMarkers = []string{
		"back to", "as i was saying", "where were we", "returning to",
		"like i said before",
	}

	completionMarkers = []string{
		"thanks", "thank you", "got it", "that makes sense", "perfect",
	}
)

// detectTransition classifies message content into a transition. Completion
// markers fold into natural flow; they close topics elsewhere, not sessions.
func detectTransition(content string) Transition {
	c := strings.ToLower(content)
	for _, marker := range explicitChangeMarkers {
		if strings.Contains(c, marker) {
			return TransitionExplicitChange
		}
	}
	for _, marker := range resumptionMarkers {
		if strings.Contains(c, marker) {
			return TransitionResumption
		}
	}
	for _, marker := range completionMarkers {
		if strings.Contains(c, marker) {
			return TransitionNaturalFlow
		}
	}
	return TransitionNaturalFlow
}

// stopwords excluded from topic keyword extraction.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"i": true, "im": true, "me": true, "my": true, "you": true, "your": true,
	"we": true, "our": true, "it": true, "its": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "am": true,
	"do": true, "does": true, "did": true, "have": true, "has": true, "had": true,
	"to": true, "of": true, "in": true, "on": true, "at": true, "for": true,
	"with": true, "about": true, "as": true, "so": true, "that": true,
	"this": true, "these": true, "those": true, "what": true, "when": true,
	"where": true, "how": true, "why": true, "can": true, "could": true,
	"would": true, "should": true, "will": true, "just": true, "really": true,
	"very": true, "not": true, "no": true, "yes": true, "ok": true, "okay": true,
}

// ExtractKeywords returns the top n content words of text by frequency,
// ties broken by first appearance. Words shorter than three characters and
// stopwords are skipped.
func ExtractKeywords(text string, n int) []string {
	counts := map[string]int{}
	order := map[string]int{}
	idx := 0

	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:'\"()[]")
		if len(w) < 3 || stopwords[w] {
			continue
		}
		if _, seen := counts[w]; !seen {
			order[w] = idx
			idx++
		}
		counts[w]++
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return order[words[i]] < order[words[j]]
	})

	if len(words) > n {
		words = words[:n]
	}
	return words
}
