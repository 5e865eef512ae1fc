package contextswitch

import "strings"

// Conversation modes.
const (
	ModeCasual         = "casual"
	ModeSupport        = "support"
	ModeEducational    = "educational"
	ModeProblemSolving = "problem_solving"
)

// Intents.
const (
	IntentQuestion    = "question"
	IntentSeekingHelp = "seeking_help"
	IntentSharing     = "sharing"
	IntentVenting     = "venting"
	IntentGreeting    = "greeting"
	IntentGeneral     = "general"
)

// topicVocabulary maps coarse topic categories to indicator words. The
// categories only need to be stable, not exhaustive; an uncategorized
// message keeps the prior topic.
var topicVocabulary = map[string][]string{
	"marine":   {"ocean", "sea", "reef", "reefs", "coral", "fish", "whale", "tide", "kelp", "marine", "acidification", "aquarium"},
	"food":     {"restaurant", "food", "meal", "dinner", "lunch", "recipe", "cook", "cooking", "pizza", "italian", "cuisine", "eat"},
	"tech":     {"computer", "software", "code", "program", "app", "server", "laptop", "phone", "internet"},
	"work":     {"job", "work", "boss", "meeting", "deadline", "project", "office", "career", "interview"},
	"health":   {"doctor", "sick", "sleep", "exercise", "diet", "medicine", "health", "tired"},
	"travel":   {"trip", "travel", "flight", "hotel", "vacation", "visit", "city", "seattle"},
	"weather":  {"weather", "rain", "snow", "storm", "sunny", "temperature"},
	"personal": {"family", "friend", "relationship", "partner", "kids", "parents"},
}

// juxtapositionMarkers indicate a mid-message pivot; categorization then
// applies to the trailing clause only.
var juxtapositionMarkers = []string{"by the way", "btw", "on another note", "unrelated, but", "anyway,"}

// primaryTopic categorizes a message into a coarse topic label, or ""
// when no vocabulary matches. A juxtaposition marker restricts the scan to
// whatever follows it.
func primaryTopic(message string) string {
	m := strings.ToLower(message)
	for _, marker := range juxtapositionMarkers {
		if i := strings.Index(m, marker); i >= 0 {
			m = m[i+len(marker):]
			break
		}
	}

	words := map[string]bool{}
	for _, w := range strings.Fields(m) {
		words[strings.Trim(w, ".,!?;:'\"()")] = true
	}

	best, bestHits := "", 0
	for category, indicators := range topicVocabulary {
		hits := 0
		for _, ind := range indicators {
			if words[ind] {
				hits++
			}
		}
		if hits > bestHits || (hits == bestHits && hits > 0 && category < best) {
			best, bestHits = category, hits
		}
	}
	return best
}

func hasJuxtaposition(message string) bool {
	m := strings.ToLower(message)
	for _, marker := range juxtapositionMarkers {
		if strings.Contains(m, marker) {
			return true
		}
	}
	return false
}

var (
	problemWords   = []string{"fix", "error", "broken", "not working", "bug", "crash", "stuck", "fails", "doesn't work"}
	educationWords = []string{"explain", "what is", "how does", "teach", "learn", "understand", "why does"}
	supportWords   = []string{"sad", "anxious", "worried", "upset", "lonely", "stressed", "overwhelmed", "frustrated", "scared", "crying"}
)

// ClassifyMode maps a message to a conversation mode by rule. The same
// rules run at session init and per turn so mode comparisons are stable.
func ClassifyMode(message string) string {
	m := strings.ToLower(message)
	switch {
	case containsAny(m, problemWords):
		return ModeProblemSolving
	case containsAny(m, educationWords):
		return ModeEducational
	case containsAny(m, supportWords):
		return ModeSupport
	default:
		return ModeCasual
	}
}

// modeDistances is the static distance matrix between conversation modes.
// Keys are ordered pairs (lexicographically smaller mode first).
var modeDistances = map[[2]string]float64{
	{ModeCasual, ModeEducational}:         0.5,
	{ModeCasual, ModeProblemSolving}:      0.7,
	{ModeCasual, ModeSupport}:             0.6,
	{ModeEducational, ModeProblemSolving}: 0.4,
	{ModeEducational, ModeSupport}:        0.8,
	{ModeProblemSolving, ModeSupport}:     0.6,
}

func modeDistance(a, b string) float64 {
	if a == b {
		return 0
	}
	if a > b {
		a, b = b, a
	}
	return modeDistances[[2]string{a, b}]
}

// Urgency keyword weights.
var urgencyWeights = []struct {
	word   string
	weight float64
}{
	{"urgent", 0.6}, {"emergency", 0.6}, {"asap", 0.6}, {"right now", 0.6},
	{"soon", 0.3}, {"important", 0.3}, {"quickly", 0.3},
	{"whenever", -0.2}, {"maybe", -0.2}, {"no rush", -0.2},
}

// UrgencyScore returns a deterministic urgency estimate in [0, 1] from
// keyword weights plus punctuation bonuses.
func UrgencyScore(message string) float64 {
	m := strings.ToLower(message)
	var score float64
	for _, uw := range urgencyWeights {
		if strings.Contains(m, uw.word) {
			score += uw.weight
		}
	}
	if strings.Contains(m, "!!!") || strings.Contains(m, "??") {
		score += 0.3
	} else if strings.Contains(m, "!") {
		score += 0.2
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

var greetingPrefixes = []string{"hi", "hello", "hey", "good morning", "good evening", "yo"}

// ClassifyIntent maps a message to an intent label by rule.
func ClassifyIntent(message string) string {
	m := strings.ToLower(strings.TrimSpace(message))
	switch {
	case hasGreetingPrefix(m) && len(strings.Fields(m)) <= 4:
		return IntentGreeting
	case containsAny(m, []string{"help me", "can you help", "how do i", "i need help"}):
		return IntentSeekingHelp
	case containsAny(m, supportWords) && strings.Count(m, "!") >= 1:
		return IntentVenting
	case strings.Contains(m, "?"):
		return IntentQuestion
	case containsAny(m, []string{"i just", "guess what", "i've been", "i got", "i wanted to tell"}):
		return IntentSharing
	default:
		return IntentGeneral
	}
}

func hasGreetingPrefix(m string) bool {
	for _, g := range greetingPrefixes {
		if strings.HasPrefix(m, g) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
