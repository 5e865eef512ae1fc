package pipeline

import (
	"regexp"
	"strings"
	"time"

	"github.com/whisperengine/whisperengine/internal/empathy"
	"github.com/whisperengine/whisperengine/pkg/memory"
)

// temporalPhrases route a query to the chronological scroll strategy when no
// higher-priority category matches.
var temporalPhrases = []string{
	"yesterday", "last week", "last month", "last night", "this morning",
	"earlier today", "the other day", "a while ago", "recently",
}

// isTemporalQuery reports whether the message anchors itself in past time.
func isTemporalQuery(content string) bool {
	q := strings.ToLower(content)
	for _, p := range temporalPhrases {
		if strings.Contains(q, p) {
			return true
		}
	}
	return false
}

// contextLabel maps an analyzer emotion label onto the coarse valence scale
// used for stored records and emotional-shift detection.
func contextLabel(primary string) string {
	switch primary {
	case "excitement":
		return "very_positive"
	case "joy":
		return "positive"
	case "curiosity":
		return "contemplative"
	case "sadness", "frustration":
		return "negative"
	case "anger":
		return "very_negative"
	case "anxiety":
		return "anxious"
	default:
		return "neutral"
	}
}

// Extraction patterns. Captures stop at sentence punctuation and are length
// bounded so a rambling message never produces a paragraph-sized entity.
var (
	namePattern     = regexp.MustCompile(`(?i)\b(?:my name is|call me)\s+([a-zA-Z][\w'-]{0,30})`)
	livesPattern    = regexp.MustCompile(`(?i)\bi live in\s+([a-zA-Z][^.,!?\n]{0,40})`)
	fromPattern     = regexp.MustCompile(`(?i)\bi(?:'m| am) from\s+([a-zA-Z][^.,!?\n]{0,40})`)
	workPattern     = regexp.MustCompile(`(?i)\bi work (?:as|at)\s+(?:an?\s+)?([a-zA-Z][^.,!?\n]{0,40})`)
	likePattern     = regexp.MustCompile(`(?i)\bi (love|like|enjoy|hate|dislike)\s+([a-zA-Z][^.,!?\n]{0,40})`)
	favoritePattern = regexp.MustCompile(`(?i)\bmy favou?rite\s+([a-zA-Z]\w{0,20})\s+is\s+([a-zA-Z][^.,!?\n]{0,40})`)
)

// likeRelationships normalizes the captured verb to a relationship label.
var likeRelationships = map[string]string{
	"love": "loves", "like": "likes", "enjoy": "enjoys",
	"hate": "dislikes", "dislike": "dislikes",
}

// clauseBreaks terminate a capture that ran past its own clause.
var clauseBreaks = []string{" and ", " but ", " because ", " so ", " though "}

// trimClause cuts a captured entity at the first clause boundary.
func trimClause(s string) string {
	lower := strings.ToLower(s)
	cut := len(s)
	for _, b := range clauseBreaks {
		if i := strings.Index(lower, b); i >= 0 && i < cut {
			cut = i
		}
	}
	return strings.TrimSpace(s[:cut])
}

// extracted is the deterministic per-turn extraction result.
type extracted struct {
	facts []memory.Fact
	prefs []memory.Preference
}

// extractKnowledge runs the keyword extractor over one user message. It never
// consults a model; the LLM extraction endpoint is an optional enrichment
// layered elsewhere.
func extractKnowledge(userID, character, sessionID, content, emotionalContext string, now time.Time) extracted {
	var out extracted

	if m := namePattern.FindStringSubmatch(content); m != nil {
		out.prefs = append(out.prefs, memory.Preference{
			UserID:     userID,
			Key:        "preferred_name",
			Value:      strings.TrimSpace(m[1]),
			Confidence: 0.9,
			UpdatedAt:  now,
		})
	}
	if m := favoritePattern.FindStringSubmatch(content); m != nil {
		out.prefs = append(out.prefs, memory.Preference{
			UserID:     userID,
			Key:        "favorite_" + strings.ToLower(m[1]),
			Value:      trimClause(m[2]),
			Confidence: 0.8,
			UpdatedAt:  now,
		})
	}

	fact := func(entity, entityType, relationship string, confidence float64) {
		entity = trimClause(entity)
		if entity == "" {
			return
		}
		out.facts = append(out.facts, memory.Fact{
			UserID:             userID,
			EntityName:         entity,
			EntityType:         entityType,
			Relationship:       relationship,
			Confidence:         confidence,
			EmotionalContext:   emotionalContext,
			Character:          character,
			SourceConversation: sessionID,
			UpdatedAt:          now,
		})
	}

	if m := livesPattern.FindStringSubmatch(content); m != nil {
		fact(m[1], "place", "lives in", 0.8)
	}
	if m := fromPattern.FindStringSubmatch(content); m != nil {
		fact(m[1], "place", "is from", 0.7)
	}
	if m := workPattern.FindStringSubmatch(content); m != nil {
		fact(m[1], "occupation", "works as", 0.7)
	}
	for _, m := range likePattern.FindAllStringSubmatch(content, 3) {
		fact(m[2], "interest", likeRelationships[strings.ToLower(m[1])], 0.7)
	}
	return out
}

// Surface feedback keyword tables. These read the user's next turn for
// signals about how the previous styled reply landed.
var (
	gratitudeWords  = []string{"thank", "thanks", "appreciate"}
	positiveWords   = []string{"better", "good", "great", "glad", "helpful", "helps", "perfect", "nice"}
	escalationWords = []string{"worse", "angry", "furious", "hate this", "useless"}
	frustrationCues = []string{"still not", "still doesn't", "again", "frustrated", "annoyed"}
	toneRequests    = []string{"stop saying", "don't talk", "talk normally", "be serious", "different tone"}
	abruptCloses    = map[string]bool{"ok": true, "k": true, "fine": true, "whatever": true, "bye": true}
)

// surfaceFeedback infers empathy feedback from the user's follow-up message.
func surfaceFeedback(content string) empathy.Feedback {
	lower := strings.ToLower(strings.TrimSpace(content))
	fb := empathy.Feedback{ContinuedConversation: lower != ""}

	contains := func(cues []string) bool {
		for _, c := range cues {
			if strings.Contains(lower, c) {
				return true
			}
		}
		return false
	}

	fb.Gratitude = contains(gratitudeWords)
	fb.PositiveSentiment = contains(positiveWords)
	fb.DeEscalation = fb.Gratitude || fb.PositiveSentiment
	fb.Escalation = contains(escalationWords)
	fb.RepeatedFrustration = contains(frustrationCues)
	fb.RequestedDifferentTone = contains(toneRequests)
	fb.MoreDetail = len(strings.Fields(lower)) > 25
	fb.AbruptEnd = abruptCloses[strings.TrimRight(lower, ".!")]
	return fb
}
