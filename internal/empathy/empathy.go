// Package empathy implements empathy style calibration and per-user
// preference learning.
//
// Calibration picks the acknowledgment style the character should open
// with, starting from a static per-emotion baseline and switching to the
// user's learned preference once its confidence clears the configured
// threshold. Learning folds
// surface feedback signals from the next user turn into an exponentially
// smoothed effectiveness score.
//
// All state is process-local and bounded; durable conversational memory
// lives elsewhere.
package empathy

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/whisperengine/whisperengine/pkg/memory"
	"github.com/whisperengine/whisperengine/pkg/provider/emotion"
)

// Style is a categorical empathy style label.
type Style string

const (
	DirectAcknowledgment Style = "direct_acknowledgment"
	ReflectiveListening  Style = "reflective_listening"
	SolutionFocused      Style = "solution_focused"
	ValidationFirst      Style = "validation_first"
	GentleInquiry        Style = "gentle_inquiry"
	SupportivePresence   Style = "supportive_presence"
)

// baselines is the static per-emotion effectiveness table consulted until a
// learned preference is confident enough.
var baselines = map[string][]scoredStyle{
	"frustration": {{ValidationFirst, 0.8}, {SolutionFocused, 0.7}, {DirectAcknowledgment, 0.6}},
	"anger":       {{ValidationFirst, 0.8}, {SupportivePresence, 0.6}, {ReflectiveListening, 0.6}},
	"sadness":     {{SupportivePresence, 0.8}, {ReflectiveListening, 0.7}, {ValidationFirst, 0.6}},
	"anxiety":     {{SupportivePresence, 0.8}, {GentleInquiry, 0.7}, {ValidationFirst, 0.6}},
	"excitement":  {{DirectAcknowledgment, 0.8}, {ReflectiveListening, 0.6}, {SupportivePresence, 0.5}},
	"joy":         {{DirectAcknowledgment, 0.8}, {ReflectiveListening, 0.6}, {SupportivePresence, 0.5}},
	"curiosity":   {{DirectAcknowledgment, 0.7}, {GentleInquiry, 0.7}, {ReflectiveListening, 0.5}},
	"neutral":     {{DirectAcknowledgment, 0.6}, {ReflectiveListening, 0.5}, {GentleInquiry, 0.4}},
}

type scoredStyle struct {
	style Style
	score float64
}

// Preference is the learned record for one (user, emotion) pair.
type Preference struct {
	PreferredStyle Style
	Confidence     float64
	Effectiveness  float64
	Interactions   int

	// History keeps the recent (style, score) observations, newest last.
	History []Observation
}

// Observation is one learning sample.
type Observation struct {
	Style Style
	Score float64
}

// Calibration is the outcome of one calibrate call.
type Calibration struct {
	RecommendedStyle Style
	Confidence       float64
	Reasoning        string
	Alternatives     []Style
}

// Feedback carries the surface signals observed after a styled reply.
type Feedback struct {
	ContinuedConversation  bool
	DeEscalation           bool
	Gratitude              bool
	MoreDetail             bool
	PositiveSentiment      bool
	AbruptEnd              bool
	RepeatedFrustration    bool
	RequestedDifferentTone bool
	Escalation             bool
}

// Learning defaults, overridable per Calibrator via options.
const (
	defaultLearningRate           = 0.1
	defaultMinInteractions        = 3
	defaultConfidenceThreshold    = 0.5
	defaultEffectivenessThreshold = 0.5

	newPrefConfig    = 0.3
	preferenceWindow = 10
	maxUsers         = 10_000
	volatilityBound  = 2.0
)

// Calibrator holds learned preferences keyed by (user, emotion). Safe for
// concurrent use; read-modify-write on one user's record is serialized by a
// per-user lock.
type Calibrator struct {
	mu    sync.Mutex
	prefs *expirable.LRU[string, *Preference]
	locks *expirable.LRU[string, *sync.Mutex]

	learningRate           float64
	minInteractions        int
	confidenceThreshold    float64
	effectivenessThreshold float64
}

// Option adjusts a Calibrator's learning parameters.
type Option func(*Calibrator)

// WithLearningRate sets the EWMA rate for effectiveness smoothing.
func WithLearningRate(rate float64) Option {
	return func(c *Calibrator) {
		if rate > 0 && rate <= 1 {
			c.learningRate = rate
		}
	}
}

// WithMinInteractions sets the observation count required before a learned
// style may replace the stored preference.
func WithMinInteractions(n int) Option {
	return func(c *Calibrator) {
		if n > 0 {
			c.minInteractions = n
		}
	}
}

// WithConfidenceThreshold sets the confidence a learned preference must
// reach before it overrides the baseline during calibration.
func WithConfidenceThreshold(v float64) Option {
	return func(c *Calibrator) {
		if v > 0 && v <= 1 {
			c.confidenceThreshold = v
		}
	}
}

// WithEffectivenessThreshold sets the score a styled reply must earn to
// count as reinforcing the current preference.
func WithEffectivenessThreshold(v float64) Option {
	return func(c *Calibrator) {
		if v > 0 && v <= 1 {
			c.effectivenessThreshold = v
		}
	}
}

// NewCalibrator constructs a Calibrator with bounded preference storage.
func NewCalibrator(opts ...Option) *Calibrator {
	c := &Calibrator{
		prefs: expirable.NewLRU[string, *Preference](maxUsers, nil, 0),
		locks: expirable.NewLRU[string, *sync.Mutex](maxUsers, nil, 0),

		learningRate:           defaultLearningRate,
		minInteractions:        defaultMinInteractions,
		confidenceThreshold:    defaultConfidenceThreshold,
		effectivenessThreshold: defaultEffectivenessThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func prefKey(userID, emotionKind string) string {
	return userID + "\x00" + emotionKind
}

// userLock returns the lock guarding one user's preference records. The
// lock store shares the preference store's bound; an evicted lock is
// recreated on demand.
func (c *Calibrator) userLock(userID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.locks.Get(userID); ok {
		return l
	}
	l := &sync.Mutex{}
	c.locks.Add(userID, l)
	return l
}

// Calibrate recommends an empathy style for the detected emotion.
// recentLabels are the ordinal emotion labels of the last turns (for
// volatility); conversationMode comes from the context snapshot and may be
// empty.
func (c *Calibrator) Calibrate(userID, detectedEmotion, message string, recentLabels []string, conversationMode string) Calibration {
	kind := normalizeEmotion(detectedEmotion)

	lock := c.userLock(userID)
	lock.Lock()
	pref, hasPref := c.prefs.Get(prefKey(userID, kind))
	var learned *Preference
	if hasPref {
		cp := *pref
		learned = &cp
	}
	lock.Unlock()

	style, confidence, reasoning := baselineFor(kind)
	if learned != nil && learned.Confidence > c.confidenceThreshold {
		style = learned.PreferredStyle
		confidence = learned.Confidence
		reasoning = fmt.Sprintf("learned preference for %s (%d interactions)", kind, learned.Interactions)
	}

	intensity := emotion.Intensity(message)
	volatile := Volatility(recentLabels) > volatilityBound

	switch {
	case conversationMode == "problem_solving":
		// Mode override wins over both learning and volatility.
		style = SolutionFocused
		reasoning = "problem_solving mode overrides to solution_focused"
	case volatile:
		style = ValidationFirst
		reasoning = "emotional volatility forces validation_first"
	case intensity >= 0.7 && style == GentleInquiry:
		style = DirectAcknowledgment
		reasoning = "high intensity bumps gentle_inquiry to direct_acknowledgment"
	}

	return Calibration{
		RecommendedStyle: style,
		Confidence:       clamp01(confidence),
		Reasoning:        reasoning,
		Alternatives:     alternatives(kind, style, learned),
	}
}

// Learn folds feedback on a styled reply into the user's preference record.
func (c *Calibrator) Learn(userID, emotionKind string, usedStyle Style, fb Feedback) {
	kind := normalizeEmotion(emotionKind)
	score := fb.score()

	lock := c.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	key := prefKey(userID, kind)
	pref, ok := c.prefs.Get(key)
	if !ok {
		c.prefs.Add(key, &Preference{
			PreferredStyle: usedStyle,
			Confidence:     newPrefConfig,
			Effectiveness:  score,
			Interactions:   1,
			History:        []Observation{{usedStyle, score}},
		})
		return
	}

	pref.Effectiveness = pref.Effectiveness*(1-c.learningRate) + score*c.learningRate
	pref.Interactions++
	pref.History = append(pref.History, Observation{usedStyle, score})
	if len(pref.History) > preferenceWindow {
		pref.History = pref.History[len(pref.History)-preferenceWindow:]
	}

	if pref.Interactions >= c.minInteractions && usedStyle != pref.PreferredStyle {
		if styleAverage(pref.History, usedStyle) > styleAverage(pref.History, pref.PreferredStyle) {
			pref.PreferredStyle = usedStyle
			pref.Confidence = math.Min(pref.Confidence+0.1, 1.0)
		}
	} else if usedStyle == pref.PreferredStyle && score >= c.effectivenessThreshold {
		pref.Confidence = math.Min(pref.Confidence+0.1, 1.0)
	}
}

// PreferenceFor returns a copy of the learned record, if any.
func (c *Calibrator) PreferenceFor(userID, emotionKind string) (Preference, bool) {
	lock := c.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	pref, ok := c.prefs.Get(prefKey(userID, normalizeEmotion(emotionKind)))
	if !ok {
		return Preference{}, false
	}
	cp := *pref
	cp.History = append([]Observation(nil), pref.History...)
	return cp, true
}

// score maps feedback indicators to effectiveness in [0, 1], starting from
// a neutral 0.5.
func (fb Feedback) score() float64 {
	s := 0.5
	if fb.ContinuedConversation {
		s += 0.2
	}
	if fb.DeEscalation {
		s += 0.3
	}
	if fb.Gratitude {
		s += 0.2
	}
	if fb.MoreDetail {
		s += 0.1
	}
	if fb.PositiveSentiment {
		s += 0.3
	}
	if fb.AbruptEnd {
		s -= 0.4
	}
	if fb.RepeatedFrustration {
		s -= 0.3
	}
	if fb.RequestedDifferentTone {
		s -= 0.2
	}
	if fb.Escalation {
		s -= 0.4
	}
	return clamp01(s)
}

// Volatility is the variance of the ordinal valence of recent labels,
// scaled so that swings across the full scale exceed the 2.0 bound.
func Volatility(labels []string) float64 {
	if len(labels) < 2 {
		return 0
	}
	var sum float64
	vals := make([]float64, len(labels))
	for i, l := range labels {
		vals[i] = memory.Valence(l) * 2 // spread the [-1,1] scale to [-2,2]
		sum += vals[i]
	}
	mean := sum / float64(len(vals))

	var variance float64
	for _, v := range vals {
		variance += (v - mean) * (v - mean)
	}
	return variance / float64(len(vals))
}

func baselineFor(kind string) (Style, float64, string) {
	table, ok := baselines[kind]
	if !ok {
		table = baselines["neutral"]
	}
	best := table[0]
	return best.style, best.score, fmt.Sprintf("baseline for %s", kind)
}

// alternatives returns up to three fallback styles ordered by baseline
// effectiveness, with the learned preference inserted first when it differs
// from the recommendation.
func alternatives(kind string, recommended Style, learned *Preference) []Style {
	table, ok := baselines[kind]
	if !ok {
		table = baselines["neutral"]
	}
	sorted := append([]scoredStyle(nil), table...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].score > sorted[j].score })

	var out []Style
	if learned != nil && learned.PreferredStyle != recommended {
		out = append(out, learned.PreferredStyle)
	}
	for _, s := range sorted {
		if s.style == recommended {
			continue
		}
		if len(out) > 0 && out[0] == s.style {
			continue
		}
		out = append(out, s.style)
		if len(out) == 3 {
			break
		}
	}
	return out
}

func styleAverage(history []Observation, style Style) float64 {
	sum, n := 0.0, 0
	for _, o := range history {
		if o.Style == style {
			sum += o.Score
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// normalizeEmotion folds label variants onto the baseline table's keys.
func normalizeEmotion(label string) string {
	l := strings.ToLower(strings.TrimSpace(label))
	switch l {
	case "frustrated":
		return "frustration"
	case "angry", "mad":
		return "anger"
	case "sad", "grief":
		return "sadness"
	case "anxious", "worried", "scared", "fear":
		return "anxiety"
	case "excited", "thrilled":
		return "excitement"
	case "happy", "glad":
		return "joy"
	case "":
		return "neutral"
	default:
		return l
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
