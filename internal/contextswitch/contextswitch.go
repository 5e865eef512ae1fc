// Package contextswitch implements per-turn conversation context switch
// detection.
//
// For each incoming message the detector compares five axes against the
// user's previous context snapshot: topic, emotion, conversation mode,
// urgency, and intent. Each detected change is emitted as a [Switch] with a
// strength, a confidence, and the adaptation strategy the prompt assembler
// should apply. Detection is advisory and failure-proof: any internal error
// yields an empty switch list, never a turn failure.
package contextswitch

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/whisperengine/whisperengine/pkg/memory"
)

// Kind is the axis a switch was detected on.
type Kind string

const (
	KindTopicShift       Kind = "topic_shift"
	KindEmotionalShift   Kind = "emotional_shift"
	KindConversationMode Kind = "conversation_mode"
	KindUrgencyChange    Kind = "urgency_change"
	KindIntentChange     Kind = "intent_change"
)

// Strength buckets a switch score.
type Strength string

const (
	StrengthSubtle   Strength = "subtle"
	StrengthModerate Strength = "moderate"
	StrengthStrong   Strength = "strong"
	StrengthDramatic Strength = "dramatic"
)

// Adaptation strategies consumed by the prompt assembler, one per kind.
var adaptations = map[Kind]string{
	KindTopicShift:       "acknowledge_transition",
	KindEmotionalShift:   "emotional_validation",
	KindConversationMode: "mode_adjustment",
	KindUrgencyChange:    "urgency_adaptation",
	KindIntentChange:     "intent_realignment",
}

// Switch is one detected context change.
type Switch struct {
	Kind        Kind
	Strength    Strength
	Confidence  float64
	Description string
	Adaptation  string
	Previous    string
	Current     string
}

// Snapshot is the runtime-only view of a user's current conversation
// context. One snapshot per user, owned by the Detector.
type Snapshot struct {
	PrimaryTopic string
	EmotionLabel string
	Mode         string
	Urgency      float64
	Intent       string
	Engagement   float64
	Confidence   float64
	UpdatedAt    time.Time
}

// Thresholds gate each axis. Zero values select the defaults.
type Thresholds struct {
	TopicShift     float64
	EmotionalShift float64
	Mode           float64
	Urgency        float64
}

func (t Thresholds) withDefaults() Thresholds {
	if t.TopicShift == 0 {
		t.TopicShift = 0.3
	}
	if t.EmotionalShift == 0 {
		t.EmotionalShift = 0.3
	}
	if t.Mode == 0 {
		t.Mode = 0.5
	}
	if t.Urgency == 0 {
		t.Urgency = 0.3
	}
	return t
}

// Detector holds per-user context snapshots and emits switches. Safe for
// concurrent use.
type Detector struct {
	mu        sync.Mutex
	snapshots map[string]*Snapshot

	store      memory.VectorStore
	thresholds Thresholds
}

// NewDetector constructs a Detector. store may be nil; the emotional axis
// then relies solely on the caller-supplied label.
func NewDetector(store memory.VectorStore, thresholds Thresholds) *Detector {
	return &Detector{
		snapshots:  make(map[string]*Snapshot),
		store:      store,
		thresholds: thresholds.withDefaults(),
	}
}

// Prime seeds the snapshot for a user, typically from session state after a
// restart. Existing snapshots are left untouched.
func (d *Detector) Prime(userID, topic string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.snapshots[userID]; !ok {
		d.snapshots[userID] = &Snapshot{
			PrimaryTopic: topic,
			Mode:         ModeCasual,
			Intent:       IntentGeneral,
			Confidence:   0.5,
			UpdatedAt:    time.Now(),
		}
	}
}

// SnapshotFor returns a copy of the user's snapshot, if any.
func (d *Detector) SnapshotFor(userID string) (Snapshot, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.snapshots[userID]
	if !ok {
		return Snapshot{}, false
	}
	return *s, true
}

// Detect compares message against the user's snapshot and returns up to
// five switches, one per axis. emotionLabel is the intrinsic analysis of
// the current message and may be empty. The snapshot is updated afterwards
// regardless of what was detected.
func (d *Detector) Detect(ctx context.Context, userID, message, emotionLabel string) []Switch {
	d.mu.Lock()
	prev, known := d.snapshots[userID]
	var prior Snapshot
	if known {
		prior = *prev
	}
	d.mu.Unlock()

	topic := primaryTopic(message)
	mode := ClassifyMode(message)
	urgency := UrgencyScore(message)
	intent := ClassifyIntent(message)

	var switches []Switch
	if known {
		if sw := d.topicSignal(ctx, prior, userID, message, topic); sw != nil {
			switches = append(switches, *sw)
		}
		if sw := d.emotionalSignal(ctx, prior, userID, emotionLabel); sw != nil {
			switches = append(switches, *sw)
		}
		if sw := modeSignal(prior, mode, d.thresholds.Mode); sw != nil {
			switches = append(switches, *sw)
		}
		if sw := urgencySignal(prior, urgency, d.thresholds.Urgency); sw != nil {
			switches = append(switches, *sw)
		}
		if sw := intentSignal(prior, intent); sw != nil {
			switches = append(switches, *sw)
		}
	}

	d.mu.Lock()
	next := &Snapshot{
		PrimaryTopic: topic,
		EmotionLabel: emotionLabel,
		Mode:         mode,
		Urgency:      urgency,
		Intent:       intent,
		Engagement:   prior.Engagement,
		Confidence:   math.Min(prior.Confidence+0.1, 1.0),
		UpdatedAt:    time.Now(),
	}
	if topic == "" {
		next.PrimaryTopic = prior.PrimaryTopic
	}
	if emotionLabel == "" {
		next.EmotionLabel = prior.EmotionLabel
	}
	d.snapshots[userID] = next
	d.mu.Unlock()

	return switches
}

// topicSignal detects a subject change. A juxtaposition marker ("by the
// way") restricts categorization to the trailing clause, which catches
// mid-message pivots. When the store exposes contradiction detection it is
// consulted as a corroborating signal only; its failure is ignored.
func (d *Detector) topicSignal(ctx context.Context, prior Snapshot, userID, message, topic string) *Switch {
	if prior.PrimaryTopic == "" || topic == "" || topic == prior.PrimaryTopic {
		return nil
	}

	score := 0.8 // distinct categories are a near-total subject change
	confidence := 0.7
	if hasJuxtaposition(message) {
		confidence = 0.9
	}

	if det, ok := d.store.(memory.ContradictionDetector); ok && d.store != nil {
		if found, err := det.DetectContradictions(ctx, message, userID, 0.3); err == nil && len(found) > 0 {
			confidence = math.Min(confidence+0.05, 1.0)
		}
	}

	if score < d.thresholds.TopicShift {
		return nil
	}
	return &Switch{
		Kind:        KindTopicShift,
		Strength:    strengthFor(score),
		Confidence:  confidence,
		Description: fmt.Sprintf("topic moved from %s to %s", prior.PrimaryTopic, topic),
		Adaptation:  adaptations[KindTopicShift],
		Previous:    prior.PrimaryTopic,
		Current:     topic,
	}
}

// emotionalSignal measures ordinal distance between the current label and
// the recent average from stored turns, falling back to the snapshot label.
func (d *Detector) emotionalSignal(ctx context.Context, prior Snapshot, userID, label string) *Switch {
	if label == "" {
		return nil
	}

	baseline, ok := d.recentEmotionBaseline(ctx, userID)
	if !ok {
		if prior.EmotionLabel == "" {
			return nil
		}
		baseline = memory.Valence(prior.EmotionLabel)
	}

	distance := math.Abs(memory.Valence(label)-baseline) / 2
	if distance < d.thresholds.EmotionalShift {
		return nil
	}
	return &Switch{
		Kind:        KindEmotionalShift,
		Strength:    strengthFor(distance),
		Confidence:  math.Min(0.5+distance, 1.0),
		Description: fmt.Sprintf("emotional tone moved from %s to %s", prior.EmotionLabel, label),
		Adaptation:  adaptations[KindEmotionalShift],
		Previous:    prior.EmotionLabel,
		Current:     label,
	}
}

// recentEmotionBaseline averages the valence of the last five labeled user
// turns. Store absence or failure reports no baseline.
func (d *Detector) recentEmotionBaseline(ctx context.Context, userID string) (float64, bool) {
	if d.store == nil {
		return 0, false
	}
	records, err := d.store.History(ctx, userID, 20)
	if err != nil {
		return 0, false
	}

	sum, n := 0.0, 0
	for _, r := range records {
		if r.Role != memory.RoleUser || r.EmotionLabel == "" {
			continue
		}
		sum += memory.Valence(r.EmotionLabel)
		if n++; n == 5 {
			break
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func modeSignal(prior Snapshot, mode string, threshold float64) *Switch {
	if prior.Mode == "" || mode == prior.Mode {
		return nil
	}
	distance := modeDistance(prior.Mode, mode)
	if distance < threshold {
		return nil
	}
	return &Switch{
		Kind:        KindConversationMode,
		Strength:    strengthFor(distance),
		Confidence:  0.6 + distance/4,
		Description: fmt.Sprintf("conversation mode moved from %s to %s", prior.Mode, mode),
		Adaptation:  adaptations[KindConversationMode],
		Previous:    prior.Mode,
		Current:     mode,
	}
}

func urgencySignal(prior Snapshot, urgency, threshold float64) *Switch {
	delta := math.Abs(urgency - prior.Urgency)
	if delta < threshold {
		return nil
	}
	return &Switch{
		Kind:        KindUrgencyChange,
		Strength:    strengthFor(delta),
		Confidence:  math.Min(0.5+delta, 1.0),
		Description: fmt.Sprintf("urgency moved from %.1f to %.1f", prior.Urgency, urgency),
		Adaptation:  adaptations[KindUrgencyChange],
		Previous:    fmt.Sprintf("%.1f", prior.Urgency),
		Current:     fmt.Sprintf("%.1f", urgency),
	}
}

func intentSignal(prior Snapshot, intent string) *Switch {
	if prior.Intent == "" || intent == prior.Intent {
		return nil
	}
	return &Switch{
		Kind:        KindIntentChange,
		Strength:    StrengthModerate,
		Confidence:  0.6,
		Description: fmt.Sprintf("intent moved from %s to %s", prior.Intent, intent),
		Adaptation:  adaptations[KindIntentChange],
		Previous:    prior.Intent,
		Current:     intent,
	}
}

// strengthFor buckets a score in [0,1].
func strengthFor(score float64) Strength {
	switch {
	case score >= 0.7:
		return StrengthDramatic
	case score >= 0.5:
		return StrengthStrong
	case score >= 0.3:
		return StrengthModerate
	default:
		return StrengthSubtle
	}
}
