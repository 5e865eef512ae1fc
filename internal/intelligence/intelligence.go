// Package intelligence implements the per-turn parallel analysis fan-out.
//
// Four tasks run concurrently on every turn: external emotion analysis,
// intrinsic emotion analysis, context switch detection, and the human-like
// bundle (empathy calibration plus self-knowledge insights). Each task has
// its own deadline and the whole fan-out a global one. A failed or timed-out
// task leaves its bundle slot nil; the turn never fails because analysis
// failed. That is why plain goroutines are used here rather than an error
// group: no task's failure may cancel its siblings.
package intelligence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/whisperengine/whisperengine/internal/contextswitch"
	"github.com/whisperengine/whisperengine/internal/empathy"
	"github.com/whisperengine/whisperengine/internal/observe"
	"github.com/whisperengine/whisperengine/internal/selfknowledge"
	"github.com/whisperengine/whisperengine/pkg/memory"
	"github.com/whisperengine/whisperengine/pkg/provider/emotion"
)

// Timeouts. Per-task defaults come from the resource model; both are
// overridable with options.
const (
	defaultTaskTimeout   = 5 * time.Second
	defaultGlobalTimeout = 8 * time.Second

	// externalConfidenceFloor is the tie-break: the external analysis wins
	// over the intrinsic one only at or above this confidence.
	externalConfidenceFloor = 0.7
)

// HumanLike carries the empathy calibration and self-awareness insights.
type HumanLike struct {
	Calibration empathy.Calibration
	Insights    []selfknowledge.Insight
}

// Bundle is the fan-in result. Nil slots mean the task failed or timed out.
type Bundle struct {
	ExternalEmotion  *emotion.Analysis
	IntrinsicEmotion *emotion.Analysis
	Switches         []contextswitch.Switch
	HumanLike        *HumanLike
}

// PrimaryEmotion resolves the external/intrinsic conflict: external wins at
// confidence >= 0.7, otherwise the intrinsic analysis is trusted. Returns
// nil when both slots are empty.
func (b *Bundle) PrimaryEmotion() *emotion.Analysis {
	if b.ExternalEmotion != nil && b.ExternalEmotion.Confidence >= externalConfidenceFloor {
		return b.ExternalEmotion
	}
	if b.IntrinsicEmotion != nil {
		return b.IntrinsicEmotion
	}
	return b.ExternalEmotion
}

// Empty reports whether every slot is nil. The pipeline combines this with
// a retrieval failure to decide on an apology reply.
func (b *Bundle) Empty() bool {
	return b.ExternalEmotion == nil && b.IntrinsicEmotion == nil &&
		b.Switches == nil && b.HumanLike == nil
}

// Turn is the prepared input for one fan-out.
type Turn struct {
	UserID  string
	Message string

	// RecentUserMessages are the last few user turns, newest first. Fed to
	// the external emotion API.
	RecentUserMessages []string

	// RecentEmotionLabels drive empathy volatility detection.
	RecentEmotionLabels []string

	// ConversationMode from the context snapshot; may be empty.
	ConversationMode string
}

// SelfKnowledge is the narrow surface the orchestrator needs from L8.
type SelfKnowledge interface {
	Insights(ctx context.Context, userID string) []selfknowledge.Insight
}

// Orchestrator owns the fan-out. All dependencies except the intrinsic
// analyzer may be nil; a nil dependency leaves its slot empty.
type Orchestrator struct {
	external  emotion.Analyzer
	intrinsic emotion.Analyzer
	detector  *contextswitch.Detector
	empathy   *empathy.Calibrator
	knowledge SelfKnowledge
	log       *slog.Logger
	metrics   *observe.Metrics

	taskTimeout   time.Duration
	globalTimeout time.Duration
}

// Option is a functional option for Orchestrator.
type Option func(*Orchestrator)

// WithTaskTimeout overrides the per-task deadline.
func WithTaskTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.taskTimeout = d }
}

// WithGlobalTimeout overrides the fan-out deadline.
func WithGlobalTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.globalTimeout = d }
}

// WithMetrics enables the per-task outcome counter.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator constructs the fan-out coordinator.
func NewOrchestrator(external, intrinsic emotion.Analyzer, detector *contextswitch.Detector,
	calibrator *empathy.Calibrator, knowledge SelfKnowledge, log *slog.Logger, opts ...Option) *Orchestrator {

	o := &Orchestrator{
		external:      external,
		intrinsic:     intrinsic,
		detector:      detector,
		empathy:       calibrator,
		knowledge:     knowledge,
		log:           log,
		taskTimeout:   defaultTaskTimeout,
		globalTimeout: defaultGlobalTimeout,
	}
	for _, op := range opts {
		op(o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o
}

// Analyze runs the four tasks concurrently and fans in. It always returns a
// bundle; slots for failed tasks are nil.
func (o *Orchestrator) Analyze(ctx context.Context, turn Turn) *Bundle {
	ctx, cancel := context.WithTimeout(ctx, o.globalTimeout)
	defer cancel()

	bundle := &Bundle{}
	var mu sync.Mutex
	var wg sync.WaitGroup

	// Each task reports success or failure; the outcome lands in the
	// per-task status counter when metrics are wired.
	run := func(name string, task func(ctx context.Context) bool) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := "error"
			defer func() {
				if r := recover(); r != nil {
					o.log.Warn("intelligence task panicked", "task", name, "panic", r)
					status = "panic"
				}
				if o.metrics != nil {
					o.metrics.RecordIntelligenceTask(ctx, name, status)
				}
			}()
			taskCtx, taskCancel := context.WithTimeout(ctx, o.taskTimeout)
			defer taskCancel()
			if task(taskCtx) {
				status = "ok"
			}
		}()
	}

	if o.external != nil {
		run("external_emotion", func(ctx context.Context) bool {
			a, err := o.external.Analyze(ctx, turn.UserID, turn.Message, turn.RecentUserMessages)
			if err != nil {
				o.log.Warn("external emotion analysis failed", "error", err)
				return false
			}
			mu.Lock()
			bundle.ExternalEmotion = a
			mu.Unlock()
			return true
		})
	}

	if o.intrinsic != nil {
		run("intrinsic_emotion", func(ctx context.Context) bool {
			a, err := o.intrinsic.Analyze(ctx, turn.UserID, turn.Message, turn.RecentUserMessages)
			if err != nil {
				o.log.Warn("intrinsic emotion analysis failed", "error", err)
				return false
			}
			mu.Lock()
			bundle.IntrinsicEmotion = a
			mu.Unlock()
			return true
		})
	}

	if o.detector != nil {
		run("context_switches", func(ctx context.Context) bool {
			label := ""
			if o.intrinsic != nil {
				// A cheap second pass; the detector only needs the label and
				// must not wait on the intrinsic task slot.
				if a, err := o.intrinsic.Analyze(ctx, turn.UserID, turn.Message, nil); err == nil {
					label = a.PrimaryEmotion
				}
			}
			switches := o.detector.Detect(ctx, turn.UserID, turn.Message, label)
			mu.Lock()
			bundle.Switches = switches
			mu.Unlock()
			return true
		})
	}

	if o.empathy != nil {
		run("human_like", func(ctx context.Context) bool {
			detected := "neutral"
			if o.intrinsic != nil {
				if a, err := o.intrinsic.Analyze(ctx, turn.UserID, turn.Message, nil); err == nil {
					detected = a.PrimaryEmotion
				}
			}
			hl := &HumanLike{
				Calibration: o.empathy.Calibrate(turn.UserID, detected, turn.Message,
					turn.RecentEmotionLabels, turn.ConversationMode),
			}
			if o.knowledge != nil {
				hl.Insights = o.knowledge.Insights(ctx, turn.UserID)
			}
			mu.Lock()
			bundle.HumanLike = hl
			mu.Unlock()
			return true
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Outstanding tasks are cancelled via ctx; whatever landed in the
		// bundle before the deadline is kept.
		o.log.Warn("intelligence fan-out hit global deadline", "user", turn.UserID)
		<-done
	}

	return bundle
}

// EmotionLabelsFrom extracts the recent user-turn emotion labels from
// stored history, newest first. Helper for pipeline turn preparation.
func EmotionLabelsFrom(records []memory.Record, limit int) []string {
	var labels []string
	for _, r := range records {
		if r.Role != memory.RoleUser || r.EmotionLabel == "" {
			continue
		}
		labels = append(labels, r.EmotionLabel)
		if len(labels) == limit {
			break
		}
	}
	return labels
}
