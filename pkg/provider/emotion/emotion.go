// Package emotion provides emotion analysis backends for the intelligence
// fan-out.
//
// Two implementations exist: [Client] calls the optional external emotion
// analysis API over an OpenAI-compatible chat endpoint, and [Lexicon] is
// the local keyword analyzer that never fails. Every analysis is advisory;
// callers must treat an error as "no emotion signal this turn".
package emotion

import "context"

// Analysis is the outcome of one emotion analysis pass.
type Analysis struct {
	// PrimaryEmotion is the dominant detected emotion label, e.g.
	// "frustration", "joy", "anxiety", "neutral".
	PrimaryEmotion string `json:"primary_emotion"`

	// Confidence is how sure the backend is of the label, in [0, 1].
	Confidence float64 `json:"confidence"`

	// Intensity is how strongly the emotion is expressed, in [0, 1].
	Intensity float64 `json:"intensity"`

	// TierUsed optionally names the analysis tier the backend applied.
	TierUsed string `json:"tier_used,omitempty"`

	// AnalysisTimeMs optionally reports backend-side latency.
	AnalysisTimeMs int `json:"analysis_time_ms,omitempty"`

	// APICallsMade optionally reports how many upstream calls the backend
	// issued for this analysis.
	APICallsMade int `json:"api_calls_made,omitempty"`
}

// Analyzer is the abstraction over any emotion analysis backend.
// Implementations must be safe for concurrent use.
type Analyzer interface {
	// Analyze evaluates the emotional content of text. history carries up
	// to a handful of recent user turns for context and may be empty.
	Analyze(ctx context.Context, userID, text string, history []string) (*Analysis, error)
}
