package emotion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/whisperengine/whisperengine/pkg/provider/llm"
)

// Compile-time interface check.
var _ Analyzer = (*Client)(nil)

// analysisPrompt instructs the emotion model to answer with bare JSON.
const analysisPrompt = `You are an emotion analysis service. ` +
	`Analyze the emotional content of the user message and respond with a single JSON object, ` +
	`no prose, of the form {"primary_emotion": "<label>", "confidence": <0..1>, "intensity": <0..1>}. ` +
	`Use lowercase snake_case labels such as "joy", "sadness", "frustration", "anxiety", "excitement", "neutral".`

// Client analyzes emotion via a dedicated OpenAI-compatible chat endpoint.
// Deployments point it at a small, cheap model distinct from the main chat
// model.
type Client struct {
	provider llm.Provider
}

// NewClient wraps an LLM provider as an emotion Analyzer.
func NewClient(provider llm.Provider) *Client {
	return &Client{provider: provider}
}

// Analyze implements Analyzer. Recent history is folded into the request so
// the model can distinguish a momentary spike from a sustained mood.
func (c *Client) Analyze(ctx context.Context, userID, text string, history []string) (*Analysis, error) {
	var sb strings.Builder
	if len(history) > 0 {
		sb.WriteString("Recent messages from the same user:\n")
		for _, h := range history {
			sb.WriteString("- ")
			sb.WriteString(h)
			sb.WriteString("\n")
		}
		sb.WriteString("\nCurrent message:\n")
	}
	sb.WriteString(text)

	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: analysisPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: sb.String()},
		},
		Temperature: 0.1,
		MaxTokens:   128,
	})
	if err != nil {
		return nil, fmt.Errorf("emotion: analyze: %w", err)
	}

	analysis, err := parseAnalysis(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("emotion: parse response: %w", err)
	}
	return analysis, nil
}

// parseAnalysis extracts the JSON object from a model reply. Models wrap
// JSON in code fences or prose often enough that a bare Unmarshal of the
// whole reply is not reliable.
func parseAnalysis(reply string) (*Analysis, error) {
	start := strings.IndexByte(reply, '{')
	end := strings.LastIndexByte(reply, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in reply")
	}

	var a Analysis
	if err := json.Unmarshal([]byte(reply[start:end+1]), &a); err != nil {
		return nil, err
	}
	if a.PrimaryEmotion == "" {
		return nil, fmt.Errorf("missing primary_emotion")
	}

	a.PrimaryEmotion = strings.ToLower(strings.TrimSpace(a.PrimaryEmotion))
	a.Confidence = clamp01(a.Confidence)
	a.Intensity = clamp01(a.Intensity)
	return &a, nil
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
