// Package prompt implements prompt assembly: composing character persona,
// conversation context, intelligence results, retrieved memories, and the
// current message into a budgeted LLM request.
//
// Composition order is fixed: system blocks first (persona, time,
// relationship, self-awareness, memories, summary), then prior turns, then
// the current user message. Two budget stages apply: block dropping before
// assembly and adaptive conversation truncation after.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/whisperengine/whisperengine/internal/boundary"
	"github.com/whisperengine/whisperengine/internal/character"
	"github.com/whisperengine/whisperengine/internal/intelligence"
	"github.com/whisperengine/whisperengine/internal/safety"
	"github.com/whisperengine/whisperengine/internal/tokens"
	"github.com/whisperengine/whisperengine/pkg/memory"
	"github.com/whisperengine/whisperengine/pkg/provider/llm"
)

// memoryFreshnessFloor excludes memories young enough to still be in the
// prior-turns section.
const memoryFreshnessFloor = 2 * time.Hour

// insightConfidenceFloor gates the self-awareness block.
const insightConfidenceFloor = 0.5

// Request is the assembled LLM request.
type Request struct {
	Messages  []llm.Message
	MaxTokens int
}

// Input carries everything one assembly needs.
type Input struct {
	Character *character.Character
	UserID    string

	Context      boundary.ContextView
	Intelligence *intelligence.Bundle

	Memories    []memory.Record
	Facts       []memory.Fact
	Preferences []memory.Preference

	PriorTurns []llm.Message

	Message     string
	Attachments []string // image descriptors, already textual
}

// Assembler composes requests. Safe for concurrent use.
type Assembler struct {
	counter *tokens.Counter
	scanner safety.Scanner
	now     func() time.Time
}

// NewAssembler constructs an Assembler around the shared token counter.
func NewAssembler(counter *tokens.Counter) *Assembler {
	return &Assembler{counter: counter, now: time.Now}
}

// Assemble builds the ordered message list within the token budget.
func (a *Assembler) Assemble(in Input) Request {
	blocks := a.systemBlocks(in)
	blocks = a.enforceSystemBudget(blocks)

	messages := make([]llm.Message, 0, len(blocks)+len(in.PriorTurns)+1)
	for _, b := range blocks {
		messages = append(messages, llm.Message{Role: "system", Content: b.content})
	}
	messages = append(messages, repairAlternation(in.PriorTurns)...)

	current := in.Message
	for _, desc := range in.Attachments {
		current += "\n[Image: " + desc + "]"
	}
	messages = append(messages, llm.Message{Role: "user", Content: current})

	messages, _ = a.counter.Truncate(messages, tokens.ConversationMaxTokens, 2)

	// No message leaves the assembler carrying internal identifiers, no
	// matter which retrieval path they arrived through.
	for i := range messages {
		messages[i].Content, _ = a.scanner.ScanPrompt(messages[i].Content)
	}
	return Request{Messages: messages}
}

// block is one droppable system section. Priority: lower drops first.
type block struct {
	name     string
	priority int
	content  string
}

// Drop priorities, lowest first.
const (
	prioSummary = iota
	prioSelfAwareness
	prioMemories
	prioRelationship
	prioTime
	prioPersona // never dropped
)

func (a *Assembler) systemBlocks(in Input) []block {
	var blocks []block

	blocks = append(blocks, block{"persona", prioPersona, a.personaBlock(in)})
	blocks = append(blocks, block{"time", prioTime,
		"Current time: " + a.now().UTC().Format("Monday, 2 January 2006, 15:04 UTC")})

	if rel := a.relationshipBlock(in); rel != "" {
		blocks = append(blocks, block{"relationship", prioRelationship, rel})
	}
	if aware := selfAwarenessBlock(in.Intelligence); aware != "" {
		blocks = append(blocks, block{"self_awareness", prioSelfAwareness, aware})
	}
	if mem := a.memoriesBlock(in); mem != "" {
		blocks = append(blocks, block{"memories", prioMemories, mem})
	}
	if in.Context.Summary != "" {
		blocks = append(blocks, block{"summary", prioSummary,
			"=== Conversation Summary ===\n" + in.Context.Summary})
	}
	return blocks
}

// enforceSystemBudget drops lower-priority blocks until the system section
// fits. The persona block survives unconditionally; the oversized-persona
// case is handled downstream by the token accountant.
func (a *Assembler) enforceSystemBudget(blocks []block) []block {
	total := 0
	for _, b := range blocks {
		total += a.counter.Estimate(b.content)
	}

	for prio := prioSummary; prio < prioPersona && total > tokens.SystemPromptMaxTokens; prio++ {
		for i := len(blocks) - 1; i >= 0; i-- {
			if blocks[i].priority != prio {
				continue
			}
			if prio == prioMemories {
				// Memories shrink oldest-first before the block goes
				// entirely.
				shrunk, cost := a.shrinkMemories(blocks[i].content, total-tokens.SystemPromptMaxTokens)
				total -= cost
				if shrunk != "" {
					blocks[i].content = shrunk
					continue
				}
			} else {
				total -= a.counter.Estimate(blocks[i].content)
			}
			blocks = append(blocks[:i], blocks[i+1:]...)
		}
	}
	return blocks
}

// shrinkMemories removes memory lines oldest-first (they are rendered
// oldest-last) until need tokens are recovered, returning the shrunk block
// and the tokens actually freed. An empty result means the block emptied.
func (a *Assembler) shrinkMemories(content string, need int) (string, int) {
	lines := strings.Split(content, "\n")
	freed := 0
	// Header stays at index 0; memory lines are appended newest-first, so
	// trimming from the tail removes oldest entries.
	for len(lines) > 1 && freed < need {
		last := lines[len(lines)-1]
		freed += a.counter.Estimate(last)
		lines = lines[:len(lines)-1]
	}
	if len(lines) <= 1 {
		return "", freed + a.counter.Estimate(lines[0])
	}
	return strings.Join(lines, "\n"), freed
}

// personaBlock substitutes context variables into the persona text.
// Unfilled variables must come out as empty strings.
func (a *Assembler) personaBlock(in Input) string {
	fills := map[string]string{
		"CONVERSATION_MODE":  conversationMode(in.Intelligence),
		"RELATIONSHIP_DEPTH": relationshipDepth(in.Context.MessageCount),
	}
	if in.Intelligence != nil {
		if e := in.Intelligence.PrimaryEmotion(); e != nil {
			fills["EMOTIONAL_STATE_CONTEXT"] = fmt.Sprintf(
				"User mood: %s (intensity %.1f).", e.PrimaryEmotion, e.Intensity)
		}
		if ext := in.Intelligence.ExternalEmotion; ext != nil {
			fills["EXTERNAL_EMOTION_CONTEXT"] = fmt.Sprintf(
				"External analysis: %s (confidence %.1f).", ext.PrimaryEmotion, ext.Confidence)
		}
		if hl := in.Intelligence.HumanLike; hl != nil {
			fills["EMOTIONAL_INTELLIGENCE_CONTEXT"] = fmt.Sprintf(
				"Acknowledge with style: %s.", hl.Calibration.RecommendedStyle)
		}
	}
	if len(in.Memories) > 0 {
		fills["MEMORY_NETWORK_STATUS"] = fmt.Sprintf("%d memories retrieved", len(in.Memories))
		fills["MEMORY_NETWORK_CONTEXT"] = fmt.Sprintf(
			"You remember %d prior exchanges with this user.", len(in.Memories))
	}

	return safety.ScrubVariables(in.Character.SystemPrompt, fills)
}

// relationshipBlock is the compact one-liner plus any context switch
// adaptations.
func (a *Assembler) relationshipBlock(in Input) string {
	var parts []string

	if in.Context.MessageCount > 0 {
		parts = append(parts, fmt.Sprintf("Relationship: %s (%d interactions).",
			relationshipDepth(in.Context.MessageCount), in.Context.MessageCount))
	}
	if in.Intelligence != nil {
		if e := in.Intelligence.PrimaryEmotion(); e != nil && e.PrimaryEmotion != "neutral" {
			parts = append(parts, fmt.Sprintf("User mood: %s (intensity %.1f).",
				e.PrimaryEmotion, e.Intensity))
		}
		for _, sw := range in.Intelligence.Switches {
			parts = append(parts, fmt.Sprintf("Context note: %s (%s).", sw.Description, sw.Adaptation))
		}
		if hl := in.Intelligence.HumanLike; hl != nil {
			parts = append(parts, "Open with style: "+string(hl.Calibration.RecommendedStyle)+".")
		}
	}
	if in.Context.ResumedBridge != "" {
		parts = append(parts, in.Context.ResumedBridge)
	}
	return strings.Join(parts, " ")
}

// selfAwarenessBlock renders confident insights, capped per the assembly
// contract (3 motivations, 5 behavioral patterns).
func selfAwarenessBlock(b *intelligence.Bundle) string {
	if b == nil || b.HumanLike == nil || len(b.HumanLike.Insights) == 0 {
		return ""
	}

	var lines []string
	motivations, behaviors := 0, 0
	for _, in := range b.HumanLike.Insights {
		if in.Confidence < insightConfidenceFloor {
			continue
		}
		switch {
		case in.Kind == "motivation" && motivations < 3:
			motivations++
		case in.Kind == "behavior" && behaviors < 5:
			behaviors++
		case in.Kind == "motivation" || in.Kind == "behavior":
			continue
		}
		lines = append(lines, "- "+in.Text)
	}
	if len(lines) == 0 {
		return ""
	}
	return "=== Self-Awareness ===\nWhat you know about yourself:\n" + strings.Join(lines, "\n")
}

// memoriesBlock renders facts and retrieved memories. Memories younger than
// two hours are filtered; each survivor is rendered in full with a relative
// time label, newest first.
func (a *Assembler) memoriesBlock(in Input) string {
	var sb strings.Builder
	wrote := false

	if len(in.Facts) > 0 || len(in.Preferences) > 0 {
		sb.WriteString("=== Retrieved Memories ===\nKnown facts about this user:")
		for _, f := range in.Facts {
			fmt.Fprintf(&sb, "\n- user %s %s", f.Relationship, f.EntityName)
		}
		for _, p := range in.Preferences {
			fmt.Fprintf(&sb, "\n- prefers %s: %s", p.Key, p.Value)
		}
		wrote = true
	}

	now := a.now()
	var rendered []string
	for _, rec := range in.Memories {
		if now.Sub(rec.Timestamp) < memoryFreshnessFloor {
			continue
		}
		rendered = append(rendered, fmt.Sprintf("- [%s, %s] %s",
			relativeTime(now.Sub(rec.Timestamp)), rec.Role, rec.Content))
	}
	if len(rendered) > 0 {
		if !wrote {
			sb.WriteString("=== Retrieved Memories ===")
		}
		sb.WriteString("\nPrior conversations with this user:")
		for _, line := range rendered {
			sb.WriteString("\n" + line)
		}
		wrote = true
	}

	if !wrote {
		return ""
	}
	return sb.String()
}

// repairAlternation drops the minimum number of adjacent same-role turns
// from the oldest end so roles strictly alternate.
func repairAlternation(turns []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(turns))
	for _, m := range turns {
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			// The newer of the two adjacent turns wins.
			out[n-1] = m
			continue
		}
		out = append(out, m)
	}
	return out
}

// relativeTime renders a duration as a coarse human label.
func relativeTime(d time.Duration) string {
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%d days ago", int(d.Hours()/24))
	}
}

func relationshipDepth(interactions int) string {
	switch {
	case interactions >= 100:
		return "close friend"
	case interactions >= 20:
		return "friend"
	case interactions >= 5:
		return "acquaintance"
	default:
		return "new acquaintance"
	}
}

func conversationMode(b *intelligence.Bundle) string {
	if b == nil {
		return ""
	}
	for _, sw := range b.Switches {
		if sw.Kind == "conversation_mode" {
			return sw.Current
		}
	}
	return ""
}
