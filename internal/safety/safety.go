// Package safety provides the input sanitization filter and the response
// leakage scanner.
//
// The input filter is a heuristic pattern list catching prompt injection
// attempts before they reach the pipeline. The leakage scanner runs on
// every outbound reply and on assembled prompt material, replacing internal
// identifiers with a filtered marker so they can never reach a user.
package safety

import (
	"regexp"
	"strings"
)

// FilteredMarker replaces any leaked internal content.
const FilteredMarker = "[SYSTEM_INFORMATION_FILTERED]"

// unsafePatterns flag inbound content. Matching any pattern rejects the
// message before the pipeline runs.
var unsafePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all )?(previous|prior|above) (instructions|prompts)`),
	regexp.MustCompile(`(?i)disregard (your|the) (system prompt|instructions)`),
	regexp.MustCompile(`(?i)you are now (a|an) `),
	regexp.MustCompile(`(?i)reveal (your|the) (system prompt|instructions|prompt)`),
	regexp.MustCompile(`(?i)repeat (your|the) (system prompt|instructions)`),
	regexp.MustCompile(`(?i)\bjailbreak\b`),
	regexp.MustCompile(`(?i)print (your|the) (initial|system) (prompt|message)`),
}

// CheckInput reports whether content is safe to process. The second return
// value names the matched pattern for logging.
func CheckInput(content string) (bool, string) {
	for _, p := range unsafePatterns {
		if m := p.FindString(content); m != "" {
			return false, m
		}
	}
	return true, ""
}

var (
	// templateVariablePattern matches {ANY_CONTEXT}-style template variables
	// and related status variables.
	templateVariablePattern = regexp.MustCompile(`\{[A-Z][A-Z0-9_]*(_CONTEXT|_STATUS|_DEPTH|_MODE)\}`)

	// sectionMarkerPattern matches prompt section markers. The assembler
	// emits these itself, so the prompt-side scan must not redact them.
	sectionMarkerPattern = regexp.MustCompile(`(?i)={3,}\s*(retrieved memories|self-awareness|conversation summary|system)\s*={3,}`)

	// leakagePatterns match internal material that must never surface:
	// context variable names, backend identifiers, raw user id lines, and
	// prompt section markers.
	leakagePatterns = []*regexp.Regexp{
		templateVariablePattern,
		// Backend identifiers.
		regexp.MustCompile(`(?i)\b(qdrant|pgvector|postgres(ql)?|openrouter|lm studio)\b`),
		regexp.MustCompile(`whisperengine_memory_[a-z0-9_]+`),
		// Raw user id disclosures.
		regexp.MustCompile(`(?i)user[_ ]?id:?\s*[0-9a-f-]{4,}`),
		sectionMarkerPattern,
	}
)

// Scanner detects and redacts internal information in outbound text.
// The zero value is ready to use.
type Scanner struct{}

// Scan redacts leaked internal content from text and reports how many
// replacements were made. Zero means the text was clean.
func (Scanner) Scan(text string) (string, int) {
	total := 0
	for _, p := range leakagePatterns {
		matches := p.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		total += len(matches)
		text = p.ReplaceAllString(text, FilteredMarker)
	}
	return text, total
}

// ScanPrompt redacts leaked internal content from assembled prompt text. It
// applies the same patterns as Scan minus the section markers, which the
// assembler emits itself.
func (Scanner) ScanPrompt(text string) (string, int) {
	total := 0
	for _, p := range leakagePatterns {
		if p == sectionMarkerPattern {
			continue
		}
		matches := p.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		total += len(matches)
		text = p.ReplaceAllString(text, FilteredMarker)
	}
	return text, total
}

// ScrubVariables replaces every known context variable in a persona prompt
// with its substitution, and any remaining unfilled variable with the empty
// string. Used at assembly time, before the leakage scan applies to output.
func ScrubVariables(prompt string, fills map[string]string) string {
	for name, value := range fills {
		prompt = strings.ReplaceAll(prompt, "{"+name+"}", value)
	}
	// Unfilled variables become empty, never literal braces.
	return templateVariablePattern.ReplaceAllString(prompt, "")
}
