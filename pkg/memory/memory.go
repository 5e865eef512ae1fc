// Package memory defines the persistent memory model shared by every
// WhisperEngine character service.
//
// Two stores cooperate:
//
//   - [VectorStore]: an append-only vector collection of prior conversation
//     turns, one collection per character, with three named vectors per
//     record (content, emotion, semantic).
//   - [KnowledgeStore]: a relational store of extracted facts, user
//     preferences, static character traits, and the derived character
//     trait graph.
//
// All interfaces are public so that external packages can supply alternative
// backends (Qdrant, Postgres, in-memory, …) without depending on service
// internals. Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"
)

// Role identifies the author of a stored conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Named vectors stored per record. Every collection carries all three.
const (
	VectorContent  = "content"
	VectorEmotion  = "emotion"
	VectorSemantic = "semantic"
)

// Record is one stored conversation turn. Records are immutable once
// written; corrections are new records.
type Record struct {
	// ID is the unique identifier for this record (a UUID).
	ID string

	// UserID is the platform-agnostic user the turn belongs to.
	UserID string

	// Role is who authored the turn.
	Role Role

	// Content is the raw text of the turn.
	Content string

	// SessionID links the turn to the conversation session it occurred in.
	SessionID string

	// ChannelID is the platform channel the turn arrived on.
	ChannelID string

	// Timestamp is when the turn was recorded.
	Timestamp time.Time

	// EmotionLabel is the coarse emotional context of the turn
	// (e.g. "positive", "anxious", "neutral"). May be empty.
	EmotionLabel string

	// Importance scores how much this turn matters for future retrieval,
	// in [0, 1].
	Importance float64

	// Topics lists the topic keywords active when the turn was recorded.
	Topics []string

	// Metadata is an arbitrary payload bag persisted alongside the record.
	Metadata map[string]any
}

// Strategy describes how a retrieval query should be executed against the
// named vectors of a collection. It is produced by the query classifier.
type Strategy struct {
	// Vectors names the vectors to search, in weight order. Empty means
	// no vector search at all (chronological scroll instead).
	Vectors []string

	// Weights are the fusion weights, parallel to Vectors.
	Weights []float64

	// Fuse requests reciprocal-rank fusion across all named vectors.
	// When false only Vectors[0] is searched.
	Fuse bool
}

// Temporal reports whether the strategy bypasses vector search entirely in
// favour of a chronological scroll.
func (s Strategy) Temporal() bool { return len(s.Vectors) == 0 }

// SearchQuery is one retrieval request against a character's collection.
type SearchQuery struct {
	// Text is the raw query text to embed.
	Text string

	// UserID scopes results to a single user. Required; every search is
	// filtered server-side.
	UserID string

	// Strategy selects the vectors and fusion behaviour.
	Strategy Strategy

	// Limit caps the number of results. A value of 0 applies the
	// implementation default.
	Limit int
}

// Contradiction pairs a prior record with its similarity to new content,
// flagged because the similarity fell below a caller-supplied threshold.
type Contradiction struct {
	// Record is the prior turn judged to conflict.
	Record Record

	// Similarity is the cosine similarity between the new content and the
	// prior record's content vector.
	Similarity float64
}

// VectorStore is the per-character conversation memory. One collection per
// character; cross-character retrieval is forbidden by construction.
//
// Implementations must be safe for concurrent use. Callers must not assume
// read-your-write within a single turn: a just-stored record is not
// guaranteed to appear in the same turn's retrieval.
type VectorStore interface {
	// Store embeds and appends a record. The character collection is
	// created lazily on first write with the fixed three-vector schema.
	Store(ctx context.Context, rec Record) error

	// Search retrieves the records most relevant to q, ranked highest
	// score first, ties broken by newer timestamp. Results never include
	// another user's records.
	Search(ctx context.Context, q SearchQuery) ([]Record, error)

	// ScrollRecent returns up to limit records for the user ordered by
	// timestamp descending, with no vector scoring. Used for temporal
	// queries.
	ScrollRecent(ctx context.Context, userID string, limit int) ([]Record, error)

	// History returns the latest limit records for the user ordered by
	// timestamp descending.
	History(ctx context.Context, userID string, limit int) ([]Record, error)
}

// ContradictionDetector is an optional capability a VectorStore may
// implement. Callers check for it once with a type assertion and fall back
// to a deterministic keyword heuristic when absent.
type ContradictionDetector interface {
	// DetectContradictions returns prior records whose content similarity
	// to newContent falls below threshold while sharing user scope.
	DetectContradictions(ctx context.Context, newContent, userID string, threshold float64) ([]Contradiction, error)
}

// Fact is a single extracted statement about a user. The tuple
// (UserID, EntityName, Relationship) is unique; later observations raise
// confidence or overwrite the emotional context.
type Fact struct {
	UserID       string
	EntityName   string
	EntityType   string
	Relationship string

	// Confidence is in [0, 1].
	Confidence float64

	// EmotionalContext optionally records the mood the fact was stated in.
	EmotionalContext string

	// Character optionally attributes the fact to the character that
	// learned it (normalized name).
	Character string

	// SourceConversation optionally links the fact to a session id.
	SourceConversation string

	UpdatedAt time.Time
}

// Preference is a keyed user setting with upsert semantics on (UserID, Key).
type Preference struct {
	UserID     string
	Key        string
	Value      string
	Confidence float64
	UpdatedAt  time.Time
}

// CharacterTrait is one row of a character's static personality definition:
// values, communication style, interests, abilities, behavioral triggers.
type CharacterTrait struct {
	// Character is the normalized character name.
	Character string

	// Kind classifies the trait: "value", "communication_style",
	// "interest", "ability", "behavioral_trigger", "personality".
	Kind string

	// Name is the trait's short identifier (e.g. "honesty", "formality").
	Name string

	// Description is the free-text trait content.
	Description string

	// Importance weights the trait in [0, 1].
	Importance float64
}

// Trait relationship types for the derived character graph.
const (
	RelInfluences  = "influences"
	RelLeadsTo     = "leads_to"
	RelContradicts = "contradicts"
	RelSupports    = "supports"
	RelExpressesAs = "expresses_as"
	RelMotivates   = "motivates"
)

// TraitRelationship is a derived edge of the character trait graph, keyed by
// (Character, SourceTrait, TargetTrait, RelationshipType).
type TraitRelationship struct {
	Character        string
	SourceTrait      string
	TargetTrait      string
	RelationshipType string

	// Strength is in [0, 1].
	Strength float64

	// Context optionally explains the derivation.
	Context string
}

// CharacterDefinition is the persisted persona of a character as loaded at
// service start.
type CharacterDefinition struct {
	// Name is the canonical character name as authored.
	Name string

	// NormalizedName is the storage key (see [NormalizeCharacterName]).
	NormalizedName string

	// DisplayName is the user-facing name.
	DisplayName string

	// SystemPrompt is the canonical persona text, possibly containing
	// context variables substituted at assembly time.
	SystemPrompt string
}

// KnowledgeStore is the relational store behind facts, preferences, and the
// character trait graph. All character parameters must be normalized with
// [NormalizeCharacterName] before binding; implementations normalize
// defensively as well.
type KnowledgeStore interface {
	// UpsertFact inserts f or, on conflict on (user, entity, relationship),
	// keeps the maximum confidence and the most recent emotional context.
	UpsertFact(ctx context.Context, f Fact) error

	// UpsertPreference inserts p or, on conflict on (user, key),
	// overwrites value and confidence and bumps the timestamp.
	UpsertPreference(ctx context.Context, p Preference) error

	// UserFacts returns up to limit facts ordered by confidence descending,
	// then recency.
	UserFacts(ctx context.Context, userID string, limit int) ([]Fact, error)

	// UserPreferences returns up to limit preferences ordered by confidence
	// descending, then recency.
	UserPreferences(ctx context.Context, userID string, limit int) ([]Preference, error)

	// CharacterTraits returns the static trait rows for a character.
	CharacterTraits(ctx context.Context, character string) ([]CharacterTrait, error)

	// ReplaceTraitRelationships atomically replaces the derived trait graph
	// for a character in one transaction.
	ReplaceTraitRelationships(ctx context.Context, character string, rels []TraitRelationship) error

	// TraitRelationships returns the derived graph for a character,
	// optionally filtered to source traits with the given prefix.
	TraitRelationships(ctx context.Context, character, traitPrefix string) ([]TraitRelationship, error)

	// LoadCharacter returns the persisted persona for a (normalized or
	// canonical) character name, or (nil, nil) when absent.
	LoadCharacter(ctx context.Context, name string) (*CharacterDefinition, error)

	// SaveCharacter upserts a persona definition keyed by normalized name.
	SaveCharacter(ctx context.Context, def CharacterDefinition) error
}

// valence maps emotional context labels onto a fixed ordinal scale used for
// emotional-shift detection and volatility estimates.
var valence = map[string]float64{
	"very_positive": 1.0,
	"positive":      0.7,
	"neutral":       0.0,
	"negative":      -0.7,
	"very_negative": -1.0,
	"anxious":       -0.5,
	"contemplative": 0.2,
}

// Valence returns the ordinal value of an emotional context label.
// Unknown labels (including empty) map to neutral.
func Valence(label string) float64 {
	return valence[label]
}
