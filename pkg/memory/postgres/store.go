// Package postgres provides the PostgreSQL-backed [memory.KnowledgeStore]:
// extracted user facts, preferences, static character traits, and the
// derived character trait graph.
//
// All tables share a single [pgxpool.Pool]. [Migrate] installs the schema
// via CREATE TABLE IF NOT EXISTS; migrations beyond that are out of scope.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//
//	_ = store.UpsertFact(ctx, fact)
//	facts, _ := store.UserFacts(ctx, userID, 20)
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whisperengine/whisperengine/pkg/memory"
)

// Compile-time interface check.
var _ memory.KnowledgeStore = (*Store)(nil)

// Store is the central PostgreSQL-backed knowledge store.
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, verifies connectivity, and runs [Migrate] so that all
// required tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("knowledge store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("knowledge store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("knowledge store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping verifies database connectivity. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// UpsertFact implements [memory.KnowledgeStore]. On conflict on
// (user_id, entity_name, relationship) the stored confidence becomes the
// maximum of old and new, and a non-empty new emotional context overwrites
// the old one.
func (s *Store) UpsertFact(ctx context.Context, f memory.Fact) error {
	const q = `
		INSERT INTO facts (user_id, entity_name, entity_type, relationship,
		                   confidence, emotional_context, character_name,
		                   source_conversation, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (user_id, entity_name, relationship) DO UPDATE SET
		    confidence          = GREATEST(facts.confidence, EXCLUDED.confidence),
		    emotional_context   = CASE WHEN EXCLUDED.emotional_context <> ''
		                               THEN EXCLUDED.emotional_context
		                               ELSE facts.emotional_context END,
		    entity_type         = EXCLUDED.entity_type,
		    source_conversation = CASE WHEN EXCLUDED.source_conversation <> ''
		                               THEN EXCLUDED.source_conversation
		                               ELSE facts.source_conversation END,
		    updated_at          = now()`

	_, err := s.pool.Exec(ctx, q,
		f.UserID,
		f.EntityName,
		f.EntityType,
		f.Relationship,
		clamp01(f.Confidence),
		f.EmotionalContext,
		memory.NormalizeCharacterName(f.Character),
		f.SourceConversation,
	)
	if err != nil {
		return fmt.Errorf("knowledge store: upsert fact: %w", err)
	}
	return nil
}

// UpsertPreference implements [memory.KnowledgeStore]. On conflict on
// (user_id, key) the value and confidence are overwritten and the timestamp
// is bumped.
func (s *Store) UpsertPreference(ctx context.Context, p memory.Preference) error {
	const q = `
		INSERT INTO preferences (user_id, key, value, confidence, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id, key) DO UPDATE SET
		    value      = EXCLUDED.value,
		    confidence = EXCLUDED.confidence,
		    updated_at = now()`

	_, err := s.pool.Exec(ctx, q, p.UserID, p.Key, p.Value, clamp01(p.Confidence))
	if err != nil {
		return fmt.Errorf("knowledge store: upsert preference: %w", err)
	}
	return nil
}

// UserFacts implements [memory.KnowledgeStore]: confidence descending, then
// recency.
func (s *Store) UserFacts(ctx context.Context, userID string, limit int) ([]memory.Fact, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
		SELECT user_id, entity_name, entity_type, relationship, confidence,
		       emotional_context, character_name, source_conversation, updated_at
		FROM   facts
		WHERE  user_id = $1
		ORDER  BY confidence DESC, updated_at DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("knowledge store: user facts: %w", err)
	}
	defer rows.Close()

	facts := []memory.Fact{}
	for rows.Next() {
		var f memory.Fact
		if err := rows.Scan(&f.UserID, &f.EntityName, &f.EntityType, &f.Relationship,
			&f.Confidence, &f.EmotionalContext, &f.Character, &f.SourceConversation,
			&f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("knowledge store: scan fact: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// UserPreferences implements [memory.KnowledgeStore]: confidence descending,
// then recency.
func (s *Store) UserPreferences(ctx context.Context, userID string, limit int) ([]memory.Preference, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
		SELECT user_id, key, value, confidence, updated_at
		FROM   preferences
		WHERE  user_id = $1
		ORDER  BY confidence DESC, updated_at DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("knowledge store: user preferences: %w", err)
	}
	defer rows.Close()

	prefs := []memory.Preference{}
	for rows.Next() {
		var p memory.Preference
		if err := rows.Scan(&p.UserID, &p.Key, &p.Value, &p.Confidence, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("knowledge store: scan preference: %w", err)
		}
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// CharacterTraits implements [memory.KnowledgeStore].
func (s *Store) CharacterTraits(ctx context.Context, character string) ([]memory.CharacterTrait, error) {
	const q = `
		SELECT character_name, kind, name, description, importance
		FROM   character_traits
		WHERE  character_name = $1
		ORDER  BY importance DESC, name`

	rows, err := s.pool.Query(ctx, q, memory.NormalizeCharacterName(character))
	if err != nil {
		return nil, fmt.Errorf("knowledge store: character traits: %w", err)
	}
	defer rows.Close()

	traits := []memory.CharacterTrait{}
	for rows.Next() {
		var t memory.CharacterTrait
		if err := rows.Scan(&t.Character, &t.Kind, &t.Name, &t.Description, &t.Importance); err != nil {
			return nil, fmt.Errorf("knowledge store: scan trait: %w", err)
		}
		traits = append(traits, t)
	}
	return traits, rows.Err()
}

// ReplaceTraitRelationships implements [memory.KnowledgeStore]: the derived
// graph for the character is deleted and rewritten in one transaction, so a
// reader never observes a half-built graph.
func (s *Store) ReplaceTraitRelationships(ctx context.Context, character string, rels []memory.TraitRelationship) error {
	character = memory.NormalizeCharacterName(character)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("knowledge store: begin graph rebuild: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM character_trait_relationships WHERE character_name = $1`,
		character); err != nil {
		return fmt.Errorf("knowledge store: clear trait graph: %w", err)
	}

	const q = `
		INSERT INTO character_trait_relationships
		    (character_name, source_trait, target_trait, relationship_type, strength, context)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (character_name, source_trait, target_trait, relationship_type)
		DO UPDATE SET strength = EXCLUDED.strength, context = EXCLUDED.context`

	for _, r := range rels {
		if _, err := tx.Exec(ctx, q,
			character, r.SourceTrait, r.TargetTrait, r.RelationshipType,
			clamp01(r.Strength), r.Context); err != nil {
			return fmt.Errorf("knowledge store: insert trait relationship: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("knowledge store: commit graph rebuild: %w", err)
	}
	return nil
}

// TraitRelationships implements [memory.KnowledgeStore]. traitPrefix, when
// non-empty, restricts results to source traits with that prefix.
func (s *Store) TraitRelationships(ctx context.Context, character, traitPrefix string) ([]memory.TraitRelationship, error) {
	const q = `
		SELECT character_name, source_trait, target_trait, relationship_type, strength, context
		FROM   character_trait_relationships
		WHERE  character_name = $1
		  AND  ($2 = '' OR source_trait LIKE $2 || '%')
		ORDER  BY strength DESC, source_trait`

	rows, err := s.pool.Query(ctx, q, memory.NormalizeCharacterName(character), traitPrefix)
	if err != nil {
		return nil, fmt.Errorf("knowledge store: trait relationships: %w", err)
	}
	defer rows.Close()

	rels := []memory.TraitRelationship{}
	for rows.Next() {
		var r memory.TraitRelationship
		if err := rows.Scan(&r.Character, &r.SourceTrait, &r.TargetTrait,
			&r.RelationshipType, &r.Strength, &r.Context); err != nil {
			return nil, fmt.Errorf("knowledge store: scan trait relationship: %w", err)
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// LoadCharacter implements [memory.KnowledgeStore]. Returns (nil, nil) when
// the character is not persisted.
func (s *Store) LoadCharacter(ctx context.Context, name string) (*memory.CharacterDefinition, error) {
	const q = `
		SELECT name, normalized_name, display_name, system_prompt
		FROM   characters
		WHERE  normalized_name = $1`

	var def memory.CharacterDefinition
	err := s.pool.QueryRow(ctx, q, memory.NormalizeCharacterName(name)).
		Scan(&def.Name, &def.NormalizedName, &def.DisplayName, &def.SystemPrompt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("knowledge store: load character: %w", err)
	}
	return &def, nil
}

// SaveCharacter implements [memory.KnowledgeStore].
func (s *Store) SaveCharacter(ctx context.Context, def memory.CharacterDefinition) error {
	const q = `
		INSERT INTO characters (name, normalized_name, display_name, system_prompt, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (normalized_name) DO UPDATE SET
		    name          = EXCLUDED.name,
		    display_name  = EXCLUDED.display_name,
		    system_prompt = EXCLUDED.system_prompt,
		    updated_at    = now()`

	_, err := s.pool.Exec(ctx, q,
		def.Name,
		memory.NormalizeCharacterName(def.Name),
		def.DisplayName,
		def.SystemPrompt,
	)
	if err != nil {
		return fmt.Errorf("knowledge store: save character: %w", err)
	}
	return nil
}

// clamp01 bounds confidence and strength values to [0, 1] before binding.
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
