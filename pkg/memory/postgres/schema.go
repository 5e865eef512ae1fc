package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Schema
// ─────────────────────────────────────────────────────────────────────────────

const factsSchema = `
CREATE TABLE IF NOT EXISTS facts (
    id                  BIGSERIAL PRIMARY KEY,
    user_id             TEXT             NOT NULL,
    entity_name         TEXT             NOT NULL,
    entity_type         TEXT             NOT NULL DEFAULT '',
    relationship        TEXT             NOT NULL,
    confidence          DOUBLE PRECISION NOT NULL DEFAULT 0,
    emotional_context   TEXT             NOT NULL DEFAULT '',
    character_name      TEXT             NOT NULL DEFAULT '',
    source_conversation TEXT             NOT NULL DEFAULT '',
    updated_at          TIMESTAMPTZ      NOT NULL DEFAULT now(),
    UNIQUE (user_id, entity_name, relationship)
);
CREATE INDEX IF NOT EXISTS idx_facts_user ON facts (user_id, confidence DESC, updated_at DESC);
`

const preferencesSchema = `
CREATE TABLE IF NOT EXISTS preferences (
    id         BIGSERIAL PRIMARY KEY,
    user_id    TEXT             NOT NULL,
    key        TEXT             NOT NULL,
    value      TEXT             NOT NULL DEFAULT '',
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ      NOT NULL DEFAULT now(),
    UNIQUE (user_id, key)
);
CREATE INDEX IF NOT EXISTS idx_preferences_user ON preferences (user_id, confidence DESC);
`

const characterTraitsSchema = `
CREATE TABLE IF NOT EXISTS character_traits (
    id             BIGSERIAL PRIMARY KEY,
    character_name TEXT             NOT NULL,
    kind           TEXT             NOT NULL,
    name           TEXT             NOT NULL,
    description    TEXT             NOT NULL DEFAULT '',
    importance     DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    UNIQUE (character_name, kind, name)
);
CREATE INDEX IF NOT EXISTS idx_character_traits_name ON character_traits (character_name);
`

const traitRelationshipsSchema = `
CREATE TABLE IF NOT EXISTS character_trait_relationships (
    id                BIGSERIAL PRIMARY KEY,
    character_name    TEXT             NOT NULL,
    source_trait      TEXT             NOT NULL,
    target_trait      TEXT             NOT NULL,
    relationship_type TEXT             NOT NULL,
    strength          DOUBLE PRECISION NOT NULL DEFAULT 0,
    context           TEXT             NOT NULL DEFAULT '',
    UNIQUE (character_name, source_trait, target_trait, relationship_type)
);
CREATE INDEX IF NOT EXISTS idx_trait_rel_character ON character_trait_relationships (character_name, strength DESC);
`

const charactersSchema = `
CREATE TABLE IF NOT EXISTS characters (
    id              BIGSERIAL PRIMARY KEY,
    name            TEXT        NOT NULL,
    normalized_name TEXT        NOT NULL UNIQUE,
    display_name    TEXT        NOT NULL DEFAULT '',
    system_prompt   TEXT        NOT NULL DEFAULT '',
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate creates all knowledge store tables and indexes if they do not
// exist yet. It is idempotent and safe to run on every service start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, schema := range []string{
		factsSchema,
		preferencesSchema,
		characterTraitsSchema,
		traitRelationshipsSchema,
		charactersSchema,
	} {
		if _, err := pool.Exec(ctx, schema); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
