// Package character loads and represents the persona served by this
// process. One process serves exactly one character; its identity comes
// from the environment at start and its persona text from a prompt file or
// the knowledge store, in that order.
package character

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/whisperengine/whisperengine/pkg/memory"
)

// Character is the persona identity of this service instance.
type Character struct {
	// Name is the canonical name as configured.
	Name string

	// NormalizedName is the storage key used for collections and trait
	// lookups.
	NormalizedName string

	// DisplayName is what users see.
	DisplayName string

	// SystemPrompt is the canonical persona text. It may contain context
	// variables substituted at prompt assembly time.
	SystemPrompt string
}

// Collection returns the character's vector collection name.
func (c *Character) Collection() string {
	return memory.CollectionName(c.Name)
}

// defaultPrompt is used when neither a prompt file nor a stored definition
// exists, so a fresh deployment still answers in character.
const defaultPrompt = "You are %s, a helpful conversational companion. " +
	"Stay in character, be warm and specific, and use what you remember " +
	"about the user when it helps the conversation."

// Load resolves the character persona. promptFile, when non-empty, wins
// over the stored definition; a missing store entry falls back to a default
// persona which is then persisted for the next start.
func Load(ctx context.Context, name string, promptFile string, store memory.KnowledgeStore, log *slog.Logger) (*Character, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("character: name must not be empty")
	}

	c := &Character{
		Name:           name,
		NormalizedName: memory.NormalizeCharacterName(name),
		DisplayName:    name,
	}

	if promptFile != "" {
		data, err := os.ReadFile(promptFile)
		if err != nil {
			return nil, fmt.Errorf("character: read prompt file: %w", err)
		}
		c.SystemPrompt = strings.TrimSpace(string(data))
		log.Info("persona loaded from file", "character", c.NormalizedName, "file", promptFile)

		if store != nil {
			if err := store.SaveCharacter(ctx, memory.CharacterDefinition{
				Name:           c.Name,
				NormalizedName: c.NormalizedName,
				DisplayName:    c.DisplayName,
				SystemPrompt:   c.SystemPrompt,
			}); err != nil {
				log.Warn("persona not persisted", "error", err)
			}
		}
		return c, nil
	}

	if store != nil {
		def, err := store.LoadCharacter(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("character: load stored persona: %w", err)
		}
		if def != nil {
			c.SystemPrompt = def.SystemPrompt
			if def.DisplayName != "" {
				c.DisplayName = def.DisplayName
			}
			log.Info("persona loaded from store", "character", c.NormalizedName)
			return c, nil
		}
	}

	c.SystemPrompt = fmt.Sprintf(defaultPrompt, c.DisplayName)
	log.Warn("no persona found, using default prompt", "character", c.NormalizedName)
	if store != nil {
		if err := store.SaveCharacter(ctx, memory.CharacterDefinition{
			Name:           c.Name,
			NormalizedName: c.NormalizedName,
			DisplayName:    c.DisplayName,
			SystemPrompt:   c.SystemPrompt,
		}); err != nil {
			log.Warn("default persona not persisted", "error", err)
		}
	}
	return c, nil
}
