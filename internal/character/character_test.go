package character

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/whisperengine/whisperengine/pkg/memory"
)

// stubStore records persona reads and writes. All other knowledge store
// methods are unused by Load and return zero values.
type stubStore struct {
	stored *memory.CharacterDefinition
	saved  []memory.CharacterDefinition
}

func (s *stubStore) LoadCharacter(context.Context, string) (*memory.CharacterDefinition, error) {
	return s.stored, nil
}

func (s *stubStore) SaveCharacter(_ context.Context, def memory.CharacterDefinition) error {
	s.saved = append(s.saved, def)
	return nil
}

func (*stubStore) UpsertFact(context.Context, memory.Fact) error             { return nil }
func (*stubStore) UpsertPreference(context.Context, memory.Preference) error { return nil }
func (*stubStore) UserFacts(context.Context, string, int) ([]memory.Fact, error) {
	return nil, nil
}
func (*stubStore) UserPreferences(context.Context, string, int) ([]memory.Preference, error) {
	return nil, nil
}
func (*stubStore) CharacterTraits(context.Context, string) ([]memory.CharacterTrait, error) {
	return nil, nil
}
func (*stubStore) ReplaceTraitRelationships(context.Context, string, []memory.TraitRelationship) error {
	return nil
}
func (*stubStore) TraitRelationships(context.Context, string, string) ([]memory.TraitRelationship, error) {
	return nil, nil
}

var _ memory.KnowledgeStore = (*stubStore)(nil)

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestLoad_RequiresName(t *testing.T) {
	if _, err := Load(context.Background(), "  ", "", nil, discard()); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestLoad_PromptFileWinsAndPersists(t *testing.T) {
	file := filepath.Join(t.TempDir(), "persona.md")
	if err := os.WriteFile(file, []byte("You are Elena, a marine biologist.\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	store := &stubStore{stored: &memory.CharacterDefinition{SystemPrompt: "stored persona"}}

	c, err := Load(context.Background(), "Elena Rodriguez", file, store, discard())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.SystemPrompt != "You are Elena, a marine biologist." {
		t.Errorf("SystemPrompt = %q", c.SystemPrompt)
	}
	if c.NormalizedName != "elena_rodriguez" {
		t.Errorf("NormalizedName = %q", c.NormalizedName)
	}
	if len(store.saved) != 1 || store.saved[0].SystemPrompt != c.SystemPrompt {
		t.Errorf("file persona not persisted: %+v", store.saved)
	}
}

func TestLoad_MissingPromptFile(t *testing.T) {
	_, err := Load(context.Background(), "Elena", filepath.Join(t.TempDir(), "missing.md"), nil, discard())
	if err == nil || !strings.Contains(err.Error(), "read prompt file") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestLoad_StoredPersona(t *testing.T) {
	store := &stubStore{stored: &memory.CharacterDefinition{
		SystemPrompt: "stored persona",
		DisplayName:  "Elena R.",
	}}

	c, err := Load(context.Background(), "Elena", "", store, discard())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.SystemPrompt != "stored persona" {
		t.Errorf("SystemPrompt = %q", c.SystemPrompt)
	}
	if c.DisplayName != "Elena R." {
		t.Errorf("DisplayName = %q", c.DisplayName)
	}
	if len(store.saved) != 0 {
		t.Errorf("stored persona must not be re-saved, got %d saves", len(store.saved))
	}
}

func TestLoad_DefaultPersonaPersisted(t *testing.T) {
	store := &stubStore{}

	c, err := Load(context.Background(), "Marcus", "", store, discard())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !strings.Contains(c.SystemPrompt, "You are Marcus") {
		t.Errorf("default persona missing character name: %q", c.SystemPrompt)
	}
	if len(store.saved) != 1 {
		t.Fatalf("expected default persona to be persisted, got %d saves", len(store.saved))
	}
}

func TestCollection(t *testing.T) {
	c := &Character{Name: "Elena Rodriguez"}
	if got, want := c.Collection(), memory.CollectionName("Elena Rodriguez"); got != want {
		t.Errorf("Collection() = %q, want %q", got, want)
	}
}
