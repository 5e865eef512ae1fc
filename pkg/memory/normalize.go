package memory

import "strings"

// collectionPrefix is the shared prefix of every per-character vector
// collection.
const collectionPrefix = "whisperengine_memory_"

// NormalizeCharacterName converts a character name into its canonical storage
// key: lower-cased, `bot_`/`_bot` affixes stripped, spaces replaced with
// underscores, and every remaining non-alphanumeric character (other than the
// underscore separator) removed.
//
// Normalizing an already-normalized name is a no-op.
func NormalizeCharacterName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimPrefix(n, "bot_")
	n = strings.TrimSuffix(n, "_bot")
	n = strings.ReplaceAll(n, " ", "_")

	var b strings.Builder
	b.Grow(len(n))
	for _, r := range n {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CollectionName returns the deterministic vector collection name for a
// character. The input may be canonical or already normalized.
func CollectionName(character string) string {
	return collectionPrefix + NormalizeCharacterName(character)
}
