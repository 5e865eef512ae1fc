package memory

import "testing"

func TestNormalizeCharacterName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "Elena", "elena"},
		{"strips bot prefix", "bot_Elena", "elena"},
		{"strips bot suffix", "elena_bot", "elena"},
		{"spaces to underscores", "Marcus Chen", "marcus_chen"},
		{"strips punctuation", "Dr. Elena!", "dr_elena"},
		{"keeps digits", "aria2", "aria2"},
		{"trims whitespace", "  elena  ", "elena"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeCharacterName(tt.in); got != tt.want {
				t.Errorf("NormalizeCharacterName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeCharacterNameIdempotent(t *testing.T) {
	for _, in := range []string{"Elena Rodriguez", "bot_Marcus", "The-Dream_bot"} {
		once := NormalizeCharacterName(in)
		if twice := NormalizeCharacterName(once); twice != once {
			t.Errorf("normalization not idempotent: %q -> %q -> %q", in, once, twice)
		}
	}
}

func TestCollectionName(t *testing.T) {
	if got, want := CollectionName("Elena Rodriguez"), "whisperengine_memory_elena_rodriguez"; got != want {
		t.Errorf("CollectionName = %q, want %q", got, want)
	}
	// Already-normalized input yields the same collection.
	if CollectionName("elena_rodriguez") != CollectionName("Elena Rodriguez") {
		t.Error("CollectionName differs between canonical and normalized input")
	}
}

func TestValence(t *testing.T) {
	if Valence("very_positive") != 1.0 {
		t.Error("very_positive should map to 1.0")
	}
	if Valence("unknown_label") != 0 {
		t.Error("unknown labels should map to neutral")
	}
	if Valence("anxious") != -0.5 {
		t.Error("anxious should map to -0.5")
	}
}
