package qdrant

import (
	"testing"
	"time"

	"github.com/whisperengine/whisperengine/pkg/memory"
)

func rec(id string, ts time.Time) memory.Record {
	return memory.Record{ID: id, UserID: "u1", Content: "c-" + id, Timestamp: ts}
}

func TestFuseRRFDeduplicatesAndRanks(t *testing.T) {
	now := time.Now()
	a := rec("a", now)
	b := rec("b", now.Add(-time.Minute))
	c := rec("c", now.Add(-2*time.Minute))

	// "a" is rank 1 in both lists; "b" only in the first; "c" only in the
	// second. Equal weights: a must dominate.
	lists := [][]ranked{
		{{rec: a, score: 0.9}, {rec: b, score: 0.5}},
		{{rec: a, score: 0.8}, {rec: c, score: 0.4}},
	}
	got := fuseRRF(lists, []float64{0.5, 0.5}, 10)

	if len(got) != 3 {
		t.Fatalf("expected 3 fused records, got %d", len(got))
	}
	if got[0].ID != "a" {
		t.Errorf("expected record a first, got %s", got[0].ID)
	}
	for i, r := range got {
		for j := i + 1; j < len(got); j++ {
			if r.ID == got[j].ID {
				t.Errorf("duplicate id %s in fused output", r.ID)
			}
		}
	}
}

func TestFuseRRFWeightsBias(t *testing.T) {
	now := time.Now()
	// b and c each appear at rank 1 in exactly one list; the higher-weight
	// list must win.
	lists := [][]ranked{
		{{rec: rec("b", now), score: 0.9}},
		{{rec: rec("c", now), score: 0.9}},
	}
	got := fuseRRF(lists, []float64{0.4, 0.6}, 10)
	if got[0].ID != "c" {
		t.Errorf("expected higher-weight list to rank first, got %s", got[0].ID)
	}
}

func TestFuseRRFTruncatesToLimit(t *testing.T) {
	now := time.Now()
	lists := [][]ranked{{
		{rec: rec("a", now), score: 0.9},
		{rec: rec("b", now), score: 0.8},
		{rec: rec("c", now), score: 0.7},
	}}
	got := fuseRRF(lists, []float64{1.0}, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 records after truncation, got %d", len(got))
	}
}

func TestFuseRRFTieBrokenByNewerTimestamp(t *testing.T) {
	now := time.Now()
	older := rec("older", now.Add(-time.Hour))
	newer := rec("newer", now)
	// Same rank in parallel lists with equal weights: identical RRF score.
	lists := [][]ranked{
		{{rec: older, score: 0.5}},
		{{rec: newer, score: 0.5}},
	}
	got := fuseRRF(lists, []float64{0.5, 0.5}, 10)
	if got[0].ID != "newer" {
		t.Errorf("expected newer record to win the tie, got %s", got[0].ID)
	}
}

func TestSortByScore(t *testing.T) {
	now := time.Now()
	list := []ranked{
		{rec: rec("low", now), score: 0.2},
		{rec: rec("high", now), score: 0.9},
		{rec: rec("mid", now), score: 0.5},
	}
	got := sortByScore(list)
	want := []string{"high", "mid", "low"}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: got %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	in := memory.Record{
		ID:           "11111111-2222-3333-4444-555555555555",
		UserID:       "u42",
		Role:         memory.RoleUser,
		Content:      "the reef looked healthier this spring",
		SessionID:    "sess-1",
		ChannelID:    "chan-1",
		Timestamp:    ts,
		EmotionLabel: "positive",
		Importance:   0.75,
		Topics:       []string{"reef", "spring"},
	}

	out := decodePayload(in.ID, encodePayload(in))

	if out.UserID != in.UserID || out.Role != in.Role || out.Content != in.Content {
		t.Errorf("identity fields did not round-trip: %+v", out)
	}
	if !out.Timestamp.Equal(in.Timestamp) {
		t.Errorf("timestamp mismatch: got %v, want %v", out.Timestamp, in.Timestamp)
	}
	if out.Importance != in.Importance || out.EmotionLabel != in.EmotionLabel {
		t.Errorf("scoring fields did not round-trip: %+v", out)
	}
	if len(out.Topics) != 2 || out.Topics[0] != "reef" {
		t.Errorf("topics did not round-trip: %v", out.Topics)
	}
}

func TestSemanticView(t *testing.T) {
	got := semanticView("I have been really interested in the coral reefs")
	if got != "interested coral reefs" {
		t.Errorf("semanticView = %q", got)
	}
	// Pure-stopword content falls back to the original text.
	if semanticView("it is") != "it is" {
		t.Error("expected fallback to original content")
	}
}
