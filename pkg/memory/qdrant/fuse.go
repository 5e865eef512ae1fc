package qdrant

import (
	"sort"

	"github.com/whisperengine/whisperengine/pkg/memory"
)

// rrfK is the rank-smoothing constant for reciprocal-rank fusion. 60 is the
// value from the original RRF paper and what most engines default to.
const rrfK = 60.0

// ranked is one per-vector result list entry prior to fusion.
type ranked struct {
	rec   memory.Record
	score float32
}

// fuseRRF merges one ranked list per named vector into a single list using
// weighted reciprocal-rank fusion, deduplicated by record id and truncated
// to limit. Ties are broken by newer timestamp.
func fuseRRF(lists [][]ranked, weights []float64, limit int) []memory.Record {
	type fused struct {
		rec   memory.Record
		score float64
	}
	byID := make(map[string]*fused)

	for li, list := range lists {
		w := 1.0
		if li < len(weights) {
			w = weights[li]
		}
		for rank, r := range list {
			contribution := w / (rrfK + float64(rank+1))
			if f, ok := byID[r.rec.ID]; ok {
				f.score += contribution
			} else {
				byID[r.rec.ID] = &fused{rec: r.rec, score: contribution}
			}
		}
	}

	out := make([]fused, 0, len(byID))
	for _, f := range byID {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].rec.Timestamp.After(out[j].rec.Timestamp)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	recs := make([]memory.Record, len(out))
	for i, f := range out {
		recs[i] = f.rec
	}
	return recs
}

// sortByScore orders a single-vector result list highest score first with
// newer-timestamp tie-breaking, matching the fused path's contract.
func sortByScore(list []ranked) []memory.Record {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		return list[i].rec.Timestamp.After(list[j].rec.Timestamp)
	})
	recs := make([]memory.Record, len(list))
	for i, r := range list {
		recs[i] = r.rec
	}
	return recs
}
