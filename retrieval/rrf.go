package retrieval

import (
	"sort"

	"github.com/verifyr-ai/verifyr-core/store"
)

const rrfK = 60

// fuseRRF combines BM25 and vector result lists via unweighted Reciprocal
// Rank Fusion: rrf(c) = sum over lists containing c of 1/(k+rank), rank
// 1-indexed. A candidate appearing in only one list is still scored.
// Ties broken by chunk_id ascending.
func fuseRRF(bm25Results, vecResults []store.RetrievalResult) []store.RetrievalResult {
	type fusedEntry struct {
		result store.RetrievalResult
		score  float64
	}

	fused := make(map[int64]*fusedEntry)

	add := func(results []store.RetrievalResult) {
		for rank, r := range results {
			entry, ok := fused[r.ChunkID]
			if !ok {
				entry = &fusedEntry{result: r}
				fused[r.ChunkID] = entry
			}
			entry.score += 1.0 / float64(rrfK+rank+1)
		}
	}
	add(bm25Results)
	add(vecResults)

	entries := make([]*fusedEntry, 0, len(fused))
	for _, e := range fused {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].result.ChunkIDStr < entries[j].result.ChunkIDStr
	})

	out := make([]store.RetrievalResult, len(entries))
	for i, e := range entries {
		out[i] = e.result
		out[i].Score = e.score
	}
	return out
}
