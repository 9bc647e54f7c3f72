// Package retrieval implements the query analyzer and hybrid retriever:
// lexical (BM25 via FTS5) and dense-vector search fused by Reciprocal
// Rank Fusion, with a product-filter and product-diversity guard.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/verifyr-ai/verifyr-core/llm"
	"github.com/verifyr-ai/verifyr-core/store"
)

// Config holds retrieval engine configuration.
type Config struct {
	RetrieveK int // per-arm candidate count before fusion, spec default 20
}

// SearchTrace records the breakdown of a hybrid search for logging/debugging.
type SearchTrace struct {
	BM25Results      int   `json:"bm25_results"`
	VecResults       int   `json:"vec_results"`
	FusedResults     int   `json:"fused_results"`
	TopK             int   `json:"top_k"`
	DiversityEnabled bool  `json:"diversity_enabled"`
	SwapsApplied     int   `json:"swaps_applied"`
	ElapsedMs        int64 `json:"elapsed_ms"`
}

// Engine performs hybrid retrieval combining BM25 and vector search.
type Engine struct {
	store    *store.Store
	embedder llm.Provider
	cfg      Config
}

// New creates a hybrid retrieval engine.
func New(s *store.Store, embedder llm.Provider, cfg Config) *Engine {
	if cfg.RetrieveK == 0 {
		cfg.RetrieveK = 20
	}
	return &Engine{store: s, embedder: embedder, cfg: cfg}
}

// Search runs spec §4.7's eight-step hybrid retrieval procedure for one
// question, given its QueryAnalysis.
func (e *Engine) Search(ctx context.Context, question string, analysis QueryAnalysis) ([]store.RetrievalResult, *SearchTrace, error) {
	start := time.Now()
	trace := &SearchTrace{TopK: analysis.TopK, DiversityEnabled: analysis.DiversityEnabled}

	type bm25Out struct {
		results []store.RetrievalResult
		err     error
	}
	type vecOut struct {
		results []store.RetrievalResult
		err     error
	}
	bm25Ch := make(chan bm25Out, 1)
	vecCh := make(chan vecOut, 1)

	// Step 1: BM25 search.
	go func() {
		r, err := e.store.FTSSearch(ctx, sanitizeFTSQuery(question), e.cfg.RetrieveK)
		bm25Ch <- bm25Out{r, err}
	}()

	// Step 2: embed + vector search, in parallel.
	go func() {
		embeddings, err := e.embedder.Embed(ctx, []string{question})
		if err != nil {
			vecCh <- vecOut{nil, err}
			return
		}
		if len(embeddings) == 0 || len(embeddings[0]) == 0 {
			vecCh <- vecOut{nil, fmt.Errorf("empty embedding returned for query")}
			return
		}
		vec := embeddings[0]
		llm.Normalize(vec)
		r, err := e.store.VectorSearch(ctx, vec, e.cfg.RetrieveK)
		vecCh <- vecOut{r, err}
	}()

	bm25Res := <-bm25Ch
	vecRes := <-vecCh

	if bm25Res.err != nil && vecRes.err != nil {
		return nil, trace, fmt.Errorf("bm25 search: %w; vector search: %v", bm25Res.err, vecRes.err)
	}
	if bm25Res.err != nil {
		slog.Warn("retrieval: bm25 search failed, continuing with vector arm only", "error", bm25Res.err)
	}
	if vecRes.err != nil {
		slog.Warn("retrieval: vector search failed, continuing with bm25 arm only", "error", vecRes.err)
	}

	bm25List, vecList := bm25Res.results, vecRes.results
	trace.BM25Results, trace.VecResults = len(bm25List), len(vecList)

	// Step 3: product filter.
	if len(analysis.TargetProducts) == 1 {
		target := analysis.TargetProducts[0]
		bm25List = filterByProduct(bm25List, target)
		vecList = filterByProduct(vecList, target)
	}

	// Steps 4-5: fuse via RRF, sorted descending with chunk_id tie-break.
	fused := fuseRRF(bm25List, vecList)
	trace.FusedResults = len(fused)

	// Step 6: initial selection.
	topK := analysis.TopK
	if topK > len(fused) {
		topK = len(fused)
	}
	selection := append([]store.RetrievalResult(nil), fused[:topK]...)

	// Step 7: product diversity enforcement.
	if analysis.DiversityEnabled {
		selection, trace.SwapsApplied = enforceDiversity(fused, selection, analysis.TargetProducts, topK)
	}

	trace.ElapsedMs = time.Since(start).Milliseconds()
	return selection, trace, nil
}

func filterByProduct(results []store.RetrievalResult, product string) []store.RetrievalResult {
	out := make([]store.RetrievalResult, 0, len(results))
	for _, r := range results {
		if r.ProductName == product {
			out = append(out, r)
		}
	}
	return out
}

// enforceDiversity implements spec §4.7 step 7: while a required product
// is under-represented in the selection and a replacement is possible,
// swap the over-represented product's lowest-scoring selected chunk for
// the under-represented product's highest-scoring unselected chunk.
func enforceDiversity(fused, selection []store.RetrievalResult, targets []string, topK int) ([]store.RetrievalResult, int) {
	if topK == 0 {
		return selection, 0
	}
	minPerProduct := topK / 2
	if minPerProduct < 1 {
		minPerProduct = 1
	}

	required := targets
	if len(required) == 0 {
		required = distinctProducts(fused, 40)
	}
	if len(required) == 0 {
		return selection, 0
	}

	selected := append([]store.RetrievalResult(nil), selection...)
	inSelection := make(map[int64]bool, len(selected))
	for _, r := range selected {
		inSelection[r.ChunkID] = true
	}

	swaps := 0
	for {
		counts := countByProduct(selected)

		under := underRepresented(required, counts, minPerProduct)
		if len(under) == 0 {
			break
		}

		swapped := false
		for _, product := range under {
			candidate := highestUnselectedForProduct(fused, inSelection, product)
			if candidate == nil {
				continue
			}

			victimProduct, victimIdx := mostOverRepresented(selected, counts, required, minPerProduct)
			if victimIdx < 0 || selected[victimIdx].ProductName == product {
				continue
			}
			_ = victimProduct

			delete(inSelection, selected[victimIdx].ChunkID)
			selected[victimIdx] = *candidate
			inSelection[candidate.ChunkID] = true
			swaps++
			swapped = true
			break
		}
		if !swapped {
			break
		}
	}

	sort.Slice(selected, func(i, j int) bool {
		if selected[i].Score != selected[j].Score {
			return selected[i].Score > selected[j].Score
		}
		return selected[i].ChunkIDStr < selected[j].ChunkIDStr
	})
	return selected, swaps
}

func distinctProducts(results []store.RetrievalResult, limit int) []string {
	seen := make(map[string]bool)
	var out []string
	for i, r := range results {
		if i >= limit {
			break
		}
		if !seen[r.ProductName] {
			seen[r.ProductName] = true
			out = append(out, r.ProductName)
		}
	}
	return out
}

func countByProduct(results []store.RetrievalResult) map[string]int {
	counts := make(map[string]int)
	for _, r := range results {
		counts[r.ProductName]++
	}
	return counts
}

func underRepresented(required []string, counts map[string]int, floor int) []string {
	var out []string
	for _, p := range required {
		if counts[p] < floor {
			out = append(out, p)
		}
	}
	return out
}

// mostOverRepresented returns the selected-slice index of the
// lowest-scoring chunk belonging to the product with the greatest
// surplus above its floor (non-required products have floor 0).
func mostOverRepresented(selected []store.RetrievalResult, counts map[string]int, required []string, floor int) (string, int) {
	floorFor := func(product string) int {
		for _, r := range required {
			if r == product {
				return floor
			}
		}
		return 0
	}

	var bestProduct string
	bestSurplus := 0
	for product, count := range counts {
		surplus := count - floorFor(product)
		if surplus > bestSurplus {
			bestSurplus = surplus
			bestProduct = product
		}
	}
	if bestProduct == "" {
		return "", -1
	}

	worstIdx := -1
	for i, r := range selected {
		if r.ProductName != bestProduct {
			continue
		}
		if worstIdx < 0 || r.Score < selected[worstIdx].Score {
			worstIdx = i
		}
	}
	return bestProduct, worstIdx
}

func highestUnselectedForProduct(fused []store.RetrievalResult, inSelection map[int64]bool, product string) *store.RetrievalResult {
	for i := range fused {
		r := &fused[i]
		if r.ProductName == product && !inSelection[r.ChunkID] {
			return r
		}
	}
	return nil
}
