package retrieval

import (
	"testing"

	"github.com/verifyr-ai/verifyr-core/store"
)

func TestFuseRRFCombinesAndRanksBothArms(t *testing.T) {
	bm25 := []store.RetrievalResult{
		{ChunkID: 1, ProductName: "A"},
		{ChunkID: 2, ProductName: "A"},
	}
	vec := []store.RetrievalResult{
		{ChunkID: 2, ProductName: "A"},
		{ChunkID: 3, ProductName: "A"},
	}

	fused := fuseRRF(bm25, vec)
	if len(fused) != 3 {
		t.Fatalf("expected 3 fused results, got %d", len(fused))
	}
	// Chunk 2 appears in both lists at rank 2 (bm25) and rank 1 (vec):
	// score = 1/62 + 1/61, which beats any single-arm chunk.
	if fused[0].ChunkID != 2 {
		t.Errorf("expected chunk 2 (present in both arms) to rank first, got %d", fused[0].ChunkID)
	}
}

func TestFuseRRFTieBreaksByChunkID(t *testing.T) {
	bm25 := []store.RetrievalResult{
		{ChunkID: 1, ChunkIDStr: "z-chunk", ProductName: "A"},
	}
	vec := []store.RetrievalResult{
		{ChunkID: 99, ChunkIDStr: "a-chunk", ProductName: "A"},
	}
	// Both rank 1 in their own single-entry list, so scores tie exactly.
	// The int64 rowids order the opposite way from the chunk_id strings,
	// so this only passes when the tie-break compares ChunkIDStr.
	fused := fuseRRF(bm25, vec)
	if fused[0].ChunkIDStr != "a-chunk" || fused[1].ChunkIDStr != "z-chunk" {
		t.Errorf("expected ascending chunk_id tie-break, got order %s, %s", fused[0].ChunkIDStr, fused[1].ChunkIDStr)
	}
}

func TestFuseRRFSingleArmStillScored(t *testing.T) {
	bm25 := []store.RetrievalResult{{ChunkID: 1, ProductName: "A"}}
	fused := fuseRRF(bm25, nil)
	if len(fused) != 1 || fused[0].ChunkID != 1 {
		t.Fatalf("expected the single bm25-only candidate to be scored, got %+v", fused)
	}
}

// ---------------------------------------------------------------------------
// Query analyzer
// ---------------------------------------------------------------------------

func testAnalyzer() *Analyzer {
	return NewAnalyzer(map[string][]string{
		"Apple Watch Series 11": {"apple watch series 11", "series 11"},
		"Garmin Forerunner 965": {"garmin forerunner 965", "forerunner 965"},
	}, 5, 8)
}

func TestAnalyzeSingleProductDisablesDiversity(t *testing.T) {
	a := testAnalyzer()
	got := a.Analyze("What is the battery life of the Apple Watch Series 11?")
	if len(got.TargetProducts) != 1 || got.TargetProducts[0] != "Apple Watch Series 11" {
		t.Fatalf("expected single target product, got %v", got.TargetProducts)
	}
	if got.DiversityEnabled {
		t.Error("single-product query should disable diversity")
	}
	if got.TopK != 5 {
		t.Errorf("expected top_k=5 for a simple query, got %d", got.TopK)
	}
}

func TestAnalyzeComparisonEnablesDiversity(t *testing.T) {
	a := testAnalyzer()
	got := a.Analyze("Compare the Apple Watch Series 11 and the Garmin Forerunner 965 battery life")
	if !got.IsComparison {
		t.Error("expected comparison intent to be detected")
	}
	if !got.DiversityEnabled {
		t.Error("comparison queries should enable diversity")
	}
	if len(got.TargetProducts) != 2 {
		t.Errorf("expected 2 target products, got %v", got.TargetProducts)
	}
}

func TestAnalyzeComplexityByKeyword(t *testing.T) {
	a := testAnalyzer()
	got := a.Analyze("How do I set up the Garmin Forerunner 965?")
	if !got.IsComplex {
		t.Error("expected 'how' keyword to mark the query complex")
	}
	if got.TopK != 8 {
		t.Errorf("expected top_k=8 for a complex query, got %d", got.TopK)
	}
}

func TestAnalyzeComplexityByLength(t *testing.T) {
	a := testAnalyzer()
	long := "Please tell me every detail about the charging cable connector pins and voltage tolerance and water resistance rating"
	got := a.Analyze(long)
	if !got.IsComplex {
		t.Error("expected an 18-word query to be marked complex by length alone")
	}
}

// ---------------------------------------------------------------------------
// Diversity enforcement
// ---------------------------------------------------------------------------

func TestEnforceDiversityBringsEachProductToFloor(t *testing.T) {
	fused := []store.RetrievalResult{
		{ChunkID: 1, ProductName: "A", Score: 0.9},
		{ChunkID: 2, ProductName: "A", Score: 0.8},
		{ChunkID: 3, ProductName: "A", Score: 0.7},
		{ChunkID: 4, ProductName: "A", Score: 0.6},
		{ChunkID: 5, ProductName: "B", Score: 0.5},
		{ChunkID: 6, ProductName: "B", Score: 0.4},
	}
	// Initial top_k=4 selection is all-A; B has two candidates. The floor
	// is top_k/2 = 2 per product.
	selection := append([]store.RetrievalResult(nil), fused[:4]...)

	result, swaps := enforceDiversity(fused, selection, []string{"A", "B"}, 4)
	if swaps == 0 {
		t.Fatal("expected at least one swap to satisfy B's floor")
	}

	counts := countByProduct(result)
	if counts["B"] < 2 {
		t.Errorf("expected product B to meet its floor of 2, got %d", counts["B"])
	}
	if counts["A"] < 2 {
		t.Errorf("expected product A to keep its floor of 2, got %d", counts["A"])
	}
}

func TestEnforceDiversityNoPaddingWhenProductHasNoCandidates(t *testing.T) {
	fused := []store.RetrievalResult{
		{ChunkID: 1, ProductName: "A", Score: 0.9},
		{ChunkID: 2, ProductName: "A", Score: 0.8},
	}
	selection := append([]store.RetrievalResult(nil), fused...)

	result, swaps := enforceDiversity(fused, selection, []string{"A", "C"}, 2)
	if swaps != 0 {
		t.Errorf("expected no swaps when the under-represented product has zero candidates, got %d", swaps)
	}
	if len(result) != 2 {
		t.Errorf("expected selection size unchanged, got %d", len(result))
	}
}
