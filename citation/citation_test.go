package citation

import (
	"testing"

	"github.com/verifyr-ai/verifyr-core/store"
)

func sampleRetrieved() []store.RetrievalResult {
	return []store.RetrievalResult{
		{ChunkID: 1, ProductName: "ApexWatch", DocType: "manual", PageNum: 9, Content: "battery lasts 18 hours"},
		{ChunkID: 2, ProductName: "ApexWatch", DocType: "specifications", PageNum: 3, Content: "charging takes 90 minutes"},
		{ChunkID: 3, ProductName: "TrailPro", DocType: "manual", PageNum: 5, Content: "water resistant to 50m"},
	}
}

func TestExtractCitedNumbers(t *testing.T) {
	answer := "The battery lasts 18 hours [1]. Charging takes 90 minutes [2]."
	sources := Extract(answer, sampleRetrieved())

	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	if sources[0].CitationNumber != 1 || sources[1].CitationNumber != 2 {
		t.Errorf("unexpected citation numbers: %+v", sources)
	}
	if sources[0].ProductName != "ApexWatch" || sources[0].PageNum != 9 {
		t.Errorf("source[0] does not match retrieved[0]: %+v", sources[0])
	}
}

func TestExtractDeduplicatesRepeatedCitations(t *testing.T) {
	answer := "Battery lasts 18 hours [1]. As noted [1], it charges fast [2]."
	sources := Extract(answer, sampleRetrieved())
	if len(sources) != 2 {
		t.Fatalf("expected deduplicated citation numbers, got %d sources", len(sources))
	}
}

func TestExtractIgnoresOutOfRangeCitations(t *testing.T) {
	answer := "This references a source that does not exist [99]."
	sources := Extract(answer, sampleRetrieved())
	// No valid in-range citation -> fallback to all retrieved chunks.
	if len(sources) != 3 {
		t.Fatalf("expected fallback to all 3 retrieved chunks, got %d", len(sources))
	}
}

func TestExtractFallsBackToAllRetrievedWhenNoCitations(t *testing.T) {
	answer := "The battery lasts a long time."
	sources := Extract(answer, sampleRetrieved())
	if len(sources) != 3 {
		t.Fatalf("expected all 3 retrieved chunks as fallback sources, got %d", len(sources))
	}
	for i, s := range sources {
		if s.CitationNumber != i+1 {
			t.Errorf("fallback source[%d].CitationNumber = %d, want %d", i, s.CitationNumber, i+1)
		}
	}
}

func TestExtractPreservesOriginalContextIndex(t *testing.T) {
	answer := "Water resistance is rated to 50m [3]."
	sources := Extract(answer, sampleRetrieved())
	if len(sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(sources))
	}
	if sources[0].CitationNumber != 3 || sources[0].ProductName != "TrailPro" {
		t.Errorf("expected citation_number 3 mapping to TrailPro, got %+v", sources[0])
	}
}
